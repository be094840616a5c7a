// Package spreadsheet reads roster imports and writes attendance sheets as .xlsx workbooks.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/xuri/excelize/v2"

	"kids-rollcall/models"
)

var header = []interface{}{"Kid ID", "Name", "Present"}

// WriteSheet renders sheet as a single-worksheet workbook named after its date.
func WriteSheet(w io.Writer, sheet models.Sheet) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing workbook: %v", err)
		}
	}()

	name := sheet.Date
	if name == "" {
		name = "Attendance"
	}
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return fmt.Errorf("failed to name worksheet %q: %w", name, err)
	}

	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, entry := range sheet.Attendance {
		present := "no"
		if entry.Present {
			present = "yes"
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{entry.KidID, entry.Name, present}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("failed to write row for kid %d: %w", entry.KidID, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// ReadNames returns the kid names listed on the first worksheet.
// The first row is a header; the column titled "name" is used when present,
// column A otherwise. Blank names are skipped.
func ReadNames(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing excel file: %v", err)
		}
	}()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, errors.New("excel file does not contain any sheets")
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows from sheet %s: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := 0
	for i, title := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(title), "name") {
			col = i
			break
		}
	}

	var names []string
	for i, row := range rows[1:] {
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			log.Printf("Skipping row %d with no name", i+2)
			continue
		}
		names = append(names, strings.TrimSpace(row[col]))
	}
	return names, nil
}
