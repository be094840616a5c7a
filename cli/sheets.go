package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"kids-rollcall/attendance"
)

// NewExportCommand creates the command that writes one day's sheet to an .xlsx file.
func NewExportCommand(root *RootOptions) *cobra.Command {
	var (
		dayID int64
		out   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a day's attendance sheet to an .xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer f.Close()

			sheet, err := attendance.NewService(store).ExportDay(cmd.Context(), dayID, f)
			if err != nil {
				_ = os.Remove(out)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d kids for %s to %s\n", len(sheet.Attendance), sheet.Date, out)
			return nil
		},
	}

	cmd.Flags().Int64Var(&dayID, "day", 0, "day id to export")
	cmd.Flags().StringVarP(&out, "out", "o", "attendance.xlsx", "output file")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

// NewImportCommand creates the command that adds kids from an .xlsx roster.
func NewImportCommand(root *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Add kids listed in an .xlsx roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			defer f.Close()

			n, err := attendance.NewService(store).ImportKids(cmd.Context(), f)
			if err != nil {
				log.Printf("Import stopped after %d kids: %v", n, err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d kids from %s\n", n, file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "roster workbook")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
