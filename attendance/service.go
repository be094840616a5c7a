// Package attendance implements the daily attendance sheets for the kids roster.
//
// A day's sheet is materialized on first access: the Day row is created and
// every kid on the roster at that moment gets an absent entry. Later roster
// changes do not reach sheets that already exist, with one exception: a kid
// added while today's sheet exists is backfilled onto it right away.
package attendance

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"kids-rollcall/db"
	"kids-rollcall/models"
	"kids-rollcall/spreadsheet"
)

// DateLayout is the canonical calendar date form identifying a Day.
const DateLayout = "2006-01-02"

// Service is the command and query surface over a db.Store.
type Service struct {
	store db.Store
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the local clock used to decide what "today" is.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service backed by store.
func NewService(store db.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the server's current local date in canonical form.
func (s *Service) Today() string {
	return s.now().Format(DateLayout)
}

// AddKid puts a kid on the roster. When today's sheet already exists the kid
// is added to it as absent.
func (s *Service) AddKid(ctx context.Context, name string) (models.Kid, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Kid{}, invalidInput("kid name is required")
	}

	today := s.Today()
	var kid models.Kid
	err := s.store.Atomically(ctx, today, func(tx db.Tx) error {
		var err error
		kid, err = tx.InsertKid(ctx, name)
		if err != nil {
			return err
		}
		day, err := tx.DayByDate(ctx, today)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.InsertEntries(ctx, day.ID, []int64{kid.ID})
	})
	if err != nil {
		log.Printf("Error adding kid %q: %v", name, err)
		return models.Kid{}, storageError("failed to add kid", err)
	}
	log.Printf("Added kid %d (%s)", kid.ID, kid.Name)
	return kid, nil
}

// ListKids returns the roster in creation order.
func (s *Service) ListKids(ctx context.Context) ([]models.Kid, error) {
	kids, err := s.store.ListKids(ctx)
	if err != nil {
		log.Printf("Error listing kids: %v", err)
		return nil, storageError("failed to list kids", err)
	}
	return kids, nil
}

// ListDays returns every materialized day, most recent first.
func (s *Service) ListDays(ctx context.Context) ([]models.Day, error) {
	days, err := s.store.ListDays(ctx)
	if err != nil {
		log.Printf("Error listing days: %v", err)
		return nil, storageError("failed to list days", err)
	}
	return days, nil
}

// TodaySheet returns today's sheet, materializing it on first access.
func (s *Service) TodaySheet(ctx context.Context) (models.Sheet, error) {
	return s.SheetForDate(ctx, s.Today())
}

// SheetForDate returns the sheet for a canonical date, materializing it on first access.
func (s *Service) SheetForDate(ctx context.Context, date string) (models.Sheet, error) {
	if !isCanonicalDate(date) {
		return models.Sheet{}, invalidInput("date must be in YYYY-MM-DD form")
	}
	day, err := s.materialize(ctx, date)
	if err != nil {
		log.Printf("Error materializing sheet for %s: %v", date, err)
		return models.Sheet{}, storageError("failed to open attendance sheet", err)
	}
	return s.readSheet(ctx, day)
}

// SheetByDay returns the sheet of an existing day. It never creates one.
func (s *Service) SheetByDay(ctx context.Context, dayID int64) (models.Sheet, error) {
	if dayID <= 0 {
		return models.Sheet{}, notFound("Day not found")
	}
	day, err := s.store.DayByID(ctx, dayID)
	if errors.Is(err, db.ErrNotFound) {
		return models.Sheet{}, notFound("Day not found")
	}
	if err != nil {
		log.Printf("Error getting day %d: %v", dayID, err)
		return models.Sheet{}, storageError("failed to get day", err)
	}
	return s.readSheet(ctx, day)
}

// Mark sets a kid's presence on a day. Marking a pair with no entry is a
// no-op: entries only come from materialization and backfill.
func (s *Service) Mark(ctx context.Context, dayID, kidID int64, present bool) error {
	if dayID <= 0 || kidID <= 0 {
		return invalidInput("dayId and kidId are required")
	}
	matched, err := s.store.SetPresent(ctx, dayID, kidID, present)
	if err != nil {
		log.Printf("Error marking kid %d on day %d: %v", kidID, dayID, err)
		return storageError("failed to mark attendance", err)
	}
	if !matched {
		log.Printf("No attendance entry for kid %d on day %d, mark ignored", kidID, dayID)
	}
	return nil
}

// ImportKids adds every name found in an .xlsx roster and returns how many were added.
func (s *Service) ImportKids(ctx context.Context, r io.Reader) (int, error) {
	names, err := spreadsheet.ReadNames(r)
	if err != nil {
		return 0, &Error{Code: CodeInvalidInput, Message: "unreadable roster workbook", Cause: err}
	}

	log.Printf("Attempting to add %d kids from roster workbook", len(names))
	imported := 0
	for _, name := range names {
		if _, err := s.AddKid(ctx, name); err != nil {
			if errors.Is(err, ErrInvalidInput) {
				continue
			}
			return imported, err
		}
		imported++
	}
	log.Printf("Imported %d kids", imported)
	return imported, nil
}

// ExportDay writes the sheet of an existing day to w as an .xlsx workbook.
func (s *Service) ExportDay(ctx context.Context, dayID int64, w io.Writer) (models.Sheet, error) {
	sheet, err := s.SheetByDay(ctx, dayID)
	if err != nil {
		return models.Sheet{}, err
	}
	if err := spreadsheet.WriteSheet(w, sheet); err != nil {
		log.Printf("Error exporting day %d: %v", dayID, err)
		return models.Sheet{}, storageError("failed to export sheet", err)
	}
	return sheet, nil
}

// materialize returns the Day for date, creating it together with one absent
// entry per kid on the roster when it does not exist yet. Existing days are
// returned untouched.
func (s *Service) materialize(ctx context.Context, date string) (models.Day, error) {
	day, err := s.materializeOnce(ctx, date)
	if errors.Is(err, db.ErrDuplicateDay) {
		// The claim was lost at commit time, so the date is sealed now.
		day, err = s.materializeOnce(ctx, date)
	}
	return day, err
}

func (s *Service) materializeOnce(ctx context.Context, date string) (models.Day, error) {
	var (
		day     models.Day
		created bool
		size    int
	)
	err := s.store.Atomically(ctx, date, func(tx db.Tx) error {
		existing, err := tx.DayByDate(ctx, date)
		if err == nil {
			day = existing
			return nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return err
		}

		inserted, err := tx.InsertDay(ctx, date)
		if errors.Is(err, db.ErrDuplicateDay) {
			// Another writer sealed the day first; its sheet stands as is.
			day, err = tx.DayByDate(ctx, date)
			return err
		}
		if err != nil {
			return err
		}

		kidIDs, err := tx.KidIDs(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertEntries(ctx, inserted.ID, kidIDs); err != nil {
			return err
		}
		day, created, size = inserted, true, len(kidIDs)
		return nil
	})
	if err == nil && created {
		log.Printf("Materialized day %d (%s) with %d kids", day.ID, date, size)
	}
	return day, err
}

func (s *Service) readSheet(ctx context.Context, day models.Day) (models.Sheet, error) {
	entries, err := s.store.SheetEntries(ctx, day.ID)
	if err != nil {
		log.Printf("Error reading sheet for day %d: %v", day.ID, err)
		return models.Sheet{}, storageError("failed to read attendance sheet", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].KidID < entries[j].KidID
	})
	if entries == nil {
		entries = []models.SheetEntry{}
	}
	return models.Sheet{
		DayID:      day.ID,
		Date:       day.Date,
		Attendance: entries,
	}, nil
}

func isCanonicalDate(date string) bool {
	t, err := time.Parse(DateLayout, date)
	return err == nil && t.Format(DateLayout) == date
}
