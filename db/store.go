// Package db defines the persistence contracts shared by the attendance backends.
package db

import (
	"context"
	"errors"

	"kids-rollcall/models"
)

var (
	// ErrNotFound indicates a requested kid or day is missing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateDay indicates a day with the same date already exists.
	ErrDuplicateDay = errors.New("day already exists")
)

// Tx is one atomic unit of work opened by Store.Atomically. Its writes
// persist only if the unit returns nil, and reads are not guaranteed to see
// the unit's own writes.
type Tx interface {
	// DayByDate returns ErrNotFound when no day carries date.
	DayByDate(ctx context.Context, date string) (models.Day, error)
	InsertDay(ctx context.Context, date string) (models.Day, error)
	// KidIDs returns the ids of every kid currently on the roster.
	KidIDs(ctx context.Context) ([]int64, error)
	InsertKid(ctx context.Context, name string) (models.Kid, error)
	// InsertEntries adds absent entries for dayID. Pairs that already exist are left as they are.
	InsertEntries(ctx context.Context, dayID int64, kidIDs []int64) error
}

// Store is a backend holding kids, days and attendance entries.
type Store interface {
	// Atomically runs fn as a single unit. Units sharing key never interleave.
	// When fn fails none of its writes persist. ErrDuplicateDay may also come
	// back from the commit itself when another writer sealed the date first.
	Atomically(ctx context.Context, key string, fn func(Tx) error) error

	ListKids(ctx context.Context) ([]models.Kid, error)
	DayByID(ctx context.Context, id int64) (models.Day, error)
	// ListDays returns days with the most recent date first.
	ListDays(ctx context.Context) ([]models.Day, error)
	// SheetEntries returns the entries of a day joined with kid names, in no particular order.
	SheetEntries(ctx context.Context, dayID int64) ([]models.SheetEntry, error)
	// SetPresent updates an existing entry and reports whether one matched.
	SetPresent(ctx context.Context, dayID, kidID int64, present bool) (bool, error)

	Close() error
}
