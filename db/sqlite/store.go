// Package sqlite provides the relational attendance store on modernc.org/sqlite.
//
// Kids, days and attendance entries live in three tables. Days.date is unique and
// attendance is keyed by (day_id, kid_id). Units of work run as BEGIN IMMEDIATE
// transactions over a single pooled connection, so a check-then-insert inside
// Atomically never races with another writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"kids-rollcall/db"
	"kids-rollcall/db/sqlite/migrations"
	"kids-rollcall/models"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists attendance state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	// SQLite allows one writer; a single connection keeps units of work strictly ordered.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Atomically runs fn inside one transaction, rolling back when fn fails.
// The key is unused: every transaction is already serialized.
func (s *Store) Atomically(ctx context.Context, _ string, fn func(db.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op once committed

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListKids returns every kid in creation order.
func (s *Store) ListKids(ctx context.Context) ([]models.Kid, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, name FROM kids ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list kids: %w", err)
	}
	defer rows.Close()

	kids := []models.Kid{}
	for rows.Next() {
		var kid models.Kid
		if err := rows.Scan(&kid.ID, &kid.Name); err != nil {
			return nil, fmt.Errorf("scan kid: %w", err)
		}
		kids = append(kids, kid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list kids: %w", err)
	}
	return kids, nil
}

// DayByID returns db.ErrNotFound for unknown ids.
func (s *Store) DayByID(ctx context.Context, id int64) (models.Day, error) {
	day := models.Day{}
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id, date FROM days WHERE id = ?`, id).Scan(&day.ID, &day.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Day{}, db.ErrNotFound
	}
	if err != nil {
		return models.Day{}, fmt.Errorf("get day %d: %w", id, err)
	}
	return day, nil
}

// ListDays returns days, most recent date first.
func (s *Store) ListDays(ctx context.Context) ([]models.Day, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, date FROM days ORDER BY date DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	defer rows.Close()

	days := []models.Day{}
	for rows.Next() {
		var day models.Day
		if err := rows.Scan(&day.ID, &day.Date); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	return days, nil
}

// SheetEntries joins a day's attendance rows with kid names.
func (s *Store) SheetEntries(ctx context.Context, dayID int64) ([]models.SheetEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT attendance.kid_id, kids.name, attendance.present
		FROM attendance
		JOIN kids ON attendance.kid_id = kids.id
		WHERE attendance.day_id = ?
		ORDER BY kids.name ASC, attendance.kid_id ASC
	`, dayID)
	if err != nil {
		return nil, fmt.Errorf("sheet entries for day %d: %w", dayID, err)
	}
	defer rows.Close()

	entries := []models.SheetEntry{}
	for rows.Next() {
		var (
			entry   models.SheetEntry
			present int64
		)
		if err := rows.Scan(&entry.KidID, &entry.Name, &present); err != nil {
			return nil, fmt.Errorf("scan sheet entry: %w", err)
		}
		entry.Present = present != 0
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sheet entries for day %d: %w", dayID, err)
	}
	return entries, nil
}

// SetPresent updates one entry; it never creates a missing one.
func (s *Store) SetPresent(ctx context.Context, dayID, kidID int64, present bool) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE attendance SET present = ? WHERE day_id = ? AND kid_id = ?`,
		boolToInt(present), dayID, kidID,
	)
	if err != nil {
		return false, fmt.Errorf("set present day=%d kid=%d: %w", dayID, kidID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set present day=%d kid=%d: %w", dayID, kidID, err)
	}
	return n > 0, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) DayByDate(ctx context.Context, date string) (models.Day, error) {
	day := models.Day{}
	err := t.tx.QueryRowContext(ctx, `SELECT id, date FROM days WHERE date = ?`, date).Scan(&day.ID, &day.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Day{}, db.ErrNotFound
	}
	if err != nil {
		return models.Day{}, fmt.Errorf("get day %s: %w", date, err)
	}
	return day, nil
}

func (t *sqlTx) InsertDay(ctx context.Context, date string) (models.Day, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO days (date) VALUES (?)`, date)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Day{}, db.ErrDuplicateDay
		}
		return models.Day{}, fmt.Errorf("insert day %s: %w", date, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Day{}, fmt.Errorf("insert day %s: %w", date, err)
	}
	return models.Day{ID: id, Date: date}, nil
}

func (t *sqlTx) KidIDs(ctx context.Context) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM kids ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list kid ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan kid id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list kid ids: %w", err)
	}
	return ids, nil
}

func (t *sqlTx) InsertKid(ctx context.Context, name string) (models.Kid, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO kids (name) VALUES (?)`, name)
	if err != nil {
		return models.Kid{}, fmt.Errorf("insert kid: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Kid{}, fmt.Errorf("insert kid: %w", err)
	}
	return models.Kid{ID: id, Name: name}, nil
}

func (t *sqlTx) InsertEntries(ctx context.Context, dayID int64, kidIDs []int64) error {
	if len(kidIDs) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO attendance (day_id, kid_id, present) VALUES (?, ?, 0)`)
	if err != nil {
		return fmt.Errorf("prepare attendance insert: %w", err)
	}
	defer stmt.Close()

	for _, kidID := range kidIDs {
		if _, err := stmt.ExecContext(ctx, dayID, kidID); err != nil {
			return fmt.Errorf("insert attendance day=%d kid=%d: %w", dayID, kidID, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

var _ db.Store = (*Store)(nil)
