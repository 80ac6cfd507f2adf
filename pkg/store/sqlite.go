package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// SQLiteStore keeps locations and the contact in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path, creating tables as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "_busy_timeout") {
		if strings.Contains(dsn, "?") {
			dsn += "&_busy_timeout=5000"
		} else {
			dsn += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening SQLite: %w", err)
	}
	// One writer keeps "Location N" numbering consistent.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS locations (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        name TEXT NOT NULL,
        latitude REAL NOT NULL,
        longitude REAL NOT NULL,
        address TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_locations_name ON locations(name COLLATE NOCASE);
    CREATE TABLE IF NOT EXISTS emergency_contact (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        number TEXT NOT NULL,
        updated_at DATETIME NOT NULL
    );
    `
	_, err := db.Exec(schema)
	return err
}

// Locations implements LocationStore.
func (s *SQLiteStore) Locations(ctx context.Context) ([]Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, latitude, longitude, address, created_at FROM locations ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Coordinates[0], &l.Coordinates[1], &l.Address, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AddLocation implements LocationStore.
func (s *SQLiteStore) AddLocation(ctx context.Context, loc Location) (Location, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Location{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if loc.Name == "" {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&n); err != nil {
			return Location{}, fmt.Errorf("count locations: %w", err)
		}
		loc.Name = DefaultName(n + 1)
	}
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO locations (id, name, latitude, longitude, address, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		loc.ID, loc.Name, loc.Coordinates[0], loc.Coordinates[1], loc.Address, loc.CreatedAt)
	if err != nil {
		return Location{}, fmt.Errorf("insert location: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Location{}, fmt.Errorf("commit: %w", err)
	}
	return loc, nil
}

// FindLocation implements LocationStore.
func (s *SQLiteStore) FindLocation(ctx context.Context, name string) (Location, error) {
	var l Location
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, latitude, longitude, address, created_at FROM locations
         WHERE name = ? COLLATE NOCASE ORDER BY seq LIMIT 1`, strings.TrimSpace(name)).
		Scan(&l.ID, &l.Name, &l.Coordinates[0], &l.Coordinates[1], &l.Address, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, fmt.Errorf("%w: location %q", ErrNotFound, name)
	}
	if err != nil {
		return Location{}, fmt.Errorf("find location: %w", err)
	}
	return l, nil
}

// Contact implements ContactStore.
func (s *SQLiteStore) Contact(ctx context.Context) (string, error) {
	var number string
	err := s.db.QueryRowContext(ctx, `SELECT number FROM emergency_contact WHERE id = 1`).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoContact
	}
	if err != nil {
		return "", fmt.Errorf("read contact: %w", err)
	}
	return number, nil
}

// SetContact implements ContactStore.
func (s *SQLiteStore) SetContact(ctx context.Context, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return ErrNoContact
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emergency_contact (id, number, updated_at) VALUES (1, ?, ?)
         ON CONFLICT(id) DO UPDATE SET number = excluded.number, updated_at = excluded.updated_at`,
		number, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write contact: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
