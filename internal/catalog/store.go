// Package catalog serves listing pages from a SQLite table of images.
// Rows are ordered by insertion position; a page is a LIMIT/OFFSET window
// and the total is COUNT(*).
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Sternrassler/lazywall/pkg/resource"
)

var (
	// ErrDuplicate is returned by Insert when an id is already catalogued.
	// The whole batch is rolled back.
	ErrDuplicate = errors.New("duplicate id")

	// ErrInvalidPage is returned by FetchPage for a page before the first
	// page or a non-positive page size.
	ErrInvalidPage = errors.New("invalid page")
)

// Store is a SQLite-backed listing. It implements pagination.Source.
type Store struct {
	db        *sql.DB
	firstPage int
}

// Open opens (creating if needed) the catalog at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, firstPage: 1}, nil
}

// SetFirstPage sets the index of the first page (1 by default).
func (s *Store) SetFirstPage(n int) {
	s.firstPage = n
}

// Close closes the database. It is safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert appends descriptors after the last stored image, in order. The
// batch is atomic: a duplicate id rejects all of it with ErrDuplicate.
func (s *Store) Insert(ctx context.Context, descs ...resource.Descriptor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM images`).Scan(&next); err != nil {
		return fmt.Errorf("next position: %w", err)
	}

	for i, d := range descs {
		_, err := tx.ExecContext(ctx, `INSERT INTO images(position, id, url, alt) VALUES (?, ?, ?, ?)`,
			next+int64(i), d.ID, d.URL, d.AltText)
		if err != nil {
			if isUniqueErr(err) {
				return fmt.Errorf("%w: %s", ErrDuplicate, d.ID)
			}
			return fmt.Errorf("insert image %q: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// FetchPage returns the images of page in position order. Pages past the
// end are empty.
func (s *Store) FetchPage(ctx context.Context, page, size int) ([]resource.Descriptor, error) {
	if page < s.firstPage || size < 1 {
		return nil, fmt.Errorf("%w: page %d size %d", ErrInvalidPage, page, size)
	}
	offset := (page - s.firstPage) * size

	rows, err := s.db.QueryContext(ctx, `SELECT id, url, alt FROM images ORDER BY position LIMIT ? OFFSET ?`, size, offset)
	if err != nil {
		return nil, fmt.Errorf("query page %d: %w", page, err)
	}
	defer rows.Close()

	out := make([]resource.Descriptor, 0, size)
	for rows.Next() {
		var d resource.Descriptor
		if err := rows.Scan(&d.ID, &d.URL, &d.AltText); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page %d: %w", page, err)
	}
	return out, nil
}

// FetchTotalCount returns the number of stored images.
func (s *Store) FetchTotalCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

func isUniqueErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
