// Package store is the local relational mirror of the external system. It
// owns one SQLite table per entity type (primary key = external id, one
// column per field's local name) plus the sync-status ledger and the media
// asset table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyperengineering/trestle/internal/mapping"
	"github.com/hyperengineering/trestle/internal/types"
)

// Store is the SQLite-backed local store.
type Store struct {
	db  *sql.DB
	set *mapping.Set
}

// New opens (creating if necessary) the local database, applies pragmas and
// runs migrations.
func New(dbPath string, set *mapping.Set) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, set: set}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// tableFor maps an entity type to its local table name.
func tableFor(entity types.EntityType) (string, error) {
	switch entity {
	case types.EntityOpportunity:
		return "opportunities", nil
	case types.EntitySite:
		return "sites", nil
	case types.EntitySalesRecord:
		return "sales_records", nil
	case types.EntityMaintenanceOrder:
		return "maintenance_orders", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
}

// Row is one transformed record ready for the local store. Fields is keyed by
// local column name; Raw carries the untouched external payload for forward
// compatibility.
type Row struct {
	ExternalID string
	Fields     map[string]any
	Raw        []byte
}

// UpsertPage writes one page of rows inside a single transaction using
// INSERT OR REPLACE keyed by external id, so re-running a page never produces
// duplicate rows. A row the database rejects is skipped and reported; the
// rest of the page still commits. The page is all-or-nothing only at the
// transaction level: either the commit lands with every accepted row or
// nothing is applied.
func (s *Store) UpsertPage(ctx context.Context, entity types.EntityType, rows []Row) (int, []error, error) {
	table, err := tableFor(entity)
	if err != nil {
		return 0, nil, err
	}
	reg, ok := s.set.For(entity)
	if !ok {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if len(rows) == 0 {
		return 0, nil, nil
	}

	columns := reg.LocalColumns()
	all := make([]string, 0, len(columns)+3)
	all = append(all, "external_id")
	all = append(all, columns...)
	all = append(all, "synced_at", "raw")

	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(all, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", "),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, nil, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	var skipped []error
	committed := 0

	for _, row := range rows {
		if row.ExternalID == "" {
			skipped = append(skipped, &UpsertError{ExternalID: "", Err: fmt.Errorf("missing external id")})
			continue
		}
		args := make([]any, 0, len(all))
		args = append(args, row.ExternalID)
		for _, col := range columns {
			if v, present := row.Fields[col]; present {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		args = append(args, now, string(row.Raw))

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			skipped = append(skipped, &UpsertError{ExternalID: row.ExternalID, Err: err})
			continue
		}
		committed++
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit page: %w", err)
	}
	return committed, skipped, nil
}

// CountRecords returns the number of locally mirrored rows for an entity type.
func (s *Store) CountRecords(ctx context.Context, entity types.EntityType) (int, error) {
	table, err := tableFor(entity)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	return count, err
}

// GetRecord reads one local row as a map keyed by local column name. Columns
// that are NULL in the row are absent from the map.
func (s *Store) GetRecord(ctx context.Context, entity types.EntityType, externalID string) (map[string]any, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	reg, ok := s.set.For(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	columns := reg.LocalColumns()
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE external_id = ?",
		strings.Join(columns, ", "), table,
	)

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	if err := s.db.QueryRowContext(ctx, query, externalID).Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rec := make(map[string]any, len(columns))
	for i, col := range columns {
		if values[i] == nil {
			continue
		}
		rec[col] = values[i]
	}
	return rec, nil
}
