// Package store provides row-oriented table storage over SQLite: simple
// equality/substring predicate queries, inserts with store-assigned ids,
// updates and deletes. Callers serialize structured fields to JSON text
// columns themselves.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Library table names.
const (
	TableArtists          = "artists"
	TableAlbums           = "albums"
	TableTracks           = "tracks"
	TablePlaylists        = "playlists"
	TableProviderMappings = "provider_mappings"
)

// Row is one table row keyed by column name. TEXT columns scan as string,
// INTEGER columns as int64.
type Row map[string]any

// String returns the named column as a string.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Int64 returns the named column as an int64.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// Bool returns the named column as a bool (SQLite integer 0/1).
func (r Row) Bool(col string) bool { return r.Int64(col) != 0 }

// Store is a row store backed by a single SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Store on the given database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger.With(slog.String("component", "store"))}
}

// GetRow returns the first row matching all equality predicates, or nil
// when no row matches.
func (s *Store) GetRow(ctx context.Context, table string, match Row) (Row, error) {
	rows, err := s.GetRows(ctx, table, match, "", 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// GetRows returns all rows matching the equality predicates, optionally
// ordered and bounded. A nil or empty match selects the whole table.
func (s *Store) GetRows(ctx context.Context, table string, match Row, orderBy string, limit int) ([]Row, error) {
	where, args := buildMatch(match)
	query := "SELECT * FROM " + table + where //nolint:gosec // G202: table names are package constants, predicates parameterized
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRows(ctx, query, args...)
}

// GetRowsFromQuery runs a caller-built SELECT with placeholder args and a
// row limit. Used for relationship-text predicates the simple equality
// matcher cannot express.
func (s *Store) GetRowsFromQuery(ctx context.Context, query string, args []any, limit int) ([]Row, error) {
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRows(ctx, query, args...)
}

// Insert adds a row and returns it as stored. When the table carries an
// item_id column and the caller did not set one, the store assigns a UUID.
func (s *Store) Insert(ctx context.Context, table string, values Row) (Row, error) {
	if _, ok := values["item_id"]; ok && values.String("item_id") == "" {
		values["item_id"] = uuid.New().String()
	}
	cols := sortedKeys(values)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = values[col]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", //nolint:gosec // G201: table names are package constants
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("inserting into %s: %w", table, err)
	}
	if id, ok := values["item_id"]; ok {
		return s.GetRow(ctx, table, Row{"item_id": id})
	}
	return values, nil
}

// Update applies the given column values to all rows matching the
// equality predicates.
func (s *Store) Update(ctx context.Context, table string, match Row, values Row) error {
	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(match))
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, values[col])
	}
	where, whereArgs := buildMatch(match)
	args = append(args, whereArgs...)
	query := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where) //nolint:gosec // G201: columns come from fixed codecs
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating %s: %w", table, err)
	}
	return nil
}

// Delete removes all rows matching the equality predicates.
func (s *Store) Delete(ctx context.Context, table string, match Row) error {
	where, args := buildMatch(match)
	query := "DELETE FROM " + table + where //nolint:gosec // G202: table names are package constants, predicates parameterized
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rows: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// buildMatch turns equality predicates into a WHERE clause. Keys are sorted
// for deterministic SQL.
func buildMatch(match Row) (string, []any) {
	if len(match) == 0 {
		return "", nil
	}
	cols := sortedKeys(match)
	conditions := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		conditions[i] = col + " = ?"
		args[i] = match[col]
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
