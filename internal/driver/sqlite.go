package driver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agenthands/catalog-dedup/internal/core/model"
)

// SQLiteStore reads and writes tables of a single local database file. The
// dataset part of a TableRef is accepted but not used.
type SQLiteStore struct {
	DB      *sql.DB
	Path    string
	IDField string
}

func NewSQLiteStore(path, idField string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// one writer at a time; the file lock would serialize us anyway
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	return &SQLiteStore{DB: db, Path: path, IDField: idField}, nil
}

func (s *SQLiteStore) Fetch(ctx context.Context, ref TableRef, limit int) (*model.RecordSet, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	query := "SELECT * FROM " + quoteIdent(ref.Table)
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", ref.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return model.NewRecordSet(out, s.IDField), nil
}

// Persist replaces the results table in one transaction.
func (s *SQLiteStore) Persist(ctx context.Context, ref TableRef, rs *model.RecordSet) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	table := quoteIdent(ref.ResultsTable())
	cols := rs.Columns()

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return "", fmt.Errorf("failed to drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(quoted, ", "))); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return "", fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range rs.Records {
		row := rec.Row()
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = sqlValue(row[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return "", fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit results: %w", err)
	}
	return fmt.Sprintf("sqlite://%s#%s", s.Path, ref.ResultsTable()), nil
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlValue passes scalar types through and stores nested values as JSON text.
func sqlValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, []byte, int, int32, int64, float32, float64, time.Time:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
