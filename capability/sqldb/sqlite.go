package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/capability"
)

// SQLite returns a factory for the sqlite backend. The DSN comes from
// OMNIA_SQL_DSN (default "omnia.db").
func SQLite() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		dsn := os.Getenv("OMNIA_SQL_DSN")
		if dsn == "" {
			dsn = "omnia.db"
		}
		db, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return New(db, logger), nil
	}
}

// SQLiteDB implements Database over database/sql with the modernc driver.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens and pings the database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dsn, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s: %w", dsn, err)
	}
	return &SQLiteDB{db: db}, nil
}

// Exec implements Database.
func (s *SQLiteDB) Exec(ctx context.Context, query string, args []any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Query implements Database.
func (s *SQLiteDB) Query(ctx context.Context, query string, args []any) (Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

// Close implements Database.
func (s *SQLiteDB) Close(ctx context.Context) error { return s.db.Close() }

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func (r *sqlRows) Next(ctx context.Context) (api.Row, bool, error) {
	if !r.rows.Next() {
		return nil, false, r.rows.Err()
	}
	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, false, err
	}
	row := make(api.Row, len(r.cols))
	for i, col := range r.cols {
		row[col] = values[i]
	}
	return row, true, nil
}

func (r *sqlRows) Close() error { return r.rows.Close() }
