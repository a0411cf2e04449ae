package keyvalue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/futureforging/omnia/capability"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	bucket     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	expires_at INTEGER,
	PRIMARY KEY (bucket, key)
)`

// SQLite returns a factory for the sqlite-backed store. The database path
// comes from OMNIA_KV_DSN (default "omnia-kv.db"). TTL is stored as a unix
// millisecond deadline and enforced lazily on read.
func SQLite() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		dsn := os.Getenv("OMNIA_KV_DSN")
		if dsn == "" {
			dsn = "omnia-kv.db"
		}
		store, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return New(store, logger), nil
	}
}

// SQLiteStore persists buckets in a single sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the key-value database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dsn, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s: %w", dsn, err)
	}
	if _, err := db.ExecContext(ctx, kvSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Open implements Store.
func (s *SQLiteStore) Open(ctx context.Context, name string) (Bucket, error) {
	return &sqliteBucket{db: s.db, name: name}, nil
}

// Close implements Store.
func (s *SQLiteStore) Close(ctx context.Context) error { return s.db.Close() }

type sqliteBucket struct {
	db   *sql.DB
	name string
}

func (b *sqliteBucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expires sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE bucket = ? AND key = ?`,
		b.name, key).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires.Valid && time.Now().UnixMilli() > expires.Int64 {
		_, _ = b.db.ExecContext(ctx,
			`DELETE FROM kv WHERE bucket = ? AND key = ? AND expires_at <= ?`,
			b.name, key, time.Now().UnixMilli())
		return nil, false, nil
	}
	return value, true, nil
}

func (b *sqliteBucket) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires any
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixMilli()
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO kv (bucket, key, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		b.name, key, value, expires)
	return err
}

func (b *sqliteBucket) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM kv WHERE bucket = ? AND key = ?`, b.name, key)
	return err
}
