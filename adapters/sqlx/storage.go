// Package sqlx stores service state in a SQL table through jmoiron/sqlx.
package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"lampkit/core"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
	DriverMySQL    Driver = "mysql"
)

const schema = `CREATE TABLE IF NOT EXISTS kv_store (
	%[1]s %[2]s PRIMARY KEY,
	value %[3]s NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// dialect holds the per-driver column types and upsert clause. MySQL
// reserves "key", so the column is quoted there.
type dialect struct {
	keyCol  string
	keyType string
	blob    string
	upsert  string
}

var dialects = map[Driver]dialect{
	DriverPostgres: {keyCol: "key", keyType: "TEXT", blob: "BYTEA",
		upsert: "ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"},
	DriverSQLite: {keyCol: "key", keyType: "TEXT", blob: "BLOB",
		upsert: "ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"},
	DriverMySQL: {keyCol: "`key`", keyType: "VARCHAR(191)", blob: "LONGBLOB",
		upsert: "ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)"},
}

// Store keeps one row per key in the kv_store table.
type Store struct {
	db      *sqlx.DB
	driver  Driver
	dialect dialect
	now     func() time.Time
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var db *sqlx.DB
	switch driver {
	case DriverPostgres:
		var err error
		if db, err = sqlx.Open("postgres", dsn); err != nil {
			return nil, err
		}
	case DriverSQLite:
		raw, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// modernc registers as "sqlite"; sqlx binds "?" for the sqlite3 name
		db = sqlx.NewDb(raw, "sqlite3")
		db.SetMaxOpenConns(1)
	case DriverMySQL:
		var err error
		if db, err = sqlx.Open("mysql", dsn); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	s := NewWithDB(db, driver)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection (useful for testing). Unknown
// drivers fall back to the SQLite dialect.
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	d, ok := dialects[driver]
	if !ok {
		d = dialects[DriverSQLite]
	}
	return &Store{db: db, driver: driver, dialect: d, now: time.Now}
}

// Migrate creates the kv_store table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	d := s.dialect
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(schema, d.keyCol, d.keyType, d.blob)); err != nil {
		return fmt.Errorf("migrate kv_store: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM kv_store WHERE `+s.dialect.keyCol+` = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	q := s.db.Rebind(`INSERT INTO kv_store (` + s.dialect.keyCol + `, value, updated_at) VALUES (?, ?, ?) ` + s.dialect.upsert)
	if _, err := s.db.ExecContext(ctx, q, key, value, s.now().UTC()); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM kv_store WHERE `+s.dialect.keyCol+` = ?`), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
