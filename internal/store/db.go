package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DB wraps sql.DB for Postgres (pgx) or SQLite.
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens a connection pool with sane defaults. A non-nil DB is returned
// together with a ping error so callers can decide whether to continue degraded.
func NewDB(driver, connString string) (*DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, err
	}
	p := poolFor(driver)
	db.SetMaxOpenConns(p.maxOpen)
	if p.maxIdle > 0 {
		db.SetMaxIdleConns(p.maxIdle)
	}
	db.SetConnMaxLifetime(p.maxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return &DB{Client: db, Driver: driver}, db.PingContext(ctx)
}

type pool struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

func poolFor(driver string) pool {
	if driver == DriverSQLite {
		// One writer, and the connection is never recycled: a ":memory:"
		// database lives and dies with its only connection.
		return pool{maxOpen: 1}
	}
	return pool{maxOpen: 10, maxIdle: 5, maxLifetime: time.Hour}
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
