// Package db archives delivered events in SQLite or PostgreSQL
package db

import (
	"context"
	"database/sql"
	"fmt"

	huandu "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// DB handles all archive operations with a shared connection pool
type DB struct {
	db     *sql.DB
	driver string
	flavor huandu.Flavor
}

// Open connects to the archive. driver is "sqlite" (dsn is a file path) or
// "postgres" (dsn is a postgres:// URL).
func Open(ctx context.Context, driver string, dsn string) (*DB, error) {
	return open(ctx, driver, dsn, false)
}

// OpenReadOnly connects to the archive for queries only
func OpenReadOnly(ctx context.Context, driver string, dsn string) (*DB, error) {
	return open(ctx, driver, dsn, true)
}

func open(ctx context.Context, driver string, dsn string, readOnly bool) (*DB, error) {
	conn, err := connection(driver, dsn, readOnly)
	if err != nil {
		return nil, err
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to archive: %w", err)
	}

	log.WithFields(log.Fields{
		"driver":   driver,
		"readOnly": readOnly,
	}).Info("Connected to archive")

	return &DB{
		db:     conn,
		driver: driver,
		flavor: flavor(driver),
	}, nil
}

// Close releases the connection pool
func (db *DB) Close() error {
	return db.db.Close()
}
