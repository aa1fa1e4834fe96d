package db

import (
	"database/sql"
	"fmt"
	"time"

	huandu "github.com/huandu/go-sqlbuilder"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func connection(driver string, dsn string, readOnly bool) (*sql.DB, error) {
	switch driver {
	case DriverSQLite:
		return sqliteConnection(dsn, readOnly)
	case DriverPostgres:
		return postgresConnection(dsn)
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}
}

func sqliteConnection(path string, readOnly bool) (*sql.DB, error) {
	mode := ""
	if readOnly {
		mode = "mode=ro&"
	}

	// Enable foreign keys and WAL mode
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?%s_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path, mode))
	if err != nil {
		return nil, err
	}

	if readOnly {
		db.SetMaxOpenConns(4) // Allow multiple concurrent readers
		db.SetMaxIdleConns(2)
	} else {
		db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour) // Recreate connections after an hour
	db.SetConnMaxIdleTime(time.Hour) // Close idle connections after an hour

	if _, err := db.Exec(`
		PRAGMA synchronous = NORMAL;
		PRAGMA cache_size = -32000; -- 32MB cache
		PRAGMA temp_store = MEMORY;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return db, nil
}

func postgresConnection(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(time.Hour)

	return db, nil
}

func flavor(driver string) huandu.Flavor {
	if driver == DriverPostgres {
		return huandu.PostgreSQL
	}
	return huandu.SQLite
}
