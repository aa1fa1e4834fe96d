package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations
var fs embed.FS

func migrator(driver string, dsn string) (*migrate.Migrate, error) {
	var url string
	switch driver {
	case DriverSQLite:
		url = "sqlite://" + dsn
	case DriverPostgres:
		// golang-migrate only understands the URL form
		url = dsn
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}

	// Create a new source instance using the embedded migrations for the driver
	d, err := iofs.New(fs, "migrations/"+driver)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// Migrate brings the archive schema up to date
func Migrate(driver string, dsn string) error {
	log.WithField("driver", driver).Info("Running migrations")

	m, err := migrator(driver, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, _ := m.Version()
	log.WithFields(log.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info("Migrations complete")
	return nil
}

// Rollback reverts the given number of migration steps
func Rollback(driver string, dsn string, steps int) error {
	if steps <= 0 {
		steps = 1
	}

	m, err := migrator(driver, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	log.WithFields(log.Fields{
		"driver": driver,
		"steps":  steps,
	}).Info("Rolled back migrations")
	return nil
}
