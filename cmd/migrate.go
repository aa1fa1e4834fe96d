/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"

	"hubsub/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func archiveTarget(ctx *cli.Context) (string, string, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return "", "", err
	}
	if cfg.Archive.DSN == "" {
		return "", "", errors.New("no archive configured, set --archive-dsn or archive.dsn")
	}
	log.WithFields(log.Fields{
		"driver": cfg.Archive.Driver,
	}).Info("Archive configured")
	return cfg.Archive.Driver, cfg.Archive.DSN, nil
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run archive migrations",
		Description: `Runs migrations on the configured archive database. Will create a SQLite database if it does not exist.`,
		Flags:       archiveFlags(),
		Action: func(ctx *cli.Context) error {
			driver, dsn, err := archiveTarget(ctx)
			if err != nil {
				return err
			}
			return db.Migrate(driver, dsn)
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback archive migrations",
		Description: `Rolls back the last archive migrations`,
		Flags: append(archiveFlags(),
			&cli.IntFlag{
				Name:  "steps",
				Value: 1,
				Usage: "Number of migrations to roll back",
			},
		),
		Action: func(ctx *cli.Context) error {
			driver, dsn, err := archiveTarget(ctx)
			if err != nil {
				return err
			}
			return db.Rollback(driver, dsn, ctx.Int("steps"))
		},
	}
}
