/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"time"

	"hubsub/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the archive",
		Description: `Tidy up the archive by removing events that are old.

		Removes events received longer ago than the retention window,
		90 days unless configured otherwise.`,
		Flags: append(archiveFlags(),
			&cli.IntFlag{
				Name:    "days",
				Usage:   "Retention window in days, overrides archive.retention",
				EnvVars: []string{"HUBSUB_RETENTION_DAYS"},
			},
		),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			driver, dsn, err := archiveTarget(ctx)
			if err != nil {
				return err
			}

			retention := cfg.Archive.Retention
			if ctx.IsSet("days") {
				retention = time.Duration(ctx.Int("days")) * 24 * time.Hour
			}

			store, err := db.Open(ctx.Context, driver, dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.Tidy(ctx.Context, retention)
			if err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"deleted":   deleted,
				"retention": retention,
			}).Info("Tidied archive")
			return nil
		},
	}
}
