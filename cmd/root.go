/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "hubsub",
		Usage: "Consume the event feed of an event hub channel",
		Description: `Walks the paginated Atom feed of an event hub channel and hands
		every new event, oldest first, to the configured consumers.

		The position in the feed is kept in a cursor file so a restarted
		subscriber picks up where it left off.

		Flags can generally be set via environment variables, e.g.:

		--config => HUBSUB_CONFIG=hubsub.toml
		--head-uri => HUBSUB_HEAD_URI=http://hub/channels/orders/feed
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"HUBSUB_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (trace, debug, info, warn, error)",
				EnvVars: []string{"HUBSUB_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format (text or json)",
				EnvVars: []string{"HUBSUB_LOG_FORMAT"},
			},
		},
		Before: configureLogging,
		Commands: []*cli.Command{
			subscribeCmd(),
			pollCmd(),
			cursorCmd(),
			publishCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute runs the app with the process arguments
func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Command failed")
		os.Exit(1)
	}
}

func configureLogging(ctx *cli.Context) error {
	// Events may go to stdout, logs never do
	log.SetOutput(os.Stderr)

	level, err := log.ParseLevel(ctx.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(level)

	switch ctx.String("log-format") {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", ctx.String("log-format"))
	}
	return nil
}
