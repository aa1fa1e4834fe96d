package cmd

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func pollCmd() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Run a single poll and exit",
		Description: `Runs exactly one poll against the channel feed, prints the poll
result as JSON to stderr and exits. Stdout is left to the stdout consumer.

Exits non-zero if a consumer failed or the cursor could not be written.`,
		Flags: feedFlags(),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			s, err := buildStack(ctx.Context, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			_, pollErr := s.coordinator.Tick(ctx.Context)
			result, _ := s.coordinator.LastResult()

			if err := json.NewEncoder(ctx.App.ErrWriter).Encode(result); err != nil {
				log.WithFields(log.Fields{
					"error": err,
				}).Warn("Failed to print poll result")
			}
			return pollErr
		},
	}
}
