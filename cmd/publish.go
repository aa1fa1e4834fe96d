/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"hubsub/hub"
	"hubsub/publisher"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// publishCmd represents the publish command
func publishCmd() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish an event to the channel hub",
		Description: `Publishes one event to the channel hub.

The payload is taken from --data or, when that is not set, read from stdin.
Transient failures are retried with a fixed delay before giving up.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "hub-uri",
				Usage:   "URI of the channel hub events are published to",
				EnvVars: []string{"HUBSUB_HUB_URI"},
			},
			&cli.StringFlag{
				Name:     "content-type",
				Aliases:  []string{"t"},
				Usage:    "Content type of the event",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Event payload, read from stdin when not set",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if cfg.Publisher.ChannelHubURI == "" {
				return errors.New("no channel hub uri configured, set --hub-uri or publisher.channel_hub_uri")
			}

			payload := ctx.String("data")
			if !ctx.IsSet("data") {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read payload from stdin: %w", err)
				}
				payload = string(data)
			}

			client := hub.NewClient(hub.ClientConfig{
				ChannelHubURI: cfg.Publisher.ChannelHubURI,
				Timeout:       cfg.Feed.RequestTimeout,
				UserAgent:     cfg.Feed.UserAgent,
			})
			retrying := publisher.NewRetrying(client, cfg.Publisher.RetryAttempts, cfg.Publisher.RetryDelay)

			accepted, err := retrying.Publish(ctx.Context, ctx.String("content-type"), payload)
			if err != nil {
				return err
			}
			if !accepted {
				return errors.New("channel hub rejected the event")
			}

			log.WithFields(log.Fields{
				"hub":          cfg.Publisher.ChannelHubURI,
				"content-type": ctx.String("content-type"),
				"bytes":        len(payload),
			}).Info("Published event")
			return nil
		},
	}
}
