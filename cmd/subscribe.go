/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hubsub/server"
	"hubsub/subscriber"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Poll the channel feed on a schedule",
		Description: `Polls the channel feed on the configured cron schedule and hands every
new event to the configured consumers, oldest first.

Ticks that arrive while a poll is still running are dropped.
If an address is configured the status server runs alongside.

Runs until interrupted, then waits for a running poll to finish.`,
		Flags: append(feedFlags(),
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Address of the status server, e.g. :8080",
				EnvVars: []string{"HUBSUB_ADDR"},
			},
		),
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

			scheduler, err := subscriber.NewScheduler(cfg.Feed.Cron, s.coordinator)
			if err != nil {
				return err
			}

			// Polls get their own context so shutdown lets the running one finish
			pollCtx, cancelPolls := context.WithCancel(context.Background())
			defer cancelPolls()

			var app *fiber.App
			if cfg.Server.Addr != "" {
				app = server.Server(&server.ServerConfig{
					Coordinator: s.coordinator,
					Cursor:      s.cursor,
					Archive:     s.events,
					Broadcaster: s.broadcaster,
				})

				go func() {
					log.WithField("addr", cfg.Server.Addr).Info("Starting status server")
					if err := app.Listen(cfg.Server.Addr); err != nil {
						log.WithFields(log.Fields{
							"error": err,
						}).Error("Status server stopped")
					}
				}()
			}

			scheduler.Start(pollCtx)

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			select {
			case <-signals:
			case <-ctx.Context.Done():
			}

			log.Info("Gracefully shutting down...")
			<-scheduler.Stop().Done()

			if app != nil {
				// Ends SSE streams before the server waits for them
				if s.broadcaster != nil {
					s.broadcaster.Shutdown()
				}
				if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
					log.WithFields(log.Fields{
						"error": err,
					}).Warn("Status server did not shut down cleanly")
				}
			}

			log.Info("Done!")
			return nil
		},
	}
}
