package cmd

import (
	"errors"
	"fmt"
	"net/url"

	"hubsub/cursor"

	"github.com/cqroot/prompt"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func cursorCmd() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Inspect or move the stored cursor",
		Flags: feedFlags(),
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the stored cursor",
				Action: func(ctx *cli.Context) error {
					store, err := openCursor(ctx)
					if err != nil {
						return err
					}
					uri := store.Read()
					if uri == "" {
						fmt.Println("(empty, the next poll starts at the oldest page)")
						return nil
					}
					fmt.Println(uri)
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Point the cursor at a feed page",
				ArgsUsage: "<page uri>",
				Action: func(ctx *cli.Context) error {
					uri := ctx.Args().First()
					if parsed, err := url.Parse(uri); err != nil || !parsed.IsAbs() {
						return fmt.Errorf("%q is not an absolute page uri", uri)
					}

					store, err := openCursor(ctx)
					if err != nil {
						return err
					}
					log.WithFields(log.Fields{
						"from": store.Read(),
						"to":   uri,
					}).Info("Moving cursor")
					return store.Write(uri)
				},
			},
			{
				Name:  "reset",
				Usage: "Clear the cursor so the next poll replays the whole feed",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Do not ask for confirmation",
					},
				},
				Action: func(ctx *cli.Context) error {
					store, err := openCursor(ctx)
					if err != nil {
						return err
					}

					if !ctx.Bool("yes") {
						answer, err := prompt.New().
							Ask("Reset cursor? Every event of the feed will be delivered again.").
							Choose([]string{"No", "Yes"})
						if errors.Is(err, prompt.ErrUserQuit) {
							return nil
						}
						if err != nil {
							return err
						}
						if answer != "Yes" {
							return nil
						}
					}

					log.WithField("from", store.Read()).Info("Resetting cursor")
					return store.Write("")
				},
			},
		},
	}
}

func openCursor(ctx *cli.Context) (*cursor.FileStore, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cursor.NewFileStore(cfg.Cursor.Dir, cfg.Cursor.File)
}
