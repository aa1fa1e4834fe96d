package cmd

import (
	"context"
	"errors"

	"hubsub/config"
	"hubsub/consumers"
	"hubsub/cursor"
	"hubsub/db"
	"hubsub/hub"
	"hubsub/precondition"
	"hubsub/server"
	"hubsub/subscriber"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Flags that override values of the configuration file
func feedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "head-uri",
			Usage:   "URI of the newest page of the channel feed",
			EnvVars: []string{"HUBSUB_HEAD_URI"},
		},
		&cli.StringFlag{
			Name:    "cron",
			Usage:   "Poll cadence, e.g. \"*/30 * * * * *\" or \"@every 1m\"",
			EnvVars: []string{"HUBSUB_CRON"},
		},
		&cli.StringFlag{
			Name:    "cursor-dir",
			Usage:   "Directory of the cursor file",
			EnvVars: []string{"HUBSUB_CURSOR_DIR"},
		},
		&cli.StringFlag{
			Name:    "cursor-file",
			Usage:   "Name of the cursor file",
			EnvVars: []string{"HUBSUB_CURSOR_FILE"},
		},
	}
}

func archiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "archive-driver",
			Usage:   "Archive database driver (sqlite or postgres)",
			EnvVars: []string{"HUBSUB_ARCHIVE_DRIVER"},
		},
		&cli.StringFlag{
			Name:    "archive-dsn",
			Usage:   "SQLite file or postgres:// URL of the archive",
			EnvVars: []string{"HUBSUB_ARCHIVE_DSN"},
		},
	}
}

// loadConfig reads the configuration file and applies flags set on the command line
func loadConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"head-uri":       &cfg.Feed.HeadURI,
		"cron":           &cfg.Feed.Cron,
		"cursor-dir":     &cfg.Cursor.Dir,
		"cursor-file":    &cfg.Cursor.File,
		"hub-uri":        &cfg.Publisher.ChannelHubURI,
		"archive-driver": &cfg.Archive.Driver,
		"archive-dsn":    &cfg.Archive.DSN,
		"addr":           &cfg.Server.Addr,
	}
	for flag, target := range overrides {
		if ctx.IsSet(flag) {
			*target = ctx.String(flag)
		}
	}

	return cfg, nil
}

// stack is a fully wired subscriber
type stack struct {
	config      *config.TomlConfig
	client      *hub.Client
	cursor      *cursor.FileStore
	registry    *subscriber.Registry
	walker      *subscriber.Walker
	coordinator *subscriber.Coordinator
	broadcaster *server.Broadcaster
	// archive readers for the status server, nil without an archive
	events server.EventReader

	closers []func() error
}

func buildStack(ctx context.Context, cfg *config.TomlConfig) (*stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := cursor.NewFileStore(cfg.Cursor.Dir, cfg.Cursor.File)
	if err != nil {
		return nil, err
	}

	s := &stack{
		config:   cfg,
		cursor:   store,
		registry: subscriber.NewRegistry(),
		client: hub.NewClient(hub.ClientConfig{
			ChannelHubURI: cfg.Publisher.ChannelHubURI,
			Timeout:       cfg.Feed.RequestTimeout,
			UserAgent:     cfg.Feed.UserAgent,
		}),
	}

	if err := s.addConsumers(ctx); err != nil {
		s.Close()
		return nil, err
	}

	var checker subscriber.PreconditionChecker
	switch {
	case cfg.Precondition.URL != "":
		checker = precondition.NewHTTPChecker(cfg.Precondition.URL, cfg.Precondition.Timeout)
	case cfg.Precondition.File != "":
		checker = &precondition.FileChecker{Path: cfg.Precondition.File}
	}

	s.walker = subscriber.NewWalker(cfg.Feed.HeadURI, s.client, s.cursor, s.registry)
	s.coordinator = subscriber.NewCoordinator(s.walker, checker)

	log.WithFields(log.Fields{
		"head":      cfg.Feed.HeadURI,
		"cursor":    store.Path(),
		"consumers": s.registry.Len(),
	}).Info("Subscriber ready")

	return s, nil
}

func (s *stack) addConsumers(ctx context.Context) error {
	cfg := s.config

	var archive *db.DB
	if cfg.HasConsumer(config.ConsumerArchive) {
		var err error
		if archive, err = s.openArchive(ctx); err != nil {
			return err
		}
	}

	for _, consumer := range cfg.Consumers {
		var c subscriber.Consumer
		switch consumer.Type {
		case config.ConsumerStdout:
			c = consumers.NewStdout(nil)

		case config.ConsumerWebsocket:
			ws := consumers.NewWebsocket(consumers.WebsocketConfig{
				URL:       consumer.URL,
				Token:     consumer.Token,
				UserAgent: cfg.Feed.UserAgent,
			})
			s.closers = append(s.closers, ws.Close)
			c = ws

		case config.ConsumerArchive:
			// One batch per poll, a second archive consumer would wait on the first
			if archive == nil {
				continue
			}
			c = db.NewArchive(archive)
			archive = nil

		case config.ConsumerBroadcast:
			if s.broadcaster != nil {
				continue
			}
			s.broadcaster = server.NewBroadcaster()
			c = s.broadcaster
		}

		if err := s.registry.Add(c); err != nil {
			return err
		}
	}
	return nil
}

// openArchive migrates and opens the archive the archive consumer writes to
func (s *stack) openArchive(ctx context.Context) (*db.DB, error) {
	cfg := s.config.Archive
	if err := db.Migrate(cfg.Driver, cfg.DSN); err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store.Close)
	s.events = store

	// The SQLite writer holds its only connection for a whole poll
	if cfg.Driver == db.DriverSQLite {
		reader, err := db.OpenReadOnly(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, reader.Close)
		s.events = reader
	}
	return store, nil
}

// Close releases consumers in reverse order of creation
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	if s.broadcaster != nil {
		s.broadcaster.Shutdown()
	}
	return errors.Join(errs...)
}
