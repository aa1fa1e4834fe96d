// Package config loads the TOML configuration of a subscriber
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"hubsub/subscriber"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

// ErrInvalid marks configuration that can not be used to start a subscriber
var ErrInvalid = errors.New("invalid configuration")

const (
	ConsumerStdout    = "stdout"
	ConsumerWebsocket = "websocket"
	ConsumerArchive   = "archive"
	ConsumerBroadcast = "broadcast"
)

// TomlFeed represents the channel feed to walk
type TomlFeed struct {
	HeadURI        string        `toml:"head_uri"`
	Cron           string        `toml:"cron"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	UserAgent      string        `toml:"user_agent"`
}

// TomlCursor represents where the cursor file lives
type TomlCursor struct {
	Dir  string `toml:"dir"`
	File string `toml:"file"`
}

// TomlPrecondition gates polls, at most one of URL and File is set
type TomlPrecondition struct {
	URL     string        `toml:"url"`
	File    string        `toml:"file"`
	Timeout time.Duration `toml:"timeout"`
}

// TomlPublisher represents the channel hub events are published to
type TomlPublisher struct {
	ChannelHubURI string        `toml:"channel_hub_uri"`
	RetryAttempts int           `toml:"retry_attempts"`
	RetryDelay    time.Duration `toml:"retry_delay"`
}

// TomlArchive represents the event archive database
type TomlArchive struct {
	Driver    string        `toml:"driver"`
	DSN       string        `toml:"dsn"`
	Retention time.Duration `toml:"retention"`
}

// TomlServer represents the status server
type TomlServer struct {
	Addr string `toml:"addr"`
}

// TomlConsumer represents one initial consumer
type TomlConsumer struct {
	Type  string `toml:"type"`
	URL   string `toml:"url,omitempty"`
	Token string `toml:"token,omitempty"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Feed         TomlFeed         `toml:"feed"`
	Cursor       TomlCursor       `toml:"cursor"`
	Precondition TomlPrecondition `toml:"precondition"`
	Publisher    TomlPublisher    `toml:"publisher"`
	Archive      TomlArchive      `toml:"archive"`
	Server       TomlServer       `toml:"server"`
	Consumers    []TomlConsumer   `toml:"consumers"`
}

// Default returns the configuration used for everything a file leaves out
func Default() *TomlConfig {
	return &TomlConfig{
		Feed: TomlFeed{
			Cron:           "@every 30s",
			RequestTimeout: 30 * time.Second,
			UserAgent:      "hubsub",
		},
		Cursor: TomlCursor{
			Dir:  "data",
			File: "cursor",
		},
		Precondition: TomlPrecondition{
			Timeout: 5 * time.Second,
		},
		Publisher: TomlPublisher{
			RetryAttempts: 5,
			RetryDelay:    5 * time.Second,
		},
		Archive: TomlArchive{
			Driver:    "sqlite",
			Retention: 90 * 24 * time.Hour,
		},
	}
}

// LoadConfig reads path on top of the defaults. An empty path yields the defaults.
func LoadConfig(path string) (*TomlConfig, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	meta, err := toml.Decode(string(data), config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalid, undecoded)
	}

	return config, nil
}

// Validate checks everything a subscriber needs before its first poll
func (c *TomlConfig) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Feed.HeadURI) == "" {
		problems = append(problems, "feed.head_uri is required")
	}
	if _, err := subscriber.ParseSchedule(c.Feed.Cron); err != nil {
		problems = append(problems, fmt.Sprintf("feed.cron: %v", err))
	}
	if strings.TrimSpace(c.Cursor.Dir) == "" || strings.TrimSpace(c.Cursor.File) == "" {
		problems = append(problems, "cursor.dir and cursor.file are required")
	}
	if c.Precondition.URL != "" && c.Precondition.File != "" {
		problems = append(problems, "precondition takes either url or file")
	}
	if c.Publisher.RetryAttempts < 0 {
		problems = append(problems, "publisher.retry_attempts must not be negative")
	}

	for i, consumer := range c.Consumers {
		switch consumer.Type {
		case ConsumerStdout, ConsumerBroadcast:
		case ConsumerWebsocket:
			if consumer.URL == "" {
				problems = append(problems, fmt.Sprintf("consumers[%d]: websocket needs a url", i))
			}
		case ConsumerArchive:
			if c.Archive.DSN == "" {
				problems = append(problems, fmt.Sprintf("consumers[%d]: archive needs archive.dsn", i))
			}
		default:
			problems = append(problems, fmt.Sprintf("consumers[%d]: unknown type %q", i, consumer.Type))
		}
	}

	if c.Archive.Driver != "sqlite" && c.Archive.Driver != "postgres" {
		problems = append(problems, fmt.Sprintf("archive.driver %q is not sqlite or postgres", c.Archive.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// HasConsumer reports whether a consumer of the given type is configured
func (c *TomlConfig) HasConsumer(kind string) bool {
	return lo.ContainsBy(c.Consumers, func(consumer TomlConsumer) bool {
		return consumer.Type == kind
	})
}
