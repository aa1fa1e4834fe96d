// Package server exposes the status of a running subscriber over HTTP
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hubsub/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// Ticker triggers polls and reports on them
type Ticker interface {
	Tick(ctx context.Context) (bool, error)
	Running() bool
	LastResult() (models.PollResult, bool)
}

// CursorReader exposes the stored cursor
type CursorReader interface {
	Read() string
}

// EventReader reads the event archive
type EventReader interface {
	Recent(ctx context.Context, limit int, before int64) ([]models.ArchivedEvent, error)
	Count(ctx context.Context) (int64, error)
}

type ServerConfig struct {

	// Triggers manual polls and reports the last one
	Coordinator Ticker

	// The durable cursor of the subscriber
	Cursor CursorReader

	// The archive to serve recent events from, optional
	Archive EventReader

	// Broadcast channel to pass events to SSE clients, optional
	Broadcaster *Broadcaster

	// Upper bound for a manual poll
	PollTimeout time.Duration

	// Interval of SSE keep-alive pings
	PingInterval time.Duration
}

type status struct {
	Cursor   string             `json:"cursor"`
	Running  bool               `json:"running"`
	LastPoll *models.PollResult `json:"lastPoll,omitempty"`
	Clients  int                `json:"sseClients"`
	Archived *int64             `json:"archivedEvents,omitempty"`
}

// Returns a fiber.App instance to be used as the status server of a subscriber
func Server(config *ServerConfig) *fiber.App {
	if config.PollTimeout <= 0 {
		config.PollTimeout = 5 * time.Minute
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 15 * time.Second
	}

	bc := config.Broadcaster

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Debug("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/status", func(c *fiber.Ctx) error {
		s := status{
			Cursor:  config.Cursor.Read(),
			Running: config.Coordinator.Running(),
		}
		if last, ok := config.Coordinator.LastResult(); ok {
			s.LastPoll = &last
		}
		if bc != nil {
			s.Clients = bc.Clients()
		}
		if config.Archive != nil {
			count, err := config.Archive.Count(c.UserContext())
			if err != nil {
				log.WithFields(log.Fields{
					"error": err,
				}).Warn("Error counting archived events")
			} else {
				s.Archived = &count
			}
		}
		return c.JSON(s)
	})

	app.Post("/poll", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), config.PollTimeout)
		defer cancel()

		ran, err := config.Coordinator.Tick(ctx)
		if !ran {
			return c.Status(fiber.StatusConflict).SendString("A poll is already running")
		}

		last, _ := config.Coordinator.LastResult()
		if err != nil {
			log.WithFields(log.Fields{
				"poll_id": last.PollId,
				"error":   err,
			}).Error("Manual poll failed")
			return c.Status(fiber.StatusInternalServerError).JSON(last)
		}
		return c.JSON(last)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/events/recent", func(c *fiber.Ctx) error {
		if config.Archive == nil {
			return c.Status(fiber.StatusNotFound).SendString("No archive configured")
		}

		limit := c.QueryInt("limit", 50)
		if limit < 1 || limit > 500 {
			limit = 50
		}
		before := int64(c.QueryInt("before", 0))

		events, err := config.Archive.Recent(c.UserContext(), limit, before)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error reading recent events")
			return c.Status(fiber.StatusInternalServerError).SendString("Error reading recent events")
		}
		return c.JSON(events)
	})

	app.Get("/events/sse", func(c *fiber.Ctx) error {
		if bc == nil {
			return c.Status(fiber.StatusNotFound).SendString("No broadcaster configured")
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		events := bc.AddClient(key)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer bc.RemoveClient(key)

			alive := time.NewTicker(config.PingInterval)
			defer alive.Stop()

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-alive.C:
					fmt.Fprintf(w, "event: ping\ndata: \n\n")
					if err := w.Flush(); err != nil {
						log.Debugf("Client %s went away: %v", key, err)
						return
					}

				case event, ok := <-events:
					if !ok {
						return
					}
					data, err := json.Marshal(event)
					if err != nil {
						log.Errorf("Error marshalling event for client %s: %v", key, err)
						continue
					}
					fmt.Fprintf(w, "event: event\ndata: %s\n\n", data)
					if err := w.Flush(); err != nil {
						log.Debugf("Client %s went away: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}
