package consumers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"hubsub/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	wsConnectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_websocket_connection_attempts_total",
		Help: "The total number of connection attempts to the websocket gateway",
	})

	wsConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_websocket_connection_errors_total",
		Help: "The total number of failed connection attempts",
	})

	wsReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_websocket_reconnects_total",
		Help: "Connections dropped after an unclean poll",
	})
)

const (
	wsWriteTimeout    = 10 * time.Second
	wsHandshakeTimout = 15 * time.Second
)

var errNotConnected = errors.New("websocket gateway not connected")

// WebsocketConfig holds configuration for the gateway connection
type WebsocketConfig struct {
	URL       string
	Token     string
	UserAgent string
	// MaxElapsed bounds the reconnect backoff of one StartConsumption
	MaxElapsed time.Duration
}

// Websocket forwards every event as a JSON text frame to a gateway
type Websocket struct {
	config WebsocketConfig
	dialer websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	dialErr error
}

func NewWebsocket(config WebsocketConfig) *Websocket {
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = 30 * time.Second
	}
	return &Websocket{
		config: config,
		dialer: websocket.Dialer{
			HandshakeTimeout: wsHandshakeTimout,
			NetDialContext: (&net.Dialer{
				Timeout:   wsHandshakeTimout,
				KeepAlive: 45 * time.Second,
			}).DialContext,
		},
	}
}

// StartConsumption connects if there is no live connection yet
func (w *Websocket) StartConsumption(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.dialErr = nil
	if w.conn != nil {
		return
	}

	headers := http.Header{}
	if w.config.Token != "" {
		headers.Set("Authorization", "Bearer "+w.config.Token)
	}
	if w.config.UserAgent != "" {
		headers.Set("User-Agent", w.config.UserAgent)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.Multiplier = 1.5
	policy.MaxElapsedTime = w.config.MaxElapsed

	operation := func() error {
		wsConnectionAttempts.Inc()
		conn, resp, err := w.dialer.DialContext(ctx, w.config.URL, headers)
		if err != nil {
			wsConnectionErrors.Inc()
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return backoff.Permanent(fmt.Errorf("gateway rejected token: %w", err))
			}
			return err
		}
		w.conn = conn
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"url":   w.config.URL,
			"error": err,
			"wait":  wait,
		}).Warn("Failed to connect to websocket gateway, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		w.dialErr = err
		log.WithFields(log.Fields{
			"url":   w.config.URL,
			"error": err,
		}).Error("Giving up connecting to websocket gateway")
		return
	}

	log.WithField("url", w.config.URL).Info("Connected to websocket gateway")
}

func (w *Websocket) Consume(ctx context.Context, contentType string, payload string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		if w.dialErr != nil {
			return fmt.Errorf("%w: %w", errNotConnected, w.dialErr)
		}
		return errNotConnected
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	w.conn.SetWriteDeadline(deadline)

	return w.conn.WriteJSON(models.DeliveredEvent{
		ContentType: contentType,
		Payload:     payload,
		ReceivedAt:  time.Now().UTC(),
	})
}

// EndConsumption keeps the connection for the next poll unless the poll
// failed, in which case the next poll dials again
func (w *Websocket) EndConsumption(ctx context.Context, completedCleanly bool) {
	if completedCleanly {
		return
	}
	w.Close()
	wsReconnects.Inc()
}

// Close drops the gateway connection
func (w *Websocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	conn := w.conn
	w.conn = nil

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
