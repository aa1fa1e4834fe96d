// Package precondition decides whether a poll may run right now
package precondition

import (
	"context"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// HTTPChecker is ready when a GET of URL answers 2xx, e.g. the health
// endpoint of the event hub
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker creates a checker with its own short timeout
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPChecker{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChecker) IsReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		log.WithFields(log.Fields{
			"url":   c.URL,
			"error": err,
		}).Warn("Invalid precondition url")
		return false
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{
			"url":   c.URL,
			"error": err,
		}).Info("Precondition check failed")
		return false
	}
	resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// FileChecker is ready while no file exists at Path, so operators can pause
// polling by touching a file
type FileChecker struct {
	Path string
}

func (c *FileChecker) IsReady(ctx context.Context) bool {
	_, err := os.Stat(c.Path)
	return os.IsNotExist(err)
}
