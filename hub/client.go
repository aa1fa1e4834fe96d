// Package hub talks to an event hub over HTTP: Atom pages of a channel's
// events, the JSON events behind each entry, and publishing to a channel.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hubsub/models"
	"hubsub/publisher"

	"github.com/mmcdole/gofeed/atom"
	log "github.com/sirupsen/logrus"
)

const (
	atomMediaType = "application/atom+xml"
	jsonMediaType = "application/json"

	// Event bodies are small, anything beyond this is not an event
	maxEventSize = 16 * 1024 * 1024
)

// ClientConfig holds configuration for the hub client
type ClientConfig struct {
	// ChannelHubURI is where events get published, only needed for Publish
	ChannelHubURI string
	Timeout       time.Duration
	UserAgent     string
}

// Client fetches feed pages and events and publishes events
type Client struct {
	config ClientConfig
	http   *http.Client
}

// NewClient creates a hub client
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		http: &http.Client{
			Timeout: config.Timeout,
			// A redirect answer to a publish counts as accepted
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if via[0].Method == http.MethodGet && len(via) < 10 {
					return nil
				}
				return http.ErrUseLastResponse
			},
		},
	}
}

// FetchPage fetches and parses the Atom page at uri. The "next" link points
// to older events and "previous" to newer ones.
func (c *Client) FetchPage(ctx context.Context, uri string) (*models.Page, error) {
	body, err := c.get(ctx, uri, atomMediaType)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	feed, err := (&atom.Parser{}).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse atom page %s: %w", uri, err)
	}

	base, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse page uri: %w", err)
	}

	page := &models.Page{URI: uri}
	for _, link := range feed.Links {
		switch strings.ToLower(strings.TrimSpace(link.Rel)) {
		case "next":
			page.Older = resolve(base, link.Href)
		case "previous", "prev":
			page.Newer = resolve(base, link.Href)
		}
	}

	for _, entry := range feed.Entries {
		page.Entries = append(page.Entries, models.Entry{
			ID:        entry.ID,
			Updated:   entry.Updated,
			Permalink: permalink(base, entry),
		})
	}

	log.WithFields(log.Fields{
		"page":    uri,
		"entries": len(page.Entries),
		"older":   page.Older,
		"newer":   page.Newer,
	}).Debug("Fetched page")

	return page, nil
}

// FetchEvent fetches the JSON event an entry permalink points to
func (c *Client) FetchEvent(ctx context.Context, permalink string) (*models.Event, error) {
	body, err := c.get(ctx, permalink, jsonMediaType)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var event models.Event
	if err := json.NewDecoder(io.LimitReader(body, maxEventSize)).Decode(&event); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", permalink, err)
	}
	return &event, nil
}

// Publish posts payload to the channel hub. Unreachable hubs and 5xx answers
// are reported as publisher.ErrPublication so they can be retried, other
// answers are accepted for 2xx and 3xx and rejected otherwise.
func (c *Client) Publish(ctx context.Context, contentType string, payload string) (bool, error) {
	if c.config.ChannelHubURI == "" {
		return false, fmt.Errorf("no channel hub uri configured")
	}

	log.WithFields(log.Fields{
		"contentType": contentType,
		"hub":         c.config.ChannelHubURI,
	}).Info("Publishing event")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ChannelHubURI, strings.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "*/*")
	c.setUserAgent(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, publisher.Failed(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return false, publisher.Failed(fmt.Errorf("hub responded %s", resp.Status))
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 400, nil
}

func (c *Client) get(ctx context.Context, uri string, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", uri, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Encoding", acceptEncoding)
	c.setUserAgent(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", uri, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %s", uri, resp.Status)
	}
	return decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
}

func (c *Client) setUserAgent(req *http.Request) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
}

// permalink returns the alternate link of an entry. Atom treats a link
// without rel as alternate.
func permalink(base *url.URL, entry *atom.Entry) string {
	for _, link := range entry.Links {
		rel := strings.ToLower(strings.TrimSpace(link.Rel))
		if rel == "" || rel == "alternate" {
			return resolve(base, link.Href)
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
