package subscriber

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hubsub/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// PageFetcher resolves feed pages and the events their entries link to
type PageFetcher interface {
	FetchPage(ctx context.Context, uri string) (*models.Page, error)
	FetchEvent(ctx context.Context, permalink string) (*models.Event, error)
}

// CursorStore holds the URI of the next page to poll. Read returns "" when
// there is no prior progress.
type CursorStore interface {
	Read() string
	Write(uri string) error
}

// ErrCursorWrite is returned by a poll that drained the feed but could not
// persist the new cursor.
var ErrCursorWrite = errors.New("cursor could not be persisted")

var errFeedCycle = errors.New("feed links lead back to an already visited page")

// ConsumerError reports the consumer that aborted a poll
type ConsumerError struct {
	Consumer    int
	EventID     string
	ContentType string
	Err         error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("consumer %d failed on event %q (%s): %v", e.Consumer, e.EventID, e.ContentType, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// Walker drains the channel feed from the stored cursor up to the live edge
type Walker struct {
	headURI  string
	fetcher  PageFetcher
	cursor   CursorStore
	registry *Registry
}

// NewWalker creates a walker for the feed whose newest page is headURI
func NewWalker(headURI string, fetcher PageFetcher, cursor CursorStore, registry *Registry) *Walker {
	return &Walker{
		headURI:  headURI,
		fetcher:  fetcher,
		cursor:   cursor,
		registry: registry,
	}
}

// pollState lives for a single Poll call
type pollState struct {
	id        string
	from      string
	started   bool
	consumers []Consumer
	delivered int
	pages     int
	visited   map[string]bool
	log       *log.Entry
}

// Poll delivers every event between the stored cursor and the live edge, oldest
// first, and advances the cursor once the live edge is reached.
//
// Fetch failures end the poll without an error and without touching the
// cursor. A failing consumer aborts the poll and is returned as a
// *ConsumerError. A cursor that can't be persisted is returned as
// ErrCursorWrite.
func (w *Walker) Poll(ctx context.Context) (models.PollResult, error) {
	from := w.cursor.Read()
	state := &pollState{
		id:      uuid.NewString(),
		from:    from,
		visited: make(map[string]bool),
	}
	state.log = log.WithFields(log.Fields{
		"poll_id": state.id,
		"cursor":  from,
	})

	result := models.PollResult{
		PollId:     state.id,
		FromCursor: from,
		Cursor:     from,
		StartedAt:  time.Now(),
	}
	finish := func(outcome models.PollOutcome, err error) models.PollResult {
		result.Outcome = outcome
		result.Delivered = state.delivered
		result.Pages = state.pages
		result.Duration = time.Since(result.StartedAt)
		if err != nil {
			result.Error = err.Error()
		}
		pollsTotal.WithLabelValues(string(outcome)).Inc()
		pollDuration.Observe(result.Duration.Seconds())
		return result
	}

	state.log.Info("Polling for new events")

	next, err := w.walk(ctx, state)
	if err != nil {
		w.end(ctx, state, false)

		var consumerErr *ConsumerError
		if errors.As(err, &consumerErr) {
			consumerFailures.Inc()
			state.log.WithFields(log.Fields{
				"delivered": state.delivered,
				"error":     err,
			}).Warn("Consumer halted the poll, cursor not advanced")
			return finish(models.OutcomeConsumerFailed, err), err
		}

		state.log.WithFields(log.Fields{
			"delivered": state.delivered,
			"error":     err,
		}).Warn("Poll ended early, cursor not advanced")
		return finish(models.OutcomeFetchFailed, err), nil
	}

	if next != from {
		if err := w.cursor.Write(next); err != nil {
			w.end(ctx, state, false)
			err = fmt.Errorf("%w: %w", ErrCursorWrite, err)
			state.log.WithFields(log.Fields{
				"next":  next,
				"error": err,
			}).Error("Could not store next cursor")
			return finish(models.OutcomeCursorFailed, err), err
		}
		result.Cursor = next
	}

	w.end(ctx, state, true)

	state.log.WithFields(log.Fields{
		"delivered": state.delivered,
		"pages":     state.pages,
		"next":      next,
	}).Info("Poll reached the live edge")

	return finish(models.OutcomeDrained, nil), nil
}

// walk runs both phases and returns the cursor to store on success
func (w *Walker) walk(ctx context.Context, state *pollState) (string, error) {
	start := state.from
	if start == "" {
		start = w.headURI
	}

	page, err := w.fetchPage(ctx, state, start)
	if err != nil {
		return "", err
	}

	if state.from == "" {
		if page, err = w.seekOldest(ctx, state, page); err != nil {
			return "", err
		}
		// Delivery walks back over the pages the seek just visited
		state.visited = map[string]bool{page.URI: true}
	}

	for {
		if page.Empty() {
			return page.URI, nil
		}

		events, err := w.resolve(ctx, state, page)
		if err != nil {
			return "", err
		}

		if err := w.dispatch(ctx, state, events); err != nil {
			return "", err
		}

		if page.Newer == "" {
			state.log.WithFields(log.Fields{
				"page": page.URI,
			}).Warn("Page has no newer link, it will be read again on the next poll")
			return page.URI, nil
		}

		if page, err = w.fetchPage(ctx, state, page.Newer); err != nil {
			return "", err
		}
	}
}

// seekOldest follows older links from the head until the oldest page or the
// page before an empty one
func (w *Walker) seekOldest(ctx context.Context, state *pollState, head *models.Page) (*models.Page, error) {
	page := head
	for page.Older != "" {
		older, err := w.fetchPage(ctx, state, page.Older)
		if err != nil {
			return nil, err
		}
		if older.Empty() {
			break
		}
		page = older
	}

	state.log.WithFields(log.Fields{
		"page": page.URI,
	}).Debug("Located oldest page to deliver from")

	return page, nil
}

func (w *Walker) fetchPage(ctx context.Context, state *pollState, uri string) (*models.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if state.visited[uri] {
		return nil, fmt.Errorf("%w: %s", errFeedCycle, uri)
	}
	state.visited[uri] = true

	state.log.WithFields(log.Fields{
		"page": uri,
	}).Debug("Fetching page")

	page, err := w.fetcher.FetchPage(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", uri, err)
	}
	if page == nil {
		return nil, fmt.Errorf("fetch page %s: no page returned", uri)
	}
	if page.URI == "" {
		page.URI = uri
	}

	state.pages++
	pagesVisited.Inc()
	return page, nil
}

// resolve fetches the events of a page and returns them oldest first
func (w *Walker) resolve(ctx context.Context, state *pollState, page *models.Page) ([]*models.Event, error) {
	events := make([]*models.Event, 0, len(page.Entries))
	for _, entry := range page.Entries {
		if entry.Permalink == "" {
			return nil, fmt.Errorf("entry %q on %s has no permalink", entry.ID, page.URI)
		}

		event, err := w.fetcher.FetchEvent(ctx, entry.Permalink)
		if err != nil {
			return nil, fmt.Errorf("fetch event %s: %w", entry.Permalink, err)
		}
		if event == nil {
			return nil, fmt.Errorf("fetch event %s: no event returned", entry.Permalink)
		}
		events = append(events, event)
	}

	return lo.Reverse(events), nil
}

func (w *Walker) dispatch(ctx context.Context, state *pollState, events []*models.Event) error {
	for _, event := range events {
		if !state.started {
			w.start(ctx, state)
		}

		for i, consumer := range state.consumers {
			if err := consumer.Consume(ctx, event.ContentType, event.Content); err != nil {
				return &ConsumerError{
					Consumer:    i,
					EventID:     event.ID,
					ContentType: event.ContentType,
					Err:         err,
				}
			}
		}

		state.delivered++
		eventsDelivered.Inc()
	}
	return nil
}

// start snapshots the registry for the rest of the poll
func (w *Walker) start(ctx context.Context, state *pollState) {
	state.started = true
	state.consumers = w.registry.Snapshot()

	state.log.WithFields(log.Fields{
		"consumers": len(state.consumers),
	}).Debug("Starting consumption")

	for _, consumer := range state.consumers {
		consumer.StartConsumption(ctx)
	}
}

func (w *Walker) end(ctx context.Context, state *pollState, completedCleanly bool) {
	if !state.started {
		return
	}
	for _, consumer := range state.consumers {
		consumer.EndConsumption(ctx, completedCleanly)
	}
}
