package models

import "time"

// Event is the full content an event hub serves behind an entry permalink
type Event struct {
	ID          string `json:"id"`
	UniqueID    string `json:"uniqueId"`
	ContentType string `json:"content-type"`
	Content     string `json:"content-as-string"`
	CreatedAt   string `json:"created-at"`
}

// Entry is the summary of an event as listed on a feed page
type Entry struct {
	ID        string
	Permalink string
	Updated   string
}

// Page is one segment of the channel feed, entries newest first.
// Older and Newer are empty when the page has no such link.
type Page struct {
	URI     string
	Entries []Entry
	Older   string
	Newer   string
}

// Empty reports whether the page carries no entries
func (p *Page) Empty() bool {
	return p == nil || len(p.Entries) == 0
}

// DeliveredEvent is what consumers outside the poll loop (archive, SSE) get to see
type DeliveredEvent struct {
	ContentType string    `json:"contentType"`
	Payload     string    `json:"payload"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// ArchivedEvent is a row of the event archive
type ArchivedEvent struct {
	Id          int64     `json:"id"`
	BatchId     string    `json:"batchId"`
	ContentType string    `json:"contentType"`
	Payload     string    `json:"payload"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// PollOutcome describes how a poll ended
type PollOutcome string

const (
	// OutcomeDrained means the walk reached the live edge without error
	OutcomeDrained PollOutcome = "drained"
	// OutcomeFetchFailed means a page or entry could not be fetched
	OutcomeFetchFailed PollOutcome = "fetch_failed"
	// OutcomeConsumerFailed means a consumer aborted delivery
	OutcomeConsumerFailed PollOutcome = "consumer_failed"
	// OutcomeCursorFailed means the new cursor could not be persisted
	OutcomeCursorFailed PollOutcome = "cursor_failed"
	// OutcomeNotReady means the precondition gate rejected the tick
	OutcomeNotReady PollOutcome = "not_ready"
)

// PollResult is the transient state of one poll, kept around for status reporting
type PollResult struct {
	PollId     string        `json:"pollId"`
	Outcome    PollOutcome   `json:"outcome"`
	Delivered  int           `json:"delivered"`
	Pages      int           `json:"pages"`
	FromCursor string        `json:"fromCursor"`
	Cursor     string        `json:"cursor"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}
