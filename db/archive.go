package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var archivedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hubsub_archive_batches_total",
	Help: "Archive batches by result",
}, []string{"result"})

// The cursor has already moved past these, they will not be delivered again
var archiveLostEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hubsub_archive_lost_events_total",
	Help: "Events of clean polls that could not be committed to the archive",
})

var errNoBatch = errors.New("no archive batch open")

// Archive is a consumer that stores every delivered event. All events of one
// poll share a transaction, so a poll that does not complete cleanly leaves
// nothing behind.
type Archive struct {
	db  *DB
	now func() time.Time

	mu       sync.Mutex
	tx       *sql.Tx
	batchId  string
	count    int
	beginErr error
}

func NewArchive(db *DB) *Archive {
	return &Archive{db: db, now: time.Now}
}

func (a *Archive) StartConsumption(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tx != nil {
		// Leftover from a poll that never ended
		a.tx.Rollback()
	}

	a.batchId = uuid.New().String()
	a.count = 0
	// The transaction outlives the Consume calls, not the request context
	a.tx, a.beginErr = a.db.db.BeginTx(context.WithoutCancel(ctx), nil)
	if a.beginErr != nil {
		log.WithFields(log.Fields{
			"batch": a.batchId,
			"error": a.beginErr,
		}).Error("Failed to open archive batch")
	}
}

func (a *Archive) Consume(ctx context.Context, contentType string, payload string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.beginErr != nil {
		return fmt.Errorf("archive: %w", a.beginErr)
	}
	if a.tx == nil {
		return errNoBatch
	}

	insert := sqlbuilder.NewInsertBuilder()
	insert.InsertInto("events").Cols("batch_id", "content_type", "payload", "received_at")
	insert.Values(a.batchId, contentType, payload, a.now().UnixMilli())
	query, args := insert.BuildWithFlavor(a.db.flavor)

	if _, err := a.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("archive insert: %w", err)
	}
	a.count++
	return nil
}

func (a *Archive) EndConsumption(ctx context.Context, completedCleanly bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx := a.tx
	a.tx = nil
	a.beginErr = nil
	if tx == nil {
		return
	}

	fields := log.Fields{
		"batch":  a.batchId,
		"events": a.count,
	}

	if !completedCleanly {
		if err := tx.Rollback(); err != nil {
			fields["error"] = err
		}
		archivedEvents.WithLabelValues("rolled_back").Inc()
		log.WithFields(fields).Warn("Discarded archive batch")
		return
	}

	if err := tx.Commit(); err != nil {
		fields["error"] = err
		archivedEvents.WithLabelValues("failed").Inc()
		archiveLostEvents.Add(float64(a.count))
		log.WithFields(fields).Error("Failed to commit archive batch, its events are lost to the archive")
		return
	}
	archivedEvents.WithLabelValues("committed").Inc()
	log.WithFields(fields).Debug("Committed archive batch")
}
