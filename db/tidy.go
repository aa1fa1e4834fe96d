package db

import (
	"context"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes archived events received more than olderThan ago and returns
// how many rows went away
func (db *DB) Tidy(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	deleteEvents := sb.NewDeleteBuilder()
	query, args := deleteEvents.DeleteFrom("events").Where(deleteEvents.LessThan("received_at", cutoff)).BuildWithFlavor(db.flavor)

	log.WithFields(log.Fields{
		"sql":  query,
		"args": args,
	}).Info("Tidying archive")

	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
