package db

import (
	"context"
	"fmt"
	"time"

	"hubsub/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

// Recent returns the newest archived events, newest first. When before is
// non-zero only rows with a smaller id are returned, for paging.
func (db *DB) Recent(ctx context.Context, limit int, before int64) ([]models.ArchivedEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "batch_id", "content_type", "payload", "received_at").From("events")
	if before != 0 {
		sb.Where(sb.LessThan("id", before))
	}
	sb.OrderBy("id").Desc()
	sb.Limit(limit)

	query, args := sb.BuildWithFlavor(db.flavor)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	events := []models.ArchivedEvent{}
	for rows.Next() {
		var event models.ArchivedEvent
		var receivedAt int64
		if err := rows.Scan(&event.Id, &event.BatchId, &event.ContentType, &event.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		event.ReceivedAt = time.UnixMilli(receivedAt)
		events = append(events, event)
	}

	return events, rows.Err()
}

// Count returns the number of archived events
func (db *DB) Count(ctx context.Context) (int64, error) {
	sb := sqlbuilder.NewSelectBuilder()
	query, args := sb.Select("count(*)").From("events").BuildWithFlavor(db.flavor)

	var count int64
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
