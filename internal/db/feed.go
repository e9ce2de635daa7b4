package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FeedRepository persists in-app notification feed rows.
type FeedRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewFeedRepository creates a feed repository.
func NewFeedRepository(db *DB, logger *zap.Logger) *FeedRepository {
	return &FeedRepository{db: db, logger: logger}
}

// Insert writes one feed row. The in-app channel reports success only
// when this write commits.
func (r *FeedRepository) Insert(ctx context.Context, item *FeedItem) error {
	query := `
		INSERT INTO notification_feed (
			id, recipient_id, role, event_type, title, message, priority, read
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		item.ID, item.RecipientID, item.Role, item.EventType,
		item.Title, item.Message, item.Priority,
	).Scan(&item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feed item: %w", err)
	}

	r.logger.Debug("feed item written",
		zap.String("id", item.ID.String()),
		zap.String("recipient_id", item.RecipientID.String()),
		zap.String("event_type", item.EventType),
	)
	return nil
}

// ListByRecipient returns a recipient's feed, newest first.
func (r *FeedRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*FeedItem, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, recipient_id, role, event_type, title, message, priority, read, created_at
		FROM notification_feed
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var items []*FeedItem
	for rows.Next() {
		var it FeedItem
		if err := rows.Scan(&it.ID, &it.RecipientID, &it.Role, &it.EventType, &it.Title, &it.Message, &it.Priority, &it.Read, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feed item: %w", err)
		}
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}

// MarkRead flags all of a recipient's feed rows as read and returns the
// number of rows updated.
func (r *FeedRepository) MarkRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE notification_feed SET read = true
		WHERE recipient_id = $1 AND read = false`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark feed read: %w", err)
	}
	return tag.RowsAffected(), nil
}
