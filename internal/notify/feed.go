package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/db"
)

// FeedInserter is the slice of the feed repository the writer needs.
type FeedInserter interface {
	Insert(ctx context.Context, item *db.FeedItem) error
}

// FeedWriter is the in-app channel: it appends a row to the recipient's
// notification feed. Success means the row committed.
type FeedWriter struct {
	repo   FeedInserter
	logger *zap.Logger
}

// NewFeedWriter creates the in-app feed sender.
func NewFeedWriter(repo FeedInserter, logger *zap.Logger) *FeedWriter {
	return &FeedWriter{repo: repo, logger: logger}
}

// Send writes the feed row.
func (w *FeedWriter) Send(ctx context.Context, d Delivery) (Outcome, error) {
	item := &db.FeedItem{
		ID:          uuid.New(),
		RecipientID: d.RecipientID,
		Role:        d.Role,
		EventType:   string(d.EventType),
		Title:       d.Title,
		Message:     d.Message,
		Priority:    string(d.Priority),
	}

	if err := w.repo.Insert(ctx, item); err != nil {
		return Outcome{}, fmt.Errorf("feed write: %w", err)
	}

	return Outcome{Success: true, ExternalID: item.ID.String()}, nil
}
