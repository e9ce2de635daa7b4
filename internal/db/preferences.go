package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PreferenceRepository reads per-recipient channel preferences from the
// profile tables. Merchants and customers keep their flags on separate
// tables, selected by role.
type PreferenceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPreferenceRepository creates a preference repository.
func NewPreferenceRepository(db *DB, logger *zap.Logger) *PreferenceRepository {
	return &PreferenceRepository{db: db, logger: logger}
}

// GetChannelPreferences returns the recipient's opt-in flags. An unknown
// recipient gets everything disabled rather than an error: a missing
// profile must not fail a dispatch, it just short-circuits the external
// channels.
func (r *PreferenceRepository) GetChannelPreferences(ctx context.Context, recipientID uuid.UUID, role string) (ChannelPreferences, error) {
	table := "customer_profiles"
	if role == RoleMerchant {
		table = "merchant_profiles"
	}

	query := `SELECT email_enabled, sms_enabled, chat_enabled FROM ` + table + ` WHERE id = $1`

	var prefs ChannelPreferences
	err := r.db.Pool().QueryRow(ctx, query, recipientID).Scan(&prefs.Email, &prefs.SMS, &prefs.Chat)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("no profile for recipient, external channels disabled",
			zap.String("recipient_id", recipientID.String()),
			zap.String("role", role),
		)
		return ChannelPreferences{}, nil
	}
	if err != nil {
		return ChannelPreferences{}, fmt.Errorf("query channel preferences: %w", err)
	}
	return prefs, nil
}
