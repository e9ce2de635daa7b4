package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/meghanarao/savoro/internal/order"
)

// Order is an order row. Guest checkouts have no CustomerID; their
// contact details live in the denormalized customer_* columns.
type Order struct {
	ID              uuid.UUID             `json:"id"`
	MerchantID      uuid.UUID             `json:"merchant_id"`
	CustomerID      *uuid.UUID            `json:"customer_id,omitempty"`
	CustomerName    string                `json:"customer_name"`
	CustomerPhone   string                `json:"customer_phone"`
	CustomerEmail   string                `json:"customer_email"`
	OrderNumber     string                `json:"order_number"`
	Status          order.Status          `json:"status"`
	FulfillmentMode order.FulfillmentMode `json:"fulfillment_mode"`
	Total           string                `json:"total"`
	ConfirmedAt     *time.Time            `json:"confirmed_at,omitempty"`
	PreparedAt      *time.Time            `json:"prepared_at,omitempty"`
	ReadyAt         *time.Time            `json:"ready_at,omitempty"`
	DeliveredAt     *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// OrderEvent is one immutable audit record of a status transition.
// Rows are append-only; nothing in this service updates or deletes them.
type OrderEvent struct {
	ID         uuid.UUID    `json:"id"`
	OrderID    uuid.UUID    `json:"order_id"`
	Event      string       `json:"event"` // "FROM→TO" label
	FromStatus order.Status `json:"from_status"`
	ToStatus   order.Status `json:"to_status"`
	Note       *string      `json:"note,omitempty"`
	IsBulk     bool         `json:"is_bulk"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Role identifies which side of an order a recipient is on.
const (
	RoleMerchant = "merchant"
	RoleCustomer = "customer"
)

// FeedItem is one row in a recipient's in-app notification feed.
type FeedItem struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Role        string    `json:"role"`
	EventType   string    `json:"event_type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Priority    string    `json:"priority"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChannelPreferences are a recipient's opt-in flags for the external
// channels. The in-app feed is always on and has no flag. Preferences
// are owned by the profile service; this core only reads them.
type ChannelPreferences struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Chat  bool `json:"chat"`
}
