// Package notify fans one logical notification out across the in-app,
// email, SMS and chat channels. Channels succeed or fail independently;
// the dispatcher never lets one channel's failure touch another's.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/meghanarao/savoro/internal/db"
	"github.com/meghanarao/savoro/internal/template"
)

// Channel is a delivery mechanism for a notification.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// ExternalChannels lists the channels that leave the process. The in-app
// feed is a local write and is handled separately.
var ExternalChannels = []Channel{ChannelEmail, ChannelSMS, ChannelChat}

// Priority of a notification request.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// EventType names the event a notification is about.
type EventType string

const (
	EventOrderPlaced         EventType = "ORDER_PLACED"
	EventOrderConfirmed      EventType = "ORDER_CONFIRMED"
	EventOrderPreparing      EventType = "ORDER_PREPARING"
	EventOrderReady          EventType = "ORDER_READY"
	EventOrderOutForDelivery EventType = "ORDER_OUT_FOR_DELIVERY"
	EventOrderDelivered      EventType = "ORDER_DELIVERED"
	EventOrderCompleted      EventType = "ORDER_COMPLETED"
	EventOrderCancelled      EventType = "ORDER_CANCELLED"
	EventOrderRefunded       EventType = "ORDER_REFUNDED"
	EventPaymentReceived     EventType = "PAYMENT_RECEIVED"
	EventLowStockAlert       EventType = "LOW_STOCK_ALERT"
)

var (
	// ErrNoRecipient rejects a request that names nobody to notify.
	ErrNoRecipient = errors.New("notification request has no recipient")

	// ErrNotConfigured is the well-defined failure a sender returns when
	// no real provider is wired, so callers can tell "provider said no"
	// from "no provider configured".
	ErrNotConfigured = errors.New("channel provider not configured")
)

// Contact carries destination addresses for the external channels. For
// guest orders it is the only way to reach the customer.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// Request is one notification to fan out. At least one of MerchantID,
// CustomerID, or a guest Contact with an email or phone is required.
type Request struct {
	MerchantID *uuid.UUID
	CustomerID *uuid.UUID
	Contact    Contact
	EventType  EventType
	Channels   []Channel
	Data       template.Data
	Priority   Priority
}

// Delivery is the rendered notification handed to each channel sender.
// All channels of one request see identical title and message.
type Delivery struct {
	RecipientID uuid.UUID // zero for guest recipients
	Role        string
	EventType   EventType
	Title       string
	Message     string
	Contact     Contact
	Priority    Priority
	Data        template.Data
}

// Outcome is a single channel's report.
type Outcome struct {
	Success    bool
	ExternalID string
}

// Sender delivers one rendered notification over one channel.
// Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, d Delivery) (Outcome, error)
}

// ChannelResult records one channel's outcome inside a dispatch result.
type ChannelResult struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result is the aggregate outcome of one fan-out. Success is true when
// any channel succeeded; an all-failed fan-out is still a structured
// result, not an error.
type Result struct {
	Success  bool                      `json:"success"`
	Channels map[Channel]ChannelResult `json:"channels"`
}

// PreferenceResolver returns a recipient's channel opt-in flags.
type PreferenceResolver interface {
	Resolve(ctx context.Context, recipientID uuid.UUID, role string) (db.ChannelPreferences, error)
}
