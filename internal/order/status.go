// Package order defines the order status state machine: the set of
// lifecycle states, the legal transitions between them per fulfillment
// mode, and the timestamp column recorded for each state entry.
package order

import (
	"errors"
	"fmt"
)

// Status is a lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusRefunded       Status = "REFUNDED"
)

// FulfillmentMode selects which transition table applies to an order.
type FulfillmentMode string

const (
	ModePickup   FulfillmentMode = "PICKUP"
	ModeDelivery FulfillmentMode = "DELIVERY"
)

// ErrNoOp signals that a requested transition targets the order's current
// status. Callers treat it as idempotent success: no timestamp write, no
// event, no notification.
var ErrNoOp = errors.New("status unchanged")

// TransitionError describes a rejected status transition.
type TransitionError struct {
	From Status
	To   Status
	Mode FulfillmentMode
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s→%s for mode %s", e.From, e.To, e.Mode)
}

// pickupTransitions and deliveryTransitions are the canonical tables.
// Terminal states (CANCELLED, REFUNDED) carry empty sets so that every
// state has an entry; a missing entry means the state is unreachable in
// that mode and rejects everything.
var pickupTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted, StatusCancelled},
	StatusCompleted: {StatusRefunded},
	StatusCancelled: {},
	StatusRefunded:  {},
}

var deliveryTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReady, StatusCancelled},
	StatusReady:          {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled},
	StatusDelivered:      {StatusCompleted, StatusRefunded},
	StatusCompleted:      {StatusRefunded},
	StatusCancelled:      {},
	StatusRefunded:       {},
}

func tableFor(mode FulfillmentMode) map[Status][]Status {
	if mode == ModeDelivery {
		return deliveryTransitions
	}
	return pickupTransitions
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusOutForDelivery, StatusDelivered, StatusCompleted,
		StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Valid reports whether m is a known fulfillment mode.
func (m FulfillmentMode) Valid() bool {
	return m == ModePickup || m == ModeDelivery
}

// ValidateTransition checks whether an order in state from may move to
// state to under the given fulfillment mode.
//
// A self-transition (from == to) returns ErrNoOp uniformly, including on
// terminal states: it is idempotent re-application, not a rejection.
// Any other illegal pair returns a *TransitionError naming from, to and
// mode so the caller can surface exactly what was attempted.
func ValidateTransition(from, to Status, mode FulfillmentMode) error {
	if from == to {
		return ErrNoOp
	}
	for _, next := range tableFor(mode)[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to, Mode: mode}
}

// NextStatuses returns the legal next states from the given state under
// mode. The result is a copy; the UI uses it to gate transition buttons.
func NextStatuses(from Status, mode FulfillmentMode) []Status {
	allowed := tableFor(mode)[from]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// TimestampColumn returns the orders column stamped when an order enters
// the given status, or "" if the status has no dedicated column.
// OUT_FOR_DELIVERY and REFUNDED are recorded via the event log only.
func TimestampColumn(s Status) string {
	switch s {
	case StatusConfirmed:
		return "confirmed_at"
	case StatusPreparing:
		return "prepared_at"
	case StatusReady:
		return "ready_at"
	case StatusDelivered:
		return "delivered_at"
	case StatusCancelled:
		return "cancelled_at"
	case StatusCompleted:
		return "completed_at"
	default:
		return ""
	}
}
