package template

import "strings"

// Entry holds the title and message templates for one event type.
type Entry struct {
	Title   string
	Message string
}

// Registry maps event types to their notification templates. It is built
// once at startup and injected into the dispatcher; there is no global
// template table.
//
// Keys are plain strings rather than the notification package's event
// enum: that package renders through this one, so typing the key with
// its enum would create an import cycle. Callers pass string(eventType)
// and unknown keys degrade to the humanized fallback.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry builds the registry with the standard order-lifecycle and
// account-level templates.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{
		"ORDER_PLACED": {
			Title:   "New order received",
			Message: "Order {{orderNumber}} has been placed for ${{amount}}.",
		},
		"ORDER_CONFIRMED": {
			Title:   "Order confirmed",
			Message: "Order {{orderNumber}} has been confirmed and is being queued.",
		},
		"ORDER_PREPARING": {
			Title:   "Order being prepared",
			Message: "Order {{orderNumber}} is being prepared.",
		},
		"ORDER_READY": {
			Title:   "Order ready",
			Message: "Order {{orderNumber}} is ready for pickup.",
		},
		"ORDER_OUT_FOR_DELIVERY": {
			Title:   "Order on the way",
			Message: "Order {{orderNumber}} is out for delivery.",
		},
		"ORDER_DELIVERED": {
			Title:   "Order delivered",
			Message: "Order {{orderNumber}} has been delivered. Enjoy!",
		},
		"ORDER_COMPLETED": {
			Title:   "Order completed",
			Message: "Order {{orderNumber}} is complete. Thank you for ordering!",
		},
		"ORDER_CANCELLED": {
			Title:   "Order cancelled",
			Message: "Order {{orderNumber}} has been cancelled. {{note}}",
		},
		"PAYMENT_RECEIVED": {
			Title:   "Payment received",
			Message: "Payment of ${{amount}} received for order {{orderNumber}}.",
		},
		"LOW_STOCK_ALERT": {
			Title:   "Low stock alert",
			Message: "{{itemName}} is running low: {{quantity}} left.",
		},
	}}
}

// Resolve returns the templates for eventType. Unregistered event types
// fall back to a humanized title and a generic message so an unknown
// event still produces something presentable.
func (r *Registry) Resolve(eventType string) Entry {
	if e, ok := r.entries[eventType]; ok {
		return e
	}
	return Entry{
		Title:   humanize(eventType),
		Message: "Event: {{type}}",
	}
}

// humanize turns an enum name like ORDER_REFUNDED into "Order Refunded".
func humanize(enum string) string {
	words := strings.Split(strings.ToLower(enum), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
