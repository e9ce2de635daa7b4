// Package lifecycle is the top-level entry point for order status
// changes: it validates transitions, commits the status + event write,
// and hands the committed transition to the notification dispatcher.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/db"
	"github.com/meghanarao/savoro/internal/metrics"
	"github.com/meghanarao/savoro/internal/notify"
	"github.com/meghanarao/savoro/internal/order"
	"github.com/meghanarao/savoro/internal/template"
)

// ErrInvalidStatus rejects a request naming an unknown status.
var ErrInvalidStatus = errors.New("unknown order status")

// OrderStore is the slice of the order repository the coordinator needs.
// GetOrder must reflect the latest committed state, and CommitTransition
// must couple the status write and the event append in one transaction.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*db.Order, error)
	CommitTransition(ctx context.Context, orderID uuid.UUID, from, to order.Status, tsColumn string, note *string, isBulk bool) (*db.Order, error)
}

// Notifier fans a notification out across channels.
type Notifier interface {
	Dispatch(ctx context.Context, req notify.Request) (notify.Result, error)
}

// BulkResult reports a bulk status update. Partial failure is the normal
// case, not an error: callers get counts, never per-order faults.
type BulkResult struct {
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
}

// Service coordinates order status transitions.
type Service struct {
	store    OrderStore
	notifier Notifier
	logger   *zap.Logger

	// inflight tracks detached notification dispatches so shutdown can
	// drain them. Dispatch outcomes never affect the caller.
	inflight sync.WaitGroup
}

// NewService creates the coordinator.
func NewService(store OrderStore, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{store: store, notifier: notifier, logger: logger}
}

// UpdateStatus applies one status transition to one order.
//
// Re-requesting the order's current status is an idempotent replay: the
// order is returned unchanged with no event and no notification. An
// illegal transition fails the whole operation before any write. On
// acceptance the status update and event append commit together, and
// only after that commit is the notification dispatched, detached, so
// provider trouble can never roll back the transition.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, requested order.Status, note *string) (*db.Order, error) {
	o, err := s.update(ctx, orderID, requested, note, false)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// BulkUpdateStatus applies the same transition to many orders, best
// effort: orders that cannot legally reach the requested status are
// counted as failed and skipped, the rest are committed individually.
func (s *Service) BulkUpdateStatus(ctx context.Context, orderIDs []uuid.UUID, requested order.Status, note *string) (BulkResult, error) {
	if !requested.Valid() {
		return BulkResult{}, fmt.Errorf("%w: %q", ErrInvalidStatus, requested)
	}

	var res BulkResult
	for _, id := range orderIDs {
		if _, err := s.update(ctx, id, requested, note, true); err != nil {
			s.logger.Debug("bulk update skipped order",
				zap.String("order_id", id.String()),
				zap.String("requested", string(requested)),
				zap.Error(err),
			)
			res.FailedCount++
			continue
		}
		res.SuccessCount++
	}

	metrics.RecordBulkOutcome(res.SuccessCount, res.FailedCount)
	s.logger.Info("bulk status update finished",
		zap.String("requested", string(requested)),
		zap.Int("succeeded", res.SuccessCount),
		zap.Int("failed", res.FailedCount),
	)
	return res, nil
}

func (s *Service) update(ctx context.Context, orderID uuid.UUID, requested order.Status, note *string, isBulk bool) (*db.Order, error) {
	if !requested.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, requested)
	}

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Idempotent replay: same status, nothing to do.
	if o.Status == requested {
		return o, nil
	}

	if err := order.ValidateTransition(o.Status, requested, o.FulfillmentMode); err != nil {
		if errors.Is(err, order.ErrNoOp) {
			return o, nil
		}
		metrics.RecordTransitionRejected(string(o.Status), string(requested), string(o.FulfillmentMode))
		return nil, err
	}

	committed, err := s.store.CommitTransition(ctx, orderID, o.Status, requested, order.TimestampColumn(requested), note, isBulk)
	if err != nil {
		return nil, err
	}

	metrics.RecordTransitionApplied(string(requested), string(committed.FulfillmentMode))

	s.dispatchAsync(transitionRequest(committed, o.Status, requested, note))
	return committed, nil
}

// NotifyOrderPlaced dispatches the initial placement notification to the
// merchant. Placement is not a transition (orders are born PENDING), so
// checkout calls this once after creating the order.
func (s *Service) NotifyOrderPlaced(ctx context.Context, orderID uuid.UUID) error {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	merchantID := o.MerchantID
	req := notify.Request{
		MerchantID: &merchantID,
		EventType:  notify.EventOrderPlaced,
		Channels:   []notify.Channel{notify.ChannelInApp, notify.ChannelEmail, notify.ChannelSMS, notify.ChannelChat},
		Data:       orderData(o, nil),
		Priority:   notify.PriorityHigh,
	}
	s.dispatchAsync(req)
	return nil
}

// Wait blocks until all detached notification dispatches have finished.
// Called on shutdown so in-flight fan-outs are not cut off mid-send.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// dispatchAsync hands the request to the notifier on a detached
// goroutine. The transition is already committed and is the outcome of
// record; dispatch failures are logged and dropped.
func (s *Service) dispatchAsync(req notify.Request) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := s.notifier.Dispatch(ctx, req)
		if err != nil {
			s.logger.Warn("notification dispatch rejected",
				zap.String("event_type", string(req.EventType)),
				zap.Error(err),
			)
			return
		}
		if !result.Success {
			s.logger.Warn("notification failed on every channel",
				zap.String("event_type", string(req.EventType)),
				zap.Int("channels", len(result.Channels)),
			)
		}
	}()
}

// transitionRequest builds the customer-facing notification for a
// committed transition. Registered customers are addressed by id; guest
// orders fall back to the denormalized contact columns.
func transitionRequest(o *db.Order, from, to order.Status, note *string) notify.Request {
	req := notify.Request{
		CustomerID: o.CustomerID,
		Contact: notify.Contact{
			Name:  o.CustomerName,
			Email: o.CustomerEmail,
			Phone: o.CustomerPhone,
		},
		EventType: eventTypeFor(to),
		Channels:  []notify.Channel{notify.ChannelInApp, notify.ChannelEmail, notify.ChannelSMS, notify.ChannelChat},
		Data:      orderData(o, note),
		Priority:  notify.PriorityNormal,
	}
	if to == order.StatusCancelled {
		req.Priority = notify.PriorityHigh
	}
	req.Data["previousStatus"] = template.String(string(from))
	req.Data["newStatus"] = template.String(string(to))
	return req
}

func orderData(o *db.Order, note *string) template.Data {
	data := template.Data{
		"orderNumber":  template.String(o.OrderNumber),
		"customerName": template.String(o.CustomerName),
	}
	if amount, err := strconv.ParseFloat(o.Total, 64); err == nil {
		data["amount"] = template.Number(amount)
	} else {
		data["amount"] = template.String(o.Total)
	}
	if note != nil {
		data["note"] = template.String(*note)
	}
	return data
}

// eventTypeFor maps a target status to its notification event type.
// The switch is exhaustive over order.Status so a new state cannot be
// added without deciding its event here.
func eventTypeFor(s order.Status) notify.EventType {
	switch s {
	case order.StatusPending:
		return notify.EventOrderPlaced
	case order.StatusConfirmed:
		return notify.EventOrderConfirmed
	case order.StatusPreparing:
		return notify.EventOrderPreparing
	case order.StatusReady:
		return notify.EventOrderReady
	case order.StatusOutForDelivery:
		return notify.EventOrderOutForDelivery
	case order.StatusDelivered:
		return notify.EventOrderDelivered
	case order.StatusCompleted:
		return notify.EventOrderCompleted
	case order.StatusCancelled:
		return notify.EventOrderCancelled
	case order.StatusRefunded:
		return notify.EventOrderRefunded
	default:
		return notify.EventType(string(s))
	}
}
