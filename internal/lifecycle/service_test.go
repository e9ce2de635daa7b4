package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/db"
	"github.com/meghanarao/savoro/internal/notify"
	"github.com/meghanarao/savoro/internal/order"
)

// fakeStore keeps orders in memory and mirrors the repository contract:
// CommitTransition either records both the status change and the event,
// or (when failing) records neither.
type fakeStore struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*db.Order
	events     []*db.OrderEvent
	commits    int
	failCommit bool
}

func newFakeStore(orders ...*db.Order) *fakeStore {
	s := &fakeStore{orders: make(map[uuid.UUID]*db.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeStore) GetOrder(ctx context.Context, id uuid.UUID) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) CommitTransition(ctx context.Context, orderID uuid.UUID, from, to order.Status, tsColumn string, note *string, isBulk bool) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++

	if s.failCommit {
		return nil, errors.New("connection reset by peer")
	}

	o, ok := s.orders[orderID]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	if o.Status != from {
		return nil, db.ErrStatusConflict
	}

	o.Status = to
	s.events = append(s.events, &db.OrderEvent{
		ID:         uuid.New(),
		OrderID:    orderID,
		Event:      string(from) + "→" + string(to),
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		IsBulk:     isBulk,
	})
	cp := *o
	return &cp, nil
}

func (s *fakeStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// fakeNotifier records dispatched requests.
type fakeNotifier struct {
	mu       sync.Mutex
	requests []notify.Request
}

func (n *fakeNotifier) Dispatch(ctx context.Context, req notify.Request) (notify.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return notify.Result{Success: true}, nil
}

func (n *fakeNotifier) dispatched() []notify.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Request, len(n.requests))
	copy(out, n.requests)
	return out
}

func pickupOrder(status order.Status) *db.Order {
	customerID := uuid.New()
	return &db.Order{
		ID:              uuid.New(),
		MerchantID:      uuid.New(),
		CustomerID:      &customerID,
		CustomerName:    "Priya",
		CustomerEmail:   "priya@example.com",
		CustomerPhone:   "+15550123",
		OrderNumber:     "A100",
		Status:          status,
		FulfillmentMode: order.ModePickup,
		Total:           "24.90",
	}
}

func TestUpdateStatus_PendingToConfirmed(t *testing.T) {
	o := pickupOrder(order.StatusPending)
	store := newFakeStore(o)
	notifier := &fakeNotifier{}
	svc := NewService(store, notifier, zap.NewNop())

	updated, err := svc.UpdateStatus(context.Background(), o.ID, order.StatusConfirmed, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.Wait()

	if updated.Status != order.StatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", updated.Status)
	}
	if store.eventCount() != 1 {
		t.Fatalf("want 1 event, got %d", store.eventCount())
	}
	ev := store.events[0]
	if ev.FromStatus != order.StatusPending || ev.ToStatus != order.StatusConfirmed {
		t.Errorf("event = %s, want PENDING→CONFIRMED", ev.Event)
	}
	if ev.IsBulk {
		t.Error("single update recorded as bulk")
	}

	reqs := notifier.dispatched()
	if len(reqs) != 1 {
		t.Fatalf("want 1 notification, got %d", len(reqs))
	}
	req := reqs[0]
	if req.EventType != notify.EventOrderConfirmed {
		t.Errorf("event type = %s", req.EventType)
	}
	if req.CustomerID == nil || *req.CustomerID != *o.CustomerID {
		t.Error("confirmation should notify the customer")
	}
	if req.MerchantID != nil {
		t.Error("merchant must not be notified for a progress event")
	}
}

func TestUpdateStatus_IdempotentReplay(t *testing.T) {
	o := pickupOrder(order.StatusConfirmed)
	store := newFakeStore(o)
	notifier := &fakeNotifier{}
	svc := NewService(store, notifier, zap.NewNop())

	updated, err := svc.UpdateStatus(context.Background(), o.ID, order.StatusConfirmed, nil)
	if err != nil {
		t.Fatalf("replay must not reject: %v", err)
	}
	svc.Wait()

	if updated.Status != order.StatusConfirmed {
		t.Errorf("status = %s", updated.Status)
	}
	if store.commits != 0 {
		t.Error("replay must not write")
	}
	if store.eventCount() != 0 {
		t.Error("replay must not append an event")
	}
	if len(notifier.dispatched()) != 0 {
		t.Error("replay must not notify")
	}
}

func TestUpdateStatus_IllegalTransitionMakesNoWrites(t *testing.T) {
	o := pickupOrder(order.StatusPending)
	o.FulfillmentMode = order.ModeDelivery
	store := newFakeStore(o)
	notifier := &fakeNotifier{}
	svc := NewService(store, notifier, zap.NewNop())

	_, err := svc.UpdateStatus(context.Background(), o.ID, order.StatusOutForDelivery, nil)

	var terr *order.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("want TransitionError, got %v", err)
	}
	if terr.From != order.StatusPending || terr.To != order.StatusOutForDelivery || terr.Mode != order.ModeDelivery {
		t.Errorf("error fields = %+v", terr)
	}
	svc.Wait()
	if store.commits != 0 || store.eventCount() != 0 {
		t.Error("rejected transition must make no writes")
	}
	if len(notifier.dispatched()) != 0 {
		t.Error("rejected transition must not notify")
	}
}

func TestUpdateStatus_UnreachableStateRejected(t *testing.T) {
	// DELIVERED is unreachable for pickup orders; such a row is a data
	// inconsistency and every transition from it must be refused.
	o := pickupOrder(order.StatusDelivered)
	store := newFakeStore(o)
	svc := NewService(store, &fakeNotifier{}, zap.NewNop())

	_, err := svc.UpdateStatus(context.Background(), o.ID, order.StatusCompleted, nil)
	var terr *order.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("want TransitionError, got %v", err)
	}
	if store.commits != 0 {
		t.Error("no writes expected")
	}
}

func TestUpdateStatus_CommitFailureSurfacesAndSkipsNotify(t *testing.T) {
	o := pickupOrder(order.StatusPending)
	store := newFakeStore(o)
	store.failCommit = true
	notifier := &fakeNotifier{}
	svc := NewService(store, notifier, zap.NewNop())

	_, err := svc.UpdateStatus(context.Background(), o.ID, order.StatusConfirmed, nil)
	if err == nil {
		t.Fatal("persistence failure must surface")
	}
	svc.Wait()

	if store.eventCount() != 0 {
		t.Error("failed commit must leave no event")
	}
	if got, _ := store.GetOrder(context.Background(), o.ID); got.Status != order.StatusPending {
		t.Errorf("status mutated despite failed commit: %s", got.Status)
	}
	if len(notifier.dispatched()) != 0 {
		t.Error("no notification without a committed transition")
	}
}

func TestUpdateStatus_UnknownStatusRejected(t *testing.T) {
	o := pickupOrder(order.StatusPending)
	svc := NewService(newFakeStore(o), &fakeNotifier{}, zap.NewNop())

	_, err := svc.UpdateStatus(context.Background(), o.ID, order.Status("SHIPPED"), nil)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("want ErrInvalidStatus, got %v", err)
	}
}

func TestBulkUpdateStatus_PartialSuccess(t *testing.T) {
	var orders []*db.Order
	for i := 0; i < 3; i++ {
		orders = append(orders, pickupOrder(order.StatusReady))
	}
	for i := 0; i < 2; i++ {
		orders = append(orders, pickupOrder(order.StatusCancelled))
	}
	store := newFakeStore(orders...)
	notifier := &fakeNotifier{}
	svc := NewService(store, notifier, zap.NewNop())

	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}

	res, err := svc.BulkUpdateStatus(context.Background(), ids, order.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.Wait()

	if res.SuccessCount != 3 || res.FailedCount != 2 {
		t.Errorf("counts = %+v, want 3/2", res)
	}
	if store.eventCount() != 3 {
		t.Errorf("want exactly 3 events, got %d", store.eventCount())
	}
	for _, ev := range store.events {
		if !ev.IsBulk {
			t.Error("bulk events must be flagged is_bulk")
		}
	}
	if len(notifier.dispatched()) != 3 {
		t.Errorf("want 3 notifications, got %d", len(notifier.dispatched()))
	}
}

func TestNotifyOrderPlaced_TargetsMerchant(t *testing.T) {
	o := pickupOrder(order.StatusPending)
	store := newFakeStore(o)
	notifier := &fakeNotifier{}
	svc := NewService(store, notifier, zap.NewNop())

	if err := svc.NotifyOrderPlaced(context.Background(), o.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.Wait()

	reqs := notifier.dispatched()
	if len(reqs) != 1 {
		t.Fatalf("want 1 notification, got %d", len(reqs))
	}
	req := reqs[0]
	if req.EventType != notify.EventOrderPlaced {
		t.Errorf("event type = %s", req.EventType)
	}
	if req.MerchantID == nil || *req.MerchantID != o.MerchantID {
		t.Error("placement should notify the merchant")
	}
	if req.CustomerID != nil {
		t.Error("placement should not address the customer")
	}
}

func TestUpdateStatus_ConcurrentConflictSurfaces(t *testing.T) {
	o := pickupOrder(order.StatusPending)
	store := newFakeStore(o)

	// Another request wins the race between read and commit.
	store.mu.Lock()
	store.orders[o.ID].Status = order.StatusCancelled
	store.mu.Unlock()

	// The service read PENDING before the race; simulate by committing
	// directly with the stale from-status.
	_, err := store.CommitTransition(context.Background(), o.ID, order.StatusPending, order.StatusConfirmed, "confirmed_at", nil, false)
	if !errors.Is(err, db.ErrStatusConflict) {
		t.Fatalf("want ErrStatusConflict, got %v", err)
	}
}
