package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/db"
	"github.com/meghanarao/savoro/internal/lifecycle"
	"github.com/meghanarao/savoro/internal/order"
)

type fakeStatusService struct {
	updateOrder *db.Order
	updateErr   error
	bulkRes     lifecycle.BulkResult
	bulkErr     error

	lastOrderID uuid.UUID
	lastStatus  order.Status
	lastNote    *string
	lastBulkIDs []uuid.UUID
}

func (f *fakeStatusService) UpdateStatus(ctx context.Context, orderID uuid.UUID, requested order.Status, note *string) (*db.Order, error) {
	f.lastOrderID = orderID
	f.lastStatus = requested
	f.lastNote = note
	return f.updateOrder, f.updateErr
}

func (f *fakeStatusService) BulkUpdateStatus(ctx context.Context, orderIDs []uuid.UUID, requested order.Status, note *string) (lifecycle.BulkResult, error) {
	f.lastBulkIDs = orderIDs
	f.lastStatus = requested
	return f.bulkRes, f.bulkErr
}

type fakeOrderReader struct {
	order  *db.Order
	getErr error
	events []*db.OrderEvent
}

func (f *fakeOrderReader) GetOrder(ctx context.Context, id uuid.UUID) (*db.Order, error) {
	return f.order, f.getErr
}

func (f *fakeOrderReader) ListEvents(ctx context.Context, orderID uuid.UUID) ([]*db.OrderEvent, error) {
	return f.events, nil
}

type fakeFeedStore struct {
	items   []*db.FeedItem
	listErr error
	updated int64
}

func (f *fakeFeedStore) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*db.FeedItem, error) {
	return f.items, f.listErr
}

func (f *fakeFeedStore) MarkRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return f.updated, nil
}

func testRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/status/bulk", h.BulkUpdateOrderStatus)
			r.Get("/{id}", h.GetOrder)
			r.Get("/{id}/events", h.ListOrderEvents)
			r.Patch("/{id}/status", h.UpdateOrderStatus)
		})
		r.Route("/feed/{recipientID}", func(r chi.Router) {
			r.Get("/", h.ListFeed)
			r.Post("/read", h.MarkFeedRead)
		})
	})
	return r
}

func newTestHandler(svc StatusService, orders OrderReader, feed FeedStore) *Handler {
	return NewHandler(zap.NewNop(), svc, orders, feed)
}

func sampleOrder(status order.Status) *db.Order {
	return &db.Order{
		ID:              uuid.New(),
		MerchantID:      uuid.New(),
		OrderNumber:     "A100",
		Status:          status,
		FulfillmentMode: order.ModePickup,
		Total:           "24.90",
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return er
}

func TestUpdateOrderStatus_Success(t *testing.T) {
	o := sampleOrder(order.StatusConfirmed)
	svc := &fakeStatusService{updateOrder: o}
	router := testRouter(newTestHandler(svc, &fakeOrderReader{}, &fakeFeedStore{}))

	body := bytes.NewBufferString(`{"status":"CONFIRMED"}`)
	req := httptest.NewRequest("PATCH", "/v1/orders/"+o.ID.String()+"/status", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.lastStatus != order.StatusConfirmed {
		t.Errorf("requested status = %s", svc.lastStatus)
	}
	var got db.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != order.StatusConfirmed {
		t.Errorf("response status = %s", got.Status)
	}
}

func TestUpdateOrderStatus_PassesNote(t *testing.T) {
	o := sampleOrder(order.StatusCancelled)
	svc := &fakeStatusService{updateOrder: o}
	router := testRouter(newTestHandler(svc, &fakeOrderReader{}, &fakeFeedStore{}))

	body := bytes.NewBufferString(`{"status":"CANCELLED","note":"customer called"}`)
	req := httptest.NewRequest("PATCH", "/v1/orders/"+o.ID.String()+"/status", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastNote == nil || *svc.lastNote != "customer called" {
		t.Errorf("note = %v", svc.lastNote)
	}
}

func TestUpdateOrderStatus_InvalidUUID(t *testing.T) {
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("PATCH", "/v1/orders/not-a-uuid/status", bytes.NewBufferString(`{"status":"CONFIRMED"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateOrderStatus_MissingStatus(t *testing.T) {
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("PATCH", "/v1/orders/"+uuid.NewString()+"/status", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateOrderStatus_UnknownStatusIs400(t *testing.T) {
	svc := &fakeStatusService{updateErr: lifecycle.ErrInvalidStatus}
	router := testRouter(newTestHandler(svc, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("PATCH", "/v1/orders/"+uuid.NewString()+"/status", bytes.NewBufferString(`{"status":"SHIPPED"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if er := decodeError(t, rec); er.Type != "invalid_request" {
		t.Errorf("type = %s", er.Type)
	}
}

func TestUpdateOrderStatus_NotFoundIs404(t *testing.T) {
	svc := &fakeStatusService{updateErr: db.ErrOrderNotFound}
	router := testRouter(newTestHandler(svc, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("PATCH", "/v1/orders/"+uuid.NewString()+"/status", bytes.NewBufferString(`{"status":"CONFIRMED"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateOrderStatus_ConflictIs409(t *testing.T) {
	svc := &fakeStatusService{updateErr: db.ErrStatusConflict}
	router := testRouter(newTestHandler(svc, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("PATCH", "/v1/orders/"+uuid.NewString()+"/status", bytes.NewBufferString(`{"status":"CONFIRMED"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if er := decodeError(t, rec); er.Type != "status_conflict" {
		t.Errorf("type = %s", er.Type)
	}
}

func TestUpdateOrderStatus_IllegalTransitionIs422(t *testing.T) {
	svc := &fakeStatusService{updateErr: &order.TransitionError{
		From: order.StatusPending,
		To:   order.StatusReady,
		Mode: order.ModePickup,
	}}
	router := testRouter(newTestHandler(svc, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("PATCH", "/v1/orders/"+uuid.NewString()+"/status", bytes.NewBufferString(`{"status":"READY"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	er := decodeError(t, rec)
	if er.Type != "illegal_transition" {
		t.Errorf("type = %s", er.Type)
	}
	if er.From != "PENDING" || er.To != "READY" || er.Mode != "PICKUP" {
		t.Errorf("triple = %s→%s/%s", er.From, er.To, er.Mode)
	}
	wantAllowed := map[string]bool{"CONFIRMED": true, "CANCELLED": true}
	if len(er.Allowed) != len(wantAllowed) {
		t.Fatalf("allowed = %v", er.Allowed)
	}
	for _, s := range er.Allowed {
		if !wantAllowed[s] {
			t.Errorf("unexpected allowed state %s", s)
		}
	}
}

func TestUpdateOrderStatus_UnexpectedErrorIs500(t *testing.T) {
	svc := &fakeStatusService{updateErr: errors.New("connection reset by peer")}
	router := testRouter(newTestHandler(svc, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("PATCH", "/v1/orders/"+uuid.NewString()+"/status", bytes.NewBufferString(`{"status":"CONFIRMED"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBulkUpdateOrderStatus_ReturnsCounts(t *testing.T) {
	svc := &fakeStatusService{bulkRes: lifecycle.BulkResult{SuccessCount: 3, FailedCount: 2}}
	router := testRouter(newTestHandler(svc, &fakeOrderReader{}, &fakeFeedStore{}))

	payload := map[string]interface{}{
		"order_ids": []string{uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()},
		"status":    "COMPLETED",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", "/v1/orders/status/bulk", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res lifecycle.BulkResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.SuccessCount != 3 || res.FailedCount != 2 {
		t.Errorf("counts = %+v", res)
	}
	if len(svc.lastBulkIDs) != 5 {
		t.Errorf("service received %d ids", len(svc.lastBulkIDs))
	}
}

func TestBulkUpdateOrderStatus_EmptyIDsRejected(t *testing.T) {
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("POST", "/v1/orders/status/bulk", bytes.NewBufferString(`{"order_ids":[],"status":"READY"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBulkUpdateOrderStatus_TooManyIDsRejected(t *testing.T) {
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{}, &fakeFeedStore{}))

	ids := make([]string, maxBulkOrders+1)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	payload, _ := json.Marshal(map[string]interface{}{"order_ids": ids, "status": "READY"})
	req := httptest.NewRequest("POST", "/v1/orders/status/bulk", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBulkUpdateOrderStatus_MalformedIDRejected(t *testing.T) {
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{}, &fakeFeedStore{}))

	req := httptest.NewRequest("POST", "/v1/orders/status/bulk",
		bytes.NewBufferString(`{"order_ids":["nope"],"status":"READY"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetOrder_Success(t *testing.T) {
	o := sampleOrder(order.StatusPreparing)
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{order: o}, &fakeFeedStore{}))

	req := httptest.NewRequest("GET", "/v1/orders/"+o.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got db.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != o.ID {
		t.Errorf("id = %s", got.ID)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{getErr: db.ErrOrderNotFound}, &fakeFeedStore{}))

	req := httptest.NewRequest("GET", "/v1/orders/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListOrderEvents_ReturnsAuditTrail(t *testing.T) {
	o := sampleOrder(order.StatusReady)
	note := "rush order"
	reader := &fakeOrderReader{
		order: o,
		events: []*db.OrderEvent{
			{ID: uuid.New(), OrderID: o.ID, Event: "PENDING→CONFIRMED", FromStatus: order.StatusPending, ToStatus: order.StatusConfirmed},
			{ID: uuid.New(), OrderID: o.ID, Event: "CONFIRMED→PREPARING", FromStatus: order.StatusConfirmed, ToStatus: order.StatusPreparing, Note: &note},
		},
	}
	router := testRouter(newTestHandler(&fakeStatusService{}, reader, &fakeFeedStore{}))

	req := httptest.NewRequest("GET", "/v1/orders/"+o.ID.String()+"/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Data  []*db.OrderEvent `json:"data"`
		Count int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Data) != 2 {
		t.Fatalf("count = %d, data = %d", body.Count, len(body.Data))
	}
	if body.Data[1].Note == nil || *body.Data[1].Note != "rush order" {
		t.Error("note not round-tripped")
	}
}

func TestListFeed_ReturnsItems(t *testing.T) {
	recipient := uuid.New()
	feed := &fakeFeedStore{items: []*db.FeedItem{
		{ID: uuid.New(), RecipientID: recipient, Role: db.RoleCustomer, EventType: "ORDER_READY", Title: "Order ready"},
	}}
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{}, feed))

	req := httptest.NewRequest("GET", "/v1/feed/"+recipient.String()+"?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Data  []*db.FeedItem `json:"data"`
		Limit int            `json:"limit"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Limit != 10 {
		t.Errorf("count = %d, limit = %d", body.Count, body.Limit)
	}
}

func TestMarkFeedRead_ReturnsUpdatedCount(t *testing.T) {
	feed := &fakeFeedStore{updated: 4}
	router := testRouter(newTestHandler(&fakeStatusService{}, &fakeOrderReader{}, feed))

	req := httptest.NewRequest("POST", "/v1/feed/"+uuid.NewString()+"/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["updated"] != 4 {
		t.Errorf("updated = %d", body["updated"])
	}
}
