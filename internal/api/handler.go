package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/db"
	"github.com/meghanarao/savoro/internal/lifecycle"
	"github.com/meghanarao/savoro/internal/order"
)

// maxBulkOrders caps how many orders one bulk request may address.
const maxBulkOrders = 100

// StatusService applies order status transitions.
type StatusService interface {
	UpdateStatus(ctx context.Context, orderID uuid.UUID, requested order.Status, note *string) (*db.Order, error)
	BulkUpdateStatus(ctx context.Context, orderIDs []uuid.UUID, requested order.Status, note *string) (lifecycle.BulkResult, error)
}

// OrderReader serves order and audit-trail reads.
type OrderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*db.Order, error)
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]*db.OrderEvent, error)
}

// FeedStore serves the in-app notification feed.
type FeedStore interface {
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*db.FeedItem, error)
	MarkRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
}

// StatusUpdateRequest is the body of a single status update.
type StatusUpdateRequest struct {
	Status string  `json:"status"`
	Note   *string `json:"note,omitempty"`
}

// BulkStatusRequest is the body of a bulk status update.
type BulkStatusRequest struct {
	OrderIDs []string `json:"order_ids"`
	Status   string   `json:"status"`
	Note     *string  `json:"note,omitempty"`
}

// ErrorResponse represents an error in problem+json format. Rejected
// transitions additionally carry the from/to/mode triple and the states
// the order could legally move to.
type ErrorResponse struct {
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Status  int      `json:"status"`
	Detail  string   `json:"detail,omitempty"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	svc    StatusService
	orders OrderReader
	feed   FeedStore
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, svc StatusService, orders OrderReader, feed FeedStore) *Handler {
	return &Handler{
		logger: logger,
		svc:    svc,
		orders: orders,
		feed:   feed,
	}
}

// UpdateOrderStatus handles PATCH /v1/orders/{id}/status
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	orderID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order ID", "ID must be a valid UUID")
		return
	}

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing status", "status is required")
		return
	}

	updated, err := h.svc.UpdateStatus(ctx, orderID, order.Status(req.Status), req.Note)
	if err != nil {
		h.writeTransitionFailure(w, idStr, req.Status, err)
		return
	}

	h.logger.Info("order status updated",
		zap.String("order_id", idStr),
		zap.String("status", string(updated.Status)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(updated)
}

// BulkUpdateOrderStatus handles POST /v1/orders/status/bulk
func (h *Handler) BulkUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BulkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(req.OrderIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing order_ids", "order_ids must name at least one order")
		return
	}
	if len(req.OrderIDs) > maxBulkOrders {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Too many orders",
			"order_ids is limited to "+strconv.Itoa(maxBulkOrders)+" orders per request")
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing status", "status is required")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.OrderIDs))
	for _, raw := range req.OrderIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order ID", "order_ids must be valid UUIDs: "+raw)
			return
		}
		ids = append(ids, id)
	}

	res, err := h.svc.BulkUpdateStatus(ctx, ids, order.Status(req.Status), req.Note)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidStatus) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", err.Error())
			return
		}
		h.logger.Error("bulk status update failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Bulk update failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

// GetOrder handles GET /v1/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	orderID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order ID", "ID must be a valid UUID")
		return
	}

	o, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, db.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Order not found", "")
			return
		}
		h.logger.Error("failed to get order", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get order", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(o)
}

// ListOrderEvents handles GET /v1/orders/{id}/events
func (h *Handler) ListOrderEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	orderID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order ID", "ID must be a valid UUID")
		return
	}

	if _, err := h.orders.GetOrder(ctx, orderID); err != nil {
		if errors.Is(err, db.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Order not found", "")
			return
		}
		h.logger.Error("failed to get order", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get order", "")
		return
	}

	events, err := h.orders.ListEvents(ctx, orderID)
	if err != nil {
		h.logger.Error("failed to list order events", zap.Error(err), zap.String("order_id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list order events", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  events,
		"count": len(events),
	})
}

// ListFeed handles GET /v1/feed/{recipientID}?limit=20&offset=0
func (h *Handler) ListFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "recipientID")
	recipientID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient ID", "ID must be a valid UUID")
		return
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	items, err := h.feed.ListByRecipient(ctx, recipientID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list feed", zap.Error(err), zap.String("recipient_id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list feed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// MarkFeedRead handles POST /v1/feed/{recipientID}/read
func (h *Handler) MarkFeedRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "recipientID")
	recipientID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient ID", "ID must be a valid UUID")
		return
	}

	updated, err := h.feed.MarkRead(ctx, recipientID)
	if err != nil {
		h.logger.Error("failed to mark feed read", zap.Error(err), zap.String("recipient_id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark feed read", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int64{"updated": updated})
}

// writeTransitionFailure maps service errors from a status update to the
// response contract: unknown status 400, missing order 404, lost race
// 409, illegal transition 422, anything else 500.
func (h *Handler) writeTransitionFailure(w http.ResponseWriter, orderID, requested string, err error) {
	var terr *order.TransitionError
	switch {
	case errors.Is(err, lifecycle.ErrInvalidStatus):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", err.Error())
	case errors.Is(err, db.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Order not found", "")
	case errors.Is(err, db.ErrStatusConflict):
		h.writeError(w, http.StatusConflict, "status_conflict",
			"Order was updated concurrently", "The order changed status while this request was in flight; re-read and retry")
	case errors.As(err, &terr):
		allowed := order.NextStatuses(terr.From, terr.Mode)
		names := make([]string, len(allowed))
		for i, s := range allowed {
			names[i] = string(s)
		}
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Type:    "illegal_transition",
			Title:   "Illegal status transition",
			Status:  http.StatusUnprocessableEntity,
			Detail:  terr.Error(),
			From:    string(terr.From),
			To:      string(terr.To),
			Mode:    string(terr.Mode),
			Allowed: names,
		})
	default:
		h.logger.Error("status update failed",
			zap.Error(err),
			zap.String("order_id", orderID),
			zap.String("requested", requested),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update order status", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
