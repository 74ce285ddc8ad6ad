package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/service"
	"github.com/go-chi/chi/v5"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, userID string, req service.CreateOrderRequest) (*domain.Order, error)
}

type OrderBook interface {
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	List(ctx context.Context, p domain.Principal, limit int) ([]*domain.Order, error)
	TransitionStatus(ctx context.Context, orderID string, target domain.OrderStatus, trackingNumber string) (*domain.Order, bool, error)
}

type OrdersHandler struct {
	checkout OrderCreator
	orders   OrderBook
	timeout  time.Duration
	log      *slog.Logger
}

func NewOrdersHandler(checkout OrderCreator, orders OrderBook, timeout time.Duration, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{checkout: checkout, orders: orders, timeout: timeout, log: log}
}

type UpdateStatusRequestDTO struct {
	Status         domain.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
}

func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, h.log, err)
		return
	}

	order, err := h.checkout.CreateOrder(ctx, p.UserID, req)
	if err != nil && order != nil {
		// stored but not confirmed: hand back the id so the client does not order twice
		status, code := statusFor(err)
		h.log.ErrorContext(ctx, "order created without payment confirmation", "order_id", order.OrderID, "error", err)
		respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Code: code, OrderID: order.OrderID})
		return
	}
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	orders, err := h.orders.List(ctx, p, limit)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	if order.UserID != p.UserID && !p.IsStaff() {
		handleError(w, r, h.log, domain.ErrForbidden)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// UpdateStatus moves an order along the fulfillment graph. Staff only.
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateStatusRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	if !req.Status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown order status")
		return
	}

	order, _, err := h.orders.TransitionStatus(ctx, chi.URLParam(r, "order_id"), req.Status, req.TrackingNumber)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}
