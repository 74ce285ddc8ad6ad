package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CartAPI interface {
	View(ctx context.Context, userID string) (*domain.CartView, error)
	AddItem(ctx context.Context, userID, productID string, qty int) (*domain.Cart, error)
	SetQuantities(ctx context.Context, userID string, updates []domain.QuantityUpdate) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

type CartHandler struct {
	carts   CartAPI
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartAPI, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SetCartRequestDTO struct {
	Items []domain.QuantityUpdate `json:"items"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}
	h.respondView(ctx, w, r, p.UserID, http.StatusOK)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be positive")
		return
	}

	if _, err := h.carts.AddItem(ctx, p.UserID, req.ProductID, req.Quantity); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	h.respondView(ctx, w, r, p.UserID, http.StatusCreated)
}

// SetCart replaces the cart contents. Lines with quantity <= 0 are removed.
func (h *CartHandler) SetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req SetCartRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	for _, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
			return
		}
	}

	if _, err := h.carts.SetQuantities(ctx, p.UserID, req.Items); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	h.respondView(ctx, w, r, p.UserID, http.StatusOK)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	if _, err := h.carts.RemoveItem(ctx, p.UserID, productID); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	h.respondView(ctx, w, r, p.UserID, http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, p.UserID); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	h.respondView(ctx, w, r, p.UserID, http.StatusOK)
}

func (h *CartHandler) respondView(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string, status int) {
	view, err := h.carts.View(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, status, view)
}

func principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
	}
	return p, ok
}
