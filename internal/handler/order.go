package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"

	"github.com/lifevaluable/brewflow/internal/order"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	svc order.Service
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// CreateOrder converts the authenticated user's cart into an order.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	ord, err := h.svc.CreateOrderFromCart(r.Context(), identity.ID, identity)
	if err != nil {
		mapServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, ord)
}

// GetOrder returns one order belonging to the authenticated user.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	orderID, err := uuid.FromString(chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ord, err := h.svc.GetOrderDetails(r.Context(), orderID, identity.ID)
	if err != nil {
		mapServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ord)
}

// GetOrdersHistory returns the authenticated user's orders, newest first.
func (h *OrderHandler) GetOrdersHistory(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	orders, err := h.svc.GetOrdersHistory(r.Context(), identity.ID)
	if err != nil {
		mapServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

type updateOrderStatusRequest struct {
	UserID        uuid.UUID    `json:"user_id"`
	CurrentStatus order.Status `json:"current_status"`
	NewStatus     order.Status `json:"new_status"`
}

// UpdateOrderStatus applies a forward-only status transition on behalf of
// another service.
func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req updateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.UpdateOrderStatus(r.Context(), orderID, req.UserID, req.CurrentStatus, req.NewStatus); err != nil {
		mapServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, nil)
}
