package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lifevaluable/brewflow/internal/inventory"
	"github.com/lifevaluable/brewflow/internal/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("handler: failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// mapServiceError translates domain errors into HTTP statuses; anything
// unknown is a 500 with a generic message.
func mapServiceError(w http.ResponseWriter, err error) {
	var insufficient *inventory.InsufficientStockError
	var invalidTransition *order.InvalidTransitionError

	switch {
	case errors.Is(err, order.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "cart is empty")
	case errors.As(err, &insufficient):
		respondError(w, http.StatusConflict, insufficient.Error())
	case errors.Is(err, inventory.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, order.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found")
	case errors.As(err, &invalidTransition):
		respondError(w, http.StatusBadRequest, invalidTransition.Error())
	case errors.Is(err, order.ErrStatusConflict):
		respondError(w, http.StatusConflict, "order status changed concurrently")
	default:
		log.Error().Err(err).Msg("handler: internal error")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// identityFromRequest reads the contact snapshot the gateway injects after
// authenticating the user. Authentication itself is not this service's job.
func identityFromRequest(r *http.Request) (order.UserIdentity, error) {
	rawID := r.Header.Get("X-User-Id")
	if rawID == "" {
		return order.UserIdentity{}, errors.New("missing X-User-Id header")
	}
	id, err := uuid.FromString(rawID)
	if err != nil {
		return order.UserIdentity{}, errors.New("invalid X-User-Id header")
	}

	return order.UserIdentity{
		ID:        id,
		Email:     r.Header.Get("X-User-Email"),
		FirstName: r.Header.Get("X-User-First-Name"),
		LastName:  r.Header.Get("X-User-Last-Name"),
	}, nil
}
