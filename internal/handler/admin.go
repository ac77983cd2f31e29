package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/order"
)

// SweepRequest overrides the configured timeout when TimeoutMinutes is set.
type SweepRequest struct {
	TimeoutMinutes *float64 `json:"timeout_minutes,omitempty" validate:"omitempty,gt=0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING PROCESSING SHIPPING COMPLETED CANCELLED"`
}

type AdminHandler struct {
	service        order.Service
	validate       *validator.Validate
	defaultTimeout time.Duration
}

func NewAdminHandler(service order.Service, defaultTimeout time.Duration) *AdminHandler {
	return &AdminHandler{
		service:        service,
		validate:       newValidator(),
		defaultTimeout: defaultTimeout,
	}
}

// RegisterRoutes expects a router already restricted to admins.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Post("/admin/orders/expire-momo", h.handleSweep)
	router.Patch("/admin/orders/{id}/status", h.handleUpdateStatus)
}

func (h *AdminHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := decodeOptional(r, &req); err != nil {
		log.Warn().Err(err).Msg("Failed to decode sweep request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if !validate(w, h.validate, &req) {
		return
	}

	timeout := h.defaultTimeout
	if req.TimeoutMinutes != nil {
		timeout = time.Duration(*req.TimeoutMinutes * float64(time.Minute))
	}

	result, err := h.service.SweepExpiredMomo(r.Context(), timeout)
	if err != nil {
		respondWithServiceError(w, err, "Failed to expire MoMo orders")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), orderID, order.OrderStatus(req.Status))
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}
