package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/order"
	"github.com/vasiliy-maslov/furniture-store/internal/payment/momo"
)

// ReturnResponse tells the storefront what to show after the MoMo redirect.
type ReturnResponse struct {
	Confirmed bool         `json:"confirmed"`
	OrderID   *uuid.UUID   `json:"order_id,omitempty"`
	Message   string       `json:"message"`
	Order     *order.Order `json:"order,omitempty"`
}

type PaymentHandler struct {
	service order.Service
}

func NewPaymentHandler(service order.Service) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// RegisterWebhookRoutes mounts the unauthenticated provider callback.
func (h *PaymentHandler) RegisterWebhookRoutes(router chi.Router) {
	router.Post("/payments/momo/ipn", h.handleMomoIPN)
}

// RegisterRoutes mounts the routes that need a signed-in customer.
func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Get("/payments/momo/return", h.handleMomoReturn)
}

func (h *PaymentHandler) handleMomoIPN(w http.ResponseWriter, r *http.Request) {
	var n momo.IPN
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		log.Warn().Err(err).Msg("Failed to decode MoMo webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	ack, err := h.service.HandleMomoIPN(r.Context(), n)
	if err != nil {
		switch {
		case order.IsWebhookRejection(err), errors.Is(err, order.ErrOrderExpired):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, order.ErrOrderNotFound):
			respondWithError(w, http.StatusNotFound, err.Error())
		default:
			log.Error().Err(err).Str("provider_order_id", n.OrderID).Msg("Failed to process MoMo webhook")
			respondWithError(w, http.StatusInternalServerError, "Failed to process webhook")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, ack)
}

// handleMomoReturn treats the browser redirect as a hint only: it never
// trusts the query string to mark anything paid, it asks the service to
// confirm on behalf of the signed-in customer.
func (h *PaymentHandler) handleMomoReturn(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	message := query.Get("message")

	orderID, err := momo.DecodeExtraData(query.Get("extraData"))
	if err != nil {
		log.Warn().Err(err).Msg("MoMo return without a usable extraData")
		respondWithError(w, http.StatusBadRequest, "Invalid payment return parameters")
		return
	}

	resultCode, err := strconv.Atoi(query.Get("resultCode"))
	if err != nil || resultCode != momo.ResultSuccess {
		if message == "" {
			message = "Payment was not completed"
		}
		respondWithJSON(w, http.StatusOK, ReturnResponse{Confirmed: false, OrderID: &orderID, Message: message})
		return
	}

	o, err := h.service.ConfirmPayment(r.Context(), caller.UserID, orderID)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, ReturnResponse{Confirmed: true, OrderID: &orderID, Message: "Payment confirmed", Order: o})
	case errors.Is(err, order.ErrAlreadyPaid):
		respondWithJSON(w, http.StatusOK, ReturnResponse{Confirmed: true, OrderID: &orderID, Message: "Order already paid"})
	default:
		respondWithServiceError(w, err, "Failed to confirm payment")
	}
}
