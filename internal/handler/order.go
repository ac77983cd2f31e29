package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/order"
)

type OrderItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

type CreateOrderRequest struct {
	Items              []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethod      string             `json:"payment_method" validate:"required,oneof=COD BANK_TRANSFER MOMO"`
	CustomerName       string             `json:"customer_name" validate:"required,min=2,max=100"`
	CustomerEmail      string             `json:"customer_email" validate:"required,email"`
	CustomerPhone      string             `json:"customer_phone" validate:"required,min=9,max=15"`
	ShippingAddress    string             `json:"shipping_address" validate:"required,min=5,max=500"`
	Notes              string             `json:"notes,omitempty" validate:"omitempty,max=500"`
	VoucherCode        string             `json:"voucher_code,omitempty" validate:"omitempty,max=50"`
	SelectedProductIDs []uuid.UUID        `json:"selected_product_ids,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// OrderHandler serves the customer-facing order endpoints.
type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: newValidator(),
	}
}

// RegisterRoutes expects an authenticated router.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Post("/orders/{id}/momo", h.handlePayWithMomo)
	router.Put("/orders/{id}/cancel", h.handleCancelOrder)
	router.Post("/orders/{id}/confirm-payment", h.handleConfirmPayment)
	router.Post("/orders/{id}/reorder", h.handleReorder)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	items := make([]order.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, order.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	result, err := h.service.CreateOrder(r.Context(), order.CreateOrderInput{
		UserID:             caller.UserID,
		Items:              items,
		PaymentMethod:      order.PaymentMethod(req.PaymentMethod),
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		CustomerPhone:      req.CustomerPhone,
		ShippingAddress:    req.ShippingAddress,
		Notes:              req.Notes,
		VoucherCode:        req.VoucherCode,
		SelectedProductIDs: req.SelectedProductIDs,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, result)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), caller.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), caller.UserID, caller.IsAdmin(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handlePayWithMomo(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.service.PayWithMomo(r.Context(), caller.UserID, orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to start MoMo payment")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	// the body is optional
	var req CancelOrderRequest
	if r.ContentLength != 0 {
		if err := decodeOptional(r, &req); err != nil {
			log.Warn().Err(err).Msg("Failed to decode cancel request body")
			respondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
		if !validate(w, h.validate, &req) {
			return
		}
	}

	o, err := h.service.CancelOrder(r.Context(), caller.UserID, orderID, req.Reason)
	if err != nil {
		respondWithServiceError(w, err, "Failed to cancel order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	o, err := h.service.ConfirmPayment(r.Context(), caller.UserID, orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to confirm payment")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleReorder(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.service.Reorder(r.Context(), caller.UserID, orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to reorder")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// decodeOptional decodes a JSON body, treating an empty one as absent.
func decodeOptional(r *http.Request, dst interface{}) error {
	decoder := jsonDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
