package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/furniture-store/internal/order"
)

type ValidateVoucherRequest struct {
	Code            string `json:"code" validate:"required,max=50"`
	Subtotal        int64  `json:"subtotal" validate:"gte=0"`
	ShippingAddress string `json:"shipping_address,omitempty" validate:"omitempty,max=500"`
}

type VoucherHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewVoucherHandler(service order.Service) *VoucherHandler {
	return &VoucherHandler{service: service, validate: newValidator()}
}

func (h *VoucherHandler) RegisterRoutes(router chi.Router) {
	router.Post("/vouchers/validate", h.handleValidate)
}

func (h *VoucherHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateVoucherRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	quote, err := h.service.QuoteVoucher(r.Context(), req.Code, req.Subtotal, req.ShippingAddress)
	if err != nil {
		respondWithServiceError(w, err, "Failed to validate voucher")
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}
