package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// nginx convention, net/http has no constant for it
const statusClientClosedRequest = 499

type CartService interface {
	AddLine(ctx context.Context, customer, model string) error
	RemoveLine(ctx context.Context, customer, model string) error
	Clear(ctx context.Context, customer string) error
	GetActiveCart(ctx context.Context, customer string) (*domain.Cart, error)
}

type CheckoutService interface {
	Checkout(ctx context.Context, customer string) (*domain.Cart, error)
}

type HistoryService interface {
	GetCustomerCarts(ctx context.Context, customer string) ([]*domain.Cart, error)
	GetAllCarts(ctx context.Context) ([]*domain.Cart, error)
	DeleteAllCarts(ctx context.Context) bool
}

type CartHandler struct {
	carts    CartService
	checkout CheckoutService
	history  HistoryService
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewCartHandler(carts CartService, checkout CheckoutService, history HistoryService, timeout time.Duration, logger zerolog.Logger) *CartHandler {
	return &CartHandler{
		carts:    carts,
		checkout: checkout,
		history:  history,
		timeout:  timeout,
		logger:   logger.With().Str("component", "cart_handler").Logger(),
	}
}

type AddLineRequestDTO struct {
	Model string `json:"model"`
}

type LineDTO struct {
	Model    string      `json:"model"`
	Quantity int         `json:"quantity"`
	Category string      `json:"category"`
	Price    json.Number `json:"price"`
}

type CartDTO struct {
	Customer    string      `json:"customer"`
	Paid        bool        `json:"paid"`
	PaymentDate *string     `json:"paymentDate"`
	Total       json.Number `json:"total"`
	Products    []LineDTO   `json:"products"`
}

type DeleteAllResponseDTO struct {
	Deleted bool `json:"deleted"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func toCartDTO(cart *domain.Cart) CartDTO {
	dto := CartDTO{
		Customer: cart.Customer,
		Paid:     cart.Paid,
		Total:    money(cart.Total),
		Products: make([]LineDTO, 0, len(cart.Lines)),
	}
	if cart.PaymentDate != nil {
		date := cart.PaymentDate.Format(time.DateOnly)
		dto.PaymentDate = &date
	}
	for _, l := range cart.Lines {
		dto.Products = append(dto.Products, LineDTO{
			Model:    l.Model,
			Quantity: l.Quantity,
			Category: l.Category,
			Price:    money(l.Price),
		})
	}
	return dto
}

// money renders an amount as an exact JSON number with two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func toCartDTOs(carts []*domain.Cart) []CartDTO {
	out := make([]CartDTO, 0, len(carts))
	for _, c := range carts {
		out = append(out, toCartDTO(c))
	}
	return out
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, _ := getUserFromContext(r.Context())

	cart, err := h.carts.GetActiveCart(ctx, user.ID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartDTO(cart))
}

func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, _ := getUserFromContext(r.Context())

	var req AddLineRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Model == "" {
		respondError(w, http.StatusBadRequest, "invalid_model", "model is required")
		return
	}

	if err := h.carts.AddLine(ctx, user.ID, req.Model); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	cart, err := h.carts.GetActiveCart(ctx, user.ID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toCartDTO(cart))
}

func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, _ := getUserFromContext(r.Context())

	cart, err := h.checkout.Checkout(ctx, user.ID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartDTO(cart))
}

func (h *CartHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, _ := getUserFromContext(r.Context())

	carts, err := h.history.GetCustomerCarts(ctx, user.ID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartDTOs(carts))
}

func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, _ := getUserFromContext(r.Context())

	model := chi.URLParam(r, "model")
	if model == "" {
		respondError(w, http.StatusBadRequest, "invalid_model", "model is required")
		return
	}

	if err := h.carts.RemoveLine(ctx, user.ID, model); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	cart, err := h.carts.GetActiveCart(ctx, user.ID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartDTO(cart))
}

func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, _ := getUserFromContext(r.Context())

	if err := h.carts.Clear(ctx, user.ID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	carts, err := h.history.GetAllCarts(ctx)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartDTOs(carts))
}

func (h *CartHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if !h.history.DeleteAllCarts(ctx) {
		respondJSON(w, http.StatusInternalServerError, DeleteAllResponseDTO{Deleted: false})
		return
	}

	respondJSON(w, http.StatusOK, DeleteAllResponseDTO{Deleted: true})
}

func (h *CartHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "cart_not_found", err.Error())
	case errors.Is(err, domain.ErrProductNotInCart):
		respondError(w, http.StatusNotFound, "product_not_in_cart", err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrProductSold):
		respondError(w, http.StatusConflict, "product_sold", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	case errors.Is(err, context.Canceled):
		respondError(w, statusClientClosedRequest, "request_canceled", "request canceled")
	default:
		h.logger.Error().Err(err).
			Str("request_id", getRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
