package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/inventory"
	"github.com/fjod/go_cart/order-intake/internal/metrics"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/fjod/go_cart/order-intake/internal/service"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler http.Handler
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	inv := inventory.NewMemoryStore()
	for _, p := range []domain.Product{
		{Model: "iPhone13", Category: "Smartphone", Quantity: 5, SellingPrice: decimal.RequireFromString("199.99")},
		{Model: "Pixel8", Category: "Smartphone", Quantity: 3, SellingPrice: decimal.RequireFromString("99.50")},
		{Model: "Dyson", Category: "Vacuum", Quantity: 0, SellingPrice: decimal.RequireFromString("450.00")},
	} {
		require.NoError(t, inv.SaveProduct(ctx, p))
	}
	store := repository.NewMemoryStore(inv)
	m := metrics.New()
	logger := zerolog.Nop()

	h := NewCartHandler(
		service.NewCartService(store, nil, m, logger),
		service.NewCheckoutService(store, nil, m, logger),
		service.NewHistoryService(store, nil, m, logger),
		5*time.Second,
		logger,
	)
	return &testServer{
		handler: NewRouter(h, RouterOptions{Timeout: 5 * time.Second, Logger: logger, Metrics: m}),
		metrics: m,
	}
}

func (s *testServer) do(t *testing.T, method, path, user, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeCart(t *testing.T, w *httptest.ResponseRecorder) CartDTO {
	t.Helper()
	var cart CartDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cart))
	return cart
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCartHandler_AddAndGet(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/carts", "alice", RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	empty := decodeCart(t, w)
	assert.Equal(t, "alice", empty.Customer)
	assert.Nil(t, empty.PaymentDate)
	assert.Empty(t, empty.Products)
	assert.Contains(t, w.Body.String(), `"products":[]`)

	w = s.do(t, http.MethodPost, "/api/v1/carts", "alice", RoleCustomer, AddLineRequestDTO{Model: "iPhone13"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/carts", "alice", RoleCustomer, AddLineRequestDTO{Model: "iPhone13"})
	require.Equal(t, http.StatusCreated, w.Code)
	cart := decodeCart(t, w)
	require.Len(t, cart.Products, 1)
	assert.Equal(t, LineDTO{Model: "iPhone13", Quantity: 2, Category: "Smartphone", Price: "199.99"}, cart.Products[0])
	assert.Equal(t, json.Number("399.98"), cart.Total)
	// exact numbers on the wire, not strings
	assert.Contains(t, w.Body.String(), `"total":399.98`)
	assert.False(t, cart.Paid)
}

func TestCartHandler_AddLineValidation(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts", bytes.NewBufferString("{not json"))
	req.Header.Set(HeaderUserID, "alice")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/carts", "alice", RoleCustomer, AddLineRequestDTO{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_model", decodeError(t, w).Code)
}

func TestCartHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"unknown product", http.MethodPost, "/api/v1/carts", AddLineRequestDTO{Model: "Nokia3310"}, http.StatusNotFound, "product_not_found"},
		{"sold out", http.MethodPost, "/api/v1/carts", AddLineRequestDTO{Model: "Dyson"}, http.StatusConflict, "product_sold"},
		{"remove without cart", http.MethodDelete, "/api/v1/carts/products/iPhone13", nil, http.StatusNotFound, "cart_not_found"},
		{"clear without cart", http.MethodDelete, "/api/v1/carts/current", nil, http.StatusNotFound, "cart_not_found"},
		{"checkout without cart", http.MethodPatch, "/api/v1/carts", nil, http.StatusBadRequest, "empty_cart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			w := s.do(t, tt.method, tt.path, "alice", RoleCustomer, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}

func TestCartHandler_RemoveLineNotInCart(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/carts", "alice", RoleCustomer, AddLineRequestDTO{Model: "iPhone13"})

	w := s.do(t, http.MethodDelete, "/api/v1/carts/products/Pixel8", "alice", RoleCustomer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "product_not_in_cart", decodeError(t, w).Code)

	w = s.do(t, http.MethodDelete, "/api/v1/carts/products/iPhone13", "alice", RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeCart(t, w).Products)

	w = s.do(t, http.MethodDelete, "/api/v1/carts/current", "alice", RoleCustomer, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCartHandler_CheckoutAndHistory(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/carts", "alice", RoleCustomer, AddLineRequestDTO{Model: "Pixel8"})

	w := s.do(t, http.MethodPatch, "/api/v1/carts", "alice", RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	paid := decodeCart(t, w)
	assert.True(t, paid.Paid)
	require.NotNil(t, paid.PaymentDate)
	_, err := time.Parse(time.DateOnly, *paid.PaymentDate)
	assert.NoError(t, err)

	w = s.do(t, http.MethodGet, "/api/v1/carts/history", "alice", RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []CartDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, json.Number("99.50"), history[0].Total)

	// the active cart starts over
	w = s.do(t, http.MethodGet, "/api/v1/carts", "alice", RoleCustomer, nil)
	assert.Empty(t, decodeCart(t, w).Products)
}

func TestCartHandler_Authorization(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/carts", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/carts/all", "alice", RoleCustomer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/carts", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/carts", "root", RoleAdmin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCartHandler_AdminViews(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/carts", "alice", RoleCustomer, AddLineRequestDTO{Model: "iPhone13"})
	s.do(t, http.MethodPost, "/api/v1/carts", "bob", RoleCustomer, AddLineRequestDTO{Model: "Pixel8"})
	s.do(t, http.MethodPatch, "/api/v1/carts", "bob", RoleCustomer, nil)

	w := s.do(t, http.MethodGet, "/api/v1/carts/all", "manager", RoleManager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []CartDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	w = s.do(t, http.MethodDelete, "/api/v1/carts", "root", RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp DeleteAllResponseDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Deleted)

	w = s.do(t, http.MethodGet, "/api/v1/carts/all", "root", RoleAdmin, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Empty(t, all)
}

type brokenServices struct {
	err error
}

func (b brokenServices) AddLine(context.Context, string, string) error    { return b.err }
func (b brokenServices) RemoveLine(context.Context, string, string) error { return b.err }
func (b brokenServices) Clear(context.Context, string) error              { return b.err }

func (b brokenServices) GetActiveCart(context.Context, string) (*domain.Cart, error) {
	return nil, b.err
}

func (b brokenServices) Checkout(context.Context, string) (*domain.Cart, error) {
	return nil, b.err
}

func (b brokenServices) GetCustomerCarts(context.Context, string) ([]*domain.Cart, error) {
	return nil, b.err
}

func (b brokenServices) GetAllCarts(context.Context) ([]*domain.Cart, error) {
	return nil, b.err
}

func (b brokenServices) DeleteAllCarts(context.Context) bool {
	return false
}

func TestCartHandler_StorageFailureIsOpaque(t *testing.T) {
	broken := brokenServices{err: errors.New("pq: password authentication failed")}
	h := NewCartHandler(broken, broken, broken, time.Second, zerolog.Nop())
	s := &testServer{handler: NewRouter(h, RouterOptions{Logger: zerolog.Nop()})}

	w := s.do(t, http.MethodGet, "/api/v1/carts", "alice", RoleCustomer, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "internal_error", resp.Code)
	assert.NotContains(t, w.Body.String(), "password")

	w = s.do(t, http.MethodDelete, "/api/v1/carts", "root", RoleAdmin, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var del DeleteAllResponseDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &del))
	assert.False(t, del.Deleted)
}

func TestCartHandler_CancelledRequestIsNotAServerError(t *testing.T) {
	broken := brokenServices{err: fmt.Errorf("load active cart: %w", context.Canceled)}
	h := NewCartHandler(broken, broken, broken, time.Second, zerolog.Nop())
	s := &testServer{handler: NewRouter(h, RouterOptions{Logger: zerolog.Nop()})}

	w := s.do(t, http.MethodGet, "/api/v1/carts", "alice", RoleCustomer, nil)
	assert.Equal(t, statusClientClosedRequest, w.Code)
	assert.Equal(t, "request_canceled", decodeError(t, w).Code)
}

func TestRouter_HealthMetricsAndRequestID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	s.do(t, http.MethodGet, "/api/v1/carts", "alice", RoleCustomer, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("/health", "2xx")))

	w = s.do(t, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/api/v1/carts`)
}
