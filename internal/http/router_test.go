package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techTenzen/Cricket/internal/cart"
	"github.com/techTenzen/Cricket/internal/cart/cache"
	"github.com/techTenzen/Cricket/internal/cart/repository"
	"github.com/techTenzen/Cricket/internal/catalog"
	"github.com/techTenzen/Cricket/internal/checkout"
	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/metrics"
	"github.com/techTenzen/Cricket/internal/order"
)

type testServer struct {
	handler http.Handler
	store   *catalog.MemoryStore
	orders  *order.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store := catalog.NewMemoryStore()
	require.NoError(t, store.PutProduct(ctx, &domain.Product{
		ID: "bat-x", Name: "Bat-X", Category: "bats", Price: decimal.RequireFromString("249.99"),
		SizeVariants: []domain.SizeVariant{{Size: "SH", Stock: 3}, {Size: "LH", Stock: 2}},
	}))
	require.NoError(t, store.PutProduct(ctx, &domain.Product{
		ID: "ball-y", Name: "Ball-Y", Category: "balls", Price: decimal.RequireFromString("12.50"), Stock: 10,
	}))

	carts := cart.NewService(repository.NewMemoryRepository(), cache.Noop{}, store, nil)
	orders := order.NewMemoryRepository()
	m := metrics.New(prometheus.NewRegistry())

	return &testServer{
		handler: NewRouter(Deps{
			Products: store,
			Carts:    carts,
			Checkout: checkout.NewCoordinator(carts, store, orders, m, nil),
			Orders:   order.NewManager(orders, store, m, nil),
			Metrics:  m,
		}),
		store:  store,
		orders: orders,
	}
}

type call struct {
	method  string
	path    string
	body    string
	user    string
	role    string
	headers map[string]string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = bytes.NewBufferString(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.user != "" {
		req.Header.Set(HeaderUserID, c.user)
	}
	if c.role != "" {
		req.Header.Set(HeaderUserRole, c.role)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

const checkoutBody = `{
	"shipping_address": {"street": "1 Pavilion End", "city": "Leeds", "state": "West Yorkshire", "zip_code": "LS6 3BR", "country": "UK"},
	"payment_method": "cash_on_delivery"
}`

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProducts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/v1/products"})
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[ProductsResponse](t, rec)
	require.Len(t, list.Products, 2)
	assert.Equal(t, "ball-y", list.Products[0].ID)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/products/bat-x"})
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[domain.Product](t, rec)
	assert.Equal(t, 5, p.Stock)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/products/nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "product_not_found", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCart_RequiresUser(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, call{method: http.MethodGet, path: "/api/v1/cart"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCart_Flow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", user: "u1",
		body: `{"product_id":"bat-x","size":"SH","quantity":2}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decodeBody[domain.Cart](t, rec)
	assert.Equal(t, "499.98", c.TotalAmount.StringFixed(2))

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", user: "u1",
		body: `{"product_id":"ball-y","quantity":1}`})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, call{method: http.MethodPut, path: "/api/v1/cart/items/bat-x?size=SH", user: "u1",
		body: `{"quantity":1}`})
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeBody[domain.Cart](t, rec)
	assert.Equal(t, "262.49", c.TotalAmount.StringFixed(2))

	rec = s.do(t, call{method: http.MethodDelete, path: "/api/v1/cart/items/bat-x?size=SH", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeBody[domain.Cart](t, rec)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "ball-y", c.Items[0].ProductID)

	// removing again is a no-op
	rec = s.do(t, call{method: http.MethodDelete, path: "/api/v1/cart/items/bat-x?size=SH", user: "u1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/cart", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12.50", decodeBody[domain.Cart](t, rec).TotalAmount.StringFixed(2))

	rec = s.do(t, call{method: http.MethodDelete, path: "/api/v1/cart", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[domain.Cart](t, rec).Items)
}

func TestCart_Errors(t *testing.T) {
	tests := []struct {
		name   string
		call   call
		status int
		code   string
	}{
		{"bad json", call{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":`}, http.StatusBadRequest, "invalid_request"},
		{"unknown field", call{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"ball-y","quantity":1,"price":1}`}, http.StatusBadRequest, "invalid_request"},
		{"no product", call{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"quantity":1}`}, http.StatusBadRequest, "invalid_product_id"},
		{"zero quantity", call{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"ball-y","quantity":0}`}, http.StatusBadRequest, "invalid_quantity"},
		{"quantity over cap", call{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"ball-y","quantity":100}`}, http.StatusBadRequest, "invalid_quantity"},
		{"unknown product", call{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"nope","quantity":1}`}, http.StatusNotFound, "product_not_found"},
		{"size required", call{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"bat-x","quantity":1}`}, http.StatusBadRequest, "size_required"},
		{"unknown size", call{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"bat-x","size":"XL","quantity":1}`}, http.StatusNotFound, "size_not_found"},
		{"update missing line", call{method: http.MethodPut, path: "/api/v1/cart/items/ball-y", body: `{"quantity":2}`}, http.StatusNotFound, "item_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			tt.call.user = "u1"
			rec := s.do(t, tt.call)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCheckout_Flow(t *testing.T) {
	s := newTestServer(t)
	s.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", user: "u1",
		body: `{"product_id":"bat-x","size":"SH","quantity":2}`})

	headers := map[string]string{HeaderIdempotencyKey: "attempt-1"}
	rec := s.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", user: "u1", body: checkoutBody, headers: headers})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decodeBody[domain.Order](t, rec)
	assert.Equal(t, domain.OrderStatusPending, placed.Status)
	assert.Equal(t, "499.98", placed.TotalAmount.StringFixed(2))
	assert.Equal(t, "attempt-1", placed.IdempotencyKey)

	// retry of a timed out request
	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", user: "u1", body: checkoutBody, headers: headers})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, placed.ID, decodeBody[domain.Order](t, rec).ID)

	n, err := s.store.GetAvailableStock(context.Background(), "bat-x", "SH")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", user: "u1", body: checkoutBody})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_cart", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCheckout_InsufficientStockNamesLine(t *testing.T) {
	s := newTestServer(t)
	s.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", user: "u1",
		body: `{"product_id":"bat-x","size":"LH","quantity":3}`})

	rec := s.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", user: "u1", body: checkoutBody})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", resp.Code)
	assert.Equal(t, "bat-x", resp.ProductID)
	assert.Equal(t, "LH", resp.Size)
	require.NotNil(t, resp.Available)
	assert.Equal(t, 2, *resp.Available)
}

func TestCheckout_InvalidRequest(t *testing.T) {
	s := newTestServer(t)
	s.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", user: "u1",
		body: `{"product_id":"ball-y","quantity":1}`})

	rec := s.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", user: "u1",
		body: `{"shipping_address":{"street":"x"},"payment_method":"credit_card"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", decodeBody[ErrorResponse](t, rec).Code)
}

func placeOrder(t *testing.T, s *testServer, user string) domain.Order {
	t.Helper()
	rec := s.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", user: user,
		body: `{"product_id":"ball-y","quantity":2}`})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", user: user, body: checkoutBody})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[domain.Order](t, rec)
}

func TestOrders_UserRoutes(t *testing.T) {
	s := newTestServer(t)
	o := placeOrder(t, s, "u1")

	rec := s.do(t, call{method: http.MethodGet, path: "/api/v1/orders", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Order](t, rec), 1)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/orders", user: "u2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/orders/" + o.ID, user: "u2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + o.ID + "/cancel", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusCancelled, decodeBody[domain.Order](t, rec).Status)

	n, err := s.store.GetAvailableStock(context.Background(), "ball-y", "")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + o.ID + "/cancel", user: "u1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[ErrorResponse](t, rec).Code)
}

func TestOrders_AdminRoutes(t *testing.T) {
	s := newTestServer(t)
	o := placeOrder(t, s, "u1")
	placeOrder(t, s, "u2")

	rec := s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/orders", user: "u1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := func(method, path, body string) *httptest.ResponseRecorder {
		return s.do(t, call{method: method, path: path, body: body, user: "ops", role: RoleAdmin})
	}

	rec = admin(http.MethodGet, "/api/v1/admin/orders?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Order](t, rec), 1)

	rec = admin(http.MethodGet, "/api/v1/admin/orders?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = admin(http.MethodGet, "/api/v1/admin/orders?status=lost", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, next := range []string{"processing", "shipped", "delivered"} {
		rec = admin(http.MethodPut, "/api/v1/admin/orders/"+o.ID+"/status", `{"status":"`+next+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	delivered := decodeBody[domain.Order](t, rec)
	assert.NotNil(t, delivered.DeliveredAt)

	rec = admin(http.MethodPut, "/api/v1/admin/orders/"+o.ID+"/status", `{"status":"pending"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = admin(http.MethodPut, "/api/v1/admin/orders/"+o.ID+"/status", `{"status":"returned"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = admin(http.MethodGet, "/api/v1/admin/orders?status=delivered", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Order](t, rec), 1)

	rec = admin(http.MethodGet, "/api/v1/admin/orders/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[order.Stats](t, rec)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, "25.00", stats.Revenue.StringFixed(2))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, call{method: http.MethodGet, path: "/api/v1/products"})

	rec := s.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `storefront_http_requests_total{method="GET",route="/api/v1/products",status="200"} 1`)
}

type brokenCarts struct{ CartService }

func (brokenCarts) GetCart(context.Context, string) (*domain.Cart, error) {
	return nil, errors.New("boom")
}

func TestHandleError_HidesInternalErrors(t *testing.T) {
	h := NewRouter(Deps{Carts: brokenCarts{}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(HeaderUserID, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "internal server error", resp.Error)
}

func TestHandleError_Unavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handleError(rec, req, domain.Unavailable("get cart", errors.New("server selection timeout")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decodeBody[ErrorResponse](t, rec).Code)
}
