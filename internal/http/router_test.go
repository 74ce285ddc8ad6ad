package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/reconcile"
	"github.com/afif1710/NexusMarket/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

var testSecret = []byte("test-secret")

const webhookSecret = "whsec_test"

type testAPI struct {
	handler  http.Handler
	carts    *mockCarts
	checkout *mockCheckout
	orders   *mockOrderBook
	payments *mockPayments
	stream   *mockStream
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithWebhookSecret(t, webhookSecret)
}

func newTestAPIWithWebhookSecret(t *testing.T, whSecret string) *testAPI {
	t.Helper()
	log := logger.Nop()
	api := &testAPI{
		carts: newMockCarts(),
		checkout: &mockCheckout{order: &domain.Order{
			OrderID: "ord_1a2b3c4d", Status: domain.OrderStatusPendingPayment, PaymentStatus: domain.PaymentStatusUnpaid, Total: 12100,
		}},
		orders: &mockOrderBook{orders: map[string]*domain.Order{
			"ord_u1": {OrderID: "ord_u1", UserID: "u1", Status: domain.OrderStatusPaid, PaymentStatus: domain.PaymentStatusPaid},
			"ord_u2": {OrderID: "ord_u2", UserID: "u2", Status: domain.OrderStatusPendingPayment, PaymentStatus: domain.PaymentStatusUnpaid},
		}},
		payments: &mockPayments{
			session: &domain.PaymentSession{TransactionID: "txn_00000001", SessionID: "cs_test_1", CheckoutURL: "https://pay.test/cs_test_1"},
			result:  reconcile.Result{Outcome: reconcile.OutcomePending, PaymentStatus: domain.PaymentStatusUnpaid},
		},
		stream: &mockStream{},
	}
	api.handler = NewRouter(RouterConfig{
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"https://shop.test"},
		RequestTimeout: 5 * time.Second,
		StatusRate:     1,
		StatusBurst:    2,
	}, Handlers{
		Cart:     NewCartHandler(api.carts, 5*time.Second, log),
		Orders:   NewOrdersHandler(api.checkout, api.orders, 5*time.Second, log),
		Payments: NewPaymentsHandler(api.payments, whSecret, 5*time.Second, log),
		Stream:   api.stream,
	})
	return api
}

func token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	tok, err := NewToken(domain.Principal{UserID: userID, Role: role}, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Code)

	rec = api.do(t, http.MethodGet, "/api/cart", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := NewToken(domain.Principal{UserID: "u1"}, []byte("other-secret"), time.Hour)
	require.NoError(t, err)
	rec = api.do(t, http.MethodGet, "/api/cart", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := NewToken(domain.Principal{UserID: "u1"}, testSecret, -time.Minute)
	require.NoError(t, err)
	rec = api.do(t, http.MethodGet, "/api/cart", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseToken_DefaultsRole(t *testing.T) {
	tok, err := NewToken(domain.Principal{UserID: "u1", Role: "superuser"}, testSecret, time.Hour)
	require.NoError(t, err)

	p, err := ParseToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, domain.RoleCustomer, p.Role)
}

func TestCartRoutes(t *testing.T) {
	api := newTestAPI(t)
	tok := token(t, "u1", domain.RoleCustomer)

	rec := api.do(t, http.MethodPost, "/api/cart/items", tok, AddItemRequestDTO{ProductID: "prod_A", Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decode[domain.CartView](t, rec)
	assert.Equal(t, "u1", view.UserID)
	assert.Equal(t, domain.Money(2000), view.Total)

	rec = api.do(t, http.MethodGet, "/api/cart", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/cart", tok, SetCartRequestDTO{Items: []domain.QuantityUpdate{{ProductID: "prod_A", Quantity: 0}}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.QuantityUpdate{{ProductID: "prod_A", Quantity: 0}}, api.carts.set)

	rec = api.do(t, http.MethodDelete, "/api/cart/items/prod_A", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"prod_A"}, api.carts.removed)

	rec = api.do(t, http.MethodDelete, "/api/cart", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1"}, api.carts.cleared)
}

func TestCartRoutes_Validation(t *testing.T) {
	api := newTestAPI(t)
	tok := token(t, "u1", domain.RoleCustomer)

	rec := api.do(t, http.MethodPost, "/api/cart/items", tok, AddItemRequestDTO{ProductID: "prod_A", Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quantity", decode[ErrorResponse](t, rec).Code)

	rec = api.do(t, http.MethodPost, "/api/cart/items", tok, AddItemRequestDTO{Quantity: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.carts.err = fmt.Errorf("%w: only 3 in stock", domain.ErrInvalidQuantity)
	rec = api.do(t, http.MethodPost, "/api/cart/items", tok, AddItemRequestDTO{ProductID: "prod_A", Quantity: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "only 3 in stock")

	api.carts.err = domain.ErrProductNotFound
	rec = api.do(t, http.MethodPost, "/api/cart/items", tok, AddItemRequestDTO{ProductID: "nope", Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/cart/items", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	api.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rr).Code)
}

func TestOrderRoutes(t *testing.T) {
	api := newTestAPI(t)
	tok := token(t, "u1", domain.RoleCustomer)

	body := map[string]interface{}{
		"line_items":       []map[string]interface{}{{"product_id": "prod_A", "quantity": 1, "price": 0.01}},
		"shipping_address": map[string]string{"name": "Ada", "address": "1 Main", "city": "X", "state": "Y", "postal_code": "1"},
		"payment_method":   "stripe",
	}
	rec := api.do(t, http.MethodPost, "/api/orders", tok, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[domain.Order](t, rec)
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, domain.Money(12100), order.Total)
	require.Len(t, api.checkout.req.Items, 1)
	assert.Equal(t, "prod_A", api.checkout.req.Items[0].ProductID)
	assert.Equal(t, "Ada", api.checkout.req.ShippingAddress.Name)

	rec = api.do(t, http.MethodGet, "/api/orders?limit=10", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Order](t, rec), 1)
	assert.Equal(t, 10, api.orders.listedLimit)

	rec = api.do(t, http.MethodGet, "/api/orders?limit=-1", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/orders/ord_u1", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/orders/ord_u2", tok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/orders/ord_missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/orders/ord_u2", token(t, "s1", domain.RoleSeller), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
		{fmt.Errorf("%w: missing city", domain.ErrInvalidAddress), http.StatusBadRequest, "invalid_address"},
		{domain.ErrInvalidPaymentMethod, http.StatusBadRequest, "invalid_payment_method"},
		{&domain.IllegalTransitionError{Kind: "payment", From: "expired", To: "paid"}, http.StatusConflict, "invalid_transition"},
		{fmt.Errorf("wrap: %w", domain.ErrGatewayTransport), http.StatusBadGateway, "gateway_unavailable"},
		{errors.New("mongo exploded"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			api := newTestAPI(t)
			api.checkout.err = tt.err

			rec := api.do(t, http.MethodPost, "/api/orders", token(t, "u1", domain.RoleCustomer), map[string]string{})
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, "mongo")
			}
		})
	}
}

func TestCreateOrder_StoredButUnconfirmedReturnsOrderID(t *testing.T) {
	api := newTestAPI(t)
	api.checkout.err = errors.New("confirm order ord_1a2b3c4d paid: write failed")
	api.checkout.stored = true

	rec := api.do(t, http.MethodPost, "/api/orders", token(t, "u1", domain.RoleCustomer), map[string]string{"payment_method": "paypal"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "internal_error", resp.Code)
	assert.Equal(t, "ord_1a2b3c4d", resp.OrderID)
	assert.NotContains(t, resp.Error, "write failed")
}

func TestUpdateStatus_StaffOnly(t *testing.T) {
	api := newTestAPI(t)
	body := UpdateStatusRequestDTO{Status: domain.OrderStatusProcessing}

	rec := api.do(t, http.MethodPut, "/api/orders/ord_u1/status", token(t, "u1", domain.RoleCustomer), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/orders/ord_u1/status", token(t, "a1", domain.RoleAdmin), body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusProcessing, decode[domain.Order](t, rec).Status)

	rec = api.do(t, http.MethodPut, "/api/orders/ord_u1/status", token(t, "a1", domain.RoleAdmin), UpdateStatusRequestDTO{Status: "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.orders.err = &domain.IllegalTransitionError{Kind: "status", From: "delivered", To: "cancelled"}
	rec = api.do(t, http.MethodPut, "/api/orders/ord_u1/status", token(t, "s1", domain.RoleSeller), UpdateStatusRequestDTO{Status: domain.OrderStatusCancelled})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaymentRoutes(t *testing.T) {
	api := newTestAPI(t)
	tok := token(t, "u1", domain.RoleCustomer)

	rec := api.do(t, http.MethodPost, "/api/payments/sessions", tok, CreateSessionRequestDTO{OrderID: "ord_u1", ReturnURL: "https://shop.test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[domain.PaymentSession](t, rec)
	assert.Equal(t, "cs_test_1", session.SessionID)
	assert.Equal(t, "ord_u1", session.OrderID)
	assert.Equal(t, "https://pay.test/cs_test_1", session.CheckoutURL)

	rec = api.do(t, http.MethodPost, "/api/payments/sessions", tok, CreateSessionRequestDTO{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/payments/status/cs_test_1", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[reconcile.Result](t, rec)
	assert.Equal(t, reconcile.OutcomePending, res.Outcome)
	assert.Equal(t, "cs_test_1", res.SessionID)
}

func TestPaymentStatus_RateLimited(t *testing.T) {
	api := newTestAPI(t)
	tok := token(t, "u1", domain.RoleCustomer)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, api.do(t, http.MethodGet, "/api/payments/status/cs_test_1", tok, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, api.payments.statusHits)

	rec := api.do(t, http.MethodGet, "/api/payments/status/cs_test_1", token(t, "u2", domain.RoleCustomer), nil)
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per user")
}

func webhookRequest(t *testing.T, api *testAPI, payload []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(payload))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	return rec
}

// stripeSignature builds a Stripe-Signature header for payload.
func stripeSignature(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret}).Header
}

func TestStripeWebhook(t *testing.T) {
	completed := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","object":"checkout.session","status":"complete","payment_status":"paid"}}}`)

	t.Run("reconciles the named session", func(t *testing.T) {
		api := newTestAPI(t)
		rec := webhookRequest(t, api, completed, stripeSignature(completed, webhookSecret))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"cs_test_1"}, api.payments.updatedIDs)
	})

	t.Run("rejects bad signature", func(t *testing.T) {
		api := newTestAPI(t)
		rec := webhookRequest(t, api, completed, stripeSignature(completed, "wrong"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_signature", decode[ErrorResponse](t, rec).Code)
		assert.Empty(t, api.payments.updatedIDs)

		rec = webhookRequest(t, api, completed, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, api.payments.updatedIDs)
	})

	t.Run("refuses events without a signing secret", func(t *testing.T) {
		api := newTestAPIWithWebhookSecret(t, "")
		rec := webhookRequest(t, api, completed, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = webhookRequest(t, api, completed, stripeSignature(completed, ""))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Empty(t, api.payments.updatedIDs)
	})

	t.Run("ignores unrelated events", func(t *testing.T) {
		api := newTestAPI(t)
		other := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
		rec := webhookRequest(t, api, other, stripeSignature(other, webhookSecret))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, api.payments.updatedIDs)
	})

	t.Run("acknowledges illegal transition", func(t *testing.T) {
		api := newTestAPI(t)
		api.payments.err = &domain.IllegalTransitionError{Kind: "payment", From: "expired", To: "paid"}
		rec := webhookRequest(t, api, completed, stripeSignature(completed, webhookSecret))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("asks for redelivery on transient failure", func(t *testing.T) {
		api := newTestAPI(t)
		api.payments.err = errors.New("db down")
		rec := webhookRequest(t, api, completed, stripeSignature(completed, webhookSecret))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		api.payments.err = fmt.Errorf("confirm session: %w", domain.ErrGatewayTransport)
		rec = webhookRequest(t, api, completed, stripeSignature(completed, webhookSecret))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestOrdersSocket_TokenFromQuery(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/orders?token="+token(t, "u7", domain.RoleCustomer), nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)
	assert.Equal(t, "u7", api.stream.userID)

	req = httptest.NewRequest(http.MethodGet, "/ws/orders", nil)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
	req.Header.Set("Origin", "https://shop.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://shop.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
