package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/cache"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/service"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/store/memory"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier123")

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSettingsCache{}, 5*time.Second)
	auth := NewAuthManager(testSecret, time.Hour, repo)
	return New(svc, auth, "*").Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func fetchCSRF(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf endpoint returned %d", rec.Code)
	}
	var resp struct {
		Token string `json:"csrf_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return resp.Token
}

func TestHealthEndpointIsPublic(t *testing.T) {
	handler := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/products", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/products", "garbage-token", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestAdminRoutesRejectCashier(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/audit-logs", token, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on audit logs, got %d", rec.Code)
	}
}

func TestMutatingRoutesRequireCSRF(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")

	body := domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 1}},
		PaymentMethod: domain.PaymentCard,
	}

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/checkout", token, "", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/checkout", token, "not-a-real-token", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with bogus CSRF token, got %d", rec.Code)
	}
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")
	csrf := fetchCSRF(t, handler)

	// Agua at 1.50 x 2 = 3.00 with the seeded zero tax rate.
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 2}},
		PaymentMethod:  domain.PaymentCash,
		ReceivedAmount: decPtr("5.00"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	if !resp.Change.Equal(decimal.RequireFromString("2.00")) {
		t.Fatalf("change = %s, want 2.00", resp.Change)
	}
	if resp.Sale.ReceiptNumber == "" {
		t.Fatalf("missing receipt number")
	}

	// The sale must be readable back through the API.
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/sales/"+resp.Sale.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sale lookup returned %d", rec.Code)
	}

	// Cash with no received_amount field is exact payment, not a rejection.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 1}},
		PaymentMethod: domain.PaymentCash,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("cash checkout without received amount returned %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	if !resp.Change.IsZero() {
		t.Fatalf("change = %s, want 0 when received amount omitted", resp.Change)
	}
}

func TestCheckoutErrorsMapToStatuses(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")
	csrf := fetchCSRF(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-NO-EXISTE", Qty: 1}},
		PaymentMethod: domain.PaymentCard,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 9999}},
		PaymentMethod: domain.PaymentCard,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 1}},
		PaymentMethod:  domain.PaymentCash,
		ReceivedAmount: decPtr("0.50"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for underpayment, got %d", rec.Code)
	}
}

func TestRegisterLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")
	csrf := fetchCSRF(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/register/open", token, csrf, domain.RegisterOpenRequest{
		OpeningAmount: decimal.RequireFromString("100.00"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/register/open", token, csrf, domain.RegisterOpenRequest{
		OpeningAmount: decimal.RequireFromString("50.00"),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double open, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/register/movements", token, csrf, domain.MovementRequest{
		Type: domain.MovementExpense, Amount: decimal.RequireFromString("12.50"), Description: "hielo",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("movement returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/register/summary", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary returned %d", rec.Code)
	}
	var summary domain.RegisterSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if !summary.ExpectedCash.Equal(decimal.RequireFromString("87.50")) {
		t.Fatalf("expected cash = %s, want 87.50", summary.ExpectedCash)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/register/close", token, csrf, domain.RegisterCloseRequest{
		CountedAmount: decimal.RequireFromString("87.50"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("close returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTaxRateUpdateRequiresAdminOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	csrf := fetchCSRF(t, handler)

	cashierToken := login(t, handler, "cashier", "cashier123")
	rec := doRequest(t, handler, http.MethodPut, "/api/v1/settings/tax-rate", cashierToken, csrf, domain.TaxRateUpdateRequest{
		TaxRatePercent: decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier tax update, got %d", rec.Code)
	}

	adminToken := login(t, handler, "admin", "admin123")
	rec = doRequest(t, handler, http.MethodPut, "/api/v1/settings/tax-rate", adminToken, csrf, domain.TaxRateUpdateRequest{
		TaxRatePercent: decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin tax update returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/settings/tax-rate", cashierToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tax rate read returned %d", rec.Code)
	}
	var resp domain.TaxRateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode tax rate: %v", err)
	}
	if !resp.TaxRatePercent.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("rate = %s, want 10", resp.TaxRatePercent)
	}
}

func TestLoginRateLimiting(t *testing.T) {
	handler := newTestAPI(t)

	var last int
	for i := 0; i < 6; i++ {
		rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
			Username: "admin", Password: "wrong-password",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst of failed logins, got %d", last)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")
	csrf := fetchCSRF(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader([]byte(`{"items":[],"sneaky":true}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}
