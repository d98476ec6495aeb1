package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lpgdepot/backend/internal/cache"
	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/service"
	"lpgdepot/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopReportCache{})
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, repo)

	return New(svc, auth, "*")
}

// loginAs authenticates against the seeded store and returns a bearer token.
func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data domain.LoginResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if envelope.Data.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return envelope.Data.AccessToken
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{
		"username": "owner",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestProductsListWithToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	items, ok := body["data"].([]any)
	if !ok || len(items) == 0 {
		t.Fatalf("expected product list in data, got %v", body)
	}
	if body["total"] == nil || body["count"] == nil {
		t.Fatalf("expected list metadata in envelope, got %v", body)
	}
}

func TestGetUnknownProductReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")

	req := httptest.NewRequest(http.MethodGet, "/api/products/prd-does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateProductAsStaffForbidden(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "staff", "staff123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.ProductCreateRequest{
		Name:        "Regulator Deluxe",
		Category:    "accessory",
		ProductType: domain.ProductAccessory,
		Stock:       5,
		Price:       899,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/products", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff product create, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1}},
		PaymentMethod: domain.PayCash,
		PaidAmount:    450,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Data domain.Sale `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale response: %v", err)
	}
	if created.Data.ID == "" || created.Data.InvoiceNumber == "" {
		t.Fatalf("expected created sale with invoice, got %+v", created.Data)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/sales/"+created.Data.ID, nil)
	getReq.Header.Set("Authorization", "Bearer "+token)
	getRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching sale, got %d (body: %s)", getRec.Code, getRec.Body.String())
	}
	var fetched struct {
		Data domain.Sale `json:"data"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode fetched sale: %v", err)
	}
	if fetched.Data.Total != created.Data.Total || fetched.Data.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("unexpected fetched sale %+v", fetched.Data)
	}
}

func TestCylinderStatusConflictReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")
	csrf := fetchCSRFToken(t, api)

	condemn := func(target domain.CylinderStatus, wantCode int) {
		t.Helper()
		payload, _ := json.Marshal(domain.CylinderStatusUpdateRequest{Status: target})
		req := httptest.NewRequest(http.MethodPut, "/api/cylinders/CYL-2024-000001/status", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)
		if rec.Code != wantCode {
			t.Fatalf("expected %d moving to %s, got %d (body: %s)", wantCode, target, rec.Code, rec.Body.String())
		}
	}

	condemn(domain.CylinderCondemned, http.StatusOK)
	condemn(domain.CylinderInStock, http.StatusConflict)
}

func TestAuditLogsForbiddenForStaff(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "staff", "staff123")

	req := httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff audit access, got %d", rec.Code)
	}
}

func TestStaffEndpointOwnerOnly(t *testing.T) {
	api := newTestAPI(t)
	ownerToken := loginAs(t, api, "owner", "owner123")
	managerToken := loginAs(t, api, "manager", "manager123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.StaffCreateRequest{Username: "newhire", Password: "secret99"})

	post := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/staff", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(managerToken); code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager creating staff, got %d", code)
	}
	if code := post(ownerToken); code != http.StatusCreated {
		t.Fatalf("expected 201 for owner creating staff, got %d", code)
	}
}

func TestSaleValidationErrorReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")
	csrf := fetchCSRFToken(t, api)

	payload := []byte(fmt.Sprintf(`{"items":[{"product_id":%q,"quantity":0}]}`, "prd-reg-01"))
	req := httptest.NewRequest(http.MethodPost, "/api/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
