package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/service"
	"lpgdepot/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/auth/login", a.handleLogin)
	mux.HandleFunc("/api/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/products", a.requireAuth(a.handleProducts, domain.CapProductRead))
	mux.HandleFunc("/api/products/low-stock", a.requireAuth(a.handleLowStockProducts, domain.CapProductRead))
	mux.HandleFunc("/api/products/", a.requireAuth(a.handleProductActions, domain.CapProductRead))

	mux.HandleFunc("/api/cylinders", a.requireAuth(a.handleCylinders, domain.CapCylinderRead))
	mux.HandleFunc("/api/cylinders/due-inspection", a.requireAuth(a.handleCylindersDueInspection, domain.CapCylinderRead))
	mux.HandleFunc("/api/cylinders/", a.requireAuth(a.handleCylinderActions, domain.CapCylinderRead))

	mux.HandleFunc("/api/customers", a.requireAuth(a.handleCustomers, domain.CapCustomerRead))
	mux.HandleFunc("/api/customers/", a.requireAuth(a.handleCustomerActions, domain.CapCustomerRead))

	mux.HandleFunc("/api/sales", a.requireAuth(a.handleSales, domain.CapSaleRead))
	mux.HandleFunc("/api/sales/report", a.requireAuth(a.handleSalesReport, domain.CapSaleRead))
	mux.HandleFunc("/api/sales/", a.requireAuth(a.handleSaleActions, domain.CapSaleRead))

	mux.HandleFunc("/api/delivery/personnel", a.requireAuth(a.handlePersonnel, domain.CapDeliveryRead))
	mux.HandleFunc("/api/delivery/personnel/", a.requireAuth(a.handlePersonnelActions, domain.CapDeliveryRead))
	mux.HandleFunc("/api/delivery/assign", a.requireAuth(a.handleDeliveryAssign, domain.CapDeliveryRead))
	mux.HandleFunc("/api/delivery/routes", a.requireAuth(a.handleRoutes, domain.CapDeliveryRead))
	mux.HandleFunc("/api/delivery/routes/", a.requireAuth(a.handleRouteActions, domain.CapDeliveryRead))

	mux.HandleFunc("/api/safety/checklists", a.requireAuth(a.handleChecklists, domain.CapSafetyRead))
	mux.HandleFunc("/api/safety/checklists/", a.requireAuth(a.handleChecklistActions, domain.CapSafetyRead))

	mux.HandleFunc("/api/audit-logs", a.requireAuth(a.handleAuditLogs, domain.CapAuditRead))
	mux.HandleFunc("/api/staff", a.requireAuth(a.handleStaff, domain.CapStaffManage))

	return a.withMiddleware(mux)
}

// requireAuth authenticates the bearer token and gates the route on the
// weakest capability it needs. Handlers for mutating methods rely on the
// service layer to enforce the stronger write capability.
func (a *API) requireAuth(next http.HandlerFunc, capability domain.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if !domain.HasCapability(actor.Role, capability) {
			writeError(w, http.StatusForbidden, errors.New("missing capability"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeData(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation.
// Login is excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods
// (POST/PUT/PATCH/DELETE). Returns false and writes an error response if
// validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true")
		products, err := a.service.ListProducts(r.Context(), activeOnly)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeList(w, products, len(products), len(products), 1, len(products))
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusCreated, "product created", product)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleLowStockProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	products, err := a.service.ListLowStockProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeList(w, products, len(products), len(products), 1, len(products))
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	productID := pathTail(r.URL.Path, "/api/products/")
	if productID == "" || strings.Contains(productID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), productID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, product)
	case http.MethodPut:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateProduct(r.Context(), productID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "product updated", updated)
	case http.MethodDelete:
		// Soft delete: the product stays queryable but can no longer be sold.
		inactive := false
		updated, err := a.service.UpdateProduct(r.Context(), productID, domain.ProductUpdateRequest{Active: &inactive})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "product deactivated", updated)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCylinders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page, limit := parsePage(r, 50, 200)
		filter := domain.CylinderFilter{
			Status:   domain.CylinderStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
			Capacity: domain.CylinderCapacity(strings.TrimSpace(r.URL.Query().Get("capacity"))),
			Search:   strings.TrimSpace(r.URL.Query().Get("search")),
			Page:     page,
			Limit:    limit,
		}
		cylinders, total, err := a.service.ListCylinders(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeList(w, cylinders, len(cylinders), total, page, limit)
	case http.MethodPost:
		var req domain.CylinderRegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cylinder, err := a.service.RegisterCylinder(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusCreated, "cylinder registered", cylinder)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCylindersDueInspection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	withinDays := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("within_days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, errors.New("within_days must be a positive integer"))
			return
		}
		withinDays = parsed
	}
	cylinders, err := a.service.ListCylindersDueInspection(r.Context(), withinDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeList(w, cylinders, len(cylinders), len(cylinders), 1, len(cylinders))
}

func (a *API) handleCylinderActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/cylinders/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("cylinder serial required"))
		return
	}

	if serial, ok := strings.CutSuffix(tail, "/status"); ok {
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.CylinderStatusUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cylinder, err := a.service.UpdateCylinderStatus(r.Context(), strings.Trim(serial, "/"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "cylinder status updated", cylinder)
		return
	}

	if serial, ok := strings.CutSuffix(tail, "/inspection"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.InspectionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cylinder, err := a.service.RecordInspection(r.Context(), strings.Trim(serial, "/"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusCreated, "inspection recorded", cylinder)
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	cylinder, err := a.service.GetCylinder(r.Context(), tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, cylinder)
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page, limit := parsePage(r, 50, 200)
		search := strings.TrimSpace(r.URL.Query().Get("search"))
		customers, total, err := a.service.ListCustomers(r.Context(), search, page, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeList(w, customers, len(customers), total, page, limit)
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		customer, err := a.service.CreateCustomer(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusCreated, "customer created", customer)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	customerID := pathTail(r.URL.Path, "/api/customers/")
	if customerID == "" || strings.Contains(customerID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("customer id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		customer, err := a.service.GetCustomer(r.Context(), customerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, customer)
	case http.MethodPut:
		var req domain.CustomerUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateCustomer(r.Context(), customerID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "customer updated", updated)
	case http.MethodDelete:
		inactive := false
		updated, err := a.service.UpdateCustomer(r.Context(), customerID, domain.CustomerUpdateRequest{Active: &inactive})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "customer deactivated", updated)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := saleFilterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sales, total, err := a.service.ListSales(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeList(w, sales, len(sales), total, filter.Page, filter.Limit)
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusCreated, "sale recorded", sale)
	default:
		writeMethodNotAllowed(w)
	}
}

func saleFilterFromQuery(r *http.Request) (domain.SaleFilter, error) {
	page, limit := parsePage(r, 50, 200)
	filter := domain.SaleFilter{
		CustomerID:     strings.TrimSpace(r.URL.Query().Get("customer")),
		PaymentStatus:  domain.PaymentStatus(strings.TrimSpace(r.URL.Query().Get("payment_status"))),
		DeliveryStatus: domain.DeliveryStatus(strings.TrimSpace(r.URL.Query().Get("delivery_status"))),
		Page:           page,
		Limit:          limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.SaleFilter{}, fmt.Errorf("invalid from date %q", raw)
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.SaleFilter{}, fmt.Errorf("invalid to date %q", raw)
		}
		// Inclusive of the whole end date.
		to := parsed.AddDate(0, 0, 1)
		filter.To = &to
	}
	return filter, nil
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.SalesReport(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/sales/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}

	if saleID, ok := strings.CutSuffix(tail, "/payment"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.SalePaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.RecordPayment(r.Context(), strings.Trim(saleID, "/"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "payment recorded", sale)
		return
	}

	if saleID, ok := strings.CutSuffix(tail, "/delivery-status"); ok {
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.DeliveryStatusUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.UpdateDeliveryStatus(r.Context(), strings.Trim(saleID, "/"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "delivery status updated", sale)
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	sale, err := a.service.GetSale(r.Context(), tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, sale)
}

func (a *API) handlePersonnel(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		personnel, err := a.service.ListPersonnel(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeList(w, personnel, len(personnel), len(personnel), 1, len(personnel))
	case http.MethodPost:
		var req domain.PersonnelCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreatePersonnel(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusCreated, "personnel created", created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePersonnelActions(w http.ResponseWriter, r *http.Request) {
	personnelID := pathTail(r.URL.Path, "/api/delivery/personnel/")
	if personnelID == "" || strings.Contains(personnelID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("personnel id required"))
		return
	}
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.PersonnelUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := a.service.UpdatePersonnel(r.Context(), personnelID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "personnel updated", updated)
}

func (a *API) handleDeliveryAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.DeliveryAssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	route, err := a.service.AssignDeliveries(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "deliveries assigned", route)
}

func (a *API) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	personnelID := strings.TrimSpace(r.URL.Query().Get("personnel_id"))
	routes, err := a.service.ListRoutes(r.Context(), personnelID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeList(w, routes, len(routes), len(routes), 1, len(routes))
}

func (a *API) handleRouteActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/delivery/routes/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("route id required"))
		return
	}

	if routeID, saleID, ok := strings.Cut(tail, "/stops/"); ok {
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		saleID = strings.Trim(saleID, "/")
		if routeID == "" || saleID == "" {
			writeError(w, http.StatusBadRequest, errors.New("route id and sale id required"))
			return
		}
		var req domain.RouteStopUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		route, err := a.service.UpdateRouteStop(r.Context(), routeID, saleID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "route stop updated", route)
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	route, err := a.service.GetRoute(r.Context(), tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, route)
}

func (a *API) handleChecklists(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		checklists, err := a.service.ListChecklists(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeList(w, checklists, len(checklists), len(checklists), 1, len(checklists))
	case http.MethodPost:
		var req domain.ChecklistCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		checklist, err := a.service.CreateChecklist(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusCreated, "checklist created", checklist)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleChecklistActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/safety/checklists/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("checklist id required"))
		return
	}

	if saleID, ok := strings.CutPrefix(tail, "sale/"); ok {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		checklist, err := a.service.GetChecklistForSale(r.Context(), strings.Trim(saleID, "/"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, checklist)
		return
	}

	if checklistID, ok := strings.CutSuffix(tail, "/acknowledge"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.AcknowledgeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		checklist, err := a.service.AcknowledgeChecklist(r.Context(), strings.Trim(checklistID, "/"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "checklist acknowledged", checklist)
		return
	}

	if checklistID, itemID, ok := strings.Cut(tail, "/items/"); ok {
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		itemID = strings.Trim(itemID, "/")
		if checklistID == "" || itemID == "" {
			writeError(w, http.StatusBadRequest, errors.New("checklist id and item id required"))
			return
		}
		var req domain.ChecklistItemCheckRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		checklist, err := a.service.CheckChecklistItem(r.Context(), checklistID, itemID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "checklist item checked", checklist)
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	checklist, err := a.service.GetChecklist(r.Context(), tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, checklist)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	page, limit := parsePage(r, 100, 500)
	filter := domain.AuditFilter{
		Resource: domain.Resource(strings.TrimSpace(r.URL.Query().Get("resource"))),
		Actor:    strings.TrimSpace(r.URL.Query().Get("actor")),
		Page:     page,
		Limit:    limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from date %q", raw))
			return
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to date %q", raw))
			return
		}
		to := parsed.AddDate(0, 0, 1)
		filter.To = &to
	}

	logs, total, err := a.service.ListAuditLogs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeList(w, logs, len(logs), total, page, limit)
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		staff, err := a.auth.ListStaff(r.Context(), actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeList(w, staff, len(staff), len(staff), 1, len(staff))
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.auth.CreateStaff(r.Context(), actor, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeMessage(w, http.StatusCreated, "staff account created", created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func pathTail(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.Trim(strings.TrimPrefix(path, prefix), "/"))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePage(r *http.Request, fallbackLimit, maxLimit int) (page, limit int) {
	page = 1
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}
	return page, parsePositiveLimit(r.URL.Query().Get("limit"), fallbackLimit, maxLimit)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeServiceError maps service and store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientInventory):
		return http.StatusConflict
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"data":    data,
	})
}

func writeMessage(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func writeList(w http.ResponseWriter, items any, count, total, page, limit int) {
	pages := 1
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	if pages < 1 {
		pages = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    items,
		"count":   count,
		"total":   total,
		"page":    page,
		"pages":   pages,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
