package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/service"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/store/memory"
)

type testEnv struct {
	server *httptest.Server
	csrf   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.New()
	for _, u := range []struct {
		username string
		role     string
	}{
		{"admin", domain.RoleAdmin},
		{"kasir", domain.RoleKasir},
	} {
		err := repo.CreateUser(context.Background(), domain.UserAccount{
			Username: u.username,
			Password: u.username + "-secret",
			Role:     u.role,
			Active:   true,
		})
		if err != nil {
			t.Fatalf("seed user %s: %v", u.username, err)
		}
	}
	_, err := repo.CreateMedicine(context.Background(), domain.Medicine{
		ID:       "med-a",
		Name:     "Paracetamol 500mg",
		Category: "Obat Bebas",
		Price:    1000,
		Stock:    5,
	})
	if err != nil {
		t.Fatalf("seed medicine: %v", err)
	}

	svc := service.New(repo, nil, nil, time.Second)
	auth := NewAuthManager(testSecret, time.Hour, repo)
	api := New(svc, auth, "http://127.0.0.1:3000")
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	env := &testEnv{server: server}
	env.csrf = env.fetchCSRF(t)
	return env
}

func (e *testEnv) fetchCSRF(t *testing.T) string {
	t.Helper()
	resp, err := http.Get(e.server.URL + "/api/v1/auth/csrf-token")
	if err != nil {
		t.Fatalf("csrf fetch: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Token string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("csrf decode: %v", err)
	}
	return payload.Token
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: username + "-secret"})
	resp, err := http.Post(e.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var loginResp domain.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		t.Fatalf("login decode: %v", err)
	}
	return loginResp.AccessToken
}

func (e *testEnv) do(t *testing.T, method string, path string, token string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-CSRF-Token", e.csrf)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/medicines", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestMutationWithoutCSRFRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "kasir")

	body, _ := json.Marshal(domain.TransactionCreateRequest{
		Items:         []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 1}},
		PaymentAmount: 1000,
	})
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/transactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without csrf token", resp.StatusCode)
	}
}

func TestKasirCannotCreateMedicine(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "kasir")

	resp := env.do(t, http.MethodPost, "/api/v1/medicines", token, domain.MedicineCreateRequest{
		Name: "Ibuprofen", Category: "Obat Bebas", Price: 12000, Stock: 30,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")
	kasir := env.login(t, "kasir")

	// Sell the whole stock in one transaction.
	resp := env.do(t, http.MethodPost, "/api/v1/transactions", kasir, domain.TransactionCreateRequest{
		Items:         []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 5}},
		PaymentAmount: 5000,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	decodeBody(t, resp, &created)
	if created.Transaction.TotalAmount != 5000 || created.Transaction.ChangeAmount != 0 {
		t.Fatalf("transaction = %+v", created.Transaction)
	}

	// Stock is gone, so the next sale conflicts.
	resp = env.do(t, http.MethodPost, "/api/v1/transactions", kasir, domain.TransactionCreateRequest{
		Items:         []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 1}},
		PaymentAmount: 1000,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("oversell status = %d, want 409", resp.StatusCode)
	}

	// Underpayment is a client error.
	resp = env.do(t, http.MethodPost, "/api/v1/transactions", kasir, domain.TransactionCreateRequest{
		Items:         []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 1}},
		PaymentAmount: 500,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusConflict {
		t.Fatalf("underpay status = %d", resp.StatusCode)
	}

	// Cancel restores stock; a second cancel conflicts.
	resp = env.do(t, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/cancel", kasir, struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/cancel", kasir, struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double cancel status = %d, want 409", resp.StatusCode)
	}

	// Purge is admin-only.
	resp = env.do(t, http.MethodDelete, "/api/v1/transactions/"+created.Transaction.ID, kasir, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("kasir delete status = %d, want 403", resp.StatusCode)
	}
	resp = env.do(t, http.MethodDelete, "/api/v1/transactions/"+created.Transaction.ID, admin, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete status = %d, want 200", resp.StatusCode)
	}
}

func TestReportsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	kasir := env.login(t, "kasir")
	admin := env.login(t, "admin")

	resp := env.do(t, http.MethodGet, "/api/v1/reports", kasir, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("kasir reports status = %d, want 403", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/reports", admin, domain.ReportGenerateRequest{
		Type:      domain.ReportTypeDaily,
		StartDate: "2025-01-05",
		EndDate:   "2025-01-05",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate status = %d, want 201", resp.StatusCode)
	}
	var generated struct {
		Report domain.Report `json:"report"`
	}
	decodeBody(t, resp, &generated)
	if generated.Report.Title != "Laporan Harian - 5 Januari 2025" {
		t.Fatalf("title = %q", generated.Report.Title)
	}
}

func TestDashboardStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	kasir := env.login(t, "kasir")

	resp := env.do(t, http.MethodGet, "/api/v1/dashboard/stats", kasir, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", resp.StatusCode)
	}
	var stats domain.DashboardStats
	decodeBody(t, resp, &stats)
	if stats.Medicines.Total != 1 {
		t.Fatalf("medicines total = %d, want 1", stats.Medicines.Total)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrInvalidInput, http.StatusBadRequest},
		{store.ErrPaymentTooLow, http.StatusBadRequest},
		{store.ErrInsufficientStock, http.StatusConflict},
		{store.ErrAlreadyCancelled, http.StatusConflict},
		{errors.New("admin role required"), http.StatusForbidden},
		{errors.New("authentication required"), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeServiceError(rec, tc.err)
		if rec.Code != tc.status {
			t.Errorf("writeServiceError(%v) = %d, want %d", tc.err, rec.Code, tc.status)
		}
	}
}

func TestUnknownErrorsAreRedactedAs500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, errors.New(`pq: duplicate key value violates unique constraint "transactions_number_key"`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for an unrecognized error", rec.Code)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Error != "internal server error" {
		t.Fatalf("body error = %q, the database message must not leak", payload.Error)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}
