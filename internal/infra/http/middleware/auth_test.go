package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"wabridge/platform/logger"
)

func authedHandler(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	log := logger.New(logger.TestConfig())
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return APIKeyAuth(apiKey, log)(next)
}

func TestMissingAPIKeyIsUnauthorized(t *testing.T) {
	h := authedHandler(t, "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instance/list", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWrongAPIKeyIsUnauthorized(t *testing.T) {
	h := authedHandler(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/instance/list", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerTokenIsAccepted(t *testing.T) {
	h := authedHandler(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/instance/list", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAPIKeyHeaderIsAccepted(t *testing.T) {
	h := authedHandler(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/instance/list", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthStaysPublic(t *testing.T) {
	h := authedHandler(t, "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEmptyConfiguredKeyRejectsEverything(t *testing.T) {
	h := authedHandler(t, "")

	req := httptest.NewRequest(http.MethodGet, "/instance/list", nil)
	req.Header.Set("X-API-Key", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
