package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/practicekit/booking-engine/pkg/logging"
)

func newTestRouter(t *testing.T, staffSecret string) http.Handler {
	t.Helper()
	return New(&Config{
		Logger:          logging.Default(),
		StaffAuthSecret: staffSecret,
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterRejectsUnauthenticatedAPI(t *testing.T) {
	router := newTestRouter(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/practices/prac_1/appointments/", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterAuthenticatedAPIReachesTenancyCheck(t *testing.T) {
	router := newTestRouter(t, "secret")

	claims := jwt.RegisteredClaims{
		Subject:   "staff-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	// No appointments handler is wired, so a valid token should clear auth
	// and tenancy and fall through to chi's 404.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/practices/prac_1/appointments/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code == http.StatusUnauthorized || rr.Code == http.StatusBadRequest {
		t.Fatalf("expected request to clear auth and tenancy, got %d", rr.Code)
	}
}

func TestRouterRateLimitsAPIRequests(t *testing.T) {
	router := New(&Config{
		Logger:         logging.Default(),
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/practices/prac_1/appointments/", nil)
	req.Header.Set("X-Real-Ip", "10.0.0.1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code == http.StatusTooManyRequests {
		t.Fatalf("expected first request within burst, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rr.Code)
	}
}

func TestRouterRateLimitSkippedWhenDisabled(t *testing.T) {
	router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/practices/prac_1/appointments/", nil)
	req.Header.Set("X-Real-Ip", "10.0.0.1")

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			t.Fatalf("expected no limiting with zero rate, got %d on request %d", rr.Code, i+1)
		}
	}
}
