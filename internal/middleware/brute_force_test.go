package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/persistorai/queuecall/internal/clock"
	"github.com/persistorai/queuecall/internal/middleware"
)

func newTestGuard() (*middleware.BruteForceGuard, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	return middleware.NewBruteForceGuard(nil, clk, quietLogger()), clk //nolint:staticcheck // no cleanup loop in tests
}

func TestBruteForce_SuccessfulAuthResetsCount(t *testing.T) {
	guard, _ := newTestGuard()

	guard.RecordFailure("key1")
	guard.RecordFailure("key1")
	guard.ResetKey("key1")

	if guard.IsBlocked("key1") {
		t.Fatal("key should not be blocked after reset")
	}

	if guard.Len() != 0 {
		t.Errorf("Len = %d, want 0", guard.Len())
	}
}

func TestBruteForce_BlocksAtMaxAttempts(t *testing.T) {
	guard, _ := newTestGuard()

	for range 4 {
		guard.RecordFailure("badkey")
	}

	if guard.IsBlocked("badkey") {
		t.Fatal("key should not be blocked before max failures")
	}

	guard.RecordFailure("badkey")

	if !guard.IsBlocked("badkey") {
		t.Fatal("key should be blocked after max failures")
	}
}

func TestBruteForce_LockoutExpires(t *testing.T) {
	guard, clk := newTestGuard()

	for range 5 {
		guard.RecordFailure("badkey")
	}

	clk.Advance(5 * time.Minute)

	if guard.IsBlocked("badkey") {
		t.Fatal("lockout should expire")
	}
}

func TestBruteForce_WindowResets(t *testing.T) {
	guard, clk := newTestGuard()

	for range 4 {
		guard.RecordFailure("slowkey")
	}

	clk.Advance(16 * time.Minute)
	guard.RecordFailure("slowkey")

	if guard.IsBlocked("slowkey") {
		t.Fatal("failures outside the window should not accumulate")
	}
}

func TestBruteForce_Middleware(t *testing.T) {
	guard, _ := newTestGuard()

	for range 5 {
		guard.RecordFailure("blockedtoken")
	}

	r := gin.New()
	r.Use(middleware.BruteForceMiddleware(guard))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"blocked token", "Bearer blockedtoken", http.StatusTooManyRequests},
		{"no token", "", http.StatusOK},
		{"other token", "Bearer goodtoken", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("got %d, want %d", w.Code, tt.want)
			}
		})
	}
}
