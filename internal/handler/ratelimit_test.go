package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/guard"
	"github.com/stretchr/testify/assert"
)

func TestRateLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	h := RateLimit(guard.NewRateLimiter(1, time.Minute, clk), "login")(statusHandler(http.StatusNoContent))

	hit := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/login", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusNoContent, hit("192.0.2.1:5000").Code)

	w := hit("192.0.2.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"code":"RATE_LIMITED"`)

	assert.Equal(t, http.StatusNoContent, hit("192.0.2.2:5000").Code, "budgets are per client")

	clk.Advance(time.Minute)
	assert.Equal(t, http.StatusNoContent, hit("192.0.2.1:5002").Code)
}
