package middleware_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonny/refundbot/internal/adapter/inbound/webhook/middleware"
	"github.com/jonny/refundbot/internal/observability"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signRequest(r *http.Request, secret, body string, at time.Time) {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))
	r.Header.Set("X-Slack-Request-Timestamp", ts)
	r.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signed() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return middleware.BodyReader(middleware.SlackSignature(testSecret, logger)(okHandler()))
}

func TestSlackSignature_Valid(t *testing.T) {
	body := "command=%2Fsupport&user_id=U1"
	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	signRequest(req, testSecret, body, time.Now())

	rec := httptest.NewRecorder()
	signed().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSlackSignature_Rejected(t *testing.T) {
	body := "command=%2Fsupport"
	tests := []struct {
		name string
		sign func(r *http.Request)
	}{
		{"missing headers", func(*http.Request) {}},
		{"wrong secret", func(r *http.Request) { signRequest(r, "other-secret", body, time.Now()) }},
		{"tampered body", func(r *http.Request) { signRequest(r, testSecret, body+"&x=1", time.Now()) }},
		{"stale timestamp", func(r *http.Request) { signRequest(r, testSecret, body, time.Now().Add(-10*time.Minute)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
			tt.sign(req)

			rec := httptest.NewRecorder()
			signed().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "signature")
		})
	}
}

func TestBodyReader_BodyStillReadable(t *testing.T) {
	var seen string
	h := middleware.BodyReader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		raw, ok := middleware.RawBody(r.Context())
		require.True(t, ok)
		assert.Equal(t, seen, string(raw))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload=x")))
	assert.Equal(t, "payload=x", seen)
}

func TestRateLimiter(t *testing.T) {
	rl := middleware.NewRateLimiter(2)
	h := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/slack/commands", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/slack/commands", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	middleware.SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestMetrics_RoutePattern(t *testing.T) {
	m := observability.NewMetrics("test", prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(middleware.Metrics(m))
	r.Post("/slack/{kind}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slack/commands", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/slack/{kind}", "202")))
}
