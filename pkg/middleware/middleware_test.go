package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{"header", "Bearer abc", "/ws", "abc"},
		{"lowercase scheme", "bearer  abc ", "/ws", "abc"},
		{"query fallback", "", "/ws?token=xyz", "xyz"},
		{"other scheme wins over query", "Basic dXNlcg==", "/ws?token=xyz", ""},
		{"nothing", "", "/ws", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, BearerToken(r))
		})
	}
}

func TestUserIDRoundTrip(t *testing.T) {
	_, ok := UserID(context.Background())
	assert.False(t, ok)

	id, ok := UserID(WithUserID(context.Background(), "carrier"))
	assert.True(t, ok)
	assert.Equal(t, "carrier", id)

	_, ok = UserID(WithUserID(context.Background(), ""))
	assert.False(t, ok)
}

func TestRequestLogger(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	var got *slog.Logger
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = r.Context().Value(LoggerKey).(*slog.Logger)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotNil(t, got)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestTracerMiddlewarePassesStatus(t *testing.T) {
	h := TracerMiddleware("cargolink")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence/online", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
