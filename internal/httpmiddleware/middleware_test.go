package httpmiddleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.RoundTripper) http.RoundTripper {
			return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
				calls = append(calls, name)
				return next.RoundTrip(req)
			})
		}
	}

	base := RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		calls = append(calls, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	_, err := Wrap(base, mark("a"), mark("b")).RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "base"}, calls)
}

func TestLogger_RedactsAndKeepsBody(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	payload := strings.Repeat("x", 100)
	base := RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(payload))}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.test/api/v3/account?timestamp=1&signature=deadbeef", nil)
	req.Header.Set("X-MBX-APIKEY", "my-key")

	resp, err := Logger(logger, 10)(base).RoundTrip(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))

	out := logs.String()
	assert.NotContains(t, out, "deadbeef")
	assert.NotContains(t, out, "my-key")
	assert.Contains(t, out, "REDACTED")
}

func TestRateLimit_RespectsContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	base := RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})
	rt := RateLimit(limiter)(base)

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	_, err := rt.RoundTrip(req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = rt.RoundTrip(req.WithContext(ctx))
	assert.Error(t, err)
}
