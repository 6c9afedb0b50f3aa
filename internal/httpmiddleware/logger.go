package httpmiddleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

var sensitiveHeaders = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"x-api-key",
	"x-mbx-apikey",
}

var sensitiveParams = []string{"signature", "apikey", "api_key"}

// Logger logs every exchange round trip at debug level, failures and 4xx/5xx louder.
// maxBodySize: 0 disables body logging, >0 logs up to that many bytes of the response.
func Logger(logger *slog.Logger, maxBodySize int) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("url", redactURL(req.URL)),
				slog.Duration("duration", duration),
			}

			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
				logger.LogAttrs(req.Context(), slog.LevelError, "Exchange request failed", attrs...)

				return resp, err
			}

			attrs = append(attrs, slog.Int("status", resp.StatusCode), headerGroup(req.Header))

			if maxBodySize > 0 && resp.Body != nil {
				head, body := peekBody(resp.Body, maxBodySize)
				resp.Body = body
				attrs = append(attrs, slog.String("body", string(head)))
			}

			level := slog.LevelDebug
			switch {
			case resp.StatusCode >= 500:
				level = slog.LevelError
			case resp.StatusCode >= 400:
				level = slog.LevelWarn
			}

			logger.LogAttrs(req.Context(), level, "Exchange response", attrs...)

			return resp, nil
		})
	}
}

// peekBody reads up to n bytes and returns a body that still yields the full stream.
func peekBody(body io.ReadCloser, n int) ([]byte, io.ReadCloser) {
	head := make([]byte, n)
	read, _ := io.ReadFull(body, head)
	head = head[:read]

	return head, struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), body), body}
}

func headerGroup(h http.Header) slog.Attr {
	attrs := make([]slog.Attr, 0, len(h))
	for k, v := range h {
		if slices.Contains(sensitiveHeaders, strings.ToLower(k)) {
			attrs = append(attrs, slog.String(k, "[REDACTED]"))
			continue
		}
		attrs = append(attrs, slog.String(k, strings.Join(v, ", ")))
	}

	return slog.Attr{Key: "headers", Value: slog.GroupValue(attrs...)}
}

func redactURL(u *url.URL) string {
	if u.RawQuery == "" {
		return u.String()
	}

	q := u.Query()
	for key := range q {
		if slices.Contains(sensitiveParams, strings.ToLower(key)) {
			q.Set(key, "REDACTED")
		}
	}

	c := *u
	c.RawQuery = q.Encode()

	return c.String()
}
