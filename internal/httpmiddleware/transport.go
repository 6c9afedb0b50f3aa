// Package httpmiddleware composes http.RoundTripper chains for exchange clients.
package httpmiddleware

import (
	"net"
	"net/http"
	"time"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Middleware wraps a RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// DefaultTransport is tuned for a handful of long-lived exchange connections per follower.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Wrap applies middlewares around base; the first one listed runs first.
func Wrap(base http.RoundTripper, middlewares ...Middleware) http.RoundTripper {
	for i := len(middlewares) - 1; i >= 0; i-- {
		base = middlewares[i](base)
	}

	return base
}

// NewClient builds an http.Client over a fresh DefaultTransport.
// The returned transport lets the owner close idle connections when done.
func NewClient(timeout time.Duration, middlewares ...Middleware) (*http.Client, *http.Transport) {
	base := DefaultTransport()

	return &http.Client{
		Transport: Wrap(base, middlewares...),
		Timeout:   timeout,
	}, base
}
