// Package httputil configures the outbound HTTP clients the facilitator
// uses for webhook delivery.
package httputil

import (
	"net/http"
	"time"
)

// NewClient builds an HTTP client with connection pooling tuned for
// repeated deliveries to a small set of hosts. Keeping idle connections
// warm avoids a TLS handshake on every webhook.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
