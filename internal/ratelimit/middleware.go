// Package ratelimit guards the payment endpoints with a per-IP request
// limiter. Verification is cheap but not free (it can reach the chain), so
// an abusive client gets a structured 429 instead of a slot in the queue.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/x402svm/facilitator/internal/config"
	"github.com/x402svm/facilitator/internal/metrics"
)

const (
	defaultPerSecond = 100
	burstFactor      = 2
)

// rateLimitResponse is the JSON body of a 429.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// Middleware builds the per-IP limiter. Returns an identity middleware when
// rate limiting is disabled. The sustained rate is PerSecond; BurstSize
// requests may arrive at once before the limiter pushes back.
func Middleware(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	perSecond := cfg.PerSecond
	if perSecond <= 0 {
		perSecond = defaultPerSecond
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = perSecond * burstFactor
	}

	// httprate counts requests per window; expressing the budget as
	// "burst requests per burst/rate seconds" keeps the sustained rate at
	// PerSecond while allowing bursts up to BurstSize.
	window := time.Duration(float64(burst) / float64(perSecond) * float64(time.Second))
	if window < time.Second {
		window = time.Second
		burst = perSecond
	}
	retryAfter := int(window.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	return httprate.Limit(
		burst,
		window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler(retryAfter, m)),
	)
}

// limitHandler writes the structured 429 response and counts the hit.
func limitHandler(retryAfter int, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           "Rate limit exceeded. Please try again later.",
			RetryAfterSeconds: retryAfter,
		})
	}
}
