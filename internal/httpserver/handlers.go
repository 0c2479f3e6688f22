package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/x402svm/facilitator/internal/circuitbreaker"
	"github.com/x402svm/facilitator/internal/versioning"
	"github.com/x402svm/facilitator/pkg/x402"
)

// errorResponse is the envelope for request-level failures (malformed JSON,
// unreadable bodies). Verification failures are not errors at this layer:
// they travel inside a 200 response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}

// verify handles POST /verify.
func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	var req x402.VerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeBadRequest(w, "request body is not a valid verify request: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.service.Verify(r.Context(), req))
}

// verifyBatch handles POST /verify/batch. The body is a JSON array; the
// response array aligns positionally with it.
func (h *handlers) verifyBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []x402.VerifyRequest
	if err := decodeJSON(r.Body, &reqs); err != nil {
		writeBadRequest(w, "request body is not a valid batch of verify requests: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.service.VerifyBatch(r.Context(), reqs))
}

// settle handles POST /settle.
func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	var req x402.SettleRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeBadRequest(w, "request body is not a valid settle request: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.service.Settle(r.Context(), req))
}

// supported handles GET /supported.
func (h *handlers) supported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Supported())
}

// health handles GET /health: a cheap liveness answer that never touches
// the chain.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": versioning.Service,
		"version": versioning.Version,
	})
}

// adminHealth handles GET /admin/health: readiness including the chain RPC
// and circuit breaker states. Reports 503 when the chain is unreachable.
func (h *handlers) adminHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	chainStatus := "ok"
	status := http.StatusOK
	if h.chain != nil {
		if err := h.chain.Health(ctx); err != nil {
			chainStatus = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	body := map[string]interface{}{
		"status":    "ok",
		"version":   versioning.Version,
		"commit":    versioning.Commit,
		"buildDate": versioning.BuildDate,
		"uptime":    time.Since(serverStartTime).Round(time.Second).String(),
		"chain": map[string]string{
			"network": h.cfg.Chain.Network,
			"rpc":     chainStatus,
		},
	}
	if h.breaker != nil {
		body["circuitBreakers"] = map[string]string{
			"chain_rpc": h.breaker.State(circuitbreaker.ServiceChainRPC),
			"webhook":   h.breaker.State(circuitbreaker.ServiceWebhook),
		}
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

// adminStats handles GET /admin/stats.
func (h *handlers) adminStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"uptime": time.Since(serverStartTime).Round(time.Second).String(),
	}
	if h.dedup != nil {
		body["dedup"] = map[string]interface{}{
			"entries": h.dedup.Len(),
		}
	}
	if h.cache != nil {
		stats := h.cache.Stats()
		body["accountCache"] = map[string]interface{}{
			"hits":   stats.Hits,
			"misses": stats.Misses,
			"size":   stats.Size,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// adminConfig handles GET /admin/config. Secrets (fee payer key, webhook
// secret, database credentials) never appear here.
func (h *handlers) adminConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]interface{}{
			"port":               cfg.Server.Port,
			"corsAllowedOrigins": cfg.Server.CORSAllowedOrigins,
		},
		"chain": map[string]interface{}{
			"network":           cfg.Chain.Network,
			"rpcUrl":            cfg.Chain.RPCURL,
			"submitMaxAttempts": cfg.Chain.SubmitMaxAttempts,
			"submitTimeout":     cfg.Chain.SubmitTimeout.Duration.String(),
		},
		"verification": map[string]interface{}{
			"cacheSize":       cfg.Verification.CacheSize,
			"cacheTtl":        cfg.Verification.CacheTTL.Duration.String(),
			"dedupMaxEntries": cfg.Verification.DedupMaxEntries,
			"dedupWindow":     cfg.Verification.DedupWindow.Duration.String(),
			"paymentExpiry":   cfg.Verification.PaymentExpiry.Duration.String(),
		},
		"rateLimit": map[string]interface{}{
			"enabled":   cfg.RateLimit.Enabled,
			"perSecond": cfg.RateLimit.PerSecond,
			"burstSize": cfg.RateLimit.BurstSize,
		},
		"webhook": map[string]interface{}{
			"enabled": cfg.Webhook.Enabled(),
			"url":     cfg.Webhook.URL,
		},
		"audit": map[string]interface{}{
			"backend": cfg.Audit.Backend,
		},
	})
}
