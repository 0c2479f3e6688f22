package webhooks

import (
	"bytes"
	"container/list"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/x402svm/facilitator/internal/circuitbreaker"
	"github.com/x402svm/facilitator/internal/config"
	"github.com/x402svm/facilitator/internal/httputil"
	"github.com/x402svm/facilitator/internal/metrics"
)

const (
	signatureHeader    = "X-Webhook-Signature"
	userAgent          = "x402-facilitator/2.0"
	defaultQueueSize   = 1000
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	retryBackoffUnit   = 100 * time.Millisecond
)

// HTTPDispatcher posts signed event payloads to a single configured
// endpoint. Events queue through a bounded buffer drained by one worker;
// when the buffer is full the oldest undelivered event is dropped, so a
// slow or dead endpoint can never exert backpressure on payment handling.
type HTTPDispatcher struct {
	cfg     config.WebhookConfig
	client  *http.Client
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	queue   *list.List
	maxSize int
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	closed  bool
}

// New builds a dispatcher for the configured endpoint. Returns a
// NopDispatcher when no URL or secret is configured. The breaker and
// metrics collector are optional.
func New(cfg config.WebhookConfig, breaker *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) Dispatcher {
	if !cfg.Enabled() {
		return NopDispatcher{}
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxSize := cfg.QueueSize
	if maxSize <= 0 {
		maxSize = defaultQueueSize
	}

	d := &HTTPDispatcher{
		cfg:     cfg,
		client:  httputil.NewClient(timeout),
		breaker: breaker,
		metrics: m,
		logger:  log,
		queue:   list.New(),
		maxSize: maxSize,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues an event for delivery. Never blocks: a full queue drops
// its oldest entry to make room.
func (d *HTTPDispatcher) Notify(event EventType, data EventData) {
	payload := Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.queue.Len() >= d.maxSize {
		if front := d.queue.Front(); front != nil {
			d.queue.Remove(front)
		}
		if d.metrics != nil {
			d.metrics.WebhookQueueDropped()
		}
		d.logger.Warn().
			Str("event", string(event)).
			Int("queue_size", d.maxSize).
			Msg("webhook.queue_full_dropping_oldest")
	}
	d.queue.PushBack(payload)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close stops the worker. The in-flight delivery, if any, completes; queued
// events are discarded.
func (d *HTTPDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.quit)
	<-d.done
}

func (d *HTTPDispatcher) run() {
	defer close(d.done)

	for {
		payload, ok := d.pop()
		if ok {
			d.deliver(payload)
			continue
		}

		select {
		case <-d.quit:
			return
		case <-d.wake:
		}
	}
}

func (d *HTTPDispatcher) pop() (Payload, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	front := d.queue.Front()
	if front == nil {
		return Payload{}, false
	}
	d.queue.Remove(front)
	return front.Value.(Payload), true
}

// deliver posts the payload, retrying with exponential backoff
// (100ms, 200ms, 400ms, ...). Failure after the last attempt is logged and
// the event is discarded.
func (d *HTTPDispatcher) deliver(payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", string(payload.Event)).Msg("webhook.marshal_failed")
		return
	}

	maxAttempts := d.cfg.RetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.send(body)
		if lastErr == nil {
			if d.metrics != nil {
				d.metrics.ObserveWebhook(string(payload.Event), "success", time.Since(start), attempt)
			}
			if attempt > 1 {
				d.logger.Info().
					Str("event", string(payload.Event)).
					Int("attempt", attempt).
					Msg("webhook.delivered_after_retry")
			}
			return
		}

		d.logger.Warn().
			Err(lastErr).
			Str("event", string(payload.Event)).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("webhook.delivery_attempt_failed")

		if attempt < maxAttempts {
			backoff := retryBackoffUnit << (attempt - 1)
			select {
			case <-d.quit:
				return
			case <-time.After(backoff):
			}
		}
	}

	if d.metrics != nil {
		d.metrics.ObserveWebhook(string(payload.Event), "failed", time.Since(start), maxAttempts)
	}
	d.logger.Error().
		Err(lastErr).
		Str("event", string(payload.Event)).
		Int("attempts", maxAttempts).
		Msg("webhook.delivery_failed")
}

func (d *HTTPDispatcher) send(body []byte) error {
	doSend := func() (interface{}, error) {
		return nil, d.post(body)
	}

	var err error
	if d.breaker != nil {
		_, err = d.breaker.Execute(circuitbreaker.ServiceWebhook, doSend)
	} else {
		_, err = doSend()
	}
	return err
}

func (d *HTTPDispatcher) post(body []byte) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(signatureHeader, Sign(body, d.cfg.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, d.cfg.URL)
	}
	return nil
}

// Sign computes the hex HMAC-SHA-256 of the body under the shared secret.
// Receivers recompute this over the raw bytes to authenticate the payload.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
