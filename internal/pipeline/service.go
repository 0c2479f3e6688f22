// Package pipeline implements the facilitator's verify and settle flows:
// replay protection, payload validation, transaction verification, fee-payer
// signing, and submission, with audit and webhook side effects.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/x402svm/facilitator/internal/audit"
	"github.com/x402svm/facilitator/internal/dedup"
	"github.com/x402svm/facilitator/internal/logger"
	"github.com/x402svm/facilitator/internal/metrics"
	"github.com/x402svm/facilitator/internal/webhooks"
	"github.com/x402svm/facilitator/pkg/x402"
	"github.com/x402svm/facilitator/pkg/x402/svm"
)

// Config bounds the payment flows.
type Config struct {
	FeePayer          solana.PrivateKey
	PaymentExpiry     time.Duration
	SubmitMaxAttempts int
	SubmitTimeout     time.Duration

	// Clock overrides the time source for expiry checks. Nil means
	// time.Now.
	Clock func() time.Time
}

// Service orchestrates verification and settlement. All side effects
// (metrics, audit, webhooks) are non-blocking; the response depends only on
// the verification stages and, for settle, the chain.
type Service struct {
	cfg       Config
	verifier  *svm.Verifier
	submitter *svm.Submitter
	dedup     *dedup.Store
	auditor   *audit.Logger
	hooks     webhooks.Dispatcher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// Injectable for expiry tests.
	clock func() time.Time
}

// New wires the service. The audit logger, webhook dispatcher, and metrics
// collector may each be nil.
func New(cfg Config, verifier *svm.Verifier, submitter *svm.Submitter, store *dedup.Store, auditor *audit.Logger, hooks webhooks.Dispatcher, m *metrics.Metrics, log zerolog.Logger) *Service {
	if cfg.SubmitMaxAttempts <= 0 {
		cfg.SubmitMaxAttempts = 3
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if hooks == nil {
		hooks = webhooks.NopDispatcher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		cfg:       cfg,
		verifier:  verifier,
		submitter: submitter,
		dedup:     store,
		auditor:   auditor,
		hooks:     hooks,
		metrics:   m,
		logger:    log,
		clock:     clock,
	}
}

// dedupMode selects how a transaction fingerprint is recorded: verification
// marks it seen, settlement consumes it. A verified transaction may still be
// settled once; a settled one is rejected everywhere.
type dedupMode int

const (
	dedupVerify dedupMode = iota
	dedupSettle
)

// Verify runs the verification stages in order and reports the first
// failure as a stable tag. Never returns an error: failures, including
// panics in the decode path, become invalid responses.
func (s *Service) Verify(ctx context.Context, req x402.VerifyRequest) (resp x402.VerifyResponse) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("verify.recovered_panic")
			resp = x402.VerifyResponse{IsValid: false, InvalidReason: string(x402.ErrUnexpected)}
		}
	}()

	s.emitAudit(s.requestEvent(audit.EventVerificationRequested, req.PaymentPayload, req.PaymentRequirements, "", ""))

	_, payer, verr := s.runChecks(ctx, req.PaymentPayload, req.PaymentRequirements, dedupVerify)

	network := req.PaymentPayload.Network
	if verr != nil {
		s.observeVerify(network, false, verr.Tag())
		s.recordVerifyFailure(req, payer, verr)
		return x402.VerifyResponse{IsValid: false, InvalidReason: verr.Tag(), Payer: payer}
	}

	s.observeVerify(network, true, "")
	s.recordVerifySuccess(req, payer)
	return x402.VerifyResponse{IsValid: true, Payer: payer}
}

// VerifyBatch verifies requests concurrently across a bounded worker pool.
// Responses align positionally with the input; an empty input yields an
// empty, non-nil slice.
func (s *Service) VerifyBatch(ctx context.Context, reqs []x402.VerifyRequest) []x402.VerifyResponse {
	responses := make([]x402.VerifyResponse, len(reqs))
	if len(reqs) == 0 {
		return responses
	}

	workers := maxWorkers(len(reqs))
	jobs := make(chan int)
	done := make(chan struct{})

	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				responses[i] = s.Verify(ctx, reqs[i])
				done <- struct{}{}
			}
		}()
	}

	go func() {
		for i := range reqs {
			jobs <- i
		}
		close(jobs)
	}()

	for range reqs {
		<-done
	}
	return responses
}

// Settle re-verifies the payment, signs the transaction as fee payer, and
// submits it until confirmed. Verification failures reuse their stable
// tags; signing and submission failures use the settle_error form.
func (s *Service) Settle(ctx context.Context, req x402.SettleRequest) (resp x402.SettleResponse) {
	network := req.PaymentPayload.Network
	start := s.clock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("settle.recovered_panic")
			resp = x402.SettleResponse{Success: false, Network: network, ErrorReason: string(x402.ErrUnexpected)}
		}
	}()

	s.emitAudit(s.requestEvent(audit.EventSettlementRequested, req.PaymentPayload, req.PaymentRequirements, "", ""))

	tx, payer, verr := s.runChecks(ctx, req.PaymentPayload, req.PaymentRequirements, dedupSettle)
	if verr != nil {
		s.observeSettle(network, "rejected", start)
		s.recordSettleFailure(req, payer, "", verr.Tag())
		return x402.SettleResponse{Success: false, Network: network, Payer: payer, ErrorReason: verr.Tag()}
	}

	if err := svm.SignAsFeePayer(tx, s.cfg.FeePayer); err != nil {
		s.logger.Error().Err(err).Msg("settle.fee_payer_signing_failed")
		reason := x402.SettleErrorReason("failed to sign transaction")
		s.observeSettle(network, "failed", start)
		s.recordSettleFailure(req, payer, "", reason)
		return x402.SettleResponse{Success: false, Network: network, Payer: payer, ErrorReason: reason}
	}

	signature, err := s.submitter.SubmitWithRetries(ctx, tx, s.cfg.SubmitMaxAttempts, s.cfg.SubmitTimeout)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("payer", logger.TruncateAddress(payer)).
			Msg("settle.submission_failed")
		reason := x402.SettleErrorReason(err.Error())
		s.observeSettle(network, "failed", start)
		s.recordSettleFailure(req, payer, "", reason)
		return x402.SettleResponse{Success: false, Network: network, Payer: payer, ErrorReason: reason}
	}

	s.logger.Info().
		Str("signature", logger.TruncateAddress(signature.String())).
		Str("payer", logger.TruncateAddress(payer)).
		Str("network", network).
		Msg("settle.completed")

	s.observeSettle(network, "success", start)
	s.recordSettleSuccess(req, payer, signature.String())
	return x402.SettleResponse{
		Success:     true,
		Network:     network,
		Transaction: signature.String(),
		Payer:       payer,
	}
}

// Supported enumerates the scheme/network pairs this facilitator accepts.
func (s *Service) Supported() x402.SupportedResponse {
	networks := make([]string, len(x402.SupportedNetworks))
	copy(networks, x402.SupportedNetworks)
	return x402.SupportedResponse{
		Schemes: []x402.SchemeSupport{
			{Scheme: x402.SchemeExact, Networks: networks},
		},
	}
}

// runChecks executes the ordered verification stages shared by verify and
// settle. The first failing stage wins; later stages never run.
func (s *Service) runChecks(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements, mode dedupMode) (*solana.Transaction, string, *x402.VerifyError) {
	// Replay protection comes first so duplicates are reported as such
	// even when the payload would also fail later checks.
	fingerprint := dedup.Fingerprint(payload.Payload.Transaction)
	fresh := false
	if mode == dedupSettle {
		fresh = s.dedup.CheckAndConsume(fingerprint)
	} else {
		fresh = s.dedup.CheckAndMark(fingerprint)
	}
	if !fresh {
		return nil, "", x402.Reject(x402.ErrDuplicateTransaction)
	}

	if payload.Timestamp != nil && s.cfg.PaymentExpiry > 0 {
		age := s.clock().Unix() - *payload.Timestamp
		if age > int64(s.cfg.PaymentExpiry.Seconds()) {
			return nil, "", x402.Reject(x402.ErrPaymentExpired)
		}
	}

	if payload.Scheme != x402.SchemeExact || req.Scheme != x402.SchemeExact {
		return nil, "", x402.Reject(x402.ErrUnsupportedScheme)
	}

	if payload.Network != req.Network || !x402.NetworkSupported(payload.Network) {
		return nil, "", x402.Reject(x402.ErrInvalidNetwork)
	}

	tx, err := svm.DecodeBase64Transaction(payload.Payload.Transaction)
	if err != nil {
		s.logger.Warn().Err(err).Msg("verify.transaction_decode_failed")
		return nil, "", x402.NewVerifyError(x402.ErrUnexpected, err)
	}
	payer := svm.PayerOfRecord(tx)

	feePayer, err := solana.PublicKeyFromBase58(req.Extra.FeePayer)
	if err != nil {
		s.logger.Warn().Err(err).Msg("verify.fee_payer_key_unparseable")
		return nil, payer, x402.NewVerifyError(x402.ErrUnexpected, fmt.Errorf("parse fee payer: %w", err))
	}

	if err := s.verifier.VerifyTransaction(ctx, tx, req, feePayer); err != nil {
		verr, ok := err.(*x402.VerifyError)
		if !ok {
			verr = x402.NewVerifyError(x402.ErrUnexpected, err)
		}
		return nil, payer, verr
	}

	return tx, payer, nil
}

func (s *Service) observeVerify(network string, valid bool, reason string) {
	if s.metrics != nil {
		s.metrics.ObserveVerify(network, valid, reason)
	}
}

func (s *Service) observeSettle(network, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveSettle(network, status, s.clock().Sub(start))
	}
}

func (s *Service) emitAudit(event audit.Event) {
	if s.auditor != nil {
		s.auditor.Emit(event)
	}
}

func (s *Service) requestEvent(eventType audit.EventType, payload x402.PaymentPayload, req x402.PaymentRequirements, payer, signature string) audit.Event {
	event := audit.NewEvent(eventType)
	event.Network = payload.Network
	event.Amount = req.MaxAmountRequired
	event.Recipient = req.PayTo
	event.TransactionSignature = signature
	if payer == "" {
		payer = x402.PayerUnknown
	}
	event.Payer = payer
	return event
}

func (s *Service) recordVerifySuccess(req x402.VerifyRequest, payer string) {
	s.emitAudit(s.requestEvent(audit.EventVerificationSuccess, req.PaymentPayload, req.PaymentRequirements, payer, ""))
	s.hooks.Notify(webhooks.EventVerificationSuccess, webhooks.EventData{
		Payer:     payer,
		Network:   req.PaymentPayload.Network,
		Amount:    req.PaymentRequirements.MaxAmountRequired,
		Recipient: req.PaymentRequirements.PayTo,
	})
}

func (s *Service) recordVerifyFailure(req x402.VerifyRequest, payer string, verr *x402.VerifyError) {
	eventType := audit.EventVerificationFailed
	switch verr.Code {
	case x402.ErrDuplicateTransaction:
		eventType = audit.EventDuplicateDetected
	case x402.ErrPaymentExpired:
		eventType = audit.EventPaymentExpired
	}

	event := s.requestEvent(eventType, req.PaymentPayload, req.PaymentRequirements, payer, "")
	event.Error = verr.Tag()
	s.emitAudit(event)

	s.hooks.Notify(webhooks.EventVerificationFailure, webhooks.EventData{
		Payer:       payer,
		Network:     req.PaymentPayload.Network,
		Amount:      req.PaymentRequirements.MaxAmountRequired,
		Recipient:   req.PaymentRequirements.PayTo,
		ErrorReason: verr.Tag(),
	})
}

func (s *Service) recordSettleSuccess(req x402.SettleRequest, payer, signature string) {
	s.emitAudit(s.requestEvent(audit.EventSettlementSuccess, req.PaymentPayload, req.PaymentRequirements, payer, signature))
	s.hooks.Notify(webhooks.EventSettlementSuccess, webhooks.EventData{
		Payer:                payer,
		Network:              req.PaymentPayload.Network,
		Amount:               req.PaymentRequirements.MaxAmountRequired,
		Recipient:            req.PaymentRequirements.PayTo,
		TransactionSignature: signature,
	})
}

func (s *Service) recordSettleFailure(req x402.SettleRequest, payer, signature, reason string) {
	eventType := audit.EventSettlementFailed
	switch reason {
	case string(x402.ErrDuplicateTransaction):
		eventType = audit.EventDuplicateDetected
	case string(x402.ErrPaymentExpired):
		eventType = audit.EventPaymentExpired
	}

	event := s.requestEvent(eventType, req.PaymentPayload, req.PaymentRequirements, payer, signature)
	event.Error = reason
	s.emitAudit(event)

	s.hooks.Notify(webhooks.EventSettlementFailure, webhooks.EventData{
		Payer:       payer,
		Network:     req.PaymentPayload.Network,
		Amount:      req.PaymentRequirements.MaxAmountRequired,
		Recipient:   req.PaymentRequirements.PayTo,
		ErrorReason: reason,
	})
}

func maxWorkers(jobs int) int {
	workers := runtime.GOMAXPROCS(0)
	if workers > jobs {
		workers = jobs
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
