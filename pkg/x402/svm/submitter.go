package svm

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/x402svm/facilitator/internal/logger"
)

// defaultPollInterval is the cadence for signature status polling after a
// send. Roughly one slot on mainnet.
const defaultPollInterval = 500 * time.Millisecond

// Submitter broadcasts a signed transaction and waits for confirmation,
// with bounded retry. Resubmitting the same transaction is safe: the chain
// rejects duplicates by signature.
type Submitter struct {
	chain        ChainClient
	logger       zerolog.Logger
	pollInterval time.Duration
	backoffUnit  time.Duration
}

// NewSubmitter creates a submitter over the chain client.
func NewSubmitter(chain ChainClient, log zerolog.Logger) *Submitter {
	return &Submitter{
		chain:        chain,
		logger:       log,
		pollInterval: defaultPollInterval,
		backoffUnit:  time.Second,
	}
}

// SubmitAndConfirm sends the transaction and polls its signature status
// until confirmation, an on-chain failure, or the timeout. Transient RPC
// errors while polling are logged and retried at the same cadence.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, timeout time.Duration) (solana.Signature, error) {
	signature, err := s.chain.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	s.logger.Info().
		Str("signature", logger.TruncateAddress(signature.String())).
		Msg("settle.transaction_sent")

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return solana.Signature{}, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return solana.Signature{}, fmt.Errorf("transaction confirmation timed out after %s", timeout)
		}

		status, err := s.chain.SignatureStatus(ctx, signature)
		if err != nil {
			// RPC hiccups while polling are not terminal; the transaction
			// may already be confirming.
			s.logger.Warn().
				Err(err).
				Str("signature", logger.TruncateAddress(signature.String())).
				Msg("settle.status_poll_failed")
			continue
		}

		switch status.State {
		case TxConfirmed:
			s.logger.Info().
				Str("signature", logger.TruncateAddress(signature.String())).
				Msg("settle.transaction_confirmed")
			return signature, nil
		case TxFailed:
			return solana.Signature{}, fmt.Errorf("transaction failed: %s", status.Err)
		case TxPending:
			continue
		}
	}
}

// SubmitWithRetries wraps SubmitAndConfirm with exponential backoff between
// attempts (1s, 2s, 4s, ...). Only the last failure is surfaced.
func (s *Submitter) SubmitWithRetries(ctx context.Context, tx *solana.Transaction, maxAttempts int, timeout time.Duration) (solana.Signature, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("settle.submission_attempt")

		signature, err := s.SubmitAndConfirm(ctx, tx, timeout)
		if err == nil {
			return signature, nil
		}
		lastErr = err

		s.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("settle.submission_attempt_failed")

		if attempt < maxAttempts {
			backoff := s.backoffUnit << (attempt - 1)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return solana.Signature{}, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return solana.Signature{}, fmt.Errorf("all %d submission attempts failed: %w", maxAttempts, lastErr)
}
