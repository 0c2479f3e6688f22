// Package svm verifies and settles exact-scheme SVM payments. Verification
// inspects a partially signed token transfer against the payment
// requirements without mutating chain state; settlement co-signs as fee
// payer and submits.
package svm

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402svm/facilitator/internal/circuitbreaker"
	"github.com/x402svm/facilitator/internal/metrics"
	"github.com/x402svm/facilitator/internal/rpcutil"
)

// TxState describes where a submitted transaction is in its lifecycle.
type TxState int

const (
	// TxPending means the cluster has not reported the signature yet.
	TxPending TxState = iota
	// TxConfirmed means the transaction reached confirmed or finalized
	// commitment without an error.
	TxConfirmed
	// TxFailed means the transaction was processed and failed on chain.
	TxFailed
)

// TxStatus is the submitter-facing view of a signature status.
type TxStatus struct {
	State TxState
	Err   string // chain error detail when State == TxFailed
}

// ChainClient is the surface of the chain the verifier and submitter need.
// The production implementation wraps a JSON-RPC client; tests substitute
// a fake.
type ChainClient interface {
	// AccountExists reports whether the account is present on chain.
	AccountExists(ctx context.Context, address solana.PublicKey) (bool, error)

	// SendTransaction broadcasts a fully signed transaction.
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// SignatureStatus looks up the confirmation state of a signature.
	SignatureStatus(ctx context.Context, sig solana.Signature) (TxStatus, error)

	// Health reports whether the RPC node considers itself healthy.
	Health(ctx context.Context) error
}

// RPCClient implements ChainClient over a JSON-RPC endpoint with retry,
// circuit breaking, and call metrics.
type RPCClient struct {
	rpc     *rpc.Client
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
}

// NewRPCClient creates a chain client for the given endpoint. The breaker
// and metrics collector are optional pass-throughs when nil.
func NewRPCClient(endpoint string, breaker *circuitbreaker.Manager, m *metrics.Metrics) *RPCClient {
	if breaker == nil {
		breaker = circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
	}
	return &RPCClient{
		rpc:     rpc.New(endpoint),
		breaker: breaker,
		metrics: m,
	}
}

// AccountExists reports whether the account is present on chain. A missing
// account is a normal outcome, not an RPC failure, so it neither trips the
// breaker nor counts as an RPC error.
func (c *RPCClient) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	result, err := c.breaker.Execute(circuitbreaker.ServiceChainRPC, func() (interface{}, error) {
		return rpcutil.WithRetry(ctx, func() (bool, error) {
			start := time.Now()
			out, err := c.rpc.GetAccountInfo(ctx, address)
			if errors.Is(err, rpc.ErrNotFound) {
				c.observe("GetAccountInfo", start, nil)
				return false, nil
			}
			c.observe("GetAccountInfo", start, err)
			if err != nil {
				return false, err
			}
			return out != nil && out.Value != nil, nil
		})
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// SendTransaction broadcasts a fully signed transaction with preflight
// checks enabled at confirmed commitment.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	result, err := c.breaker.Execute(circuitbreaker.ServiceChainRPC, func() (interface{}, error) {
		start := time.Now()
		sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		c.observe("SendTransaction", start, err)
		return sig, err
	})
	if err != nil {
		return solana.Signature{}, err
	}
	return result.(solana.Signature), nil
}

// SignatureStatus looks up the confirmation state of a signature. Searches
// the transaction history so signatures older than the status cache still
// resolve.
func (c *RPCClient) SignatureStatus(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	result, err := c.breaker.Execute(circuitbreaker.ServiceChainRPC, func() (interface{}, error) {
		start := time.Now()
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		c.observe("GetSignatureStatuses", start, err)
		if err != nil {
			return TxStatus{}, err
		}
		return statusFromResult(out), nil
	})
	if err != nil {
		return TxStatus{}, err
	}
	return result.(TxStatus), nil
}

// Health reports whether the RPC node considers itself healthy.
func (c *RPCClient) Health(ctx context.Context) error {
	_, err := c.breaker.Execute(circuitbreaker.ServiceChainRPC, func() (interface{}, error) {
		start := time.Now()
		out, err := c.rpc.GetHealth(ctx)
		c.observe("GetHealth", start, err)
		if err != nil {
			return nil, err
		}
		if out != rpc.HealthOk {
			return nil, errors.New("rpc node reports unhealthy")
		}
		return nil, nil
	})
	return err
}

func (c *RPCClient) observe(method string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveRPCCall(method, time.Since(start), err)
	}
}

// statusFromResult maps a raw signature status to the submitter's view.
func statusFromResult(out *rpc.GetSignatureStatusesResult) TxStatus {
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return TxStatus{State: TxPending}
	}

	status := out.Value[0]
	if status.Err != nil {
		return TxStatus{State: TxFailed, Err: errDetail(status.Err)}
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return TxStatus{State: TxConfirmed}
	default:
		return TxStatus{State: TxPending}
	}
}

func errDetail(chainErr interface{}) string {
	if chainErr == nil {
		return ""
	}
	if s, ok := chainErr.(string); ok {
		return s
	}
	if err, ok := chainErr.(error); ok {
		return err.Error()
	}
	return "transaction failed on chain"
}
