package svm

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/x402svm/facilitator/pkg/x402"
)

// DecodeBase64Transaction parses the base64-encoded binary transaction from
// a payment payload. Pure and cheap; any base64 or wire-format problem is a
// decode failure.
func DecodeBase64Transaction(blob string) (*solana.Transaction, error) {
	if blob == "" {
		return nil, fmt.Errorf("transaction payload missing")
	}
	tx, err := solana.TransactionFromBase64(blob)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// PayerOfRecord reports the client wallet paying for the resource. Account
// key 0 is the fee payer's slot; key 1 is the first client signer. A
// transaction without a client slot reports the unknown placeholder, which
// flows into audit records while later checks reject the transaction.
func PayerOfRecord(tx *solana.Transaction) string {
	if tx == nil || len(tx.Message.AccountKeys) < 2 {
		return x402.PayerUnknown
	}
	return tx.Message.AccountKeys[1].String()
}
