package svm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// LoadFeePayer parses the fee-payer private key from its configured string
// form. Called once at startup; only the settlement path ever sees the
// result. Supported formats:
//   - Base58: "5Kd7..." (solana-keygen default)
//   - JSON array: "[1,2,3,...,64]" (wallet export format)
func LoadFeePayer(keyStr string) (solana.PrivateKey, error) {
	keyStr = strings.TrimSpace(keyStr)
	if keyStr == "" {
		return solana.PrivateKey{}, fmt.Errorf("fee payer private key is empty")
	}

	if !strings.HasPrefix(keyStr, "[") {
		key, err := solana.PrivateKeyFromBase58(keyStr)
		if err != nil {
			return solana.PrivateKey{}, fmt.Errorf("invalid base58 private key: %w", err)
		}
		return key, nil
	}

	return parsePrivateKeyArray(keyStr)
}

// parsePrivateKeyArray parses the JSON array key format: [1,2,3,...,64].
func parsePrivateKeyArray(keyStr string) (solana.PrivateKey, error) {
	if !strings.HasSuffix(keyStr, "]") {
		return solana.PrivateKey{}, fmt.Errorf("private key array must be in JSON format: [1,2,3,...]")
	}

	parts := strings.Split(keyStr[1:len(keyStr)-1], ",")
	if len(parts) != 64 {
		return solana.PrivateKey{}, fmt.Errorf("private key must be a 64-byte array, got %d bytes", len(parts))
	}

	keyBytes := make([]byte, 64)
	for i, part := range parts {
		part = strings.TrimSpace(part)
		val, err := strconv.Atoi(part)
		if err != nil {
			return solana.PrivateKey{}, fmt.Errorf("invalid byte value at position %d: %s (%w)", i, part, err)
		}
		if val < 0 || val > 255 {
			return solana.PrivateKey{}, fmt.Errorf("byte value at position %d out of range (0-255): %d", i, val)
		}
		keyBytes[i] = byte(val)
	}

	return solana.PrivateKey(keyBytes), nil
}

// SignAsFeePayer signs the transaction message with the fee-payer key and
// places the signature in slot 0, the fee payer's position. The client's
// own signatures in later slots are untouched.
func SignAsFeePayer(tx *solana.Transaction, feePayer solana.PrivateKey) error {
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	signature, err := feePayer.Sign(message)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}

	if len(tx.Signatures) == 0 {
		tx.Signatures = append(tx.Signatures, signature)
	} else {
		tx.Signatures[0] = signature
	}
	return nil
}
