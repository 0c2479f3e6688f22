package x402

import "fmt"

// ErrorCode is a stable verification failure tag. The string values are a
// public contract surfaced verbatim in invalidReason / errorReason; they
// must never change.
type ErrorCode string

// Protocol-level rejections.
const (
	ErrUnsupportedScheme ErrorCode = "unsupported_scheme"
	ErrInvalidNetwork    ErrorCode = "invalid_network"
)

// Transaction-shape rejections for the exact-svm scheme.
const (
	ErrInvalidInstructionCount  ErrorCode = "invalid_exact_svm_payload_transaction_instructions_length"
	ErrInvalidComputeLimit      ErrorCode = "invalid_exact_svm_payload_transaction_instructions_compute_limit_instruction"
	ErrInvalidComputePrice      ErrorCode = "invalid_exact_svm_payload_transaction_instructions_compute_price_instruction"
	ErrComputePriceTooHigh      ErrorCode = "invalid_exact_svm_payload_transaction_instructions_compute_price_instruction_too_high"
	ErrFeePayerInAccounts       ErrorCode = "invalid_exact_svm_payload_transaction_fee_payer_included_in_instruction_accounts"
	ErrFeePayerTransfersFunds   ErrorCode = "invalid_exact_svm_payload_transaction_fee_payer_transferring_funds"
	ErrAmountMismatch           ErrorCode = "invalid_exact_svm_payload_transaction_amount_mismatch"
	ErrInvalidCreateATA         ErrorCode = "invalid_exact_svm_payload_transaction_create_ata_instruction"
	ErrCreateATAIncorrectPayee  ErrorCode = "invalid_exact_svm_payload_transaction_create_ata_instruction_incorrect_payee"
	ErrCreateATAIncorrectAsset  ErrorCode = "invalid_exact_svm_payload_transaction_create_ata_instruction_incorrect_asset"
	ErrTransferToIncorrectATA   ErrorCode = "invalid_exact_svm_payload_transaction_transfer_to_incorrect_ata"
	ErrSenderATANotFound        ErrorCode = "invalid_exact_svm_payload_transaction_sender_ata_not_found"
	ErrReceiverATANotFound      ErrorCode = "invalid_exact_svm_payload_transaction_receiver_ata_not_found"
	ErrNotATransferInstruction  ErrorCode = "invalid_exact_svm_payload_transaction_not_a_transfer_instruction"
)

// Replay and freshness rejections.
const (
	ErrDuplicateTransaction ErrorCode = "duplicate_transaction"
	ErrPaymentExpired       ErrorCode = "payment_expired"
)

// ErrUnexpected is the escape hatch for decode failures, unparseable keys,
// and recovered panics. Details stay in the logs, never on the wire.
const ErrUnexpected ErrorCode = "unexpected_verify_error"

// VerifyError classifies a verification failure. Code carries the wire tag;
// Err carries the technical cause for logging.
type VerifyError struct {
	Code ErrorCode
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Tag returns the wire representation of the failure.
func (e *VerifyError) Tag() string {
	return string(e.Code)
}

// NewVerifyError wraps a technical cause under a stable tag.
func NewVerifyError(code ErrorCode, err error) *VerifyError {
	return &VerifyError{Code: code, Err: err}
}

// Reject is shorthand for a tag-only rejection.
func Reject(code ErrorCode) *VerifyError {
	return &VerifyError{Code: code}
}

// SettleErrorReason formats a settlement-phase failure for the wire.
// Verification-phase failures keep their own tags; only signing and
// submission problems use this form.
func SettleErrorReason(detail string) string {
	return "settle_error: " + detail
}
