package x402

import "encoding/json"

// PaymentPayload is the client side of an x402 exchange: the x402 envelope
// carrying a partially-signed SVM transaction.
// Reference: https://github.com/coinbase/x402
type PaymentPayload struct {
	X402Version int        `json:"x402Version"`
	Scheme      string     `json:"scheme"`
	Network     string     `json:"network"`
	Payload     SVMPayload `json:"payload"`

	// Unix seconds at payment creation. Optional; enables expiry checks.
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// SVMPayload carries the base64-encoded partially-signed transaction.
type SVMPayload struct {
	Transaction string `json:"transaction"`
}

// PaymentRequirements is the resource server's authoritative statement of
// what counts as valid payment.
type PaymentRequirements struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"` // decimal integer, base units
	Asset             string          `json:"asset"`             // token mint, base58
	PayTo             string          `json:"payTo"`             // recipient wallet, base58
	Resource          string          `json:"resource"`
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType"`
	MaxTimeoutSeconds int64           `json:"maxTimeoutSeconds"`
	OutputSchema      json.RawMessage `json:"outputSchema,omitempty"`
	Extra             ExtraFields     `json:"extra"`
}

// ExtraFields holds scheme extensions; for exact-svm that is the wallet the
// facilitator signs with.
type ExtraFields struct {
	FeePayer string `json:"feePayer"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the body of POST /settle. Same shape as VerifyRequest;
// kept distinct so the two contracts can evolve independently.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse reports a verification outcome. InvalidReason, when set,
// is one of the stable ErrorCode tags.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse reports a settlement outcome. Transaction carries the
// fee-payer-signed signature on success and is empty on failure.
type SettleResponse struct {
	Success     bool   `json:"success"`
	Network     string `json:"network"`
	Transaction string `json:"transaction"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// SupportedResponse enumerates the scheme/network pairs this facilitator
// accepts.
type SupportedResponse struct {
	Schemes []SchemeSupport `json:"schemes"`
}

// SchemeSupport describes one supported scheme.
type SchemeSupport struct {
	Scheme   string   `json:"scheme"`
	Networks []string `json:"networks"`
}
