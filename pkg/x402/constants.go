package x402

// SchemeExact is the only payment scheme this facilitator verifies: one
// token, one fixed amount.
const SchemeExact = "exact"

// Chain identifiers accepted on the wire.
const (
	NetworkMainnet = "solana"
	NetworkDevnet  = "solana-devnet"
	NetworkTestnet = "solana-testnet"
)

// SupportedNetworks lists the networks advertised by GET /supported, in the
// order they appear on the wire.
var SupportedNetworks = []string{NetworkMainnet, NetworkDevnet, NetworkTestnet}

// NetworkSupported reports whether the facilitator accepts payments on the
// given chain identifier.
func NetworkSupported(network string) bool {
	for _, n := range SupportedNetworks {
		if n == network {
			return true
		}
	}
	return false
}

// PayerUnknown is reported as the payer-of-record when the transaction has
// no account key in the client slot. Such transactions fail later checks;
// the value only reaches audit records.
const PayerUnknown = "unknown"
