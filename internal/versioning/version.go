// Package versioning carries the build identity stamped into binaries.
package versioning

// Set at build time via -ldflags "-X github.com/x402svm/facilitator/internal/versioning.Version=..."
var (
	// Version is the semantic release version.
	Version = "2.0.0"

	// Commit is the short git revision of the build.
	Commit = "unknown"

	// BuildDate is the build timestamp in RFC 3339.
	BuildDate = "unknown"
)

// Service is the canonical service name used in logs and User-Agent strings.
const Service = "x402-facilitator"

// UserAgent returns the HTTP User-Agent for outbound requests.
func UserAgent() string {
	return Service + "/" + Version
}
