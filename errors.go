package x402

import (
	"fmt"
	"strings"
	"time"
)

// Error codes shared across components.
const (
	ErrCodeUnknownNetwork  = "unknown_network"
	ErrCodeProtocolParse   = "protocol_parse_error"
	ErrCodeSigningFailed   = "signing_failed"
	ErrCodePolicyDenied    = "policy_denied"
	ErrCodeBreakerOpen     = "breaker_open"
	ErrCodeLedgerWrite     = "ledger_write_failed"
	ErrCodeNetworkMismatch = "network_mismatch"
)

// UnknownNetworkError reports a registry lookup for an unsupported network
// key. It is a configuration error and fatal to signer construction.
type UnknownNetworkError struct {
	Key       string
	Supported []string
}

func (e *UnknownNetworkError) Error() string {
	return fmt.Sprintf("unknown network %q (supported: %s)", e.Key, strings.Join(e.Supported, ", "))
}

// ProtocolError reports a malformed or missing challenge/proof envelope.
// Callers recover by acting as if unpaid.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SigningError reports invalid key material or a failed cryptographic
// signing operation. A payment attempt is aborted outright on SigningError.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing %s: %v", e.Op, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// PolicyError is an expected control-flow outcome: the configured spend
// policy denied the payment. Reason is operator-readable.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return "policy denied: " + e.Reason
}

// BreakerError is an expected control-flow outcome: the circuit breaker
// rejected the payment. RetryAfter is non-zero while the breaker cools down.
type BreakerError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *BreakerError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker open: %s (retry in %s)", e.Reason, e.RetryAfter)
	}
	return "circuit breaker open: " + e.Reason
}

// LedgerError reports a persistence failure. Ledger writes are best-effort
// in both orchestrators; a LedgerError is logged and never fatal to the
// in-flight request.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }
