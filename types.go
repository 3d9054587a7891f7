// Package x402 implements the client and server halves of the x402
// pay-per-request HTTP payment protocol: a 402 challenge carrying payment
// requirements, a signed payment authorization produced by the client, and
// verification/settlement of that authorization through a remote facilitator.
//
// The root package holds the wire types, the header codec and the network
// registry. Concern-specific packages build on it: ledger (payment records),
// policy (spend limits), breaker (rate/anomaly circuit breaker), signer
// (EIP-712 permit signing), facilitator (the oracle RPC client), client (the
// paying HTTP interceptor) and server (the paywall middleware).
package x402

import (
	"fmt"
	"strings"
)

// ProtocolVersion is the x402 protocol version spoken by this module.
const ProtocolVersion = 2

// Scheme identifiers.
const (
	SchemeExact = "exact"
)

// HTTP header names. Challenge headers are tried in order on the client;
// the server sets the canonical name plus the first alias.
var (
	// ChallengeHeaders are the recognized payment-required header aliases,
	// highest priority first. Lookup is case-insensitive.
	ChallengeHeaders = []string{
		HeaderPaymentRequired,
		"Payment-Required",
		"X-Accept-Payment",
	}

	// SettlementHeaders are the recognized settlement/session id response
	// header aliases, highest priority first.
	SettlementHeaders = []string{
		HeaderSettlementID,
		HeaderPaymentSessionID,
	}
)

const (
	// HeaderPaymentRequired is the canonical challenge header.
	HeaderPaymentRequired = "X-Payment-Required"

	// HeaderPayment carries the base64-encoded payment proof envelope.
	HeaderPayment = "X-Payment"

	// HeaderSettlementID carries the opaque settlement/session identifier.
	HeaderSettlementID = "X-Settlement-Id"

	// HeaderPaymentSessionID is the legacy-compatible settlement id alias.
	HeaderPaymentSessionID = "X-Payment-Session-Id"
)

// Network is a CAIP-2 style blockchain network identifier,
// namespace:reference (e.g. "eip155:8453" for Base mainnet).
type Network string

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks whether this network matches a pattern. Patterns may use a
// trailing wildcard, e.g. "eip155:1" matches "eip155:*".
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	if strings.HasSuffix(string(pattern), ":*") {
		return strings.HasPrefix(string(n), strings.TrimSuffix(string(pattern), "*"))
	}
	if strings.HasSuffix(string(n), ":*") {
		return strings.HasPrefix(string(pattern), strings.TrimSuffix(string(n), "*"))
	}
	return false
}

// PaymentRequirements describes one acceptable payment for a resource.
// Produced by the server, consumed by the client; treated as immutable.
// MaxAmountRequired is a non-negative integer in asset base units, encoded
// as a decimal string to preserve arbitrary precision.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme" validate:"required"`
	Network           Network        `json:"network" validate:"required"`
	MaxAmountRequired string         `json:"maxAmountRequired" validate:"required"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo" validate:"required"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset" validate:"required"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ExtraString returns a string value from the requirement's extension map,
// or "" when absent or not a string.
func (r PaymentRequirements) ExtraString(key string) string {
	if r.Extra == nil {
		return ""
	}
	if v, ok := r.Extra[key].(string); ok {
		return v
	}
	return ""
}

// PaymentRequired is the challenge envelope carried (base64-encoded) in the
// 402 response headers.
type PaymentRequired struct {
	Version int                   `json:"version"`
	Error   string                `json:"error,omitempty"`
	Accepts []PaymentRequirements `json:"accepts"`
}

// PermitAuthorization is the signed EIP-2612 style authorization message:
// owner permits spender to move value before deadline, replay-protected by
// a strictly increasing nonce. All numeric fields are decimal strings.
type PermitAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
}

// PermitSignature is a 65-byte secp256k1 signature split into its canonical
// components. R and S are 0x-prefixed 32-byte hex strings; V is 27 or 28.
type PermitSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// PaymentProof couples the authorization with its signature.
type PaymentProof struct {
	Authorization PermitAuthorization `json:"authorization"`
	Signature     PermitSignature     `json:"signature"`
}

// PaymentPayload is the versioned proof envelope carried (base64-encoded)
// in the X-Payment request header.
type PaymentPayload struct {
	Version  int                 `json:"version"`
	Accepted PaymentRequirements `json:"accepted"`
	Payload  PaymentProof        `json:"payload"`
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settle call.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network,omitempty"`
}

// VerifyRequest is the body POSTed to the facilitator's verify endpoint.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the body POSTed to the facilitator's settle endpoint.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SelectRequirements picks the single requirement whose network matches the
// payer's own network. Cross-chain substitution is never attempted: when no
// offered requirement is on the payer's network, ok is false.
func SelectRequirements(accepts []PaymentRequirements, network Network) (PaymentRequirements, bool) {
	for _, req := range accepts {
		if req.Network.Match(network) {
			return req, true
		}
	}
	return PaymentRequirements{}, false
}
