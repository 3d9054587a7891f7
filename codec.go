package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// EncodePaymentRequiredHeader encodes a challenge envelope for transport in
// an HTTP header: JSON, then standard base64.
func EncodePaymentRequiredHeader(required PaymentRequired) (string, error) {
	data, err := json.Marshal(required)
	if err != nil {
		return "", &ProtocolError{Op: "encode payment required", Err: err}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentRequiredHeader decodes a challenge header value. Base64 is
// tried first; a raw JSON value is accepted as a fallback.
func DecodePaymentRequiredHeader(header string) (PaymentRequired, error) {
	var required PaymentRequired
	if err := decodeEnvelope(header, &required); err != nil {
		return PaymentRequired{}, &ProtocolError{Op: "decode payment required", Err: err}
	}
	return required, nil
}

// EncodePaymentHeader encodes a proof envelope for the X-Payment header.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", &ProtocolError{Op: "encode payment payload", Err: err}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader decodes an X-Payment header value, base64 first with
// a raw JSON fallback.
func DecodePaymentHeader(header string) (PaymentPayload, error) {
	var payload PaymentPayload
	if err := decodeEnvelope(header, &payload); err != nil {
		return PaymentPayload{}, &ProtocolError{Op: "decode payment payload", Err: err}
	}
	return payload, nil
}

// decodeEnvelope unmarshals a header value into v, accepting either
// base64(JSON) or raw JSON.
func decodeEnvelope(header string, v any) error {
	if header == "" {
		return fmt.Errorf("empty header")
	}
	if data, err := base64.StdEncoding.DecodeString(header); err == nil {
		if jsonErr := json.Unmarshal(data, v); jsonErr == nil {
			return nil
		}
	}
	if err := json.Unmarshal([]byte(header), v); err != nil {
		return fmt.Errorf("neither base64 nor raw JSON: %w", err)
	}
	return nil
}

// FindChallengeHeader scans the response headers for a challenge under any
// of the recognized aliases, in priority order. Header lookup is
// case-insensitive per net/http canonicalization.
func FindChallengeHeader(h http.Header) (string, bool) {
	for _, name := range ChallengeHeaders {
		if v := h.Get(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// FindSettlementID extracts the settlement/session identifier from response
// headers, trying the canonical name then the legacy alias. Returns "" when
// neither is present.
func FindSettlementID(h http.Header) string {
	for _, name := range SettlementHeaders {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}
