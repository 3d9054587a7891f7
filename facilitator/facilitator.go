// Package facilitator talks to an x402 facilitator service, the oracle
// that verifies payment proofs and settles them on chain.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/metergate/x402"
	"github.com/metergate/x402/logger"
	"github.com/metergate/x402/metrics"
)

const defaultTimeout = 30 * time.Second

// Client calls a facilitator's verify and settle endpoints.
//
// Verify and Settle never return a Go error: every failure mode, from a
// malformed proof to an unreachable facilitator, is reported inside the
// response so callers treat the facilitator's word as final and fail
// closed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
	rec        metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-call timeout on the underlying HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the structured logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(c *Client) {
		c.rec = rec
	}
}

// NewClient creates a facilitator client for the given base URL. A
// trailing slash on the URL is tolerated.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        logger.NoopLogger{},
		rec:        metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify asks the facilitator whether the proof carried in the payment
// header satisfies the requirement. Failures come back as an invalid
// verdict, never an error.
func (c *Client) Verify(ctx context.Context, paymentHeader string, req x402.PaymentRequirements) x402.VerifyResponse {
	payload, err := x402.DecodePaymentHeader(paymentHeader)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: fmt.Sprintf("malformed payment header: %v", err)}
	}

	start := time.Now()
	var out x402.VerifyResponse
	err = c.post(ctx, "/verify", x402.VerifyRequest{
		PaymentPayload:      payload,
		PaymentRequirements: req,
	}, &out)
	c.rec.ObserveLatency("verify", time.Since(start), map[string]string{"network": string(req.Network)})

	if err != nil {
		c.log.Warn("facilitator verify failed", map[string]any{
			"resource": req.Resource,
			"error":    err.Error(),
		})
		c.rec.IncCounter("verify_error", map[string]string{"network": string(req.Network)})
		return x402.VerifyResponse{IsValid: false, InvalidReason: fmt.Sprintf("facilitator unreachable: %v", err)}
	}

	c.log.Debug("facilitator verify", map[string]any{
		"resource": req.Resource,
		"isValid":  out.IsValid,
		"payer":    out.Payer,
	})
	return out
}

// Settle asks the facilitator to execute the verified payment on chain.
// Failures come back as an unsuccessful settlement, never an error.
func (c *Client) Settle(ctx context.Context, paymentHeader string, req x402.PaymentRequirements) x402.SettleResponse {
	payload, err := x402.DecodePaymentHeader(paymentHeader)
	if err != nil {
		return x402.SettleResponse{Success: false, ErrorReason: fmt.Sprintf("malformed payment header: %v", err)}
	}

	start := time.Now()
	var out x402.SettleResponse
	err = c.post(ctx, "/settle", x402.SettleRequest{
		PaymentPayload:      payload,
		PaymentRequirements: req,
	}, &out)
	c.rec.ObserveLatency("settle", time.Since(start), map[string]string{"network": string(req.Network)})

	if err != nil {
		c.log.Warn("facilitator settle failed", map[string]any{
			"resource": req.Resource,
			"error":    err.Error(),
		})
		c.rec.IncCounter("settle_error", map[string]string{"network": string(req.Network)})
		return x402.SettleResponse{Success: false, ErrorReason: fmt.Sprintf("facilitator unreachable: %v", err)}
	}

	c.log.Info("facilitator settle", map[string]any{
		"resource":    req.Resource,
		"success":     out.Success,
		"transaction": out.Transaction,
	})
	return out
}

// post sends a JSON body and decodes a JSON response. Non-2xx statuses
// are errors carrying a trimmed slice of the response body.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, truncate(raw, 256))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
