// Package client provides an http.RoundTripper that pays for protected
// resources automatically: it watches for 402 responses, runs the payment
// through policy and circuit-breaker checks, signs an authorization and
// retries the request with the proof attached.
package client

import (
	"context"
	"math/big"
	"net/http"
	"time"

	x402 "github.com/metergate/x402"
	"github.com/metergate/x402/breaker"
	"github.com/metergate/x402/ledger"
	"github.com/metergate/x402/logger"
	"github.com/metergate/x402/metrics"
	"github.com/metergate/x402/policy"
	"github.com/metergate/x402/service"
	"github.com/metergate/x402/signer"
)

// Interceptor wraps an http.RoundTripper with automatic payment handling.
//
// Every denial path, from a missing challenge header to a tripped breaker,
// hands the caller the original 402 response untouched so it can inspect
// why payment was not made. Ledger and breaker updates are best-effort
// side effects that never change the returned response.
type Interceptor struct {
	transport http.RoundTripper
	signer    *signer.Signer
	policy    *policy.Engine
	breaker   *breaker.Breaker
	ledger    ledger.Ledger
	svc       *service.PaymentService
	log       logger.Logger
	rec       metrics.Recorder
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithTransport sets the underlying transport (default
// http.DefaultTransport).
func WithTransport(transport http.RoundTripper) Option {
	return func(i *Interceptor) {
		i.transport = transport
	}
}

// WithPolicy sets the spend-policy engine. Without one all payments that
// reach the policy step are allowed.
func WithPolicy(engine *policy.Engine) Option {
	return func(i *Interceptor) {
		i.policy = engine
	}
}

// WithBreaker sets the circuit breaker guarding payment volume.
func WithBreaker(b *breaker.Breaker) Option {
	return func(i *Interceptor) {
		i.breaker = b
	}
}

// WithLedger sets the payment ledger (default in-memory).
func WithLedger(l ledger.Ledger) Option {
	return func(i *Interceptor) {
		i.ledger = l
	}
}

// WithLogger sets the structured logger.
func WithLogger(log logger.Logger) Option {
	return func(i *Interceptor) {
		i.log = log
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(i *Interceptor) {
		i.rec = rec
	}
}

// New creates an interceptor paying with the given signer.
func New(s *signer.Signer, opts ...Option) *Interceptor {
	i := &Interceptor{
		transport: http.DefaultTransport,
		signer:    s,
		ledger:    ledger.NewMemoryLedger(),
		log:       logger.NoopLogger{},
		rec:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(i)
	}
	i.svc = service.New(i.ledger, i.policy)
	return i
}

// Wrap installs the interceptor as the client's transport and returns the
// client. A nil client wraps http.DefaultClient's settings.
func (i *Interceptor) Wrap(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	if client.Transport != nil {
		i.transport = client.Transport
	}
	client.Transport = i
	return client
}

// Summary reports ledger activity over the window (0 = all time).
func (i *Interceptor) Summary(ctx context.Context, window time.Duration) (service.Summary, error) {
	return i.svc.GetSummary(ctx, window)
}

// RecentTransactions returns the newest ledger records, at most limit.
func (i *Interceptor) RecentTransactions(ctx context.Context, limit int) ([]ledger.Record, error) {
	return i.svc.GetRecentTransactions(ctx, limit)
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := i.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	return i.pay(req, resp)
}

// pay runs the payment flow for a 402 response. It returns the original
// response whenever the payment cannot or should not proceed.
func (i *Interceptor) pay(req *http.Request, original *http.Response) (*http.Response, error) {
	ctx := req.Context()
	resource := req.URL.String()
	fields := map[string]any{"resource": resource}

	header, ok := x402.FindChallengeHeader(original.Header)
	if !ok {
		i.log.Debug("402 without payment challenge", fields)
		return original, nil
	}
	required, err := x402.DecodePaymentRequiredHeader(header)
	if err != nil || len(required.Accepts) == 0 {
		i.log.Warn("unparseable payment challenge", fields)
		return original, nil
	}

	selected, ok := x402.SelectRequirements(required.Accepts, i.signer.Network())
	if !ok {
		fields["network"] = string(i.signer.Network())
		i.log.Info("no requirement on our network", fields)
		return original, nil
	}
	fields["network"] = string(selected.Network)
	fields["amount"] = selected.MaxAmountRequired
	fields["payTo"] = selected.PayTo

	if err := x402.ValidateRequirements(selected); err != nil {
		fields["error"] = err.Error()
		i.log.Warn("invalid requirement in challenge", fields)
		return original, nil
	}
	amount, ok := new(big.Int).SetString(selected.MaxAmountRequired, 10)
	if !ok || amount.Sign() < 0 {
		i.log.Warn("malformed amount in challenge", fields)
		return original, nil
	}

	if i.policy != nil {
		decision, err := i.policy.EvaluateOutgoing(ctx, policy.OutgoingRequest{
			Amount:    amount,
			Recipient: selected.PayTo,
			Resource:  resource,
		})
		if err != nil {
			fields["error"] = err.Error()
			i.log.Error("policy evaluation failed", fields)
			return original, nil
		}
		if !decision.Allowed {
			fields["reason"] = decision.Reason
			i.log.Info("payment denied by policy", fields)
			i.rec.IncCounter("policy_denied", map[string]string{"network": string(selected.Network)})
			return original, nil
		}
	}

	if i.breaker != nil {
		decision := i.breaker.Check(amount)
		if !decision.Allowed {
			fields["reason"] = decision.Reason
			i.log.Warn("payment denied by circuit breaker", fields)
			i.rec.IncCounter("breaker_denied", map[string]string{"network": string(selected.Network)})
			return original, nil
		}
	}

	payload, err := i.signer.SignPayment(ctx, selected)
	if err != nil {
		fields["error"] = err.Error()
		i.log.Error("signing failed", fields)
		i.recordBreakerFailure()
		return original, nil
	}
	proof, err := x402.EncodePaymentHeader(*payload)
	if err != nil {
		fields["error"] = err.Error()
		i.log.Error("proof encoding failed", fields)
		i.recordBreakerFailure()
		return original, nil
	}

	retryReq := req.Clone(ctx)
	retryReq.Header.Set(x402.HeaderPayment, proof)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			fields["error"] = err.Error()
			i.log.Error("rewinding request body failed", fields)
			return original, nil
		}
		retryReq.Body = body
	}

	start := time.Now()
	retryResp, err := i.transport.RoundTrip(retryReq)
	i.rec.ObserveLatency("paid_request", time.Since(start), map[string]string{"network": string(selected.Network)})
	if err != nil {
		fields["error"] = err.Error()
		i.log.Error("paid retry failed", fields)
		i.recordBreakerFailure()
		return original, nil
	}
	drainBody(original)

	succeeded := retryResp.StatusCode >= 200 && retryResp.StatusCode < 300
	status := ledger.StatusConfirmed
	if !succeeded {
		status = ledger.StatusFailed
	}
	rec := ledger.Record{
		Direction:    ledger.Outgoing,
		Counterparty: selected.PayTo,
		Amount:       selected.MaxAmountRequired,
		Network:      string(selected.Network),
		SettlementID: x402.FindSettlementID(retryResp.Header),
		Resource:     resource,
		Status:       status,
	}
	if err := i.ledger.Record(ctx, rec); err != nil {
		fields["error"] = err.Error()
		i.log.Error("ledger write failed", fields)
	}

	if i.breaker != nil {
		if succeeded {
			i.breaker.RecordSuccess(amount)
		} else {
			i.breaker.RecordFailure()
		}
	}

	fields["status"] = retryResp.StatusCode
	i.log.Info("payment completed", fields)
	i.rec.IncCounter("payment_"+string(status), map[string]string{"network": string(selected.Network)})
	return retryResp, nil
}

func (i *Interceptor) recordBreakerFailure() {
	if i.breaker != nil {
		i.breaker.RecordFailure()
	}
}

// drainBody releases the original 402 response once it is superseded by
// the paid retry.
func drainBody(resp *http.Response) {
	if resp.Body != nil {
		resp.Body.Close()
	}
}
