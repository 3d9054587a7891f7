// Package server guards HTTP handlers behind the payment protocol: it
// challenges unpaid requests with a 402, verifies proofs through a
// facilitator, settles them and records incoming payments.
package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"

	x402 "github.com/metergate/x402"
	"github.com/metergate/x402/ledger"
	"github.com/metergate/x402/logger"
	"github.com/metergate/x402/metrics"
	"github.com/metergate/x402/money"
	"github.com/metergate/x402/policy"
)

// Facilitator is the oracle the paywall defers to for proof verification
// and settlement. Satisfied by facilitator.Client.
type Facilitator interface {
	Verify(ctx context.Context, paymentHeader string, req x402.PaymentRequirements) x402.VerifyResponse
	Settle(ctx context.Context, paymentHeader string, req x402.PaymentRequirements) x402.SettleResponse
}

// Paywall is HTTP middleware charging a fixed price per request.
//
// Verification gates access; settlement does not. Once a proof verifies
// the downstream handler runs even if settlement fails, and the ledger
// keeps a pending record marking the unsettled access.
type Paywall struct {
	facilitator Facilitator
	ledger      ledger.Ledger
	policy      *policy.Engine
	config      x402.NetworkConfig

	payTo             string
	amount            string
	description       string
	mimeType          string
	maxTimeoutSeconds int

	settleCache   *SettleCache
	onLedgerError func(error)
	log           logger.Logger
	rec           metrics.Recorder
}

// Option configures a Paywall.
type Option func(*Paywall)

// WithDescription sets the human-readable requirement description.
func WithDescription(description string) Option {
	return func(p *Paywall) {
		p.description = description
	}
}

// WithMimeType sets the MIME type of the guarded resource.
func WithMimeType(mimeType string) Option {
	return func(p *Paywall) {
		p.mimeType = mimeType
	}
}

// WithMaxTimeoutSeconds sets the payment deadline window.
func WithMaxTimeoutSeconds(seconds int) Option {
	return func(p *Paywall) {
		p.maxTimeoutSeconds = seconds
	}
}

// WithLedger sets the ledger incoming payments are recorded to (default
// in-memory).
func WithLedger(l ledger.Ledger) Option {
	return func(p *Paywall) {
		p.ledger = l
	}
}

// WithPolicy sets an incoming-payment policy engine. Without one every
// verified payment is accepted.
func WithPolicy(engine *policy.Engine) Option {
	return func(p *Paywall) {
		p.policy = engine
	}
}

// WithSettleCache deduplicates settle calls for replayed proofs within the
// cache's TTL.
func WithSettleCache(cache *SettleCache) Option {
	return func(p *Paywall) {
		p.settleCache = cache
	}
}

// WithLedgerErrorHandler sets the callback for non-fatal ledger write
// failures.
func WithLedgerErrorHandler(fn func(error)) Option {
	return func(p *Paywall) {
		p.onLedgerError = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Paywall) {
		p.log = log
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(p *Paywall) {
		p.rec = rec
	}
}

// New creates a paywall charging the given human-readable price (for
// example "0.05" or "$0.05") per request, paid to payTo on the network
// named by networkKey. The assembled requirement is validated so a
// misconfigured paywall fails at construction rather than at request time.
func New(price, payTo, networkKey string, f Facilitator, opts ...Option) (*Paywall, error) {
	config, err := x402.DefaultRegistry().Resolve(networkKey)
	if err != nil {
		return nil, err
	}
	amount, err := money.ToBaseUnits(price, config.Asset.Decimals)
	if err != nil {
		return nil, err
	}

	p := &Paywall{
		facilitator:       f,
		ledger:            ledger.NewMemoryLedger(),
		config:            config,
		payTo:             payTo,
		amount:            amount,
		maxTimeoutSeconds: 60,
		onLedgerError:     func(error) {},
		log:               logger.NoopLogger{},
		rec:               metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := x402.ValidateRequirements(p.Requirement("")); err != nil {
		return nil, err
	}
	return p, nil
}

// Requirement builds the payment requirement bound to a resource URL.
func (p *Paywall) Requirement(resource string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           p.config.NetworkID,
		MaxAmountRequired: p.amount,
		Resource:          resource,
		Description:       p.description,
		MimeType:          p.mimeType,
		PayTo:             p.payTo,
		MaxTimeoutSeconds: p.maxTimeoutSeconds,
		Asset:             p.config.Asset.Address,
	}
}

// Handler wraps next with the paywall.
func (p *Paywall) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.serve(w, r, next)
	})
}

// HandlerFunc is Handler for plain handler functions.
func (p *Paywall) HandlerFunc(next http.HandlerFunc) http.Handler {
	return p.Handler(next)
}

func (p *Paywall) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	req := p.Requirement(resourceURL(r))
	fields := map[string]any{"resource": req.Resource}

	proof := r.Header.Get(x402.HeaderPayment)
	if proof == "" {
		p.log.Debug("challenging unpaid request", fields)
		p.rec.IncCounter("challenge", map[string]string{"network": string(req.Network)})
		p.challenge(w, req, "payment required")
		return
	}

	verdict := p.facilitator.Verify(ctx, proof, req)
	if !verdict.IsValid {
		fields["reason"] = verdict.InvalidReason
		p.log.Info("payment proof rejected", fields)
		p.rec.IncCounter("verify_rejected", map[string]string{"network": string(req.Network)})
		p.challenge(w, req, verdict.InvalidReason)
		return
	}
	fields["payer"] = verdict.Payer

	if p.policy != nil {
		amount, _ := new(big.Int).SetString(req.MaxAmountRequired, 10)
		decision, err := p.policy.EvaluateIncoming(ctx, policy.IncomingRequest{
			Amount: amount,
			Sender: verdict.Payer,
		})
		if err != nil {
			fields["error"] = err.Error()
			p.log.Error("incoming policy evaluation failed", fields)
			p.rec.IncCounter("policy_error", map[string]string{"network": string(req.Network)})
			p.challenge(w, req, "policy evaluation failed")
			return
		}
		if !decision.Allowed {
			fields["reason"] = decision.Reason
			p.log.Info("payment denied by incoming policy", fields)
			p.challenge(w, req, decision.Reason)
			return
		}
	}

	settle := func() x402.SettleResponse {
		return p.facilitator.Settle(ctx, proof, req)
	}
	var settlement x402.SettleResponse
	if p.settleCache != nil {
		settlement = p.settleCache.settle(ctx, proof, settle)
	} else {
		settlement = settle()
	}
	status := ledger.StatusConfirmed
	if !settlement.Success {
		status = ledger.StatusPending
		fields["settleError"] = settlement.ErrorReason
		p.log.Warn("settlement failed, serving anyway", fields)
	}

	rec := ledger.Record{
		Direction:    ledger.Incoming,
		Counterparty: verdict.Payer,
		Amount:       req.MaxAmountRequired,
		Network:      string(req.Network),
		SettlementID: settlement.Transaction,
		Resource:     req.Resource,
		Status:       status,
	}
	if err := p.ledger.Record(ctx, rec); err != nil {
		p.onLedgerError(err)
		fields["error"] = err.Error()
		p.log.Error("ledger write failed", fields)
	}

	if settlement.Transaction != "" {
		for _, name := range x402.SettlementHeaders {
			w.Header().Set(name, settlement.Transaction)
		}
	}

	p.log.Info("payment accepted", fields)
	p.rec.IncCounter("payment_"+string(status), map[string]string{"network": string(req.Network)})
	next.ServeHTTP(w, r)
}

// challenge writes the 402 response: the encoded requirement under the
// canonical header and its aliases, plus a JSON error body.
func (p *Paywall) challenge(w http.ResponseWriter, req x402.PaymentRequirements, reason string) {
	required := x402.PaymentRequired{
		Version: x402.ProtocolVersion,
		Error:   reason,
		Accepts: []x402.PaymentRequirements{req},
	}
	if header, err := x402.EncodePaymentRequiredHeader(required); err == nil {
		for _, name := range x402.ChallengeHeaders {
			w.Header().Set(name, header)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(required)
}

func resourceURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
