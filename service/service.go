// Package service exposes the operator surface over a payment ledger and
// policy engine: spending summaries, transaction history and policy
// updates. The MCP tools and the client interceptor both sit on top of it.
package service

import (
	"context"
	"time"

	"github.com/metergate/x402/ledger"
	"github.com/metergate/x402/policy"
)

// Summary aggregates ledger activity over a trailing window. Totals are
// exact integer base-unit amounts rendered as decimal strings.
type Summary struct {
	Window        time.Duration `json:"window"`
	OutgoingTotal string        `json:"outgoingTotal"`
	OutgoingCount int           `json:"outgoingCount"`
	IncomingTotal string        `json:"incomingTotal"`
	IncomingCount int           `json:"incomingCount"`
}

// PaymentService answers operator queries about payment activity.
type PaymentService struct {
	ledger ledger.Ledger
	policy *policy.Engine
}

// New creates a service over the given ledger and policy engine. The
// policy engine may be nil when only read operations are needed.
func New(l ledger.Ledger, p *policy.Engine) *PaymentService {
	return &PaymentService{ledger: l, policy: p}
}

// GetSummary totals both directions over the window (0 = all time).
func (s *PaymentService) GetSummary(ctx context.Context, window time.Duration) (Summary, error) {
	summary := Summary{Window: window}

	outTotal, err := s.ledger.Total(ctx, ledger.Outgoing, window, "")
	if err != nil {
		return Summary{}, err
	}
	outCount, err := s.ledger.Count(ctx, ledger.Outgoing, window)
	if err != nil {
		return Summary{}, err
	}
	inTotal, err := s.ledger.Total(ctx, ledger.Incoming, window, "")
	if err != nil {
		return Summary{}, err
	}
	inCount, err := s.ledger.Count(ctx, ledger.Incoming, window)
	if err != nil {
		return Summary{}, err
	}

	summary.OutgoingTotal = outTotal.String()
	summary.OutgoingCount = outCount
	summary.IncomingTotal = inTotal.String()
	summary.IncomingCount = inCount
	return summary, nil
}

// GetRecentTransactions returns the newest records first, at most limit
// (0 = no limit).
func (s *PaymentService) GetRecentTransactions(ctx context.Context, limit int) ([]ledger.Record, error) {
	return s.ledger.Query(ctx, ledger.Filter{Limit: limit})
}

// CurrentPolicy returns a copy of the active policy.
func (s *PaymentService) CurrentPolicy() policy.Policy {
	if s.policy == nil {
		return policy.Policy{}
	}
	return s.policy.Current()
}

// UpdatePolicy applies a partial policy update. Each non-nil limb replaces
// its counterpart wholesale.
func (s *PaymentService) UpdatePolicy(update policy.Update) {
	if s.policy == nil {
		return
	}
	s.policy.Update(update)
}
