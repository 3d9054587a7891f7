// Package mcp exposes the payment operator surface as MCP tools so an
// agent orchestrator can inspect spending and adjust policy: a summary
// tool, a history tool and a policy-update tool over PaymentService.
package mcp

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/metergate/x402/ledger"
	"github.com/metergate/x402/policy"
	"github.com/metergate/x402/service"
)

// Tools bundles the payment tools around one service instance.
type Tools struct {
	svc *service.PaymentService
}

// NewTools creates the tool set.
func NewTools(svc *service.PaymentService) *Tools {
	return &Tools{svc: svc}
}

// Register adds payment-summary, payment-history and policy-update to the
// MCP server.
func (t *Tools) Register(server *mcpsdk.Server) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "payment-summary",
		Description: "Totals and counts of outgoing and incoming payments over a trailing window.",
	}, t.summary)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "payment-history",
		Description: "Recent payment records, newest first.",
	}, t.history)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "policy-update",
		Description: "Replace the outgoing and/or incoming spend limits wholesale.",
	}, t.updatePolicy)
}

// SummaryArgs selects the aggregation window.
type SummaryArgs struct {
	WindowHours int `json:"windowHours,omitempty" jsonschema:"trailing window in hours; 0 means all time"`
}

func (t *Tools) summary(ctx context.Context, req *mcpsdk.CallToolRequest, args SummaryArgs) (*mcpsdk.CallToolResult, service.Summary, error) {
	summary, err := t.svc.GetSummary(ctx, time.Duration(args.WindowHours)*time.Hour)
	if err != nil {
		return nil, service.Summary{}, err
	}
	return nil, summary, nil
}

// HistoryArgs bounds the result size.
type HistoryArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum records to return; 0 means no limit"`
}

// HistoryResult wraps the records so the output schema is an object.
type HistoryResult struct {
	Records []ledger.Record `json:"records"`
}

func (t *Tools) history(ctx context.Context, req *mcpsdk.CallToolRequest, args HistoryArgs) (*mcpsdk.CallToolResult, HistoryResult, error) {
	records, err := t.svc.GetRecentTransactions(ctx, args.Limit)
	if err != nil {
		return nil, HistoryResult{}, err
	}
	return nil, HistoryResult{Records: records}, nil
}

// OutgoingLimitsArgs mirrors policy.OutgoingLimits with a wire-friendly
// window.
type OutgoingLimitsArgs struct {
	MaxPerTransaction string   `json:"maxPerTransaction,omitempty" jsonschema:"per-payment cap in base units"`
	MaxPerWindow      string   `json:"maxPerWindow,omitempty" jsonschema:"windowed spend cap in base units"`
	WindowHours       int      `json:"windowHours,omitempty" jsonschema:"window length in hours; 0 uses the default"`
	MaxTransactions   int      `json:"maxTransactions,omitempty" jsonschema:"windowed payment count cap; 0 means unlimited"`
	AllowList         []string `json:"allowList,omitempty"`
	BlockList         []string `json:"blockList,omitempty"`
}

// IncomingLimitsArgs mirrors policy.IncomingLimits.
type IncomingLimitsArgs struct {
	MinPerTransaction string   `json:"minPerTransaction,omitempty" jsonschema:"minimum accepted payment in base units"`
	AllowList         []string `json:"allowList,omitempty"`
	BlockList         []string `json:"blockList,omitempty"`
}

// PolicyUpdateArgs carries the replacement limits. An omitted limb leaves
// its counterpart untouched.
type PolicyUpdateArgs struct {
	Outgoing *OutgoingLimitsArgs `json:"outgoing,omitempty"`
	Incoming *IncomingLimitsArgs `json:"incoming,omitempty"`
}

// PolicyUpdateResult echoes the policy now in force.
type PolicyUpdateResult struct {
	Policy policy.Policy `json:"policy"`
}

func (t *Tools) updatePolicy(ctx context.Context, req *mcpsdk.CallToolRequest, args PolicyUpdateArgs) (*mcpsdk.CallToolResult, PolicyUpdateResult, error) {
	update := policy.Update{}
	if args.Outgoing != nil {
		update.Outgoing = &policy.OutgoingLimits{
			MaxPerTransaction: args.Outgoing.MaxPerTransaction,
			MaxPerWindow:      args.Outgoing.MaxPerWindow,
			Window:            time.Duration(args.Outgoing.WindowHours) * time.Hour,
			MaxTransactions:   args.Outgoing.MaxTransactions,
			AllowList:         args.Outgoing.AllowList,
			BlockList:         args.Outgoing.BlockList,
		}
	}
	if args.Incoming != nil {
		update.Incoming = &policy.IncomingLimits{
			MinPerTransaction: args.Incoming.MinPerTransaction,
			AllowList:         args.Incoming.AllowList,
			BlockList:         args.Incoming.BlockList,
		}
	}
	t.svc.UpdatePolicy(update)
	return nil, PolicyUpdateResult{Policy: t.svc.CurrentPolicy()}, nil
}
