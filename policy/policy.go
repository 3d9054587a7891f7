// Package policy evaluates spend rules for outgoing and incoming payments.
// The engine consults static limits plus the ledger's windowed aggregates;
// checks run in a strict order and the first failing check decides the
// outcome.
package policy

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/metergate/x402/ledger"
)

// OutgoingLimits bound what this instance will pay. Amount limits are
// decimal strings in base units; empty means unlimited. An empty AllowList
// admits any recipient not on the BlockList.
type OutgoingLimits struct {
	MaxPerTransaction string        `json:"maxPerTransaction,omitempty"`
	MaxPerWindow      string        `json:"maxPerWindow,omitempty"`
	Window            time.Duration `json:"window,omitempty"`
	MaxTransactions   int           `json:"maxTransactions,omitempty"`
	AllowList         []string      `json:"allowList,omitempty"`
	BlockList         []string      `json:"blockList,omitempty"`
}

// IncomingLimits bound what this instance will accept.
type IncomingLimits struct {
	MinPerTransaction string   `json:"minPerTransaction,omitempty"`
	AllowList         []string `json:"allowList,omitempty"`
	BlockList         []string `json:"blockList,omitempty"`
}

// Policy is the full rule set. Either limb may be nil (no limits).
type Policy struct {
	Outgoing *OutgoingLimits `json:"outgoing,omitempty"`
	Incoming *IncomingLimits `json:"incoming,omitempty"`
}

// Update carries a partial policy change. A present limb replaces the
// engine's corresponding limb wholesale; a nil limb is left untouched.
type Update struct {
	Outgoing *OutgoingLimits `json:"outgoing,omitempty"`
	Incoming *IncomingLimits `json:"incoming,omitempty"`
}

// OutgoingRequest describes a payment the client wants to make.
type OutgoingRequest struct {
	Amount    *big.Int
	Recipient string
	Resource  string
}

// IncomingRequest describes a payment the server was offered.
type IncomingRequest struct {
	Amount *big.Int
	Sender string
}

// Decision is the outcome of an evaluation. Reason is set when denied.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

var allow = Decision{Allowed: true}

// DefaultWindow is used for windowed limits when the policy leaves the
// window unset.
const DefaultWindow = 24 * time.Hour

// Engine evaluates a mutable Policy against a ledger. A single logical
// payer owns an Engine; concurrent policy mutation from multiple actors
// needs external synchronization beyond the engine's own lock.
type Engine struct {
	mu     sync.RWMutex
	policy Policy
	ledger ledger.Ledger
}

// NewEngine creates an engine with the given initial policy. The ledger is
// consulted for windowed totals and counts; it may be nil when no windowed
// limits are configured.
func NewEngine(p Policy, l ledger.Ledger) *Engine {
	return &Engine{policy: clonePolicy(p), ledger: l}
}

// EvaluateOutgoing runs the outgoing checks in order; the first failure
// wins:
//  1. amount exceeds the per-transaction limit
//  2. recipient on the block-list
//  3. allow-list configured and recipient absent
//  4. window total (ledger + this amount) exceeds the window limit
//  5. window transaction count at the limit
func (e *Engine) EvaluateOutgoing(ctx context.Context, req OutgoingRequest) (Decision, error) {
	e.mu.RLock()
	limits := e.policy.Outgoing
	e.mu.RUnlock()

	if limits == nil {
		return allow, nil
	}

	if limits.MaxPerTransaction != "" {
		max, ok := new(big.Int).SetString(limits.MaxPerTransaction, 10)
		if !ok {
			return Decision{}, fmt.Errorf("malformed maxPerTransaction %q", limits.MaxPerTransaction)
		}
		if req.Amount.Cmp(max) > 0 {
			return deny("amount %s exceeds per-transaction limit %s", req.Amount, max), nil
		}
	}

	if containsFold(limits.BlockList, req.Recipient) {
		return deny("recipient %s is blocked", req.Recipient), nil
	}

	if len(limits.AllowList) > 0 && !containsFold(limits.AllowList, req.Recipient) {
		return deny("recipient %s is not on the allow list", req.Recipient), nil
	}

	window := limits.Window
	if window <= 0 {
		window = DefaultWindow
	}

	if limits.MaxPerWindow != "" {
		max, ok := new(big.Int).SetString(limits.MaxPerWindow, 10)
		if !ok {
			return Decision{}, fmt.Errorf("malformed maxPerWindow %q", limits.MaxPerWindow)
		}
		spent, err := e.ledger.Total(ctx, ledger.Outgoing, window, "")
		if err != nil {
			return Decision{}, fmt.Errorf("ledger total: %w", err)
		}
		projected := new(big.Int).Add(spent, req.Amount)
		if projected.Cmp(max) > 0 {
			return deny("window total %s plus %s exceeds limit %s", spent, req.Amount, max), nil
		}
	}

	if limits.MaxTransactions > 0 {
		count, err := e.ledger.Count(ctx, ledger.Outgoing, window)
		if err != nil {
			return Decision{}, fmt.Errorf("ledger count: %w", err)
		}
		if count >= limits.MaxTransactions {
			return deny("transaction count %d reached window limit %d", count, limits.MaxTransactions), nil
		}
	}

	return allow, nil
}

// EvaluateIncoming runs the incoming checks in order: minimum amount,
// block-list, allow-list.
func (e *Engine) EvaluateIncoming(_ context.Context, req IncomingRequest) (Decision, error) {
	e.mu.RLock()
	limits := e.policy.Incoming
	e.mu.RUnlock()

	if limits == nil {
		return allow, nil
	}

	if limits.MinPerTransaction != "" {
		min, ok := new(big.Int).SetString(limits.MinPerTransaction, 10)
		if !ok {
			return Decision{}, fmt.Errorf("malformed minPerTransaction %q", limits.MinPerTransaction)
		}
		if req.Amount.Cmp(min) < 0 {
			return deny("amount %s below minimum %s", req.Amount, min), nil
		}
	}

	if containsFold(limits.BlockList, req.Sender) {
		return deny("sender %s is blocked", req.Sender), nil
	}

	if len(limits.AllowList) > 0 && !containsFold(limits.AllowList, req.Sender) {
		return deny("sender %s is not on the allow list", req.Sender), nil
	}

	return allow, nil
}

// Update replaces the outgoing and/or incoming limb wholesale when the
// corresponding field is present. There is no per-field merge.
func (e *Engine) Update(update Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if update.Outgoing != nil {
		e.policy.Outgoing = cloneOutgoing(update.Outgoing)
	}
	if update.Incoming != nil {
		e.policy.Incoming = cloneIncoming(update.Incoming)
	}
}

// Current returns a copy of the active policy. Mutating the result
// does not affect the engine.
func (e *Engine) Current() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return clonePolicy(e.policy)
}

func containsFold(list []string, value string) bool {
	for _, entry := range list {
		if strings.EqualFold(entry, value) {
			return true
		}
	}
	return false
}

func clonePolicy(p Policy) Policy {
	return Policy{
		Outgoing: cloneOutgoing(p.Outgoing),
		Incoming: cloneIncoming(p.Incoming),
	}
}

func cloneOutgoing(l *OutgoingLimits) *OutgoingLimits {
	if l == nil {
		return nil
	}
	copied := *l
	copied.AllowList = append([]string(nil), l.AllowList...)
	copied.BlockList = append([]string(nil), l.BlockList...)
	return &copied
}

func cloneIncoming(l *IncomingLimits) *IncomingLimits {
	if l == nil {
		return nil
	}
	copied := *l
	copied.AllowList = append([]string(nil), l.AllowList...)
	copied.BlockList = append([]string(nil), l.BlockList...)
	return &copied
}
