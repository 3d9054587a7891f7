// Package breaker provides a local payment circuit breaker: a rate guard
// over a rolling one-minute window and an anomaly guard comparing each
// requested amount against the recent settled average. It is an independent
// defense layer; a payment must clear both the spend policy and the breaker
// to proceed.
package breaker

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// State of the breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Defaults.
const (
	DefaultMaxPerMinute      = 50
	DefaultAnomalyMultiplier = 10
	DefaultCooldown          = 60 * time.Second
	DefaultWindowSize        = 20
)

// rateWindow is the span over which payment timestamps count toward the
// rate guard.
const rateWindow = time.Minute

// anomalyMinSamples is the number of settled amounts required before the
// anomaly guard engages.
const anomalyMinSamples = 3

// Config tunes the breaker. Zero fields take the defaults.
type Config struct {
	// MaxPerMinute trips the breaker when this many payments complete
	// within the rolling minute.
	MaxPerMinute int

	// AnomalyMultiplier trips the breaker when a requested amount exceeds
	// the recent settled average times this factor.
	AnomalyMultiplier int

	// Cooldown is how long the breaker stays open before permitting a
	// half-open probe.
	Cooldown time.Duration

	// WindowSize bounds both rolling windows (timestamps and amounts).
	WindowSize int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	Reason  string

	// RetryAfter is the remaining cooldown when denied while open.
	RetryAfter time.Duration
}

// Breaker is the circuit breaker. Safe for concurrent use; window
// mutations are serialized under one mutex so the windows always reflect
// exactly the completed RecordSuccess/RecordFailure calls.
type Breaker struct {
	mu sync.Mutex

	maxPerMinute      int
	anomalyMultiplier int
	cooldown          time.Duration
	windowSize        int
	now               func() time.Time

	state      State
	probing    bool
	timestamps []time.Time
	amounts    []*big.Int
	trippedAt  time.Time
	tripReason string
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.MaxPerMinute <= 0 {
		cfg.MaxPerMinute = DefaultMaxPerMinute
	}
	if cfg.AnomalyMultiplier <= 0 {
		cfg.AnomalyMultiplier = DefaultAnomalyMultiplier
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{
		maxPerMinute:      cfg.MaxPerMinute,
		anomalyMultiplier: cfg.AnomalyMultiplier,
		cooldown:          cfg.Cooldown,
		windowSize:        cfg.WindowSize,
		now:               cfg.Clock,
		state:             StateClosed,
	}
}

// Check evaluates whether a payment of amount may proceed. An open breaker
// whose cooldown has elapsed transitions to half-open and evaluates the
// guards; otherwise open denies with the remaining cooldown. Half-open
// permits a single probe: further checks are denied until RecordSuccess or
// RecordFailure resolves it. The rate and anomaly guards may trip the
// breaker during the call.
func (b *Breaker) Check(amount *big.Int) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateOpen {
		elapsed := now.Sub(b.trippedAt)
		if elapsed < b.cooldown {
			return Decision{
				Reason:     fmt.Sprintf("cooling down after trip: %s", b.tripReason),
				RetryAfter: b.cooldown - elapsed,
			}
		}
		b.state = StateHalfOpen
	}

	if b.state == StateHalfOpen && b.probing {
		return Decision{Reason: "half-open probe in flight"}
	}

	// Rate guard over the rolling minute.
	cutoff := now.Add(-rateWindow)
	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.timestamps = kept
	if len(b.timestamps) >= b.maxPerMinute {
		b.trip(now, fmt.Sprintf("rate limit: %d payments in the last minute", len(b.timestamps)))
		return Decision{Reason: b.tripReason}
	}

	// Anomaly guard: engages once enough settled amounts exist and their
	// average is strictly positive.
	if len(b.amounts) >= anomalyMinSamples {
		sum := new(big.Int)
		for _, a := range b.amounts {
			sum.Add(sum, a)
		}
		mean := new(big.Int).Div(sum, big.NewInt(int64(len(b.amounts))))
		if mean.Sign() > 0 {
			threshold := new(big.Int).Mul(mean, big.NewInt(int64(b.anomalyMultiplier)))
			if amount.Cmp(threshold) > 0 {
				b.trip(now, fmt.Sprintf("anomalous amount %s exceeds %dx recent average %s", amount, b.anomalyMultiplier, mean))
				return Decision{Reason: b.tripReason}
			}
		}
	}

	if b.state == StateHalfOpen {
		b.probing = true
	}
	return Decision{Allowed: true}
}

// RecordSuccess appends the payment to both rolling windows, evicting the
// oldest entries beyond the window size. A successful half-open probe
// closes the breaker and clears the trip reason.
func (b *Breaker) RecordSuccess(amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timestamps = append(b.timestamps, b.now())
	if len(b.timestamps) > b.windowSize {
		b.timestamps = b.timestamps[len(b.timestamps)-b.windowSize:]
	}
	b.amounts = append(b.amounts, new(big.Int).Set(amount))
	if len(b.amounts) > b.windowSize {
		b.amounts = b.amounts[len(b.amounts)-b.windowSize:]
	}

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		b.tripReason = ""
		b.trippedAt = time.Time{}
	}
}

// RecordFailure re-opens the breaker when a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		b.trip(b.now(), "probe failed while half-open")
	}
}

// Reset forces the breaker closed and clears all trip state. The rolling
// windows are cleared as well.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.probing = false
	b.timestamps = nil
	b.amounts = nil
	b.trippedAt = time.Time{}
	b.tripReason = ""
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TripReason returns the reason of the last trip, or "" when the breaker
// has not tripped since it last closed.
func (b *Breaker) TripReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripReason
}

// trip must be called with the lock held.
func (b *Breaker) trip(now time.Time, reason string) {
	b.state = StateOpen
	b.trippedAt = now
	b.tripReason = reason
}
