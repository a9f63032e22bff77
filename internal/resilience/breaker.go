package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerState is the state of one module's circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
	StateUnknown  BreakerState = "unknown"
)

// BreakerSettings configures a breaker.
type BreakerSettings struct {
	Threshold uint32        // consecutive failures that open the breaker
	Cooldown  time.Duration // time spent open before a half-open trial
}

// DefaultBreakerSettings trips after 5 consecutive failures and stays open for 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

func (s BreakerSettings) normalized() BreakerSettings {
	def := DefaultBreakerSettings()
	if s.Threshold == 0 {
		s.Threshold = def.Threshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = def.Cooldown
	}
	return s
}

// BreakerSnapshot is a point-in-time copy of a breaker's state.
type BreakerSnapshot struct {
	Module       string
	State        BreakerState
	FailureCount uint32
	SuccessCount uint32
	Threshold    uint32
	Cooldown     time.Duration
	OpenedAt     time.Time // zero if never opened
}

// StateChangeFunc is notified on every breaker transition.
type StateChangeFunc func(module string, from, to BreakerState)

// Permit is handed out by Allow and must be settled exactly once.
// The zero Permit is a no-op.
type Permit struct {
	done func(success bool)
}

// Success records a successful call.
func (p Permit) Success() {
	if p.done != nil {
		p.done(true)
	}
}

// Failure records a failed call.
func (p Permit) Failure() {
	if p.done != nil {
		p.done(false)
	}
}

type breakerEntry struct {
	cb       *gobreaker.TwoStepCircuitBreaker
	settings BreakerSettings
	openedAt atomic.Int64 // unix nanos of last transition to open
}

// Breakers is the per-module circuit breaker store. Breakers are created
// lazily on first use and live until Reset.
type Breakers struct {
	mu        sync.Mutex
	defaults  BreakerSettings
	overrides map[string]BreakerSettings
	entries   map[string]*breakerEntry
	logger    *zap.Logger
	onChange  StateChangeFunc
}

// BreakerOption configures Breakers.
type BreakerOption func(*Breakers)

// WithBreakerLogger sets the logger used for state transitions.
func WithBreakerLogger(l *zap.Logger) BreakerOption {
	return func(b *Breakers) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithStateChange registers a transition callback. It is called
// synchronously while the breaker's own lock is held and must not call back
// into Breakers.
func WithStateChange(fn StateChangeFunc) BreakerOption {
	return func(b *Breakers) {
		b.onChange = fn
	}
}

// NewBreakers creates a breaker store using defaults for every module
// without an explicit override.
func NewBreakers(defaults BreakerSettings, opts ...BreakerOption) *Breakers {
	b := &Breakers{
		defaults:  defaults.normalized(),
		overrides: make(map[string]BreakerSettings),
		entries:   make(map[string]*breakerEntry),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configure sets per-module settings. An existing breaker for the module is
// rebuilt with the new settings.
func (b *Breakers) Configure(module string, s BreakerSettings) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.overrides[module] = s.normalized()
	if _, exists := b.entries[module]; exists {
		b.entries[module] = b.newEntry(module)
	}
}

// Allow reports whether a call to module may proceed. It returns false while
// the breaker is open and its cooldown has not elapsed, and while a half-open
// trial call is already in flight. Once the cooldown elapses exactly one
// caller is let through.
func (b *Breakers) Allow(module string) (Permit, bool) {
	entry := b.get(module)

	done, err := entry.cb.Allow()
	if err != nil {
		b.logger.Debug("circuit breaker rejected call",
			zap.String("module", module),
			zap.String("state", convertState(entry.cb.State()).String()),
			zap.Error(err))
		return Permit{}, false
	}
	return Permit{done: done}, true
}

// RejectionError builds the error reported for a refused call.
func (b *Breakers) RejectionError(module string) *CircuitOpenError {
	snap := b.Snapshot(module)
	err := &CircuitOpenError{Module: module, State: snap.State}
	if snap.State == StateOpen && !snap.OpenedAt.IsZero() {
		if remaining := snap.Cooldown - time.Since(snap.OpenedAt); remaining > 0 {
			err.RetryAfter = remaining
		}
	}
	return err
}

// Snapshot returns a copy of module's breaker state. Modules that were never
// invoked report a closed breaker with default settings.
func (b *Breakers) Snapshot(module string) BreakerSnapshot {
	b.mu.Lock()
	entry, exists := b.entries[module]
	settings := b.settingsFor(module)
	b.mu.Unlock()

	if !exists {
		return BreakerSnapshot{
			Module:    module,
			State:     StateClosed,
			Threshold: settings.Threshold,
			Cooldown:  settings.Cooldown,
		}
	}
	return entry.snapshot(module)
}

// Snapshots returns copies of every breaker created so far.
func (b *Breakers) Snapshots() []BreakerSnapshot {
	b.mu.Lock()
	entries := make(map[string]*breakerEntry, len(b.entries))
	for name, e := range b.entries {
		entries[name] = e
	}
	b.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(entries))
	for name, e := range entries {
		out = append(out, e.snapshot(name))
	}
	return out
}

// Reset replaces module's breaker with a fresh closed one.
func (b *Breakers) Reset(module string) {
	b.mu.Lock()
	old, exists := b.entries[module]
	if exists {
		b.entries[module] = b.newEntry(module)
	}
	b.mu.Unlock()

	if !exists {
		return
	}

	from := convertState(old.cb.State())
	b.logger.Info("circuit breaker reset", zap.String("module", module), zap.String("from", from.String()))
	if from != StateClosed && b.onChange != nil {
		b.onChange(module, from, StateClosed)
	}
}

func (b *Breakers) get(module string) *breakerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.entries[module]; ok {
		return entry
	}
	entry := b.newEntry(module)
	b.entries[module] = entry
	return entry
}

// settingsFor must be called with b.mu held.
func (b *Breakers) settingsFor(module string) BreakerSettings {
	if s, ok := b.overrides[module]; ok {
		return s
	}
	return b.defaults
}

// newEntry must be called with b.mu held.
func (b *Breakers) newEntry(module string) *breakerEntry {
	settings := b.settingsFor(module)
	entry := &breakerEntry{settings: settings}

	entry.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        module,
		MaxRequests: 1, // exactly one trial call while half-open
		Interval:    0, // never clear counts while closed
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				entry.openedAt.Store(time.Now().UnixNano())
			}
			b.handleStateChange(name, convertState(from), convertState(to))
		},
	})
	return entry
}

func (b *Breakers) handleStateChange(module string, from, to BreakerState) {
	switch to {
	case StateOpen:
		b.logger.Warn("circuit breaker opened", zap.String("module", module), zap.String("from", from.String()))
	case StateHalfOpen:
		b.logger.Info("circuit breaker half-open, allowing trial call", zap.String("module", module))
	case StateClosed:
		b.logger.Info("circuit breaker closed", zap.String("module", module))
	}

	if b.onChange != nil {
		b.onChange(module, from, to)
	}
}

func (e *breakerEntry) snapshot(module string) BreakerSnapshot {
	counts := e.cb.Counts()
	snap := BreakerSnapshot{
		Module:       module,
		State:        convertState(e.cb.State()),
		FailureCount: counts.ConsecutiveFailures,
		SuccessCount: counts.TotalSuccesses,
		Threshold:    e.settings.Threshold,
		Cooldown:     e.settings.Cooldown,
	}
	if ns := e.openedAt.Load(); ns != 0 {
		snap.OpenedAt = time.Unix(0, ns)
	}
	return snap
}

// String returns the state name.
func (s BreakerState) String() string {
	return string(s)
}

func convertState(state gobreaker.State) BreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
