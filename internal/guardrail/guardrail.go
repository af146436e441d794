// Package guardrail tracks the safety state that gates automatic playbook
// execution: rate limiting, a failure circuit breaker, manual pause, the
// kill switch, and a 24-hour action dedup cache.
//
// All mutable state lives in a Tracker owned by the automation engine and is
// serialized behind a single mutex. Collaborators mutate preferences only
// through the Tracker's setters and read them as immutable snapshots.
package guardrail

import (
	"fmt"
	"sync"
	"time"
)

// Profile selects how eagerly automation fires.
type Profile string

const (
	ProfileOff        Profile = "off"
	ProfileBalanced   Profile = "balanced"
	ProfileAggressive Profile = "aggressive"
)

// Validate checks that the profile is a recognized value.
func (p Profile) Validate() error {
	switch p {
	case ProfileOff, ProfileBalanced, ProfileAggressive:
		return nil
	default:
		return fmt.Errorf("unknown profile: %q", p)
	}
}

// Toggles are the per-rule automation switches.
type Toggles struct {
	QuickEDAOnMount  bool
	CleanOnHighNulls bool
	PlotsOnMissing   bool
}

// Preferences is an immutable snapshot of the operator-settable automation
// preferences. The rule engine reads one snapshot per decision.
type Preferences struct {
	Profile     Profile
	Toggles     Toggles
	KillSwitch  bool
	PausedUntil time.Time // zero when no manual pause is set
}

// VerdictKind is the outcome of a guardrail evaluation.
type VerdictKind string

const (
	VerdictReady          VerdictKind = "ready"
	VerdictRateLimited    VerdictKind = "rate_limited"
	VerdictCircuitOpen    VerdictKind = "circuit_open"
	VerdictManuallyPaused VerdictKind = "manually_paused"
	VerdictDisabled       VerdictKind = "disabled"
)

// Verdict is a computed guardrail decision. Until is set for the timed
// kinds (rate_limited, circuit_open, manually_paused) and zero otherwise.
type Verdict struct {
	Kind  VerdictKind
	Until time.Time
}

// Ready reports whether execution may proceed.
func (v Verdict) Ready() bool {
	return v.Kind == VerdictReady
}

// Reason returns a human-readable explanation suitable for a paused status.
func (v Verdict) Reason() string {
	switch v.Kind {
	case VerdictReady:
		return "ready"
	case VerdictRateLimited:
		return fmt.Sprintf("Rate limited until %s", v.Until.Format(time.RFC3339))
	case VerdictCircuitOpen:
		return fmt.Sprintf("Circuit open until %s", v.Until.Format(time.RFC3339))
	case VerdictManuallyPaused:
		return fmt.Sprintf("Paused by operator until %s", v.Until.Format(time.RFC3339))
	case VerdictDisabled:
		return "Automation disabled"
	default:
		return string(v.Kind)
	}
}

// Guardrail timing constants. These are deliberate product decisions, not
// tunables: changing them changes the safety envelope.
const (
	// RateLimitWindow is the minimum gap between successful automated actions.
	RateLimitWindow = 45 * time.Second

	// CircuitFailureWindow is the rolling window over which failures count
	// toward opening the circuit.
	CircuitFailureWindow = 3 * time.Minute

	// CircuitThreshold is the number of failures within the window that
	// opens the circuit.
	CircuitThreshold = 2

	// CircuitCooldown is how long the circuit stays open once tripped.
	CircuitCooldown = 10 * time.Minute

	// CacheTTL is how long a completed action's cache key suppresses an
	// identical action.
	CacheTTL = 24 * time.Hour
)

// Tracker owns the guardrail counters and preference state.
// All methods are safe for concurrent use.
type Tracker struct {
	mu               sync.Mutex
	prefs            Preferences
	lastActionAt     time.Time
	errorTimes       []time.Time
	circuitOpenUntil time.Time
	cached           map[string]time.Time

	now func() time.Time
}

// NewTracker creates a tracker with the given initial preferences.
func NewTracker(prefs Preferences) *Tracker {
	return &Tracker{
		prefs:  prefs,
		cached: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetClock overrides the tracker's time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Preferences returns the current preference snapshot.
func (t *Tracker) Preferences() Preferences {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prefs
}

// SetProfile updates the automation profile.
func (t *Tracker) SetProfile(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefs.Profile = p
	return nil
}

// SetToggles replaces the per-rule switches.
func (t *Tracker) SetToggles(tg Toggles) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefs.Toggles = tg
}

// SetKillSwitch sets or clears the kill switch.
func (t *Tracker) SetKillSwitch(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefs.KillSwitch = on
}

// PauseUntil sets a manual pause that suppresses automation until the given
// time. It is never cleared internally; use Resume.
func (t *Tracker) PauseUntil(until time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefs.PausedUntil = until
}

// Resume clears a manual pause.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefs.PausedUntil = time.Time{}
}

// Verdict computes the current guardrail verdict. Evaluation order is
// load-bearing: disabled suppresses everything including an open circuit,
// and a manual pause is checked before the circuit so an operator's pause is
// never overridden by automatic recovery.
func (t *Tracker) Verdict() Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if t.prefs.KillSwitch || t.prefs.Profile == ProfileOff {
		return Verdict{Kind: VerdictDisabled}
	}

	if !t.prefs.PausedUntil.IsZero() && now.Before(t.prefs.PausedUntil) {
		return Verdict{Kind: VerdictManuallyPaused, Until: t.prefs.PausedUntil}
	}

	if now.Before(t.circuitOpenUntil) {
		return Verdict{Kind: VerdictCircuitOpen, Until: t.circuitOpenUntil}
	}

	if !t.lastActionAt.IsZero() {
		limit := t.lastActionAt.Add(RateLimitWindow)
		if now.Before(limit) {
			return Verdict{Kind: VerdictRateLimited, Until: limit}
		}
	}

	return Verdict{Kind: VerdictReady}
}

// RegisterSuccess records a completed action: stamps the rate limiter and
// caches the action's dedup key for CacheTTL.
func (t *Tracker) RegisterSuccess(cacheKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.lastActionAt = now
	if cacheKey != "" {
		t.cached[cacheKey] = now
	}
}

// RegisterFailure records a failed action. Two failures within the rolling
// window open the circuit for CircuitCooldown and reset the counter, so a
// single stale failure never keeps the circuit primed forever.
func (t *Tracker) RegisterFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneErrorsLocked(now)
	t.errorTimes = append(t.errorTimes, now)

	if len(t.errorTimes) >= CircuitThreshold {
		t.circuitOpenUntil = now.Add(CircuitCooldown)
		t.errorTimes = nil
	}
}

// ShouldSkip reports whether an action with this cache key completed within
// the last CacheTTL. Expired entries are purged before the check.
func (t *Tracker) ShouldSkip(cacheKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, at := range t.cached {
		if now.Sub(at) >= CacheTTL {
			delete(t.cached, key)
		}
	}

	_, ok := t.cached[cacheKey]
	return ok
}

// pruneErrorsLocked drops failure timestamps outside the rolling window.
// Caller must hold t.mu.
func (t *Tracker) pruneErrorsLocked(now time.Time) {
	cutoff := now.Add(-CircuitFailureWindow)
	kept := t.errorTimes[:0]
	for _, at := range t.errorTimes {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.errorTimes = kept
}
