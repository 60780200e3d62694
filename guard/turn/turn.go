// Package turn maps wall-clock time to the guard that may currently propose transactions.
//
// Guards take turns in a fixed round-robin: the active guard is floor(now / turnDuration) mod
// guardCount. No messages are exchanged, so guards must keep their clocks loosely synchronized.
package turn

import (
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Turn is a stateless round-robin turn calculator.
type Turn struct {
	guardCount   int
	turnDuration time.Duration
	now          Clock
}

// Option customizes a Turn.
type Option func(*Turn)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(t *Turn) { t.now = c }
}

// New creates a turn calculator for guardCount guards. guardCount and turnDuration must be positive.
func New(guardCount int, turnDuration time.Duration, opts ...Option) *Turn {
	if guardCount < 1 {
		guardCount = 1
	}
	if turnDuration <= 0 {
		turnDuration = time.Second
	}
	t := &Turn{
		guardCount:   guardCount,
		turnDuration: turnDuration,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GuardCount returns the number of guards taking turns.
func (t *Turn) GuardCount() int {
	return t.guardCount
}

// TurnDuration returns the length of a single turn.
func (t *Turn) TurnDuration() time.Duration {
	return t.turnDuration
}

func (t *Turn) epoch(now time.Time) int64 {
	return now.UnixNano() / int64(t.turnDuration)
}

// ActiveGuard returns the index of the guard whose turn it is now.
func (t *Turn) ActiveGuard() int {
	return t.ActiveGuardAt(t.now())
}

// ActiveGuardAt returns the index of the guard whose turn it is at the given time.
func (t *Turn) ActiveGuardAt(at time.Time) int {
	return int(t.epoch(at) % int64(t.guardCount))
}

// IsMyTurn reports whether the guard with the given index is the active guard.
func (t *Turn) IsMyTurn(index int) bool {
	return t.ActiveGuard() == index
}

// UntilTurnEnds returns the time left in the current turn.
func (t *Turn) UntilTurnEnds() time.Duration {
	now := t.now().UnixNano()
	d := int64(t.turnDuration)
	return time.Duration(d - now%d)
}

// UntilCycleReset returns the time left until every guard has had its turn in the current cycle.
func (t *Turn) UntilCycleReset() time.Duration {
	now := t.now().UnixNano()
	cycle := int64(t.turnDuration) * int64(t.guardCount)
	return time.Duration(cycle - now%cycle)
}

// SecondsUntilTurnEnds returns UntilTurnEnds rounded up to whole seconds.
func (t *Turn) SecondsUntilTurnEnds() int64 {
	return ceilSeconds(t.UntilTurnEnds())
}

// SecondsUntilCycleReset returns UntilCycleReset rounded up to whole seconds.
func (t *Turn) SecondsUntilCycleReset() int64 {
	return ceilSeconds(t.UntilCycleReset())
}

func ceilSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

// MinimumAgreement returns the default approval threshold for n guards: floor(2n/3)+1, capped at n.
func MinimumAgreement(n int) int {
	if n <= 0 {
		return 1
	}
	threshold := (2*n)/3 + 1
	if threshold > n {
		threshold = n
	}
	return threshold
}
