package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(sec int64, nsec int64) Clock {
	return func() time.Time { return time.Unix(sec, nsec) }
}

func TestActiveGuard(t *testing.T) {
	tests := []struct {
		name string
		now  int64
		want int
	}{
		{"start of cycle", 0, 0},
		{"inside first turn", 59, 0},
		{"second turn", 60, 1},
		{"fourth turn", 199, 3},
		{"wraps around", 240, 0},
		{"large timestamp", 1_700_000_040, int((1_700_000_040 / 60) % 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(4, time.Minute, WithClock(fixedClock(tt.now, 0)))
			assert.Equal(t, tt.want, tr.ActiveGuard())
			assert.True(t, tr.IsMyTurn(tt.want))
			assert.False(t, tr.IsMyTurn((tt.want+1)%4))
		})
	}
}

func TestUntilTurnEnds(t *testing.T) {
	tr := New(4, time.Minute, WithClock(fixedClock(70, 500_000_000)))
	assert.Equal(t, 49*time.Second+500*time.Millisecond, tr.UntilTurnEnds())
	assert.Equal(t, int64(50), tr.SecondsUntilTurnEnds())

	tr = New(4, time.Minute, WithClock(fixedClock(120, 0)))
	assert.Equal(t, time.Minute, tr.UntilTurnEnds())
}

func TestUntilCycleReset(t *testing.T) {
	tr := New(4, time.Minute, WithClock(fixedClock(70, 0)))
	assert.Equal(t, 170*time.Second, tr.UntilCycleReset())
	assert.Equal(t, int64(170), tr.SecondsUntilCycleReset())

	tr = New(4, time.Minute, WithClock(fixedClock(240, 0)))
	assert.Equal(t, 4*time.Minute, tr.UntilCycleReset())
}

func TestSubSecondTurns(t *testing.T) {
	tr := New(3, 100*time.Millisecond, WithClock(fixedClock(0, 250_000_000)))
	assert.Equal(t, 2, tr.ActiveGuard())
	assert.Equal(t, 50*time.Millisecond, tr.UntilTurnEnds())
}

func TestNewDefaults(t *testing.T) {
	tr := New(0, 0)
	assert.Equal(t, 1, tr.GuardCount())
	assert.Equal(t, time.Second, tr.TurnDuration())
	assert.Equal(t, 0, tr.ActiveGuard())
}

func TestMinimumAgreement(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 1}, {1, 1}, {3, 3}, {4, 3}, {5, 4}, {6, 5}, {7, 5}, {10, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MinimumAgreement(tt.n), "n=%d", tt.n)
	}
}
