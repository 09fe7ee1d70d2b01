package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrozenNowReturnsPinnedInstant(t *testing.T) {
	at := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	frozen, err := NewFrozen(at)
	require.NoError(t, err)
	assert.Equal(t, at, frozen.Now())
	assert.Equal(t, at, frozen.Now(), "frozen time does not drift between reads")
}

func TestFrozenTickAdvancesNowAndMonotonic(t *testing.T) {
	at := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	frozen, err := NewFrozen(at)
	require.NoError(t, err)

	frozen.Tick(90 * time.Second)
	assert.Equal(t, at.Add(90*time.Second), frozen.Now())
	assert.Equal(t, 90.0, frozen.Monotonic())
}

func TestFrozenSleepAdvancesInsteadOfBlocking(t *testing.T) {
	at := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	frozen, err := NewFrozen(at)
	require.NoError(t, err)

	start := time.Now()
	frozen.Sleep(time.Hour)
	assert.Less(t, time.Since(start), time.Second, "frozen Sleep must not block")
	assert.Equal(t, at.Add(time.Hour), frozen.Now())
}

func TestFrozenSetRepins(t *testing.T) {
	frozen, err := NewFrozen(time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	later := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, frozen.Set(later))
	assert.Equal(t, later, frozen.Now())
}

func TestSystemClockCarriesLocation(t *testing.T) {
	sys := NewWithLocation(time.UTC)
	assert.Equal(t, time.UTC, sys.Now().Location())

	defaulted := New()
	assert.NotNil(t, defaulted.Now().Location())
}

func TestSystemMonotonicIsNonDecreasing(t *testing.T) {
	sys := New()
	a := sys.Monotonic()
	b := sys.Monotonic()
	assert.GreaterOrEqual(t, b, a)
}
