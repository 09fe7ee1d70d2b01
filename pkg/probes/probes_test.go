package probes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
)

type sleepyProbe struct {
	name  string
	delay time.Duration
	err   error
}

func (s sleepyProbe) Component() string { return s.name }

func (s sleepyProbe) Check(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAggregatorRunAllHealthy(t *testing.T) {
	reg := metrics.New("probes_test_ok")
	agg := NewAggregator(reg, sleepyProbe{name: "a", delay: time.Millisecond}, sleepyProbe{name: "b", delay: time.Millisecond})

	results := agg.Run(context.Background(), 100*time.Millisecond)
	require.Len(t, results, 2)
	assert.True(t, AllHealthy(results))
}

func TestAggregatorOneSlowProbeDoesNotBlockOthers(t *testing.T) {
	reg := metrics.New("probes_test_slow")
	agg := NewAggregator(reg,
		sleepyProbe{name: "fast", delay: time.Millisecond},
		sleepyProbe{name: "slow", delay: time.Hour},
	)

	start := time.Now()
	results := agg.Run(context.Background(), 20*time.Millisecond)
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.Less(t, elapsed, time.Second, "aggregator must not wait for the hung probe")

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Component] = r
	}
	assert.True(t, byName["fast"].Healthy)
	assert.False(t, byName["slow"].Healthy)
	assert.Equal(t, "probe timed out", byName["slow"].Detail)
}

func TestAggregatorReportsProbeError(t *testing.T) {
	reg := metrics.New("probes_test_err")
	agg := NewAggregator(reg, sleepyProbe{name: "broken", delay: time.Millisecond, err: errors.New("boom")})

	results := agg.Run(context.Background(), 50*time.Millisecond)
	require.Len(t, results, 1)
	assert.False(t, results[0].Healthy)
	assert.Contains(t, results[0].Detail, "boom")
}

func TestKVStoreProbeRoundTrips(t *testing.T) {
	frozen, err := clock.NewFrozen(time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	store := kv.NewMemory("probes_test", frozen)
	probe := KVStoreProbe{Name: "kv", Store: store}
	assert.NoError(t, probe.Check(context.Background()))
}
