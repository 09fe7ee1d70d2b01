// Package probes implements the time-boxed readiness/health aggregator:
// independent, per-call-timeout component checks that never let one hang
// the others.
package probes

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
)

// Probe is one independently checkable dependency.
type Probe interface {
	Component() string
	Check(ctx context.Context) error
}

// Result is one probe's outcome.
type Result struct {
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
}

// Aggregator runs a fixed set of probes concurrently, bounding each to its
// own timeout so a hung dependency cannot delay the others.
type Aggregator struct {
	Probes  []Probe
	Metrics *metrics.Registry
}

// NewAggregator builds an Aggregator over the given probes.
func NewAggregator(reg *metrics.Registry, probeList ...Probe) *Aggregator {
	return &Aggregator{Probes: probeList, Metrics: reg}
}

// Run executes every probe with the given per-probe timeout and returns one
// Result per probe, in the same order they were registered.
func (a *Aggregator) Run(ctx context.Context, timeout time.Duration) []Result {
	results := make([]Result, len(a.Probes))

	var wg sync.WaitGroup
	for i, p := range a.Probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			results[i] = a.runOne(ctx, p, timeout)
		}(i, p)
	}
	wg.Wait()

	return results
}

func (a *Aggregator) runOne(ctx context.Context, p Probe, timeout time.Duration) Result {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.Check(probeCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.record(p.Component(), false)
			return Result{Component: p.Component(), Healthy: false, Detail: err.Error()}
		}
		a.record(p.Component(), true)
		return Result{Component: p.Component(), Healthy: true}
	case <-probeCtx.Done():
		a.record(p.Component(), false)
		return Result{Component: p.Component(), Healthy: false, Detail: "probe timed out"}
	}
}

func (a *Aggregator) record(component string, healthy bool) {
	if a.Metrics == nil {
		return
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	a.Metrics.ReadinessCheck(component, status).Inc()
}

// AllHealthy reports whether every result in results is healthy.
func AllHealthy(results []Result) bool {
	for _, r := range results {
		if !r.Healthy {
			return false
		}
	}
	return true
}

// KVStoreProbe checks liveness of a kv.Store via a scoped set/get
// round-trip, so the same probe works against both the Memory and Redis
// implementations without a type switch.
type KVStoreProbe struct {
	Name  string
	Store kv.Store
}

func (p KVStoreProbe) Component() string { return p.Name }

func (p KVStoreProbe) Check(ctx context.Context) error {
	key := "probe:" + p.Name
	if err := p.Store.Set(ctx, key, "ok", time.Minute); err != nil {
		return fmt.Errorf("probes: store set: %w", err)
	}
	value, ok, err := p.Store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("probes: store get: %w", err)
	}
	if !ok || value != "ok" {
		return fmt.Errorf("probes: store round-trip mismatch")
	}
	return nil
}

// DBProbe checks liveness of a *sql.DB (Postgres or SQLite) via PingContext.
type DBProbe struct {
	Name string
	DB   *sql.DB
}

func (p DBProbe) Component() string { return p.Name }

func (p DBProbe) Check(ctx context.Context) error {
	if err := p.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("probes: db ping: %w", err)
	}
	return nil
}
