// Package clock provides the injected time source used across the
// service. No component other than the default system clock factory may
// observe wall time directly; everything else takes a Clock.
package clock

import (
	"fmt"
	"time"
)

// Clock is the authority for "now" and for sleeping. Every component that
// needs wall time or a sleep duration takes one of these instead of calling
// time.Now/time.Sleep directly, so tests can freeze and advance time.
type Clock interface {
	Now() time.Time
	Monotonic() float64
	Sleep(d time.Duration)
}

// Sleeper is the minimal interface the retry engine needs; Clock satisfies
// it, but a distinct interface lets callers substitute a no-op sleeper in
// tests that want to skip delay without freezing time.
type Sleeper interface {
	Sleep(d time.Duration)
}

// tehran is the default timezone used by the system clock when the caller
// doesn't specify one.
var tehran = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Tehran")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// System is the real wall-clock implementation. It is the only type in the
// module allowed to call time.Now/time.Sleep.
type System struct {
	loc   *time.Location
	start time.Time
}

// New returns the default system clock, defaulting to Asia/Tehran.
func New() *System {
	return &System{loc: tehran, start: time.Now()}
}

// NewWithLocation returns a system clock pinned to loc.
func NewWithLocation(loc *time.Location) *System {
	if loc == nil {
		loc = tehran
	}
	return &System{loc: loc, start: time.Now()}
}

func (s *System) Now() time.Time { return time.Now().In(s.loc) }

func (s *System) Monotonic() float64 { return time.Since(s.start).Seconds() }

func (s *System) Sleep(d time.Duration) { time.Sleep(d) }

// ErrNotAware is the CLOCK_NOT_AWARE error for an instant that carries no
// time zone. A Go time.Time always has a location (Location() reports UTC
// when none was set), so Frozen.Set never receives such an instant and
// never returns this error.
var ErrNotAware = fmt.Errorf("clock: instant is not timezone-aware: CLOCK_NOT_AWARE")

// Frozen is a deterministic clock for tests: Now() returns whatever was last
// Set, and Sleep/tick manually advances it instead of blocking.
type Frozen struct {
	now   time.Time
	start time.Time
	mono  time.Duration
}

// NewFrozen creates a frozen clock pinned at the given instant.
func NewFrozen(at time.Time) (*Frozen, error) {
	f := &Frozen{start: at}
	if err := f.Set(at); err != nil {
		return nil, err
	}
	return f, nil
}

// Set pins the clock to a new instant. Its nil-Location check never fires,
// because time.Time.Location() never returns nil, so Set always succeeds.
func (f *Frozen) Set(at time.Time) error {
	if at.Location() == nil {
		return ErrNotAware
	}
	f.now = at
	return nil
}

// Tick advances the frozen clock by delta without blocking.
func (f *Frozen) Tick(delta time.Duration) {
	f.now = f.now.Add(delta)
	f.mono += delta
}

func (f *Frozen) Now() time.Time { return f.now }

func (f *Frozen) Monotonic() float64 { return f.mono.Seconds() }

// Sleep on a frozen clock advances time deterministically instead of
// blocking the goroutine; this is how the retry engine's delays become
// observable/testable without real wall-clock waits.
func (f *Frozen) Sleep(d time.Duration) { f.Tick(d) }
