// Package freshness reports how current the index is.
package freshness

import (
	"context"
	"fmt"
	"time"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// DefaultHorizon is how long a successful run keeps the index fresh.
const DefaultHorizon = 24 * time.Hour

// State is the freshness of the index.
type State string

const (
	// StateNever means no run ever succeeded; an initial build is needed.
	StateNever State = "never"

	// StateFresh means the last successful run is within the horizon.
	StateFresh State = "fresh"

	// StateStale means the last successful run is older than the horizon.
	// Its data is still usable; an incremental refresh is enough.
	StateStale State = "stale"

	// StateIndeterminate means the run history could not be read.
	StateIndeterminate State = "indeterminate"
)

// Freshness is the result of a status check.
type Freshness struct {
	State        State      `json:"state"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	AgeHours     *float64   `json:"age_hours,omitempty"`
	StateVersion int64      `json:"state_version"`

	// Err is set only for StateIndeterminate.
	Err error `json:"-"`
}

// NeedsInitialBuild reports whether the index has never been built.
func (f Freshness) NeedsInitialBuild() bool { return f.State == StateNever }

// NeedsRefresh reports whether an incremental refresh is due. It is false
// for a never-built index (that needs a build) and for an indeterminate
// one (nothing is known).
func (f Freshness) NeedsRefresh() bool { return f.State == StateStale }

// RunSource is the part of the store the monitor reads.
type RunSource interface {
	// RunState returns the last successful run (nil when none) and the
	// state version, both from the same snapshot.
	RunState(ctx context.Context) (*types.IndexRun, int64, error)
}

// Monitor checks index freshness against a fixed horizon.
type Monitor struct {
	runs    RunSource
	horizon time.Duration
	now     func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHorizon overrides DefaultHorizon.
func WithHorizon(d time.Duration) Option {
	return func(m *Monitor) { m.horizon = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New returns a monitor over runs.
func New(runs RunSource, opts ...Option) *Monitor {
	m := &Monitor{runs: runs, horizon: DefaultHorizon, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Horizon returns the configured horizon.
func (m *Monitor) Horizon() time.Duration { return m.horizon }

// Status reads the last successful run. It never returns an error: a
// failed read yields StateIndeterminate carrying the cause.
func (m *Monitor) Status(ctx context.Context) Freshness {
	run, version, err := m.runs.RunState(ctx)
	if err != nil {
		return Freshness{State: StateIndeterminate, Err: fmt.Errorf("failed to read run state: %w", err)}
	}
	if run == nil {
		return Freshness{State: StateNever, StateVersion: version}
	}

	last := run.StartedAt
	if run.FinishedAt != nil {
		last = *run.FinishedAt
	}
	age := m.now().Sub(last)
	if age < 0 {
		age = 0
	}
	hours := age.Hours()

	f := Freshness{State: StateFresh, LastRunAt: &last, AgeHours: &hours, StateVersion: version}
	if age > m.horizon {
		f.State = StateStale
	}
	return f
}
