package crawler

import (
	"sync/atomic"
	"time"
)

// Params is one immutable snapshot of the live crawl tuning state. The lag
// controller publishes a fresh snapshot instead of mutating fields in place,
// so readers never observe a torn update.
type Params struct {
	MinOffset   time.Duration
	BatchSize   int
	TargetSweep time.Duration
}

// ParamState holds the current Params snapshot, atomically swappable.
type ParamState struct {
	current atomic.Pointer[Params]
}

// NewParamState seeds the state from the startup configuration.
func NewParamState(cfg *Config) *ParamState {
	state := &ParamState{}
	state.Store(Params{
		MinOffset:   cfg.MinOffset,
		BatchSize:   cfg.BatchSize,
		TargetSweep: cfg.TargetSweep,
	})
	return state
}

// Load returns the current snapshot.
func (s *ParamState) Load() Params {
	return *s.current.Load()
}

// Store publishes a new snapshot.
func (s *ParamState) Store(p Params) {
	s.current.Store(&p)
}
