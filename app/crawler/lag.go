package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LagController keeps the population's staleness percentile bounded by the
// target sweep duration. Each tick nudges the minimum re-crawl offset by one
// bounded step instead of jumping to a computed optimum, which keeps the loop
// stable under bursty upstream latency. An operator override read from the
// tuning channel freezes the controller at the overridden value.
type LagController struct {
	Store   Store
	Tuning  TuningChannel // nil when Redis is disabled
	Params  *ParamState
	Config  *Config
	Logger  *zap.Logger
	Metrics *Metrics
}

// Tick runs one control cycle: observe the lag percentile, compute the next
// offset, publish it, and swap in a fresh parameters snapshot.
func (c *LagController) Tick(ctx context.Context) {
	params := c.Params.Load()

	observed, ok, err := c.Store.StalenessPercentile(ctx, c.Config.LagPercentile)
	if err != nil {
		c.Logger.Warn("Failed to compute staleness percentile", zap.Error(err))
		return
	}
	if !ok {
		c.Logger.Debug("No tracked accounts yet, lag controller idle")
		return
	}

	offset := params.MinOffset
	switch {
	case c.overrideOffset(ctx, &offset):
		// Operator override wins; the control step is skipped.
	case c.Config.AutoOffset:
		offset = nextOffset(params.MinOffset, observed, params.TargetSweep,
			c.Config.OffsetStep, c.Config.OffsetFloor, c.Config.OffsetCeiling)
	}

	if c.Tuning != nil {
		c.Tuning.PublishOffset(ctx, offset)
	}
	if c.Metrics != nil {
		c.Metrics.ObserveLag(observed, offset)
	}

	if offset != params.MinOffset {
		c.Logger.Info("Adjusted re-crawl offset",
			zap.Duration("from", params.MinOffset),
			zap.Duration("to", offset),
			zap.Duration("observed_lag", observed),
			zap.Duration("target_sweep", params.TargetSweep))
		params.MinOffset = offset
		c.Params.Store(params)
	}
}

// overrideOffset applies the operator override, clamped to the configured
// bounds. Returns false when no override is set or the channel is down.
func (c *LagController) overrideOffset(ctx context.Context, offset *time.Duration) bool {
	if c.Tuning == nil {
		return false
	}
	override, ok, err := c.Tuning.OffsetOverride(ctx)
	if err != nil {
		c.Logger.Warn("Failed to read offset override", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	*offset = clamp(override, c.Config.OffsetFloor, c.Config.OffsetCeiling)
	return true
}

// nextOffset is the pure control step. Lag above the target shrinks the
// offset so accounts re-enter the eligible pool sooner; lag comfortably below
// the target grows it to avoid wasted upstream calls. One bounded step per
// tick, always clamped to [floor, ceiling].
func nextOffset(current, observedLag, targetSweep, step, floor, ceiling time.Duration) time.Duration {
	switch {
	case observedLag > targetSweep:
		return clamp(current-step, floor, ceiling)
	case observedLag < targetSweep/2:
		return clamp(current+step, floor, ceiling)
	default:
		return clamp(current, floor, ceiling)
	}
}

func clamp(d, floor, ceiling time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
