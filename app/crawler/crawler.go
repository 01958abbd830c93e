package crawler

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/db/stats"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

// Crawler is the pipeline orchestrator. It pulls batches from the selector,
// fans them through the change detector under the batch concurrency limit,
// and routes changed accounts to the updater under the account concurrency
// limit. Bounded pool queues give backpressure end to end: a saturated
// updater blocks detection, a saturated detector pauses selection.
type Crawler struct {
	Selector *Selector
	Detector *Detector
	Updater  *Updater
	Store    Store
	Config   *Config
	Logger   *zap.Logger
	Metrics  *Metrics

	// inflight holds the accounts currently claimed by a submitted batch.
	// The selector re-queries the store every cycle and in-flight accounts
	// keep their old crawled_at until commit, so without the claim they
	// would be re-selected and processed concurrently with themselves.
	inflight *xsync.Map[wargaming.AccountID, struct{}]
}

// Run executes the pipeline until ctx is cancelled. Cancellation stops batch
// admission immediately; already-admitted batches and accounts drain before
// Run returns, so no account write is ever abandoned mid-transaction.
func (c *Crawler) Run(ctx context.Context) error {
	// In-flight work runs on a context that survives the shutdown signal.
	// The store transaction makes abort-before-commit safe, but letting
	// admitted units finish avoids wasting their upstream calls.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	c.inflight = xsync.NewMap[wargaming.AccountID, struct{}]()

	batchPool := pond.NewPool(c.Config.BatchConcurrency,
		pond.WithContext(workCtx),
		pond.WithQueueSize(c.Config.BatchConcurrency))
	accountPool := pond.NewPool(c.Config.AccountConcurrency,
		pond.WithContext(workCtx),
		pond.WithQueueSize(c.Config.AccountConcurrency))

	c.Logger.Info("Crawler pipeline started",
		zap.Int("batch_concurrency", c.Config.BatchConcurrency),
		zap.Int("account_concurrency", c.Config.AccountConcurrency),
		zap.Int("batch_size", c.Params().BatchSize))

	for ctx.Err() == nil {
		batch, err := c.Selector.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.Logger.Error("Batch selection failed", zap.Error(err))
			sleep(ctx, c.Config.IdleWait)
			continue
		}
		// Claim each account before admission so at most one batch holds it
		// at a time. Accounts already in flight drop out of this cycle and
		// become selectable again once released.
		claimed := make([]stats.Account, 0, len(batch))
		for _, account := range batch {
			if _, loaded := c.inflight.LoadOrStore(account.ID, struct{}{}); !loaded {
				claimed = append(claimed, account)
			}
		}
		if len(claimed) == 0 {
			// Nothing currently eligible: wait and re-derive, never terminal.
			sleep(ctx, c.Config.IdleWait)
			continue
		}

		// Blocks when the detector limit is saturated, pausing selection.
		batchPool.Submit(func() {
			c.processBatch(workCtx, accountPool, claimed)
		})
	}

	c.Logger.Info("Shutdown requested, draining in-flight work")
	batchPool.StopAndWait()
	accountPool.StopAndWait()
	c.Logger.Info("Crawler pipeline stopped")

	return nil
}

// Params exposes the live parameters snapshot.
func (c *Crawler) Params() Params {
	return c.Selector.Params.Load()
}

// processBatch runs the change detector on one batch and routes the outcome:
// unchanged accounts are touched in bulk, changed accounts are handed to the
// account pool.
func (c *Crawler) processBatch(ctx context.Context, accounts pond.Pool, batch []stats.Account) {
	outcome, err := c.Detector.Detect(ctx, batch)
	if err != nil {
		// The batch is dropped for this cycle; its accounts stay eligible
		// because crawled_at was left untouched.
		c.Metrics.MarkBatchFailed()
		c.Logger.Error("Batch dropped",
			zap.Int("size", len(batch)),
			zap.Error(err))
		for i := range batch {
			c.inflight.Delete(batch[i].ID)
		}
		return
	}

	if len(outcome.Unchanged) > 0 {
		if err := c.Store.TouchAccounts(ctx, outcome.Unchanged, time.Now().UTC()); err != nil {
			c.Logger.Error("Failed to touch unchanged accounts",
				zap.Int("count", len(outcome.Unchanged)),
				zap.Error(err))
		} else {
			c.Metrics.MarkTouched(len(outcome.Unchanged))
		}
		for _, id := range outcome.Unchanged {
			c.inflight.Delete(id)
		}
	}

	for _, changed := range outcome.Changed {
		// Blocks when the updater limit is saturated rather than spawning
		// unboundedly. The claim releases only after the update finishes.
		accounts.Submit(func() {
			defer c.inflight.Delete(changed.Info.ID)
			c.processAccount(ctx, changed)
		})
	}
}

// processAccount runs the updater on one changed account and records the
// typed outcome.
func (c *Crawler) processAccount(ctx context.Context, changed ChangedAccount) {
	result, err := c.Updater.Update(ctx, changed)
	if err != nil {
		c.Metrics.MarkAccountFailed()
		c.Logger.Error("Account left untouched",
			zap.Int32("account_id", int32(changed.Info.ID)),
			zap.String("outcome", result.Outcome.String()),
			zap.Error(err))
		return
	}
	if result.Outcome == OutcomeUpdated {
		c.Metrics.MarkUpdated(result.Tanks)
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
