package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/db/stats"
	"github.com/armored-dev/blitzmirror/pkg/ratelimit"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

func pipelineConfig() *Config {
	return &Config{
		BatchSize:          10,
		BatchConcurrency:   2,
		AccountConcurrency: 4,
		IdleWait:           10 * time.Millisecond,
		MinOffset:          5 * time.Minute,
		OffsetFloor:        time.Minute,
		OffsetCeiling:      time.Hour,
		OffsetStep:         time.Minute,
		TargetSweep:        12 * time.Hour,
		LagPercentile:      0.5,
		MaxRetries:         3,
	}
}

func newPipeline(cfg *Config, store *fakeStore, api *fakeAPI) *Crawler {
	logger := zap.NewNop()
	params := NewParamState(cfg)
	metrics := NewMetrics(ratelimit.New(1000, 10))
	return &Crawler{
		Selector: &Selector{Store: store, Params: params, Logger: logger},
		Detector: &Detector{API: api, Retry: fastRetry, Logger: logger},
		Updater:  &Updater{Store: store, API: api, Retry: fastRetry, Logger: logger},
		Store:    store,
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
	}
}

func TestPipelineUpdatesChangedAndTouchesUnchanged(t *testing.T) {
	t0 := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	t1 := t0.Add(2 * time.Hour)
	crawledAt := time.Now().Add(-time.Hour)

	store := newFakeStore(
		stats.Account{ID: 42, LastBattleTime: t0, CrawledAt: crawledAt},
		stats.Account{ID: 7, LastBattleTime: t0, CrawledAt: crawledAt},
	)
	api := newFakeAPI()
	api.infos[42] = &wargaming.AccountInfo{ID: 42, Nickname: "changed", LastBattleTime: t1}
	api.infos[7] = &wargaming.AccountInfo{ID: 7, LastBattleTime: t0}
	api.tanks[42] = []wargaming.Tank{{TankID: 5, LastBattleTime: t1}}

	crawler := newPipeline(pipelineConfig(), store, api)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, crawler.Run(ctx))

	// Account 42: one commit with the new snapshot and matching tank rows.
	require.Equal(t, 1, store.commitCount())
	commit := store.commits[0]
	assert.Equal(t, wargaming.AccountID(42), commit.Account.ID)
	assert.Equal(t, t1, commit.Snapshot.LastBattleTime)
	require.Len(t, commit.Tanks, 1)
	assert.Equal(t, wargaming.TankID(5), commit.Tanks[0].TankID)
	assert.True(t, store.account(42).CrawledAt.After(crawledAt))

	// Account 7: crawled_at advanced, last_battle_time unchanged, no commit.
	touched := store.account(7)
	assert.True(t, touched.CrawledAt.After(crawledAt))
	assert.Equal(t, t0, touched.LastBattleTime)
}

func TestPipelineDropsFailedBatchAndRetriesNextCycle(t *testing.T) {
	t0 := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	crawledAt := time.Now().Add(-time.Hour)

	store := newFakeStore(stats.Account{ID: 42, LastBattleTime: t0, CrawledAt: crawledAt})
	api := newFakeAPI()
	// First cycle exhausts the batch retries; a later cycle succeeds because
	// crawled_at was never advanced.
	api.infoErrs = fastRetry.MaxRetries
	api.infos[42] = &wargaming.AccountInfo{ID: 42, LastBattleTime: t0.Add(time.Hour)}
	api.tanks[42] = []wargaming.Tank{{TankID: 1, LastBattleTime: t0.Add(time.Hour)}}

	crawler := newPipeline(pipelineConfig(), store, api)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	require.NoError(t, crawler.Run(ctx))

	assert.Equal(t, 1, store.commitCount())
	assert.Greater(t, api.infoCalls, fastRetry.MaxRetries)
}

func TestPipelineStopsOnEmptySelectionWithoutTerminating(t *testing.T) {
	store := newFakeStore(
		// Crawled just now: not eligible under the 5m offset.
		stats.Account{ID: 42, LastBattleTime: time.Now(), CrawledAt: time.Now()},
	)
	api := newFakeAPI()

	crawler := newPipeline(pipelineConfig(), store, api)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, crawler.Run(ctx))

	// Nothing eligible: the pipeline idled instead of failing.
	assert.Equal(t, 0, api.infoCalls)
	assert.Equal(t, 0, store.commitCount())
}

func TestPipelineDoesNotReprocessFreshAccounts(t *testing.T) {
	t0 := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	t1 := t0.Add(time.Hour)

	store := newFakeStore(
		stats.Account{ID: 42, LastBattleTime: t0, CrawledAt: time.Now().Add(-time.Hour)},
	)
	api := newFakeAPI()
	api.infos[42] = &wargaming.AccountInfo{ID: 42, LastBattleTime: t1}
	api.tanks[42] = []wargaming.Tank{{TankID: 1, LastBattleTime: t1}}

	crawler := newPipeline(pipelineConfig(), store, api)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, crawler.Run(ctx))

	// After the successful update the account's crawled_at is fresh, so the
	// selector stops re-admitting it no matter how many cycles run.
	assert.Equal(t, 1, store.commitCount())
	assert.Equal(t, 1, api.tanksCalls)
}

func TestPipelineNeverOverlapsInFlightAccounts(t *testing.T) {
	t0 := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	t1 := t0.Add(time.Hour)

	// One change event behind a slow vehicle fetch. The selector re-queries
	// the store many times while the update is still running and crawled_at
	// is still old, so without the in-flight claim the same account would be
	// admitted and updated concurrently with itself.
	store := newFakeStore(
		stats.Account{ID: 42, LastBattleTime: t0, CrawledAt: time.Now().Add(-time.Hour)},
	)
	api := newFakeAPI()
	api.infos[42] = &wargaming.AccountInfo{ID: 42, LastBattleTime: t1}
	api.tanks[42] = []wargaming.Tank{{TankID: 1, LastBattleTime: t1}}
	api.tanksDelay = 100 * time.Millisecond

	crawler := newPipeline(pipelineConfig(), store, api)

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	require.NoError(t, crawler.Run(ctx))

	assert.Equal(t, 1, store.commitCount(), "one change event, one commit")
	assert.Equal(t, 1, api.tanksCalls, "one change event, one vehicle fetch")
	assert.LessOrEqual(t, api.tanksMaxActive, 1, "updates of the same account must not overlap")
}

func TestPipelineReleasesClaimAfterUpdate(t *testing.T) {
	t0 := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	cfg := pipelineConfig()
	// A tiny offset so the account becomes eligible again right after the
	// first commit.
	cfg.MinOffset = time.Millisecond
	cfg.OffsetFloor = time.Millisecond
	cfg.IdleWait = 5 * time.Millisecond

	store := newFakeStore(
		stats.Account{ID: 42, LastBattleTime: t0, CrawledAt: time.Now().Add(-time.Hour)},
	)
	api := newFakeAPI()
	api.infos[42] = &wargaming.AccountInfo{ID: 42, LastBattleTime: t1}
	api.tanks[42] = []wargaming.Tank{{TankID: 1, LastBattleTime: t1}}

	crawler := newPipeline(cfg, store, api)

	// Once the first commit lands, advance the upstream state so the next
	// selection sees a second change event.
	go func() {
		for store.commitCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		api.mu.Lock()
		api.infos[42] = &wargaming.AccountInfo{ID: 42, LastBattleTime: t2}
		api.tanks[42] = []wargaming.Tank{{TankID: 1, LastBattleTime: t2}}
		api.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, crawler.Run(ctx))

	// The claim released after the first update, so the second change event
	// went through as well.
	assert.GreaterOrEqual(t, store.commitCount(), 2)
	assert.LessOrEqual(t, api.tanksMaxActive, 1)
}
