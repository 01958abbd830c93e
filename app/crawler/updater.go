package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/db/stats"
	"github.com/armored-dev/blitzmirror/pkg/retry"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

// Updater fetches per-vehicle details for a changed account and commits the
// new snapshots plus the advanced account row as one atomic unit.
type Updater struct {
	Store  Store
	API    StatsAPI
	Retry  retry.Config
	Logger *zap.Logger
}

// UpdateResult reports what one account update produced.
type UpdateResult struct {
	Outcome UpdateOutcome
	Tanks   int
}

// Update processes one changed account. Upstream and store failures are
// retried with backoff independently of other accounts; after exhausting the
// retries the account is left untouched and re-enters the eligible pool
// immediately since its crawled_at did not change.
func (u *Updater) Update(ctx context.Context, changed ChangedAccount) (UpdateResult, error) {
	var tanks []wargaming.Tank
	err := retry.WithBackoff(ctx, u.Retry, u.Logger, "merged_tanks", func() error {
		var callErr error
		tanks, callErr = u.API.MergedTanks(ctx, changed.Info.ID)
		return callErr
	})
	if err != nil {
		return UpdateResult{Outcome: OutcomeSkipped}, fmt.Errorf("fetch tanks for account %d: %w", changed.Info.ID, err)
	}

	crawl := buildCrawl(&changed, tanks, time.Now().UTC())

	err = retry.WithBackoff(ctx, u.Retry, u.Logger, "commit_crawl", func() error {
		return u.Store.CommitCrawl(ctx, crawl)
	})
	if err != nil {
		return UpdateResult{Outcome: OutcomeSkipped}, fmt.Errorf("commit account %d: %w", changed.Info.ID, err)
	}

	u.Logger.Debug("Account updated",
		zap.Int32("account_id", int32(changed.Info.ID)),
		zap.Int("tanks", len(crawl.Tanks)),
		zap.Time("last_battle_time", changed.Info.LastBattleTime))

	return UpdateResult{Outcome: OutcomeUpdated, Tanks: len(crawl.Tanks)}, nil
}

// buildCrawl assembles the atomic write set for one account. For accounts
// crawled before, only vehicles that played past the previously stored
// last_battle_time produce new snapshot rows; a first crawl snapshots every
// vehicle. The account-level battle life time is the total across all fetched
// vehicles, not just the snapshot ones.
func buildCrawl(changed *ChangedAccount, tanks []wargaming.Tank, now time.Time) *stats.CrawledAccount {
	var totalLifeTime time.Duration
	for i := range tanks {
		totalLifeTime += tanks[i].BattleLifeTime
	}

	crawl := &stats.CrawledAccount{
		Account: stats.Account{
			ID:             changed.Info.ID,
			Nickname:       changed.Info.Nickname,
			LastBattleTime: changed.Info.LastBattleTime,
			CrawledAt:      now,
		},
		Snapshot: stats.AccountSnapshot{
			AccountID:      changed.Info.ID,
			LastBattleTime: changed.Info.LastBattleTime,
			Stats:          changed.Info.Stats,
			BattleLifeTime: totalLifeTime,
		},
	}

	for i := range tanks {
		tank := &tanks[i]
		if changed.Account.Crawled() && !tank.LastBattleTime.After(changed.Account.LastBattleTime) {
			continue
		}
		crawl.Tanks = append(crawl.Tanks, stats.TankSnapshot{
			AccountID:      changed.Info.ID,
			TankID:         tank.TankID,
			LastBattleTime: tank.LastBattleTime,
			Stats:          tank.All,
			BattleLifeTime: tank.BattleLifeTime,
		})
	}

	return crawl
}
