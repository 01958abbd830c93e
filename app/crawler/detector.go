package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/db/stats"
	"github.com/armored-dev/blitzmirror/pkg/retry"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

// Detector issues one batched summary call per selected batch and splits the
// accounts into changed and unchanged by comparing last_battle_time against
// the stored value.
type Detector struct {
	API    StatsAPI
	Retry  retry.Config
	Logger *zap.Logger
}

// Detect classifies one batch. The whole-batch upstream call is retried with
// backoff; exhausting the retries returns an error and the caller drops the
// batch for this cycle, leaving its accounts eligible for the next one.
// On success the returned outcome partitions the input exactly.
func (d *Detector) Detect(ctx context.Context, batch []stats.Account) (BatchOutcome, error) {
	ids := make([]wargaming.AccountID, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}

	var infos map[wargaming.AccountID]*wargaming.AccountInfo
	err := retry.WithBackoff(ctx, d.Retry, d.Logger, "account_info", func() error {
		var callErr error
		infos, callErr = d.API.AccountInfo(ctx, ids)
		return callErr
	})
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("detect changes for batch of %d: %w", len(batch), err)
	}

	var outcome BatchOutcome
	for i := range batch {
		account := &batch[i]
		info := infos[account.ID]
		switch {
		case info == nil:
			// Deleted or banned upstream. Touch it anyway so it does not
			// starve future selection.
			outcome.Unchanged = append(outcome.Unchanged, account.ID)
		case !account.Crawled() || info.LastBattleTime.After(account.LastBattleTime):
			outcome.Changed = append(outcome.Changed, ChangedAccount{
				Account: *account,
				Info:    *info,
			})
		default:
			outcome.Unchanged = append(outcome.Unchanged, account.ID)
		}
	}

	d.Logger.Debug("Batch detected",
		zap.Int("changed", len(outcome.Changed)),
		zap.Int("unchanged", len(outcome.Unchanged)))

	return outcome, nil
}
