package crawler

import (
	"context"
	"time"

	"github.com/armored-dev/blitzmirror/pkg/db/stats"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

// Store is the snapshot-store contract the pipeline depends on.
// *stats.DB satisfies it; tests substitute fakes.
type Store interface {
	StaleAccounts(ctx context.Context, limit int, minOffset time.Duration) ([]stats.Account, error)
	TouchAccounts(ctx context.Context, ids []wargaming.AccountID, now time.Time) error
	CommitCrawl(ctx context.Context, crawl *stats.CrawledAccount) error
	StalenessPercentile(ctx context.Context, q float64) (time.Duration, bool, error)
}

// StatsAPI is the upstream-client contract the pipeline depends on.
// *wargaming.Client satisfies it.
type StatsAPI interface {
	AccountInfo(ctx context.Context, ids []wargaming.AccountID) (map[wargaming.AccountID]*wargaming.AccountInfo, error)
	MergedTanks(ctx context.Context, id wargaming.AccountID) ([]wargaming.Tank, error)
}

// TuningChannel is the external key-value channel the lag controller reads
// overrides from and publishes its computed offset to.
type TuningChannel interface {
	OffsetOverride(ctx context.Context) (time.Duration, bool, error)
	PublishOffset(ctx context.Context, offset time.Duration)
}

// ChangedAccount pairs a stored account with its fresh upstream summary.
type ChangedAccount struct {
	Account stats.Account
	Info    wargaming.AccountInfo
}

// BatchOutcome partitions a detected batch: every input account lands in
// exactly one of the two sets. Accounts absent upstream count as unchanged so
// they keep advancing crawled_at and never starve future selection.
type BatchOutcome struct {
	Changed   []ChangedAccount
	Unchanged []wargaming.AccountID
}

// UpdateOutcome is the tri-state result of processing one account.
type UpdateOutcome int

const (
	// OutcomeUpdated: new snapshot rows committed and crawled_at advanced.
	OutcomeUpdated UpdateOutcome = iota
	// OutcomeTouched: checked, nothing new, crawled_at advanced.
	OutcomeTouched
	// OutcomeSkipped: processing failed, account left untouched so it
	// re-enters the eligible pool immediately.
	OutcomeSkipped
)

func (o UpdateOutcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeTouched:
		return "touched"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
