package stats

import (
	"time"

	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

// Account is one tracked account row. A zero CrawledAt means the account was
// seeded by the importer and has never been processed by the crawler.
type Account struct {
	ID             wargaming.AccountID
	Nickname       string
	LastBattleTime time.Time
	CrawledAt      time.Time
}

// Crawled reports whether the account has been processed at least once.
func (a *Account) Crawled() bool {
	return !a.CrawledAt.IsZero()
}

// AccountSnapshot is one immutable account-level counter row, keyed by
// (account_id, last_battle_time).
type AccountSnapshot struct {
	AccountID      wargaming.AccountID
	LastBattleTime time.Time
	Stats          wargaming.Statistics
	BattleLifeTime time.Duration
}

// TankSnapshot is one immutable per-vehicle counter row, keyed by
// (account_id, tank_id, last_battle_time).
type TankSnapshot struct {
	AccountID      wargaming.AccountID
	TankID         wargaming.TankID
	LastBattleTime time.Time
	Stats          wargaming.Statistics
	BattleLifeTime time.Duration
}

// CrawledAccount is the full result of one successful account fetch cycle.
// CommitCrawl writes all of it in a single transaction.
type CrawledAccount struct {
	Account  Account
	Snapshot AccountSnapshot
	Tanks    []TankSnapshot
}
