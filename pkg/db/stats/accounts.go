package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/armored-dev/blitzmirror/pkg/db/postgres"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

// StaleAccounts returns up to limit accounts ordered by ascending crawled_at,
// excluding accounts processed more recently than minOffset ago. Never-crawled
// accounts sort first. An empty result means nothing is currently eligible.
func (db *DB) StaleAccounts(ctx context.Context, limit int, minOffset time.Duration) ([]Account, error) {
	threshold := time.Now().Add(-minOffset)

	query := `
		SELECT account_id, nickname, last_battle_time, crawled_at
		FROM accounts
		WHERE crawled_at IS NULL OR crawled_at < $1
		ORDER BY crawled_at ASC NULLS FIRST
		LIMIT $2
	`

	rows, err := db.Query(ctx, query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("select stale accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var (
			account   Account
			crawledAt *time.Time
		)
		if err := rows.Scan(&account.ID, &account.Nickname, &account.LastBattleTime, &crawledAt); err != nil {
			return nil, fmt.Errorf("scan stale account: %w", err)
		}
		if crawledAt != nil {
			account.CrawledAt = *crawledAt
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// TouchAccounts advances crawled_at for accounts that were checked but had
// nothing new. The guard keeps crawled_at monotonically non-decreasing.
func (db *DB) TouchAccounts(ctx context.Context, ids []wargaming.AccountID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]int32, len(ids))
	for i, id := range ids {
		raw[i] = int32(id)
	}

	query := `
		UPDATE accounts
		SET crawled_at = $2
		WHERE account_id = ANY($1)
		AND (crawled_at IS NULL OR crawled_at < $2)
	`

	if err := db.Exec(ctx, query, raw, now); err != nil {
		return fmt.Errorf("touch %d accounts: %w", len(ids), err)
	}
	return nil
}

// UpsertAccounts inserts or refreshes account rows without touching
// crawled_at. Used by the importer contract and by tests to seed the store.
func (db *DB) UpsertAccounts(ctx context.Context, accounts []Account) error {
	if len(accounts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO accounts (account_id, nickname, last_battle_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			last_battle_time = GREATEST(accounts.last_battle_time, EXCLUDED.last_battle_time)
	`
	for _, account := range accounts {
		batch.Queue(query, account.ID, account.Nickname, account.LastBattleTime)
	}

	results := db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range accounts {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert accounts: %w", err)
		}
	}
	return nil
}

// upsertAccount writes the account row after a successful fetch cycle.
// Runs inside the CommitCrawl transaction.
func (db *DB) upsertAccount(ctx context.Context, exec postgres.Executor, account *Account) error {
	query := `
		INSERT INTO accounts (account_id, nickname, last_battle_time, crawled_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			last_battle_time = EXCLUDED.last_battle_time,
			crawled_at = GREATEST(COALESCE(accounts.crawled_at, 'epoch'::timestamptz), EXCLUDED.crawled_at)
	`

	_, err := exec.Exec(ctx, query, account.ID, account.Nickname, account.LastBattleTime, account.CrawledAt)
	return err
}

// CountAccounts returns the tracked population size.
func (db *DB) CountAccounts(ctx context.Context) (int64, error) {
	var count int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// StalenessPercentile computes the q-th percentile of "now - crawled_at"
// across the tracked population. Never-crawled accounts count as maximally
// stale. The second return is false when the store has no accounts.
func (db *DB) StalenessPercentile(ctx context.Context, q float64) (time.Duration, bool, error) {
	query := `
		SELECT EXTRACT(EPOCH FROM
			percentile_cont($1) WITHIN GROUP (ORDER BY now() - COALESCE(crawled_at, 'epoch'::timestamptz))
		)::float8
		FROM accounts
	`

	var seconds *float64
	if err := db.QueryRow(ctx, query, q).Scan(&seconds); err != nil {
		return 0, false, fmt.Errorf("staleness percentile: %w", err)
	}
	if seconds == nil {
		return 0, false, nil
	}
	return time.Duration(*seconds * float64(time.Second)), true, nil
}
