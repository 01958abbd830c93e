package stats

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/armored-dev/blitzmirror/pkg/db/postgres"
)

// CommitCrawl persists the full result of one account fetch cycle as a single
// atomic unit: the account snapshot, the tank snapshots, and the advanced
// account row either all land or none do. Duplicate snapshot keys are no-ops
// so a retried commit stays idempotent.
func (db *DB) CommitCrawl(ctx context.Context, crawl *CrawledAccount) error {
	err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := db.insertAccountSnapshot(ctx, tx, &crawl.Snapshot); err != nil {
			return fmt.Errorf("insert account snapshot: %w", err)
		}
		if err := db.insertTankSnapshots(ctx, tx, crawl.Tanks); err != nil {
			return fmt.Errorf("insert tank snapshots: %w", err)
		}
		if err := db.upsertAccount(ctx, tx, &crawl.Account); err != nil {
			return fmt.Errorf("update account row: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit crawl for account %d: %w", crawl.Account.ID, err)
	}
	return nil
}

// insertAccountSnapshot appends one account-level snapshot row.
func (db *DB) insertAccountSnapshot(ctx context.Context, exec postgres.Executor, snapshot *AccountSnapshot) error {
	query := `
		INSERT INTO account_snapshots (
			account_id, last_battle_time,
			battles, wins, survived_battles, damage_dealt, damage_received,
			shots, hits, frags, xp, battle_life_time_secs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, last_battle_time) DO NOTHING
	`

	_, err := exec.Exec(ctx, query,
		snapshot.AccountID, snapshot.LastBattleTime,
		snapshot.Stats.Battles, snapshot.Stats.Wins, snapshot.Stats.SurvivedBattles,
		snapshot.Stats.DamageDealt, snapshot.Stats.DamageReceived,
		snapshot.Stats.Shots, snapshot.Stats.Hits, snapshot.Stats.Frags, snapshot.Stats.XP,
		int64(snapshot.BattleLifeTime.Seconds()),
	)
	return err
}

// insertTankSnapshots appends per-vehicle snapshot rows in one batch.
func (db *DB) insertTankSnapshots(ctx context.Context, exec postgres.Executor, tanks []TankSnapshot) error {
	if len(tanks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO tank_snapshots (
			account_id, tank_id, last_battle_time,
			battles, wins, survived_battles, damage_dealt, damage_received,
			shots, hits, frags, xp, battle_life_time_secs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (account_id, tank_id, last_battle_time) DO NOTHING
	`
	for i := range tanks {
		tank := &tanks[i]
		batch.Queue(query,
			tank.AccountID, tank.TankID, tank.LastBattleTime,
			tank.Stats.Battles, tank.Stats.Wins, tank.Stats.SurvivedBattles,
			tank.Stats.DamageDealt, tank.Stats.DamageReceived,
			tank.Stats.Shots, tank.Stats.Hits, tank.Stats.Frags, tank.Stats.XP,
			int64(tank.BattleLifeTime.Seconds()),
		)
	}

	results := exec.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range tanks {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
