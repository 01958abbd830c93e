package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/db/postgres"
)

// DB is the snapshot store: tracked accounts plus their immutable,
// timestamp-keyed statistic snapshots.
type DB struct {
	postgres.Client
}

// New creates and initializes the snapshot store with custom pool configuration.
func New(ctx context.Context, logger *zap.Logger, poolConfig *postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(
		zap.String("db", "stats"),
		zap.String("component", poolConfig.Component),
	), poolConfig)
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client}

	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// InitializeDB ensures the required tables exist.
// Creates all tables in parallel for efficiency.
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	db.Logger.Info("Initializing snapshot store")

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"accounts", db.initAccounts},
		{"account_snapshots", db.initAccountSnapshots},
		{"tank_snapshots", db.initTankSnapshots},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))

	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			db.Logger.Debug("Initializing table", zap.String("table", name))
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}

	db.Logger.Info("Snapshot store initialized",
		zap.Duration("duration", time.Since(initStart)))

	return nil
}

// initAccounts creates the accounts table
func (db *DB) initAccounts(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			account_id INTEGER PRIMARY KEY,
			nickname TEXT NOT NULL DEFAULT '',
			last_battle_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT 'epoch',
			crawled_at TIMESTAMP WITH TIME ZONE
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_crawled_at ON accounts(crawled_at ASC NULLS FIRST);
	`

	return db.Exec(ctx, query)
}

// initAccountSnapshots creates the account_snapshots table
func (db *DB) initAccountSnapshots(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS account_snapshots (
			account_id INTEGER NOT NULL,
			last_battle_time TIMESTAMP WITH TIME ZONE NOT NULL,
			battles INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			survived_battles INTEGER NOT NULL DEFAULT 0,
			damage_dealt INTEGER NOT NULL DEFAULT 0,
			damage_received INTEGER NOT NULL DEFAULT 0,
			shots INTEGER NOT NULL DEFAULT 0,
			hits INTEGER NOT NULL DEFAULT 0,
			frags INTEGER NOT NULL DEFAULT 0,
			xp INTEGER NOT NULL DEFAULT 0,
			battle_life_time_secs BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, last_battle_time)
		);
	`

	return db.Exec(ctx, query)
}

// initTankSnapshots creates the tank_snapshots table
func (db *DB) initTankSnapshots(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS tank_snapshots (
			account_id INTEGER NOT NULL,
			tank_id INTEGER NOT NULL,
			last_battle_time TIMESTAMP WITH TIME ZONE NOT NULL,
			battles INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			survived_battles INTEGER NOT NULL DEFAULT 0,
			damage_dealt INTEGER NOT NULL DEFAULT 0,
			damage_received INTEGER NOT NULL DEFAULT 0,
			shots INTEGER NOT NULL DEFAULT 0,
			hits INTEGER NOT NULL DEFAULT 0,
			frags INTEGER NOT NULL DEFAULT 0,
			xp INTEGER NOT NULL DEFAULT 0,
			battle_life_time_secs BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, tank_id, last_battle_time)
		);

		CREATE INDEX IF NOT EXISTS idx_tank_snapshots_account ON tank_snapshots(account_id, last_battle_time DESC);
	`

	return db.Exec(ctx, query)
}
