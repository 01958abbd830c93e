package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/db/stats"
)

// Selector emits batches of the most stale tracked accounts. There is no
// stored cursor: every Next re-queries the live store state, so accounts
// whose crawled_at advanced concurrently simply drop out of later selections.
type Selector struct {
	Store  Store
	Params *ParamState
	Logger *zap.Logger
}

// Next returns the next batch of eligible accounts, most stale first. An
// empty batch means nothing is currently eligible; the orchestrator waits and
// retries rather than treating it as terminal.
func (s *Selector) Next(ctx context.Context) ([]stats.Account, error) {
	params := s.Params.Load()

	batch, err := s.Store.StaleAccounts(ctx, params.BatchSize, params.MinOffset)
	if err != nil {
		return nil, fmt.Errorf("select stale accounts: %w", err)
	}

	s.Logger.Debug("Selected batch",
		zap.Int("size", len(batch)),
		zap.Duration("min_offset", params.MinOffset))

	return batch, nil
}
