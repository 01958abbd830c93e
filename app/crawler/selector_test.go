package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/db/stats"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

func TestSelectorExcludesRecentlyCrawled(t *testing.T) {
	now := time.Now()
	store := newFakeStore(
		stats.Account{ID: 1, CrawledAt: now.Add(-10 * time.Minute)},
		stats.Account{ID: 2, CrawledAt: now.Add(-time.Minute)}, // too fresh
		stats.Account{ID: 3},                                  // never crawled
	)

	cfg := pipelineConfig()
	selector := &Selector{Store: store, Params: NewParamState(cfg), Logger: zap.NewNop()}

	batch, err := selector.Next(context.Background())
	require.NoError(t, err)

	ids := make([]wargaming.AccountID, 0, len(batch))
	for _, a := range batch {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []wargaming.AccountID{1, 3}, ids)
	// Most stale first: the never-crawled account leads.
	assert.Equal(t, wargaming.AccountID(3), batch[0].ID)
}

func TestSelectorReadsLiveParams(t *testing.T) {
	now := time.Now()
	store := newFakeStore(
		stats.Account{ID: 1, CrawledAt: now.Add(-2 * time.Minute)},
	)

	cfg := pipelineConfig()
	params := NewParamState(cfg)
	selector := &Selector{Store: store, Params: params, Logger: zap.NewNop()}

	batch, err := selector.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batch, "account crawled 2m ago is ineligible under a 5m offset")

	// The lag controller shrinks the offset; the next pull sees it.
	p := params.Load()
	p.MinOffset = time.Minute
	params.Store(p)

	batch, err = selector.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestSelectorEmptyResultIsNotTerminal(t *testing.T) {
	store := newFakeStore()
	store.populated = false

	cfg := pipelineConfig()
	selector := &Selector{Store: store, Params: NewParamState(cfg), Logger: zap.NewNop()}

	batch, err := selector.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batch)
}
