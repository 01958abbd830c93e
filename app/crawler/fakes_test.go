package crawler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/armored-dev/blitzmirror/pkg/db/stats"
	"github.com/armored-dev/blitzmirror/pkg/retry"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

// fastRetry keeps test retries in the millisecond range.
var fastRetry = retry.Config{
	MaxRetries:   3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	Multiplier:   2.0,
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu         sync.Mutex
	accounts   map[wargaming.AccountID]stats.Account
	commits    []*stats.CrawledAccount
	commitErrs map[wargaming.AccountID]int // failures left per account
	touchErr   error
	staleErr   error
	percentile time.Duration
	populated  bool
}

func newFakeStore(accounts ...stats.Account) *fakeStore {
	s := &fakeStore{
		accounts:   map[wargaming.AccountID]stats.Account{},
		commitErrs: map[wargaming.AccountID]int{},
		populated:  len(accounts) > 0,
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *fakeStore) StaleAccounts(_ context.Context, limit int, minOffset time.Duration) ([]stats.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleErr != nil {
		return nil, s.staleErr
	}

	threshold := time.Now().Add(-minOffset)
	var eligible []stats.Account
	for _, a := range s.accounts {
		if a.CrawledAt.IsZero() || a.CrawledAt.Before(threshold) {
			eligible = append(eligible, a)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CrawledAt.Before(eligible[j].CrawledAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (s *fakeStore) TouchAccounts(_ context.Context, ids []wargaming.AccountID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	for _, id := range ids {
		account, ok := s.accounts[id]
		if !ok {
			continue
		}
		if account.CrawledAt.Before(now) {
			account.CrawledAt = now
			s.accounts[id] = account
		}
	}
	return nil
}

func (s *fakeStore) CommitCrawl(_ context.Context, crawl *stats.CrawledAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if left := s.commitErrs[crawl.Account.ID]; left > 0 {
		s.commitErrs[crawl.Account.ID] = left - 1
		return errAny
	}
	s.accounts[crawl.Account.ID] = crawl.Account
	s.commits = append(s.commits, crawl)
	return nil
}

func (s *fakeStore) StalenessPercentile(context.Context, float64) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percentile, s.populated, nil
}

func (s *fakeStore) account(id wargaming.AccountID) stats.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *fakeStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commits)
}

// fakeAPI is an in-memory StatsAPI.
type fakeAPI struct {
	mu         sync.Mutex
	infos      map[wargaming.AccountID]*wargaming.AccountInfo
	tanks      map[wargaming.AccountID][]wargaming.Tank
	infoErrs   int // whole-batch failures before the first success
	tanksErrs  map[wargaming.AccountID]int
	infoCalls  int
	tanksCalls int

	// tanksDelay makes MergedTanks slow; tanksMaxActive records the highest
	// number of concurrently running MergedTanks calls observed.
	tanksDelay     time.Duration
	tanksActive    int
	tanksMaxActive int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		infos:     map[wargaming.AccountID]*wargaming.AccountInfo{},
		tanks:     map[wargaming.AccountID][]wargaming.Tank{},
		tanksErrs: map[wargaming.AccountID]int{},
	}
}

func (a *fakeAPI) AccountInfo(_ context.Context, ids []wargaming.AccountID) (map[wargaming.AccountID]*wargaming.AccountInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.infoCalls++
	if a.infoErrs > 0 {
		a.infoErrs--
		return nil, errAny
	}
	out := make(map[wargaming.AccountID]*wargaming.AccountInfo, len(ids))
	for _, id := range ids {
		out[id] = a.infos[id]
	}
	return out, nil
}

func (a *fakeAPI) MergedTanks(_ context.Context, id wargaming.AccountID) ([]wargaming.Tank, error) {
	a.mu.Lock()
	a.tanksCalls++
	if left := a.tanksErrs[id]; left > 0 {
		a.tanksErrs[id] = left - 1
		a.mu.Unlock()
		return nil, errAny
	}
	a.tanksActive++
	if a.tanksActive > a.tanksMaxActive {
		a.tanksMaxActive = a.tanksActive
	}
	delay := a.tanksDelay
	tanks := a.tanks[id]
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	a.mu.Lock()
	a.tanksActive--
	a.mu.Unlock()
	return tanks, nil
}

// fakeTuning is an in-memory TuningChannel.
type fakeTuning struct {
	mu        sync.Mutex
	override  time.Duration
	hasValue  bool
	published []time.Duration
}

func (t *fakeTuning) OffsetOverride(context.Context) (time.Duration, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.override, t.hasValue, nil
}

func (t *fakeTuning) PublishOffset(_ context.Context, offset time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, offset)
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errAny = fakeError("transient failure")
