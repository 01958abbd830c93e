package wargaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/armored-dev/blitzmirror/pkg/ratelimit"
	"github.com/armored-dev/blitzmirror/pkg/retry"
	"github.com/armored-dev/blitzmirror/pkg/utils"
	"go.uber.org/zap"
)

// MaxAccountsPerCall is the upstream limit on ids per account/info call.
const MaxAccountsPerCall = 100

const defaultUserAgent = "blitzmirror/1.0"

// ErrRateExceeded signals the upstream rejected the call for exceeding its
// request limit. Retryable with backoff, never fatal.
var ErrRateExceeded = errors.New("upstream request limit exceeded")

// ErrSourceUnavailable signals a temporary upstream outage.
var ErrSourceUnavailable = errors.New("upstream source not available")

// APIError is a non-retryable upstream application error.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API error %d: %s", e.Code, e.Message)
}

// envelope is the uniform upstream response wrapper:
// {"status":"ok","data":...} or {"status":"error","error":{...}}.
type envelope[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *APIError `json:"error"`
}

// Opts configures a Client.
type Opts struct {
	// BaseURL is the realm endpoint, e.g. "https://api.wotblitz.eu".
	BaseURL       string
	ApplicationID string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client talks to the Wargaming.net statistics API. Every round trip first
// acquires a permit from the shared rate limiter.
type Client struct {
	baseURL string
	appID   string
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New creates a Client. The limiter is shared with every other upstream
// caller in the process.
func New(o Opts, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		appID:   o.ApplicationID,
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

// RealmBaseURL maps a realm code to its API endpoint.
func RealmBaseURL(realm string) (string, error) {
	switch strings.ToLower(realm) {
	case "eu", "europe":
		return "https://api.wotblitz.eu", nil
	case "na", "com", "northamerica":
		return "https://api.wotblitz.com", nil
	case "asia":
		return "https://api.wotblitz.asia", nil
	default:
		return "", fmt.Errorf("unknown realm %q", realm)
	}
}

// AccountInfo fetches account summaries for the given ids in one batched call
// per MaxAccountsPerCall chunk. Accounts absent upstream (deleted, banned)
// map to a nil entry so callers can tell "absent" from "missing id".
func (c *Client) AccountInfo(ctx context.Context, ids []AccountID) (map[AccountID]*AccountInfo, error) {
	out := make(map[AccountID]*AccountInfo, len(ids))
	for start := 0; start < len(ids); start += MaxAccountsPerCall {
		end := min(start+MaxAccountsPerCall, len(ids))
		chunk := ids[start:end]

		joined := make([]string, 0, len(chunk))
		for _, id := range chunk {
			joined = append(joined, strconv.FormatInt(int64(id), 10))
		}
		query := url.Values{"account_id": {strings.Join(joined, ",")}}

		data, err := call[map[string]*accountInfoWire](ctx, c, "/wotb/account/info/", query)
		if err != nil {
			return nil, fmt.Errorf("account info for %d accounts: %w", len(chunk), err)
		}
		for _, id := range chunk {
			wire := data[strconv.FormatInt(int64(id), 10)]
			if wire == nil {
				out[id] = nil
				continue
			}
			out[id] = wire.toAccountInfo()
		}
	}
	return out, nil
}

// TankStats fetches per-vehicle statistics for one account.
func (c *Client) TankStats(ctx context.Context, id AccountID) ([]TankStats, error) {
	wires, err := callByAccount[[]tankStatsWire](ctx, c, "/wotb/tanks/stats/", id)
	if err != nil {
		return nil, fmt.Errorf("tank stats for account %d: %w", id, err)
	}
	stats := make([]TankStats, 0, len(wires))
	for i := range wires {
		stats = append(stats, wires[i].toTankStats())
	}
	return stats, nil
}

// TankAchievements fetches per-vehicle achievements for one account.
func (c *Client) TankAchievements(ctx context.Context, id AccountID) ([]TankAchievements, error) {
	wires, err := callByAccount[[]tankAchievementsWire](ctx, c, "/wotb/tanks/achievements/", id)
	if err != nil {
		return nil, fmt.Errorf("tank achievements for account %d: %w", id, err)
	}
	achievements := make([]TankAchievements, 0, len(wires))
	for _, w := range wires {
		achievements = append(achievements, TankAchievements(w))
	}
	return achievements, nil
}

// MergedTanks joins tank statistics with tank achievements per vehicle.
// Vehicles with statistics but no achievements keep empty maps; achievements
// without a matching statistics entry are dropped.
func (c *Client) MergedTanks(ctx context.Context, id AccountID) ([]Tank, error) {
	stats, err := c.TankStats(ctx, id)
	if err != nil {
		return nil, err
	}
	achievements, err := c.TankAchievements(ctx, id)
	if err != nil {
		return nil, err
	}

	byTank := make(map[TankID]TankAchievements, len(achievements))
	for _, a := range achievements {
		byTank[a.TankID] = a
	}

	tanks := make([]Tank, 0, len(stats))
	for _, s := range stats {
		tank := Tank{
			TankID:         s.TankID,
			LastBattleTime: s.LastBattleTime,
			BattleLifeTime: s.BattleLifeTime,
			All:            s.All,
			Achievements:   map[string]int32{},
			MaxSeries:      map[string]int32{},
		}
		if a, ok := byTank[s.TankID]; ok {
			if a.Achievements != nil {
				tank.Achievements = a.Achievements
			}
			if a.MaxSeries != nil {
				tank.MaxSeries = a.MaxSeries
			}
		}
		tanks = append(tanks, tank)
	}
	return tanks, nil
}

// callByAccount handles endpoints that key their data by account id.
func callByAccount[T any](ctx context.Context, c *Client, path string, id AccountID) (T, error) {
	var zero T
	key := strconv.FormatInt(int64(id), 10)
	data, err := call[map[string]T](ctx, c, path, url.Values{"account_id": {key}})
	if err != nil {
		return zero, err
	}
	return data[key], nil
}

// call performs one rate-gated GET and decodes the response envelope.
func call[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var zero T

	if err := c.limiter.Acquire(ctx); err != nil {
		return zero, err
	}

	query.Set("application_id", c.appID)
	reqURL := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return zero, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("send request to %s: %w", path, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)
	}

	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, retry.Permanent(fmt.Errorf("decode response from %s: %w", path, err))
	}

	if env.Status != "ok" {
		if env.Error == nil {
			return zero, retry.Permanent(fmt.Errorf("%s returned status %q without error detail", path, env.Status))
		}
		switch env.Error.Message {
		case "REQUEST_LIMIT_EXCEEDED":
			return zero, fmt.Errorf("%s: %w", path, ErrRateExceeded)
		case "SOURCE_NOT_AVAILABLE":
			return zero, fmt.Errorf("%s: %w", path, ErrSourceUnavailable)
		default:
			return zero, retry.Permanent(env.Error)
		}
	}

	return env.Data, nil
}
