package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/config"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/ledger"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/metrics"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/modifier"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/oracle"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/settlement"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/wallet"
)

var (
	betting  = time.Date(2026, 2, 24, 0, 8, 30, 0, clock.KST) // R6 open
	revealed = time.Date(2026, 2, 24, 0, 10, 30, 0, clock.KST) // R6 revealed
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// throttledCredits fails every credit as if the wallet backend were out of quota.
type throttledCredits struct {
	*wallet.Memory
	throttle atomic.Bool
}

func (t *throttledCredits) Credit(ctx context.Context, id string, amount int64, reason string, meta wallet.Meta) error {
	if t.throttle.Load() {
		return round.ErrRateLimited
	}
	return t.Memory.Credit(ctx, id, amount, reason, meta)
}

type testEnv struct {
	clock  *fakeClock
	wallet *throttledCredits
	srv    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fc := &fakeClock{now: betting}
	cfg := &config.Config{}
	cfg.Round.TickMillis = 5
	cfg.Backoff.BaseSeconds = 10
	cfg.Backoff.MaxSeconds = 300
	cfg.Viewer.PageSize = 50
	cfg.Viewer.PollSeconds = 1

	store := round.NewMemStore("", nil)
	w := &throttledCredits{Memory: wallet.NewMemory(10000)}
	reg := games.NewRegistry()
	for _, tb := range games.Builtin(nil) {
		reg.Register(tb)
	}
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	c := clock.Default()
	profiles := modifier.Fallback{Source: modifier.NewMemorySource()}
	resolver := modifier.NewResolver(nil, modifier.DefaultCeiling)
	o := oracle.New(store, reg, m, nil)

	s := New(Deps{
		Config: cfg,
		Clock:  c,
		Games:  reg,
		Oracle: o,
		Ledger: ledger.New(ledger.Deps{
			Store: store, Clock: c, Games: reg, Wallet: w,
			Resolver: resolver, Profiles: profiles, Metrics: m, Now: fc.Now,
		}),
		Engine: settlement.New(settlement.Deps{
			Store: store, Clock: c, Games: reg, Oracle: o, Wallet: w,
			Resolver: resolver, Profiles: profiles, Metrics: m, Now: fc.Now,
		}),
		Balances: w,
		Gatherer: promReg,
		Now:      fc.Now,
	})
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{clock: fc, wallet: w, srv: ts}
}

func (e *testEnv) do(t *testing.T, method, path, participant string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if participant != "" {
		req.Header.Set(ParticipantHeader, participant)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, data []byte) APIError {
	t.Helper()
	var e APIError
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestHealthAndGames(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := e.do(t, http.MethodGet, "/rgs/games", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Games []gameInfo `json:"games"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Games, 4)
	assert.Equal(t, games.BaccaratID, out.Games[0].ID)
	assert.Equal(t, 9.0, out.Games[0].Payouts["tie"])
}

func TestClock(t *testing.T) {
	e := newTestEnv(t)
	resp, data := e.do(t, http.MethodGet, "/rgs/games/ladder/clock", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c clockResponse
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, "2026-02-24-R5", c.RevealRoundID)
	assert.Equal(t, "2026-02-24-R6", c.BettingRoundID)
	assert.False(t, c.InReveal)
	assert.Equal(t, 90, c.SecondsLeft)

	resp, data = e.do(t, http.MethodGet, "/rgs/games/dice/clock", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_game", decodeError(t, data).Code)
}

func TestWagerLifecycle(t *testing.T) {
	e := newTestEnv(t)
	wager := placeWagerRequest{Name: "Alice", Amounts: map[string]int64{"left": 500, "right": 500}}

	resp, data := e.do(t, http.MethodPost, "/rgs/games/ladder/wagers", "alice", wager)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var rec ledger.Receipt
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "2026-02-24-R6", rec.Wager.RoundID)
	assert.Equal(t, int64(9000), rec.Balance)

	resp, data = e.do(t, http.MethodPost, "/rgs/games/ladder/wagers", "alice", wager)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_wagered", decodeError(t, data).Code)

	resp, data = e.do(t, http.MethodGet, "/rgs/games/ladder/rounds/2026-02-24-R6/wagers", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "Alice (500)")

	// not revealed yet
	resp, data = e.do(t, http.MethodPost, "/rgs/games/ladder/rounds/2026-02-24-R6/settle", "alice", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "wrong_phase", decodeError(t, data).Code)
	resp, _ = e.do(t, http.MethodGet, "/rgs/games/ladder/rounds/2026-02-24-R6/result", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	e.clock.Set(revealed)
	resp, data = e.do(t, http.MethodPost, "/rgs/games/ladder/rounds/2026-02-24-R6/settle", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var settled round.Wager
	require.NoError(t, json.Unmarshal(data, &settled))
	assert.True(t, settled.Settled)
	assert.Equal(t, int64(950), settled.Payout)
	assert.Equal(t, int64(10), settled.Cashback)

	resp, data = e.do(t, http.MethodGet, "/rgs/balance", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"balance":9960`)

	resp, data = e.do(t, http.MethodGet, "/rgs/games/ladder/rounds/2026-02-24-R6/result", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res round.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, *settled.Outcome, res.Outcome)
}

func TestWagerErrors(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/rgs/games/ladder/wagers", "", placeWagerRequest{Amounts: map[string]int64{"left": 1}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data := e.do(t, http.MethodPost, "/rgs/games/ladder/wagers", "bob", placeWagerRequest{Amounts: map[string]int64{"up": 1}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid", decodeError(t, data).Code)

	e.wallet.SetBalance("bob", 10)
	resp, data = e.do(t, http.MethodPost, "/rgs/games/ladder/wagers", "bob", placeWagerRequest{Amounts: map[string]int64{"left": 100}})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient_funds", decodeError(t, data).Code)

	e.clock.Set(time.Date(2026, 2, 24, 0, 8, 3, 0, clock.KST))
	resp, data = e.do(t, http.MethodPost, "/rgs/games/ladder/wagers", "carol", placeWagerRequest{Amounts: map[string]int64{"left": 100}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "wrong_phase", decodeError(t, data).Code)
}

func TestSettleRateLimited(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/rgs/games/ladder/wagers", "dave", placeWagerRequest{Amounts: map[string]int64{"odd": 100, "even": 100}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	e.clock.Set(revealed)
	e.wallet.throttle.Store(true)
	resp, data := e.do(t, http.MethodPost, "/rgs/games/ladder/rounds/2026-02-24-R6/settle", "dave", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, data).Code)
	assert.Equal(t, "10", resp.Header.Get("Retry-After"))

	// blocked: the engine is not called again even though the wallet recovered
	e.wallet.throttle.Store(false)
	resp, _ = e.do(t, http.MethodPost, "/rgs/games/ladder/rounds/2026-02-24-R6/settle", "dave", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	e.clock.Set(revealed.Add(11 * time.Second))
	resp, data = e.do(t, http.MethodPost, "/rgs/games/ladder/rounds/2026-02-24-R6/settle", "dave", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
}

func TestResultsReportPending(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/rgs/games/roulette/rounds/2026-02-24-R4/result", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := e.do(t, http.MethodGet, "/rgs/games/roulette/results?n=3", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Results []oracle.Entry `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Results, 3)
	assert.Equal(t, "2026-02-24-R5", out.Results[0].RoundID)
	assert.Nil(t, out.Results[0].Result)
	assert.Equal(t, "2026-02-24-R4", out.Results[1].RoundID)
	assert.NotNil(t, out.Results[1].Result)
}

func TestMetricsExposed(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/rgs/games/ladder/wagers", "erin", placeWagerRequest{Amounts: map[string]int64{"left": 10}})
	resp, data := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `round_wagers_placed_total{game="ladder"} 1`)
}

func TestLiveStreamsTicks(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/rgs/games/ladder/live?participant=frank", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "event: tick") {
			require.True(t, sc.Scan())
			assert.Contains(t, sc.Text(), `"bettingRoundId":"2026-02-24-R6"`)
			return
		}
	}
	t.Fatal("no tick event")
}
