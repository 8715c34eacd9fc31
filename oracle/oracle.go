// Package oracle materializes round outcomes. The outcome is a pure function
// of the round id; the store only decides which writer's copy becomes canonical.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/metrics"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

const defaultCacheSize = 4096

type Oracle struct {
	store   round.Store
	games   *games.Registry
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]*round.Result
}

func New(store round.Store, registry *games.Registry, m *metrics.Metrics, log *slog.Logger) *Oracle {
	if log == nil {
		log = slog.Default()
	}
	return &Oracle{
		store:   store,
		games:   registry,
		metrics: m,
		log:     log,
		now:     time.Now,
		cache:   make(map[string]*round.Result),
	}
}

func cacheKey(gameID, roundID string) string { return gameID + "|" + roundID }

func (o *Oracle) cached(gameID, roundID string) *round.Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cache[cacheKey(gameID, roundID)]
}

// Remember caches a committed result. Results are immutable so entries never go stale.
func (o *Oracle) Remember(r *round.Result) {
	if r == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.cache) >= defaultCacheSize {
		clear(o.cache)
	}
	o.cache[cacheKey(r.GameID, r.RoundID)] = r
}

// Get returns the result for roundID. With createIfMissing=false an absent
// result is reported as nil, nil so history views never write.
func (o *Oracle) Get(ctx context.Context, gameID, roundID string, createIfMissing bool) (*round.Result, error) {
	if r := o.cached(gameID, roundID); r != nil {
		return r, nil
	}
	if _, _, err := clock.ParseRoundID(roundID); err != nil {
		return nil, fmt.Errorf("oracle.Get: %w", err)
	}
	if _, err := o.games.Lookup(gameID); err != nil {
		return nil, fmt.Errorf("oracle.Get: %w", err)
	}

	r, err := o.store.Result(ctx, gameID, roundID)
	if err != nil {
		return nil, fmt.Errorf("oracle.Get: read %s: %w", roundID, err)
	}
	if r != nil {
		o.Remember(r)
		return r, nil
	}
	if !createIfMissing {
		return nil, nil
	}

	err = o.store.InTx(ctx, func(tx round.Tx) error {
		var err error
		r, err = o.Resolve(ctx, tx, gameID, roundID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("oracle.Get: create %s: %w", roundID, err)
	}
	o.Remember(r)
	return r, nil
}

// Resolve returns the stored result, creating it inside tx when absent. The
// caller must Remember the result only after tx commits.
func (o *Oracle) Resolve(ctx context.Context, tx round.Tx, gameID, roundID string) (*round.Result, error) {
	v, err := o.games.Lookup(gameID)
	if err != nil {
		return nil, err
	}
	existing, err := tx.Result(ctx, gameID, roundID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	mine := &round.Result{
		GameID:    gameID,
		RoundID:   roundID,
		Outcome:   v.Outcome(roundID),
		CreatedAt: o.now().UTC(),
	}
	stored, err := tx.CreateResult(ctx, mine)
	if err != nil {
		return nil, err
	}
	if stored.CreatedAt.Equal(mine.CreatedAt) {
		o.metrics.OutcomeCreated(gameID)
		o.log.Debug("round outcome created", "game", gameID, "round", roundID, "label", stored.Outcome.Label)
	}
	return stored, nil
}

// Entry is one row of a recent-results view; Result is nil while pending.
type Entry struct {
	RoundID string        `json:"roundId"`
	Result  *round.Result `json:"result,omitempty"`
}

// Recent looks up roundIDs without creating anything.
func (o *Oracle) Recent(ctx context.Context, gameID string, roundIDs []string) ([]Entry, error) {
	out := make([]Entry, 0, len(roundIDs))
	for _, id := range roundIDs {
		r, err := o.Get(ctx, gameID, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{RoundID: id, Result: r})
	}
	return out, nil
}
