// Package settlement pays out wagers once their round is revealed.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/metrics"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/modifier"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/oracle"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/wallet"
)

const backlogPage = 50

type Engine struct {
	store    round.Store
	clock    *clock.Clock
	games    *games.Registry
	oracle   *oracle.Oracle
	wallet   wallet.Gateway
	resolver *modifier.Resolver
	profiles modifier.ProfileSource
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

type Deps struct {
	Store    round.Store
	Clock    *clock.Clock
	Games    *games.Registry
	Oracle   *oracle.Oracle
	Wallet   wallet.Gateway
	Resolver *modifier.Resolver
	Profiles modifier.ProfileSource
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Now      func() time.Time
}

func New(d Deps) *Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		store:    d.Store,
		clock:    d.Clock,
		games:    d.Games,
		oracle:   d.Oracle,
		wallet:   d.Wallet,
		resolver: d.Resolver,
		profiles: d.Profiles,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      d.Now,
	}
}

// TxID is the idempotency tag of the settlement credit for one wager.
func TxID(gameID, roundID, participantID string) string {
	return "settle:" + gameID + ":" + roundID + ":" + participantID
}

// Settle pays out the participant's wager on roundID. It returns the wager as
// stored after the call, or nil when there was nothing to settle. Calling it
// again for a settled wager changes nothing.
func (e *Engine) Settle(ctx context.Context, gameID, participantID, roundID string) (*round.Wager, error) {
	v, err := e.games.Lookup(gameID)
	if err != nil {
		return nil, fmt.Errorf("settlement.Settle: %w", err)
	}
	revealed, err := e.clock.Revealed(roundID, e.now())
	if err != nil {
		return nil, fmt.Errorf("settlement.Settle: %w: %v", round.ErrInvalidWager, err)
	}
	if !revealed {
		return nil, fmt.Errorf("settlement.Settle: %s not revealed yet: %w", roundID, round.ErrWrongPhase)
	}

	// Remote reads happen before the transaction so a slow profile source
	// never holds row locks, or the memory store's single lock.
	pending, err := e.store.Wager(ctx, gameID, roundID, participantID)
	if err != nil {
		return nil, fmt.Errorf("settlement.Settle: %w", err)
	}
	if pending == nil || pending.Settled {
		return pending, nil
	}
	p, err := e.profiles.Profile(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("settlement.Settle: profile: %w", err)
	}
	b := e.resolver.Resolve(p)

	var (
		settled *round.Wager
		result  *round.Result
		fresh   bool
	)
	err = e.store.InTx(ctx, func(tx round.Tx) error {
		w, err := tx.Wager(ctx, gameID, roundID, participantID)
		if err != nil {
			return err
		}
		if w == nil {
			return nil
		}
		if w.Settled {
			settled = w
			return nil
		}

		result, err = e.oracle.Resolve(ctx, tx, gameID, roundID)
		if err != nil {
			return fmt.Errorf("resolve outcome: %w", err)
		}
		payout := games.Payout(v, w.Amounts, result.Outcome)
		cashback := b.Cashback(w.Total)

		at := e.now().UTC()
		outcome := result.Outcome
		w.Settled = true
		w.SettledAt = &at
		w.Outcome = &outcome
		w.Payout = payout
		w.Cashback = cashback
		w.Modifier = b.Record()
		if err := tx.SettleWager(ctx, w); err != nil {
			return err
		}

		// The credit stays inside the transaction so the wager row is not marked
		// settled without it. It is tagged, so a commit failure followed by a
		// retry pays once.
		if amount := addPoints(payout, cashback); amount > 0 {
			meta := wallet.Meta{
				wallet.MetaTxID:    TxID(gameID, roundID, participantID),
				wallet.MetaRoundID: roundID,
				wallet.MetaGameID:  gameID,
			}
			if err := e.wallet.Credit(ctx, participantID, amount, wallet.ReasonSettlement, meta); err != nil {
				return fmt.Errorf("credit: %w", err)
			}
		}
		settled = w
		fresh = true
		return nil
	})
	if errors.Is(err, round.ErrAlreadySettled) {
		// another settler committed first
		w, rerr := e.store.Wager(ctx, gameID, roundID, participantID)
		if rerr != nil {
			return nil, fmt.Errorf("settlement.Settle: reread: %w", rerr)
		}
		return w, nil
	}
	if err != nil {
		if errors.Is(err, round.ErrRateLimited) {
			e.metrics.RateLimited("settle")
		}
		return nil, fmt.Errorf("settlement.Settle: %s/%s: %w", gameID, roundID, err)
	}

	e.oracle.Remember(result)
	if fresh {
		e.metrics.Settled(gameID, settled.Payout, settled.Cashback)
		e.log.Info("wager settled", "game", gameID, "round", roundID, "participant", participantID,
			"label", settled.Outcome.Label, "payout", settled.Payout, "cashback", settled.Cashback)
	}
	return settled, nil
}

// addPoints adds two non-negative amounts, saturating at MaxInt64.
func addPoints(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// SettleBacklog settles the participant's unsettled wagers on rounds already
// revealed at now, oldest first. It stops at the first failure and reports how
// many it settled before that.
func (e *Engine) SettleBacklog(ctx context.Context, gameID, participantID string, now time.Time) (int, error) {
	pending, err := e.store.Unsettled(ctx, gameID, participantID, backlogPage)
	if err != nil {
		return 0, fmt.Errorf("settlement.SettleBacklog: %w", err)
	}
	n := 0
	for _, w := range pending {
		revealed, err := e.clock.Revealed(w.RoundID, now)
		if err != nil || !revealed {
			continue
		}
		s, err := e.Settle(ctx, gameID, participantID, w.RoundID)
		if err != nil {
			return n, fmt.Errorf("settlement.SettleBacklog: %w", err)
		}
		if s != nil {
			n++
		}
	}
	if n > 0 {
		e.log.Info("backlog settled", "game", gameID, "participant", participantID, "count", n)
	}
	return n, nil
}
