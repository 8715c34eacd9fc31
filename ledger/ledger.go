// Package ledger accepts wagers for the round currently open for betting.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/metrics"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/modifier"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/wallet"
)

type Ledger struct {
	store    round.Store
	clock    *clock.Clock
	games    *games.Registry
	wallet   wallet.Gateway
	resolver *modifier.Resolver
	profiles modifier.ProfileSource
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
	maxStake int64
}

type Deps struct {
	Store    round.Store
	Clock    *clock.Clock
	Games    *games.Registry
	Wallet   wallet.Gateway
	Resolver *modifier.Resolver
	Profiles modifier.ProfileSource
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Now      func() time.Time
	// MaxStake caps a wager's total; 0 means no cap beyond int64.
	MaxStake int64
}

func New(d Deps) *Ledger {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Ledger{
		store:    d.Store,
		clock:    d.Clock,
		games:    d.Games,
		wallet:   d.Wallet,
		resolver: d.Resolver,
		profiles: d.Profiles,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      d.Now,
		maxStake: d.MaxStake,
	}
}

type PlaceRequest struct {
	GameID           string           `json:"gameId"`
	ParticipantID    string           `json:"participantId"`
	Name             string           `json:"name"`
	// RoundID defaults to the round currently open for betting.
	RoundID          string           `json:"roundId,omitempty"`
	Amounts          map[string]int64 `json:"amounts"`
	DiscountEligible bool             `json:"discountEligible"`
}

type Receipt struct {
	Wager   *round.Wager `json:"wager"`
	Balance int64        `json:"balance"`
}

// TxID is the idempotency tag of the debit for one placement attempt. Each
// attempt carries a fresh wager id, so a retry after a refunded failure is a new debit.
func TxID(gameID, roundID, participantID, wagerID string) string {
	return "wager:" + gameID + ":" + roundID + ":" + participantID + ":" + wagerID
}

// RefundTxID tags the compensating credit for the debit tagged debitTxID.
func RefundTxID(debitTxID string) string {
	return "refund:" + debitTxID
}

// Place debits the wallet and records the wager. The debit happens first;
// if the record cannot be written the debit is reversed by a compensating
// credit, so the wallet never stays debited without a wager.
func (l *Ledger) Place(ctx context.Context, req PlaceRequest) (*Receipt, error) {
	rec, err := l.place(ctx, req)
	if err != nil {
		l.metrics.WagerRejected(req.GameID, reason(err))
		if errors.Is(err, round.ErrRateLimited) {
			l.metrics.RateLimited("wager")
		}
		return nil, err
	}
	l.metrics.WagerPlaced(req.GameID)
	return rec, nil
}

func (l *Ledger) place(ctx context.Context, req PlaceRequest) (*Receipt, error) {
	if req.ParticipantID == "" {
		return nil, fmt.Errorf("ledger.Place: %w: participant required", round.ErrInvalidWager)
	}
	v, err := l.games.Lookup(req.GameID)
	if err != nil {
		return nil, fmt.Errorf("ledger.Place: %w", err)
	}
	amounts, total, err := games.ValidateAmounts(v, req.Amounts)
	if err != nil {
		return nil, fmt.Errorf("ledger.Place: %w", err)
	}
	if l.maxStake > 0 && total > l.maxStake {
		return nil, fmt.Errorf("ledger.Place: %w: total %d over limit %d", round.ErrInvalidWager, total, l.maxStake)
	}

	now := l.now()
	info := l.clock.At(now)
	if info.InReveal {
		return nil, fmt.Errorf("ledger.Place: %s is revealing: %w", info.RevealRoundID, round.ErrWrongPhase)
	}
	roundID := req.RoundID
	if roundID == "" {
		roundID = info.BettingRoundID
	}
	if roundID != info.BettingRoundID {
		return nil, fmt.Errorf("ledger.Place: %s is not open (betting %s): %w", roundID, info.BettingRoundID, round.ErrWrongPhase)
	}

	existing, err := l.store.Wager(ctx, req.GameID, roundID, req.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("ledger.Place: check existing: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("ledger.Place: %s: %w", roundID, round.ErrAlreadyWagered)
	}

	charged := total
	rate := decimal.Zero
	if req.DiscountEligible {
		p, err := l.profiles.Profile(ctx, req.ParticipantID)
		if err != nil {
			return nil, fmt.Errorf("ledger.Place: profile: %w", err)
		}
		b := l.resolver.Resolve(p)
		rate = b.Rate
		charged = b.Charge(total)
	}

	wagerID := uuid.NewString()
	meta := wallet.Meta{
		wallet.MetaTxID:    TxID(req.GameID, roundID, req.ParticipantID, wagerID),
		wallet.MetaRoundID: roundID,
		wallet.MetaGameID:  req.GameID,
	}
	debit, err := l.wallet.Debit(ctx, req.ParticipantID, charged, wallet.ReasonWager, meta)
	if err != nil {
		return nil, fmt.Errorf("ledger.Place: debit: %w", err)
	}
	if !debit.OK {
		return nil, fmt.Errorf("ledger.Place: need %d, have %d: %w", charged, debit.Balance, round.ErrInsufficientFunds)
	}

	w := &round.Wager{
		ID:            wagerID,
		GameID:        req.GameID,
		RoundID:       roundID,
		ParticipantID: req.ParticipantID,
		Name:          req.Name,
		Amounts:       amounts,
		Total:         total,
		Charged:       charged,
		DiscountRate:  rate.InexactFloat64(),
		CreatedAt:     now.UTC(),
	}
	err = l.store.InTx(ctx, func(tx round.Tx) error {
		return tx.CreateWager(ctx, w)
	})
	if err != nil {
		l.refund(ctx, w, err)
		return nil, fmt.Errorf("ledger.Place: record: %w", err)
	}

	l.log.Info("wager placed", "game", w.GameID, "round", w.RoundID, "participant", w.ParticipantID,
		"total", w.Total, "charged", w.Charged)
	return &Receipt{Wager: w, Balance: debit.Balance}, nil
}

// refund reverses the debit after a failed write. Its tag derives from the
// debit's, so each debit is refunded at most once.
func (l *Ledger) refund(ctx context.Context, w *round.Wager, cause error) {
	meta := wallet.Meta{
		wallet.MetaTxID:    RefundTxID(TxID(w.GameID, w.RoundID, w.ParticipantID, w.ID)),
		wallet.MetaRoundID: w.RoundID,
		wallet.MetaGameID:  w.GameID,
	}
	// the request context may already be cancelled; the refund must still go out
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := l.wallet.Credit(rctx, w.ParticipantID, w.Charged, wallet.ReasonRefund, meta); err != nil {
		l.log.Error("wager refund failed", "game", w.GameID, "round", w.RoundID, "participant", w.ParticipantID,
			"amount", w.Charged, "cause", cause, "err", err)
		return
	}
	l.metrics.Refunded(w.GameID)
	l.log.Warn("wager refunded after failed write", "game", w.GameID, "round", w.RoundID,
		"participant", w.ParticipantID, "amount", w.Charged, "cause", cause)
}

// Wagers lists a round's wagers oldest first.
func (l *Ledger) Wagers(ctx context.Context, gameID, roundID string, limit int) ([]*round.Wager, error) {
	return l.store.Wagers(ctx, gameID, roundID, limit)
}

func reason(err error) string {
	switch {
	case errors.Is(err, round.ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, round.ErrAlreadyWagered):
		return "already_wagered"
	case errors.Is(err, round.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, round.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, round.ErrInvalidWager), errors.Is(err, round.ErrUnknownGame):
		return "invalid"
	}
	return "unexpected"
}
