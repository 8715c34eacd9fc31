// Package session drives one participant's view of one game: it follows the
// round clock, materializes outcomes as rounds reveal, settles the
// participant's own wagers and keeps the live wager board current.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/backoff"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/ledger"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/oracle"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/settlement"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/viewer"
)

var ErrStarted = errors.New("session: already started")

type Config struct {
	GameID        string
	ParticipantID string
	Name          string
	TickEvery     time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	PageSize      int
	Poll          time.Duration
}

type Deps struct {
	Clock  *clock.Clock
	Oracle *oracle.Oracle
	Ledger *ledger.Ledger
	Engine *settlement.Engine
	Log    *slog.Logger
	Now    func() time.Time
}

type Kind string

const (
	KindTick    Kind = "tick"
	KindResult  Kind = "result"
	KindSettled Kind = "settled"
	KindWagers  Kind = "wagers"
	KindStatus  Kind = "status"
)

type Event struct {
	Kind     Kind             `json:"kind"`
	Clock    *clock.Info      `json:"clock,omitempty"`
	Result   *round.Result    `json:"result,omitempty"`
	Wager    *round.Wager     `json:"wager,omitempty"`
	Snapshot *viewer.Snapshot `json:"snapshot,omitempty"`
	Status   string           `json:"status,omitempty"`
}

type Session struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	backoff *backoff.Controller
	events  chan Event

	mu         sync.Mutex
	status     string
	started    bool
	closed     bool
	cancel     context.CancelFunc
	viewer     *viewer.Viewer
	revealed   string // last round whose outcome was requested
	settledFor string // last round settlement finished for
	settling   bool
	wg         sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.GameID == "" || cfg.ParticipantID == "" {
		return nil, fmt.Errorf("session.New: game and participant required")
	}
	if deps.Clock == nil || deps.Oracle == nil || deps.Ledger == nil || deps.Engine == nil {
		return nil, fmt.Errorf("session.New: missing dependency")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = time.Second
	}
	return &Session{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.With("game", cfg.GameID, "participant", cfg.ParticipantID),
		backoff: backoff.New(cfg.BackoffBase, cfg.BackoffMax).WithClock(deps.Now),
		events:  make(chan Event, 32),
	}, nil
}

// Events carries every session notification. It is closed by Stop.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(msg string) {
	s.mu.Lock()
	s.status = msg
	s.mu.Unlock()
	s.emit(Event{Kind: KindStatus, Status: msg})
}

// emit drops the event when the consumer is behind; ticks repeat every second anyway.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Debug("session event dropped", "kind", ev.Kind)
	}
}

func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.viewer = viewer.New(s.deps.Ledger, s.cfg.GameID, s.cfg.PageSize, s.cfg.Poll)
	v := s.viewer
	s.mu.Unlock()

	ticker := clock.NewTicker(s.deps.Clock, s.cfg.TickEvery, s.deps.Now)
	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		ticker.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.loop(ctx, ticker.Events())
	}()
	go func() {
		defer s.wg.Done()
		for snap := range v.Updates() {
			s.emit(Event{Kind: KindWagers, Snapshot: &snap})
		}
	}()
	go func() {
		defer s.wg.Done()
		s.settleBacklog(ctx)
	}()
	s.log.Info("session started")
	return nil
}

// Stop ends the session and waits for in-flight work. Safe to call twice.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel, v := s.cancel, s.viewer
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	v.Close()
	s.wg.Wait()
	s.mu.Lock()
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	s.log.Info("session stopped")
}

// SetVisible suspends the live board while nobody is looking.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	v := s.viewer
	s.mu.Unlock()
	if v == nil {
		return
	}
	if visible {
		v.Resume()
	} else {
		v.Suspend()
	}
}

// Place wagers on the round currently open for betting.
func (s *Session) Place(ctx context.Context, amounts map[string]int64, discountEligible bool) (*ledger.Receipt, error) {
	rec, err := s.deps.Ledger.Place(ctx, ledger.PlaceRequest{
		GameID:           s.cfg.GameID,
		ParticipantID:    s.cfg.ParticipantID,
		Name:             s.cfg.Name,
		Amounts:          amounts,
		DiscountEligible: discountEligible,
	})
	if err != nil {
		s.setStatus(describe("wager", err))
		return nil, err
	}
	s.setStatus(fmt.Sprintf("wager on %s accepted, charged %d", rec.Wager.RoundID, rec.Wager.Charged))
	return rec, nil
}

func (s *Session) loop(ctx context.Context, events <-chan clock.Event) {
	for ev := range events {
		info := ev.Info
		s.emit(Event{Kind: KindTick, Clock: &info})
		s.handle(ctx, info)
	}
}

func (s *Session) handle(ctx context.Context, info clock.Info) {
	s.mu.Lock()
	v := s.viewer
	if info.InReveal {
		fresh := s.revealed != info.RevealRoundID
		s.revealed = info.RevealRoundID
		s.mu.Unlock()
		if fresh {
			s.spawn(func() { s.materialize(ctx, info.RevealRoundID) })
		}
		return
	}
	due := s.settledFor != info.RevealRoundID && !s.settling
	if due {
		s.settling = true
	}
	s.mu.Unlock()

	v.Watch(info.BettingRoundID)
	if due {
		s.spawn(func() { s.settle(ctx, info.RevealRoundID) })
	}
}

func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) materialize(ctx context.Context, roundID string) {
	r, err := s.deps.Oracle.Get(ctx, s.cfg.GameID, roundID, true)
	if err != nil {
		if ctx.Err() == nil {
			s.setStatus(describe("reveal", err))
		}
		return
	}
	s.emit(Event{Kind: KindResult, Result: r})
}

func (s *Session) settle(ctx context.Context, roundID string) {
	var w *round.Wager
	err := s.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		w, err = s.deps.Engine.Settle(ctx, s.cfg.GameID, s.cfg.ParticipantID, roundID)
		return err
	})

	s.mu.Lock()
	s.settling = false
	// rate limits and blocks leave the round due; anything else is reported once
	retry := errors.Is(err, round.ErrRateLimited) || errors.Is(err, backoff.ErrBlocked) || ctx.Err() != nil
	if !retry {
		s.settledFor = roundID
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		if w != nil {
			s.emit(Event{Kind: KindSettled, Wager: w})
			s.setStatus(fmt.Sprintf("%s settled: payout %d, cashback %d", roundID, w.Payout, w.Cashback))
		}
	case errors.Is(err, backoff.ErrBlocked), ctx.Err() != nil:
	case errors.Is(err, round.ErrRateLimited):
		s.setStatus(fmt.Sprintf("settlement throttled, retrying after %s", s.backoff.BlockedUntil().Format(time.TimeOnly)))
	default:
		s.log.Error("settle", "round", roundID, "err", err)
		s.setStatus(describe("settlement", err))
	}
}

func (s *Session) settleBacklog(ctx context.Context) {
	err := backoff.Retry(ctx, s.backoffBase(), s.backoffMax(), func(ctx context.Context) error {
		_, err := s.deps.Engine.SettleBacklog(ctx, s.cfg.GameID, s.cfg.ParticipantID, s.deps.Now())
		return err
	})
	if err != nil && ctx.Err() == nil {
		s.setStatus(describe("backlog settlement", err))
	}
}

func (s *Session) backoffBase() time.Duration {
	if s.cfg.BackoffBase > 0 {
		return s.cfg.BackoffBase
	}
	return backoff.DefaultBase
}

func (s *Session) backoffMax() time.Duration {
	if s.cfg.BackoffMax > 0 {
		return s.cfg.BackoffMax
	}
	return backoff.DefaultMax
}

// describe renders err as the one-line status shown to the participant.
func describe(op string, err error) string {
	switch {
	case errors.Is(err, round.ErrWrongPhase):
		return op + " rejected: betting is closed for this round"
	case errors.Is(err, round.ErrAlreadyWagered):
		return op + " rejected: already wagered on this round"
	case errors.Is(err, round.ErrInsufficientFunds):
		return op + " rejected: insufficient points"
	case errors.Is(err, round.ErrInvalidWager):
		return op + " rejected: " + err.Error()
	case errors.Is(err, round.ErrRateLimited):
		return op + " throttled by the backend, try again shortly"
	}
	return op + " failed: " + err.Error()
}
