// Package viewer follows the wagers placed on the current betting round.
package viewer

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

const (
	DefaultPageSize = 50
	DefaultPoll     = 2 * time.Second
)

// Lister reads a round's wagers oldest first.
type Lister interface {
	Wagers(ctx context.Context, gameID, roundID string, limit int) ([]*round.Wager, error)
}

type Snapshot struct {
	GameID  string         `json:"gameId"`
	RoundID string         `json:"roundId"`
	Wagers  []*round.Wager `json:"wagers"`
	At      time.Time      `json:"at"`
}

// Viewer polls the watched round and publishes a Snapshot whenever the set of
// wagers changes. Only the newest snapshot is kept for a slow consumer.
type Viewer struct {
	lister   Lister
	gameID   string
	pageSize int
	poll     time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	roundID   string
	suspended bool
	lastSig   string

	updates chan Snapshot
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func New(lister Lister, gameID string, pageSize int, poll time.Duration) *Viewer {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if poll <= 0 {
		poll = DefaultPoll
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &Viewer{
		lister:   lister,
		gameID:   gameID,
		pageSize: pageSize,
		poll:     poll,
		log:      slog.Default().With("component", "viewer", "game", gameID),
		updates:  make(chan Snapshot, 1),
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go v.run(ctx)
	return v
}

// Updates is closed by Close.
func (v *Viewer) Updates() <-chan Snapshot { return v.updates }

// Watch switches to roundID. Watching the same round again is a no-op.
func (v *Viewer) Watch(roundID string) {
	v.mu.Lock()
	if v.roundID == roundID {
		v.mu.Unlock()
		return
	}
	v.roundID = roundID
	v.lastSig = ""
	v.mu.Unlock()
	v.poke()
}

// Suspend stops reading until Resume.
func (v *Viewer) Suspend() {
	v.mu.Lock()
	v.suspended = true
	v.mu.Unlock()
}

func (v *Viewer) Resume() {
	v.mu.Lock()
	v.suspended = false
	v.mu.Unlock()
	v.poke()
}

func (v *Viewer) Close() {
	v.once.Do(func() {
		v.cancel()
		<-v.done
		close(v.updates)
	})
}

func (v *Viewer) poke() {
	select {
	case v.wake <- struct{}{}:
	default:
	}
}

func (v *Viewer) run(ctx context.Context) {
	defer close(v.done)
	t := time.NewTicker(v.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-v.wake:
		}
		v.refresh(ctx)
	}
}

func (v *Viewer) refresh(ctx context.Context) {
	v.mu.Lock()
	roundID, suspended := v.roundID, v.suspended
	v.mu.Unlock()
	if suspended || roundID == "" {
		return
	}

	ws, err := v.lister.Wagers(ctx, v.gameID, roundID, v.pageSize)
	if err != nil {
		if ctx.Err() == nil {
			v.log.Warn("list wagers", "round", roundID, "err", err)
		}
		return
	}
	sig := signature(ws)

	v.mu.Lock()
	if v.roundID != roundID || v.lastSig == sig {
		// the round moved on while reading, or nothing changed
		v.mu.Unlock()
		return
	}
	v.lastSig = sig
	v.mu.Unlock()

	snap := Snapshot{GameID: v.gameID, RoundID: roundID, Wagers: ws, At: time.Now()}
	select {
	case v.updates <- snap:
	default:
		select {
		case <-v.updates:
		default:
		}
		v.updates <- snap
	}
}

func signature(ws []*round.Wager) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(ws)))
	for _, w := range ws {
		b.WriteByte('|')
		b.WriteString(w.ID)
		if w.Settled {
			b.WriteString("+s")
		}
	}
	return b.String()
}

// Column lists who backed one outcome key.
type Column struct {
	Key     string   `json:"key"`
	Total   int64    `json:"total"`
	Bettors []string `json:"bettors"`
}

// Board groups a snapshot by outcome key as "name (amount)" rows, keys sorted.
func Board(s Snapshot) []Column {
	cols := make(map[string]*Column)
	for _, w := range s.Wagers {
		name := w.Name
		if name == "" {
			name = w.ParticipantID
		}
		keys := make([]string, 0, len(w.Amounts))
		for k := range w.Amounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			amt := w.Amounts[k]
			if amt <= 0 {
				continue
			}
			c, ok := cols[k]
			if !ok {
				c = &Column{Key: k}
				cols[k] = c
			}
			c.Total += amt
			c.Bettors = append(c.Bettors, name+" ("+strconv.FormatInt(amt, 10)+")")
		}
	}
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
