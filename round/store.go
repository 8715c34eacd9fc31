package round

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is the shared round/outcome store. Reads outside InTx see committed state only.
type Store interface {
	Result(ctx context.Context, gameID, roundID string) (*Result, error)
	Wager(ctx context.Context, gameID, roundID, participantID string) (*Wager, error)
	// Wagers lists a round's wagers oldest first, at most limit rows.
	Wagers(ctx context.Context, gameID, roundID string, limit int) ([]*Wager, error)
	// Unsettled lists a participant's open wagers oldest first, at most limit rows.
	Unsettled(ctx context.Context, gameID, participantID string, limit int) ([]*Wager, error)
	// InTx runs fn as one serializable read-modify-write unit. Returning an
	// error discards every write fn made. fn must only use the Tx it is given.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type Tx interface {
	Result(ctx context.Context, gameID, roundID string) (*Result, error)
	// CreateResult stores r unless a result already exists and returns whichever is stored.
	CreateResult(ctx context.Context, r *Result) (*Result, error)
	// Wager reads a wager and, where the backend supports it, locks it until commit.
	Wager(ctx context.Context, gameID, roundID, participantID string) (*Wager, error)
	// CreateWager fails with ErrAlreadyWagered when the unique key is taken.
	CreateWager(ctx context.Context, w *Wager) error
	// SettleWager writes the settlement fields of w; fails with ErrAlreadySettled
	// when the stored wager is already settled.
	SettleWager(ctx context.Context, w *Wager) error
}

func resultKey(gameID, roundID string) string { return gameID + "|" + roundID }

func wagerKey(gameID, roundID, participantID string) string {
	return gameID + "|" + roundID + "|" + participantID
}

// MemStore keeps everything in maps behind one mutex and, when dataDir is set,
// snapshots to round_state.json after every committed transaction.
type MemStore struct {
	mu      sync.Mutex
	results map[string]*Result
	wagers  map[string]*Wager
	dataDir string
	log     *slog.Logger
}

type memSnapshot struct {
	Results []*Result `json:"results"`
	Wagers  []*Wager  `json:"wagers"`
}

// NewMemStore returns a store persisted under dataDir, or purely in memory when dataDir is empty.
func NewMemStore(dataDir string, log *slog.Logger) *MemStore {
	if log == nil {
		log = slog.Default()
	}
	s := &MemStore{
		results: make(map[string]*Result),
		wagers:  make(map[string]*Wager),
		dataDir: dataDir,
		log:     log,
	}
	s.load()
	return s
}

func (s *MemStore) path() string {
	return filepath.Join(s.dataDir, "round_state.json")
}

func (s *MemStore) load() {
	if s.dataDir == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path())
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("round state unreadable, starting empty", "path", s.path(), "err", err)
		}
		return
	}
	var snap memSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("round state corrupt, starting empty", "path", s.path(), "err", err)
		return
	}
	for _, r := range snap.Results {
		if r != nil && r.RoundID != "" {
			s.results[resultKey(r.GameID, r.RoundID)] = r
		}
	}
	for _, w := range snap.Wagers {
		if w != nil && w.RoundID != "" {
			s.wagers[wagerKey(w.GameID, w.RoundID, w.ParticipantID)] = w
		}
	}
}

// saveLocked writes the snapshot. Caller must hold s.mu.
func (s *MemStore) saveLocked() error {
	if s.dataDir == "" {
		return nil
	}
	snap := memSnapshot{
		Results: make([]*Result, 0, len(s.results)),
		Wagers:  make([]*Wager, 0, len(s.wagers)),
	}
	for _, r := range s.results {
		snap.Results = append(snap.Results, r)
	}
	for _, w := range s.wagers {
		snap.Wagers = append(snap.Wagers, w)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}

func (s *MemStore) Result(_ context.Context, gameID, roundID string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[resultKey(gameID, roundID)]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *MemStore) Wager(_ context.Context, gameID, roundID, participantID string) (*Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wagers[wagerKey(gameID, roundID, participantID)].clone(), nil
}

func (s *MemStore) Wagers(_ context.Context, gameID, roundID string, limit int) ([]*Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Wager
	for _, w := range s.wagers {
		if w.GameID == gameID && w.RoundID == roundID {
			out = append(out, w.clone())
		}
	}
	return oldestFirst(out, limit), nil
}

func (s *MemStore) Unsettled(_ context.Context, gameID, participantID string, limit int) ([]*Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Wager
	for _, w := range s.wagers {
		if w.GameID == gameID && w.ParticipantID == participantID && !w.Settled {
			out = append(out, w.clone())
		}
	}
	return oldestFirst(out, limit), nil
}

func oldestFirst(ws []*Wager, limit int) []*Wager {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].CreatedAt.Equal(ws[j].CreatedAt) {
			return ws[i].ID < ws[j].ID
		}
		return ws[i].CreatedAt.Before(ws[j].CreatedAt)
	})
	if limit > 0 && len(ws) > limit {
		ws = ws[:limit]
	}
	return ws
}

// InTx holds the store's only lock for the whole of fn, so every other reader
// and writer waits. fn must not call back into s or make slow remote calls.
func (s *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		s:       s,
		results: make(map[string]*Result),
		wagers:  make(map[string]*Wager),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commitLocked()
}

func (s *MemStore) Close() error { return nil }

// memTx stages writes and applies them to the parent maps on commit.
type memTx struct {
	s       *MemStore
	results map[string]*Result
	wagers  map[string]*Wager
}

func (t *memTx) Result(_ context.Context, gameID, roundID string) (*Result, error) {
	k := resultKey(gameID, roundID)
	r, ok := t.results[k]
	if !ok {
		r, ok = t.s.results[k]
	}
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (t *memTx) CreateResult(ctx context.Context, r *Result) (*Result, error) {
	existing, _ := t.Result(ctx, r.GameID, r.RoundID)
	if existing != nil {
		return existing, nil
	}
	c := *r
	t.results[resultKey(r.GameID, r.RoundID)] = &c
	out := c
	return &out, nil
}

func (t *memTx) lookupWager(k string) *Wager {
	if w, ok := t.wagers[k]; ok {
		return w
	}
	return t.s.wagers[k]
}

func (t *memTx) Wager(_ context.Context, gameID, roundID, participantID string) (*Wager, error) {
	return t.lookupWager(wagerKey(gameID, roundID, participantID)).clone(), nil
}

func (t *memTx) CreateWager(_ context.Context, w *Wager) error {
	k := wagerKey(w.GameID, w.RoundID, w.ParticipantID)
	if t.lookupWager(k) != nil {
		return fmt.Errorf("round.CreateWager: %s %s: %w", w.RoundID, w.ParticipantID, ErrAlreadyWagered)
	}
	t.wagers[k] = w.clone()
	return nil
}

func (t *memTx) SettleWager(_ context.Context, w *Wager) error {
	k := wagerKey(w.GameID, w.RoundID, w.ParticipantID)
	cur := t.lookupWager(k)
	if cur == nil {
		return fmt.Errorf("round.SettleWager: %s %s: wager not found", w.RoundID, w.ParticipantID)
	}
	if cur.Settled {
		return fmt.Errorf("round.SettleWager: %s %s: %w", w.RoundID, w.ParticipantID, ErrAlreadySettled)
	}
	next := cur.clone()
	next.Settled = true
	next.SettledAt = w.SettledAt
	next.Outcome = w.Outcome
	next.Payout = w.Payout
	next.Cashback = w.Cashback
	next.Modifier = w.Modifier
	t.wagers[k] = next.clone()
	return nil
}

// commitLocked applies staged writes and persists; on a failed write the
// previous values are restored so memory never runs ahead of disk.
func (t *memTx) commitLocked() error {
	if len(t.results) == 0 && len(t.wagers) == 0 {
		return nil
	}
	prevResults := make(map[string]*Result, len(t.results))
	prevWagers := make(map[string]*Wager, len(t.wagers))
	for k, r := range t.results {
		prevResults[k] = t.s.results[k]
		t.s.results[k] = r
	}
	for k, w := range t.wagers {
		prevWagers[k] = t.s.wagers[k]
		t.s.wagers[k] = w
	}
	if err := t.s.saveLocked(); err != nil {
		for k, r := range prevResults {
			if r == nil {
				delete(t.s.results, k)
			} else {
				t.s.results[k] = r
			}
		}
		for k, w := range prevWagers {
			if w == nil {
				delete(t.s.wagers, k)
			} else {
				t.s.wagers[k] = w
			}
		}
		return fmt.Errorf("round.MemStore: save: %w", err)
	}
	return nil
}
