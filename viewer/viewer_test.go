package viewer_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/viewer"
)

type fakeLister struct {
	mu     sync.Mutex
	rounds map[string][]*round.Wager
	reads  atomic.Int32
}

func (f *fakeLister) Wagers(_ context.Context, _, roundID string, limit int) ([]*round.Wager, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	ws := f.rounds[roundID]
	if len(ws) > limit {
		ws = ws[:limit]
	}
	return append([]*round.Wager(nil), ws...), nil
}

func (f *fakeLister) add(roundID string, w *round.Wager) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rounds == nil {
		f.rounds = make(map[string][]*round.Wager)
	}
	f.rounds[roundID] = append(f.rounds[roundID], w)
}

func next(t *testing.T, v *viewer.Viewer) viewer.Snapshot {
	t.Helper()
	select {
	case s := <-v.Updates():
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}
	return viewer.Snapshot{}
}

func TestWatchPublishesChanges(t *testing.T) {
	l := &fakeLister{}
	l.add("2026-02-24-R6", &round.Wager{ID: "w1", ParticipantID: "alice", Amounts: map[string]int64{"left": 100}})
	v := viewer.New(l, "ladder", 10, 10*time.Millisecond)
	defer v.Close()

	v.Watch("2026-02-24-R6")
	s := next(t, v)
	assert.Equal(t, "2026-02-24-R6", s.RoundID)
	require.Len(t, s.Wagers, 1)

	l.add("2026-02-24-R6", &round.Wager{ID: "w2", ParticipantID: "bob", Amounts: map[string]int64{"right": 50}})
	s = next(t, v)
	assert.Len(t, s.Wagers, 2)

	v.Watch("2026-02-24-R7")
	s = next(t, v)
	assert.Equal(t, "2026-02-24-R7", s.RoundID)
	assert.Empty(t, s.Wagers)
}

func TestNoUpdateWithoutChange(t *testing.T) {
	l := &fakeLister{}
	l.add("r", &round.Wager{ID: "w1"})
	v := viewer.New(l, "ladder", 10, 5*time.Millisecond)
	defer v.Close()

	v.Watch("2026-02-24-R6")
	next(t, v)
	select {
	case s := <-v.Updates():
		t.Fatalf("unexpected snapshot %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSuspendStopsReads(t *testing.T) {
	l := &fakeLister{}
	v := viewer.New(l, "ladder", 10, 5*time.Millisecond)
	defer v.Close()
	v.Suspend()
	v.Watch("2026-02-24-R6")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, l.reads.Load())

	v.Resume()
	next(t, v)
	assert.Positive(t, l.reads.Load())
}

func TestCloseClosesUpdates(t *testing.T) {
	v := viewer.New(&fakeLister{}, "ladder", 10, time.Hour)
	v.Close()
	_, ok := <-v.Updates()
	assert.False(t, ok)
	v.Close()
}

func TestBoard(t *testing.T) {
	cols := viewer.Board(viewer.Snapshot{Wagers: []*round.Wager{
		{ParticipantID: "a", Name: "Alice", Amounts: map[string]int64{"left": 100, "odd": 50}},
		{ParticipantID: "b", Amounts: map[string]int64{"left": 30}},
	}})
	require.Len(t, cols, 2)
	assert.Equal(t, "left", cols[0].Key)
	assert.Equal(t, int64(130), cols[0].Total)
	assert.Equal(t, []string{"Alice (100)", "b (30)"}, cols[0].Bettors)
	assert.Equal(t, "odd", cols[1].Key)
	assert.Equal(t, []string{"Alice (50)"}, cols[1].Bettors)
}
