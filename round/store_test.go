package round_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rgs "github.com/Ashenafi-pixel/gamecrafter-round-engine"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

func stores(t *testing.T) map[string]round.Store {
	t.Helper()
	db, err := rgs.OpenSQLite(filepath.Join(t.TempDir(), "rounds.db"))
	require.NoError(t, err)
	sq, err := round.NewSQLStore(context.Background(), db, round.DialectSQLite, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]round.Store{
		"memory": round.NewMemStore("", nil),
		"file":   round.NewMemStore(t.TempDir(), nil),
		"sqlite": sq,
	}
}

func wager(roundID, participant string, created time.Time) *round.Wager {
	return &round.Wager{
		ID:            participant + "-" + roundID,
		GameID:        "ladder",
		RoundID:       roundID,
		ParticipantID: participant,
		Name:          participant,
		Amounts:       map[string]int64{"left": 100, "odd": 50},
		Total:         150,
		Charged:       140,
		DiscountRate:  0.07,
		CreatedAt:     created,
	}
}

func TestCreateResultKeepsFirstWriter(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first := &round.Result{GameID: "ladder", RoundID: "2026-02-24-R5", Outcome: round.Outcome{Roll: 7, Label: "a"}, CreatedAt: time.Now().UTC()}
			second := &round.Result{GameID: "ladder", RoundID: "2026-02-24-R5", Outcome: round.Outcome{Roll: 9, Label: "b"}, CreatedAt: time.Now().UTC()}

			var got1, got2 *round.Result
			require.NoError(t, s.InTx(ctx, func(tx round.Tx) error {
				var err error
				got1, err = tx.CreateResult(ctx, first)
				return err
			}))
			require.NoError(t, s.InTx(ctx, func(tx round.Tx) error {
				var err error
				got2, err = tx.CreateResult(ctx, second)
				return err
			}))
			assert.Equal(t, 7, got1.Outcome.Roll)
			assert.Equal(t, 7, got2.Outcome.Roll, "loser observes the stored value")

			stored, err := s.Result(ctx, "ladder", "2026-02-24-R5")
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, "a", stored.Outcome.Label)

			missing, err := s.Result(ctx, "ladder", "2026-02-24-R6")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestCreateWagerUniquePerRound(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.InTx(ctx, func(tx round.Tx) error {
				return tx.CreateWager(ctx, wager("2026-02-24-R6", "alice", now))
			}))
			err := s.InTx(ctx, func(tx round.Tx) error {
				return tx.CreateWager(ctx, wager("2026-02-24-R6", "alice", now))
			})
			assert.ErrorIs(t, err, round.ErrAlreadyWagered)

			w, err := s.Wager(ctx, "ladder", "2026-02-24-R6", "alice")
			require.NoError(t, err)
			require.NotNil(t, w)
			assert.Equal(t, int64(150), w.Total)
			assert.Equal(t, int64(140), w.Charged)
			assert.Equal(t, int64(100), w.Amounts["left"])
			assert.False(t, w.Settled)
		})
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.InTx(ctx, func(tx round.Tx) error {
				if err := tx.CreateWager(ctx, wager("2026-02-24-R7", "bob", time.Now().UTC())); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			w, err := s.Wager(ctx, "ladder", "2026-02-24-R7", "bob")
			require.NoError(t, err)
			assert.Nil(t, w)
		})
	}
}

func TestSettleWagerOnce(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.InTx(ctx, func(tx round.Tx) error {
				return tx.CreateWager(ctx, wager("2026-02-24-R8", "carol", time.Now().UTC()))
			}))

			settle := func() error {
				return s.InTx(ctx, func(tx round.Tx) error {
					w, err := tx.Wager(ctx, "ladder", "2026-02-24-R8", "carol")
					if err != nil {
						return err
					}
					at := time.Now().UTC()
					w.SettledAt = &at
					w.Payout = 190
					w.Cashback = 10
					w.Outcome = &round.Outcome{Roll: 3, Winners: []string{"left"}}
					w.Modifier = &round.Modifier{ItemID: "steel_blade", ItemRate: 0.02, TitleRate: 0.05, Rate: 0.07}
					return tx.SettleWager(ctx, w)
				})
			}
			require.NoError(t, settle())
			assert.ErrorIs(t, settle(), round.ErrAlreadySettled)

			w, err := s.Wager(ctx, "ladder", "2026-02-24-R8", "carol")
			require.NoError(t, err)
			assert.True(t, w.Settled)
			assert.Equal(t, int64(190), w.Payout)
			require.NotNil(t, w.Outcome)
			assert.True(t, w.Outcome.Wins("left"))
			require.NotNil(t, w.Modifier)
			assert.Equal(t, "steel_blade", w.Modifier.ItemID)

			open, err := s.Unsettled(ctx, "ladder", "carol", 10)
			require.NoError(t, err)
			assert.Empty(t, open)
		})
	}
}

func TestWagersOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 2, 24, 0, 10, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i, p := range []string{"zed", "amy", "kim"} {
				w := wager("2026-02-24-R9", p, base.Add(time.Duration(i)*time.Second))
				require.NoError(t, s.InTx(ctx, func(tx round.Tx) error { return tx.CreateWager(ctx, w) }))
			}
			ws, err := s.Wagers(ctx, "ladder", "2026-02-24-R9", 2)
			require.NoError(t, err)
			require.Len(t, ws, 2)
			assert.Equal(t, "zed", ws[0].ParticipantID)
			assert.Equal(t, "amy", ws[1].ParticipantID)

			open, err := s.Unsettled(ctx, "ladder", "kim", 0)
			require.NoError(t, err)
			assert.Len(t, open, 1)
		})
	}
}

func TestConcurrentCreateResultConverges(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			rolls := make([]int, 8)
			for i := range rolls {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_ = s.InTx(ctx, func(tx round.Tx) error {
						r, err := tx.CreateResult(ctx, &round.Result{GameID: "ladder", RoundID: "2026-02-24-R10", Outcome: round.Outcome{Roll: i + 1}, CreatedAt: time.Now().UTC()})
						if err != nil {
							return err
						}
						rolls[i] = r.Outcome.Roll
						return nil
					})
				}(i)
			}
			wg.Wait()
			for _, r := range rolls {
				assert.Equal(t, rolls[0], r)
			}
		})
	}
}

func TestMemStoreReloadsSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := round.NewMemStore(dir, nil)
	require.NoError(t, s.InTx(ctx, func(tx round.Tx) error {
		if _, err := tx.CreateResult(ctx, &round.Result{GameID: "ladder", RoundID: "2026-02-24-R1", Outcome: round.Outcome{Roll: 42}}); err != nil {
			return err
		}
		return tx.CreateWager(ctx, wager("2026-02-24-R2", "dan", time.Now().UTC()))
	}))

	reopened := round.NewMemStore(dir, nil)
	r, err := reopened.Result(ctx, "ladder", "2026-02-24-R1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 42, r.Outcome.Roll)
	w, err := reopened.Wager(ctx, "ladder", "2026-02-24-R2", "dan")
	require.NoError(t, err)
	assert.NotNil(t, w)
}
