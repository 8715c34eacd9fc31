package games_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/gamemath"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games/ladder"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

func builtinRegistry(t *testing.T) *games.Registry {
	t.Helper()
	r := games.NewRegistry()
	for _, tb := range games.Builtin(gamemath.NewStore(t.TempDir(), nil)) {
		r.Register(tb)
	}
	return r
}

func TestOutcomeStableForRoundID(t *testing.T) {
	r := builtinRegistry(t)
	for _, v := range r.List() {
		a := v.Outcome("2026-02-24-R5")
		b := v.Outcome("2026-02-24-R5")
		assert.Equal(t, a, b, v.ID())
	}

	v, ok := r.Get(games.LadderID)
	require.True(t, ok)
	want := ladder.Outcome(gamemath.Hash("2026-02-24-R5"))
	assert.Equal(t, want, v.Outcome("2026-02-24-R5"))
}

func TestPayoutFloorsEachKey(t *testing.T) {
	r := builtinRegistry(t)
	v, err := r.Lookup(games.LadderID)
	require.NoError(t, err)

	o := round.Outcome{Winners: []string{ladder.Line3, ladder.Left, ladder.Even}}
	amounts := map[string]int64{ladder.Line3: 10, ladder.Left: 15, ladder.Right: 100, ladder.Even: 1}
	// 19 + floor(28.5) + 0 + floor(1.9)
	assert.Equal(t, int64(19+28+0+1), games.Payout(v, amounts, o))
}

func TestPayoutUsesOutcomeMultiplier(t *testing.T) {
	r := builtinRegistry(t)
	v, err := r.Lookup(games.WheelID)
	require.NoError(t, err)
	o := round.Outcome{Winners: []string{"spin"}, Multiplier: 1.5}
	assert.Equal(t, int64(150), games.Payout(v, map[string]int64{"spin": 100}, o))
	assert.Equal(t, int64(0), games.Payout(v, map[string]int64{"spin": 100}, round.Outcome{}))
	assert.Equal(t, int64(0), games.Payout(v, map[string]int64{"spin": 100}, round.Outcome{Winners: []string{"spin"}, Multiplier: math.NaN()}))
}

func TestPayoutSaturates(t *testing.T) {
	v, err := builtinRegistry(t).Lookup(games.LadderID)
	require.NoError(t, err)
	o := round.Outcome{Winners: []string{ladder.Left, ladder.Even}}
	amounts := map[string]int64{ladder.Left: math.MaxInt64, ladder.Even: math.MaxInt64}
	assert.Equal(t, int64(math.MaxInt64), games.Payout(v, amounts, o))
}

func TestLookupUnknown(t *testing.T) {
	_, err := builtinRegistry(t).Lookup("nope")
	assert.ErrorIs(t, err, round.ErrUnknownGame)
}

func TestValidateAmounts(t *testing.T) {
	v, _ := builtinRegistry(t).Get(games.BaccaratID)

	amounts, total, err := games.ValidateAmounts(v, map[string]int64{"player": 100, "tie": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
	assert.Equal(t, map[string]int64{"player": 100}, amounts)

	_, _, err = games.ValidateAmounts(v, map[string]int64{"dragon": 10})
	assert.ErrorIs(t, err, round.ErrInvalidWager)
	_, _, err = games.ValidateAmounts(v, map[string]int64{"player": -5})
	assert.ErrorIs(t, err, round.ErrInvalidWager)
	_, _, err = games.ValidateAmounts(v, map[string]int64{})
	assert.ErrorIs(t, err, round.ErrInvalidWager)
	_, _, err = games.ValidateAmounts(v, map[string]int64{"player": math.MaxInt64, "banker": 1})
	assert.ErrorIs(t, err, round.ErrInvalidWager, "total overflows int64")
}

func TestWithPayouts(t *testing.T) {
	base := games.Builtin(nil)[0]
	tuned, err := base.WithPayouts(map[string]float64{ladder.Odd: 1.95})
	require.NoError(t, err)
	o := round.Outcome{Winners: []string{ladder.Odd}}
	assert.Equal(t, 1.95, tuned.Multiplier(ladder.Odd, o))
	assert.Equal(t, 1.9, base.Multiplier(ladder.Odd, o), "base table untouched")

	_, err = base.WithPayouts(map[string]float64{"nope": 2})
	assert.Error(t, err)
	for _, m := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err = base.WithPayouts(map[string]float64{ladder.Odd: m})
		assert.Error(t, err, "%v", m)
	}
}

func TestWheelReadsImportedMath(t *testing.T) {
	store := gamemath.NewStore(t.TempDir(), nil)
	require.NoError(t, store.Register(&gamemath.GameMath{
		ModelID:    "wheel",
		PrizeTable: []gamemath.PrizeTier{{Tier: "x4", Multiplier: 4, Weight: 1}},
	}))
	var wheelTable *games.Table
	for _, tb := range games.Builtin(store) {
		if tb.ID() == games.WheelID {
			wheelTable = tb
		}
	}
	require.NotNil(t, wheelTable)
	o := wheelTable.Outcome("2026-02-24-R1")
	assert.Equal(t, 4.0, o.Multiplier)
	assert.Equal(t, 4.0, wheelTable.Multiplier("spin", o))
}
