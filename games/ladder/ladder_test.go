package ladder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games/ladder"
)

func TestOutcomeFacets(t *testing.T) {
	cases := []struct {
		seed    uint32
		roll    int
		winners []string
	}{
		{seed: 0, roll: 0, winners: []string{ladder.Line3, ladder.Left, ladder.Even}},
		{seed: 3, roll: 3, winners: []string{ladder.Line3, ladder.Right, ladder.Odd}},
		{seed: 149, roll: 49, winners: []string{ladder.Line3, ladder.Right, ladder.Even}},
		{seed: 50, roll: 50, winners: []string{ladder.Line4, ladder.Left, ladder.Odd}},
		{seed: 99, roll: 99, winners: []string{ladder.Line4, ladder.Right, ladder.Odd}},
	}
	for _, c := range cases {
		o := ladder.Outcome(c.seed)
		assert.Equal(t, c.roll, o.Roll)
		assert.Equal(t, c.winners, o.Winners, "seed %d", c.seed)
	}
}

func TestOutcomeAlwaysThreeDistinctWinners(t *testing.T) {
	for seed := uint32(0); seed < 400; seed++ {
		o := ladder.Outcome(seed)
		assert.Len(t, o.Winners, 3)
		for _, w := range o.Winners {
			assert.Contains(t, ladder.Keys, w)
		}
	}
}
