// Package wheel spins a weighted multiplier wheel. Segments come from a
// gamemath prize table, so an imported model can replace the default wheel.
package wheel

import (
	"strconv"
	"strings"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/gamemath"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

// ModelID is the game math id the wheel looks up before falling back to DefaultMath.
const ModelID = "wheel"

// Spin is the only wager key; it pays the landed segment's multiplier.
const Spin = "spin"

var Keys = []string{Spin}

const (
	SymbolCherry = "cherry"
	SymbolLemon  = "lemon"
	SymbolStar   = "star"
	SymbolSeven  = "seven"
)

var symbols = []string{SymbolCherry, SymbolLemon, SymbolStar, SymbolSeven}

// DefaultMath is a 100-slot wheel returning about 0.94 RTP.
func DefaultMath() *gamemath.GameMath {
	return &gamemath.GameMath{
		SchemaVersion: 1,
		ModelID:       ModelID,
		ModelVersion:  "1.0",
		Mechanic:      gamemath.Mechanic{Type: "wheel"},
		PrizeTable: []gamemath.PrizeTier{
			{Tier: "LOSE", Multiplier: 0, Weight: 55},
			{Tier: "x1.5", Multiplier: 1.5, Weight: 25},
			{Tier: "x2", Multiplier: 2, Weight: 12},
			{Tier: "x3", Multiplier: 3, Weight: 5},
			{Tier: "x5", Multiplier: 5, Weight: 2},
			{Tier: "x7", Multiplier: 7, Weight: 1},
		},
	}
}

// Outcome picks a segment from seed. For display a win shows three equal
// symbols and a loss three that never all match; both are derived from seed.
func Outcome(seed uint32, math *gamemath.GameMath) round.Outcome {
	if math == nil {
		math = DefaultMath()
	}
	tier, idx, ok := math.PickTierAt(seed)
	if !ok {
		return round.Outcome{Roll: -1, Label: "LOSE"}
	}

	next := seed
	pick := func() string {
		next = gamemath.NextSeed(next)
		return symbols[(next>>8)%uint32(len(symbols))]
	}
	var s [3]string
	if tier.Multiplier == 0 {
		s[0], s[1], s[2] = pick(), pick(), pick()
		for s[0] == s[1] && s[1] == s[2] {
			s[2] = pick()
		}
	} else {
		sym := pick()
		s[0], s[1], s[2] = sym, sym, sym
	}

	o := round.Outcome{
		Roll:       idx,
		Label:      tier.Tier,
		Multiplier: tier.Multiplier,
		Detail: map[string]string{
			"segment": tier.Tier,
			"symbols": strings.Join(s[:], ","),
			"model":   math.ModelID,
		},
	}
	if tier.Multiplier > 0 {
		o.Winners = []string{Spin}
		o.Detail["multiplier"] = strconv.FormatFloat(tier.Multiplier, 'f', -1, 64)
	}
	return o
}
