// Package ladder is the power-ladder outcome space: one roll in [0,100)
// decides a start line, a side and a parity, each paid independently.
package ladder

import (
	"strconv"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

const (
	Line3 = "line3"
	Line4 = "line4"
	Left  = "left"
	Right = "right"
	Odd   = "odd"
	Even  = "even"
)

var Keys = []string{Line3, Line4, Left, Right, Odd, Even}

// Payouts pays 1.9x on every winning key.
var Payouts = map[string]float64{
	Line3: 1.9, Line4: 1.9,
	Left: 1.9, Right: 1.9,
	Odd: 1.9, Even: 1.9,
}

// Outcome folds the round hash into a roll and reads the three facets off it.
func Outcome(seed uint32) round.Outcome {
	roll := int(seed % 100)

	line := Line4
	if roll < 50 {
		line = Line3
	}
	side := Right
	if roll%2 == 0 {
		side = Left
	}
	parity := Odd
	if (roll/2)%2 == 0 {
		parity = Even
	}

	return round.Outcome{
		Roll:    roll,
		Label:   line + " " + side + " " + parity,
		Winners: []string{line, side, parity},
		Detail: map[string]string{
			"roll":   strconv.Itoa(roll),
			"line":   line,
			"side":   side,
			"parity": parity,
		},
	}
}
