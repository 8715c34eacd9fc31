// Package roulette is a single-zero wheel: the round hash picks one of 37 pockets.
package roulette

import (
	"strconv"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

const (
	Red    = "red"
	Black  = "black"
	Odd    = "odd"
	Even   = "even"
	Low    = "low"
	High   = "high"
	Dozen1 = "dozen1"
	Dozen2 = "dozen2"
	Dozen3 = "dozen3"

	pockets = 37
)

var redSet = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// NumberKey is the straight-up key for pocket n ("n0".."n36").
func NumberKey(n int) string { return "n" + strconv.Itoa(n) }

var (
	Keys    []string
	Payouts = map[string]float64{
		Red: 2, Black: 2, Odd: 2, Even: 2, Low: 2, High: 2,
		Dozen1: 3, Dozen2: 3, Dozen3: 3,
	}
)

func init() {
	for n := 0; n < pockets; n++ {
		Keys = append(Keys, NumberKey(n))
		Payouts[NumberKey(n)] = 36
	}
	Keys = append(Keys, Red, Black, Odd, Even, Low, High, Dozen1, Dozen2, Dozen3)
}

func Color(n int) string {
	if n == 0 {
		return "green"
	}
	if redSet[n] {
		return Red
	}
	return Black
}

// Outcome lands on pocket seed % 37. Zero pays only its straight-up key.
func Outcome(seed uint32) round.Outcome {
	n := int(seed % pockets)
	winners := []string{NumberKey(n)}
	if n != 0 {
		winners = append(winners, Color(n))
		if n%2 == 1 {
			winners = append(winners, Odd)
		} else {
			winners = append(winners, Even)
		}
		if n <= 18 {
			winners = append(winners, Low)
		} else {
			winners = append(winners, High)
		}
		switch {
		case n <= 12:
			winners = append(winners, Dozen1)
		case n <= 24:
			winners = append(winners, Dozen2)
		default:
			winners = append(winners, Dozen3)
		}
	}
	return round.Outcome{
		Roll:    n,
		Label:   strconv.Itoa(n) + " " + Color(n),
		Winners: winners,
		Detail:  map[string]string{"pocket": strconv.Itoa(n), "color": Color(n)},
	}
}
