// Package baccarat draws two hands of two cards from an LCG seeded by the round hash.
package baccarat

import (
	"strconv"
	"strings"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/gamemath"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

const (
	Player = "player"
	Banker = "banker"
	Tie    = "tie"
)

var Keys = []string{Player, Banker, Tie}

var Payouts = map[string]float64{Player: 2, Banker: 2, Tie: 9}

var (
	ranks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
	suits = []string{"S", "H", "D", "C"}
)

type Card struct {
	Label string
	Value int
}

func cardFromSeed(seed uint32) Card {
	rank := ranks[seed%13]
	suit := suits[(seed>>4)%4]
	value := 0
	switch rank {
	case "A":
		value = 1
	case "J", "Q", "K":
	default:
		value, _ = strconv.Atoi(rank)
	}
	return Card{Label: rank + suit, Value: value}
}

// Deal returns the player and banker hands for seed.
func Deal(seed uint32) (player, banker [2]Card) {
	draw := func() Card {
		seed = gamemath.NextSeed(seed)
		return cardFromSeed(seed)
	}
	player = [2]Card{draw(), draw()}
	banker = [2]Card{draw(), draw()}
	return player, banker
}

func total(h [2]Card) int {
	return (h[0].Value + h[1].Value) % 10
}

func Outcome(seed uint32) round.Outcome {
	p, b := Deal(seed)
	pt, bt := total(p), total(b)

	winner := Tie
	switch {
	case pt > bt:
		winner = Player
	case bt > pt:
		winner = Banker
	}
	return round.Outcome{
		Roll:    pt*10 + bt,
		Label:   winner,
		Winners: []string{winner},
		Detail: map[string]string{
			"player":      strings.Join([]string{p[0].Label, p[1].Label}, " "),
			"banker":      strings.Join([]string{b[0].Label, b[1].Label}, " "),
			"playerTotal": strconv.Itoa(pt),
			"bankerTotal": strconv.Itoa(bt),
		},
	}
}
