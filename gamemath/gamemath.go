package gamemath

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
)

// GameMath is a stored payout model (schema_version 1). For round games the
// prize table doubles as the outcome space: each tier is one segment.
type GameMath struct {
	SchemaVersion int         `json:"schema_version"`
	ModelID       string      `json:"model_id"`
	ModelVersion  string      `json:"model_version"`
	Mechanic      Mechanic    `json:"mechanic"`
	PrizeTable    []PrizeTier `json:"prize_table"`
	Stats         *GameStats  `json:"stats,omitempty"`
}

type Mechanic struct {
	Type string `json:"type"`
}

type PrizeTier struct {
	Tier       string  `json:"tier"`
	Multiplier float64 `json:"multiplier"`
	Weight     int64   `json:"weight"`
}

type GameStats struct {
	ComputedRTP float64 `json:"computed_rtp"`
	HitRate     float64 `json:"hit_rate"`
	Variance    float64 `json:"variance"`
}

var ErrEmptyTable = errors.New("gamemath: prize table has no positive weights")

// Hash is the 32-bit FNV-1a digest of s. Every observer hashing the same
// round id gets the same seed.
func Hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// NextSeed advances the numerical-recipes LCG used for multi-draw outcomes.
func NextSeed(seed uint32) uint32 {
	return seed*1664525 + 1013904223
}

func (g *GameMath) totalWeight() int64 {
	var total int64
	for _, t := range g.PrizeTable {
		if t.Weight > 0 {
			total += t.Weight
		}
	}
	return total
}

// Validate rejects tables that cannot produce an outcome.
func (g *GameMath) Validate() error {
	if g == nil || g.ModelID == "" {
		return fmt.Errorf("gamemath: model_id required")
	}
	if g.totalWeight() <= 0 {
		return fmt.Errorf("%s: %w", g.ModelID, ErrEmptyTable)
	}
	for _, t := range g.PrizeTable {
		if t.Multiplier < 0 {
			return fmt.Errorf("gamemath: %s tier %q has negative multiplier", g.ModelID, t.Tier)
		}
	}
	return nil
}

// PickTierAt maps seed onto the weighted table. Equal seeds give equal tiers.
// Returns the tier, its index, and false if the table is empty or all weights are zero.
func (g *GameMath) PickTierAt(seed uint32) (PrizeTier, int, bool) {
	if g == nil || len(g.PrizeTable) == 0 {
		return PrizeTier{}, -1, false
	}
	total := g.totalWeight()
	if total <= 0 {
		return PrizeTier{}, -1, false
	}
	idx := int64(seed) % total
	var cum int64
	for i, t := range g.PrizeTable {
		if t.Weight <= 0 {
			continue
		}
		cum += t.Weight
		if idx < cum {
			return t, i, true
		}
	}
	last := len(g.PrizeTable) - 1
	return g.PrizeTable[last], last, true
}

// ComputeStats derives RTP, hit rate and variance of the multiplier from the weights.
func (g *GameMath) ComputeStats() GameStats {
	total := float64(g.totalWeight())
	if total <= 0 {
		return GameStats{}
	}
	var mean, hit, sq float64
	for _, t := range g.PrizeTable {
		if t.Weight <= 0 {
			continue
		}
		p := float64(t.Weight) / total
		mean += p * t.Multiplier
		sq += p * t.Multiplier * t.Multiplier
		if t.Multiplier > 0 {
			hit += p
		}
	}
	return GameStats{
		ComputedRTP: round4(mean),
		HitRate:     round4(hit),
		Variance:    round4(sq - mean*mean),
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
