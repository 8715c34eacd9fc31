package games

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/gamemath"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games/baccarat"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games/ladder"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games/roulette"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games/wheel"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

// Variant is one game: an outcome space derived from the round id and a payout table over it.
type Variant interface {
	ID() string
	Name() string
	Keys() []string
	Outcome(roundID string) round.Outcome
	// Multiplier is the payout factor for a stake on key given o; 0 when key lost.
	Multiplier(key string, o round.Outcome) float64
}

// Table implements Variant from a fixed payout table and an outcome function of the round hash.
type Table struct {
	id      string
	name    string
	keys    []string
	payouts map[string]float64
	derive  func(seed uint32) round.Outcome
}

func NewTable(id, name string, keys []string, payouts map[string]float64, derive func(seed uint32) round.Outcome) *Table {
	t := &Table{
		id:      id,
		name:    name,
		keys:    slices.Clone(keys),
		payouts: make(map[string]float64, len(payouts)),
		derive:  derive,
	}
	maps.Copy(t.payouts, payouts)
	return t
}

func (t *Table) ID() string     { return t.id }
func (t *Table) Name() string   { return t.name }
func (t *Table) Keys() []string { return slices.Clone(t.keys) }

func (t *Table) Outcome(roundID string) round.Outcome {
	return t.derive(gamemath.Hash(roundID))
}

// Multiplier returns the fixed table entry for a winning key. Keys with no
// fixed entry pay the outcome's own multiplier.
func (t *Table) Multiplier(key string, o round.Outcome) float64 {
	if !o.Wins(key) {
		return 0
	}
	if m, ok := t.payouts[key]; ok && m > 0 {
		return m
	}
	return o.Multiplier
}

// Payouts returns a copy of the fixed table.
func (t *Table) Payouts() map[string]float64 { return maps.Clone(t.payouts) }

// WithPayouts returns a copy whose known keys take the given multipliers.
func (t *Table) WithPayouts(overrides map[string]float64) (*Table, error) {
	next := NewTable(t.id, t.name, t.keys, t.payouts, t.derive)
	for k, m := range overrides {
		if !slices.Contains(t.keys, k) {
			return nil, fmt.Errorf("games: %s has no key %q", t.id, k)
		}
		if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, fmt.Errorf("games: %s key %q has invalid multiplier %v", t.id, k, m)
		}
		next.payouts[k] = m
	}
	return next, nil
}

var maxPoints = decimal.NewFromInt(math.MaxInt64)

// Payout sums floor(stake * multiplier) over every key. Decimal math keeps
// 10 * 1.9 at 19 instead of 18.999...
func Payout(v Variant, amounts map[string]int64, o round.Outcome) int64 {
	total := decimal.Zero
	for key, amt := range amounts {
		if amt <= 0 {
			continue
		}
		m := v.Multiplier(key, o)
		if !(m > 0) || math.IsInf(m, 0) {
			continue
		}
		total = total.Add(decimal.NewFromInt(amt).Mul(decimal.NewFromFloat(m)).Floor())
	}
	if total.GreaterThan(maxPoints) {
		return math.MaxInt64
	}
	return total.IntPart()
}

// ValidateAmounts checks keys belong to v and stakes are positive; zero entries are dropped.
func ValidateAmounts(v Variant, amounts map[string]int64) (map[string]int64, int64, error) {
	keys := v.Keys()
	out := make(map[string]int64, len(amounts))
	var total int64
	for k, amt := range amounts {
		if amt == 0 {
			continue
		}
		if amt < 0 {
			return nil, 0, fmt.Errorf("%w: negative stake on %q", round.ErrInvalidWager, k)
		}
		if !slices.Contains(keys, k) {
			return nil, 0, fmt.Errorf("%w: %s has no key %q", round.ErrInvalidWager, v.ID(), k)
		}
		if amt > math.MaxInt64-total {
			return nil, 0, fmt.Errorf("%w: total stake overflows", round.ErrInvalidWager)
		}
		out[k] = amt
		total += amt
	}
	if total <= 0 {
		return nil, 0, fmt.Errorf("%w: no stake", round.ErrInvalidWager)
	}
	return out, total, nil
}

type Registry struct {
	mu       sync.RWMutex
	variants map[string]Variant
}

func NewRegistry(vs ...Variant) *Registry {
	r := &Registry{variants: make(map[string]Variant)}
	for _, v := range vs {
		r.Register(v)
	}
	return r
}

func (r *Registry) Register(v Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[v.ID()] = v
}

func (r *Registry) Get(id string) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[id]
	return v, ok
}

// Lookup is Get with an ErrUnknownGame error.
func (r *Registry) Lookup(id string) (Variant, error) {
	v, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", round.ErrUnknownGame, id)
	}
	return v, nil
}

func (r *Registry) List() []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Variant, 0, len(r.variants))
	for _, v := range r.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

const (
	LadderID   = "ladder"
	BaccaratID = "baccarat"
	RouletteID = "roulette"
	WheelID    = "wheel"
)

// Builtin returns the shipped variants. The wheel reads its segments from
// mathStore when a "wheel" model has been imported; mathStore may be nil.
func Builtin(mathStore *gamemath.Store) []*Table {
	wheelDerive := func(seed uint32) round.Outcome {
		var m *gamemath.GameMath
		if mathStore != nil {
			m = mathStore.Get(wheel.ModelID)
		}
		return wheel.Outcome(seed, m)
	}
	return []*Table{
		NewTable(LadderID, "Power Ladder", ladder.Keys, ladder.Payouts, ladder.Outcome),
		NewTable(BaccaratID, "Baccarat", baccarat.Keys, baccarat.Payouts, baccarat.Outcome),
		NewTable(RouletteID, "Roulette", roulette.Keys, roulette.Payouts, roulette.Outcome),
		NewTable(WheelID, "Lucky Wheel", wheel.Keys, nil, wheelDerive),
	}
}
