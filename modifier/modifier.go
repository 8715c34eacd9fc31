// Package modifier resolves a participant's effective rate from the equipped
// item and the held title. The same rate discounts wager debits and pays
// cashback on settlement.
package modifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

// DefaultCeiling caps item + title.
var DefaultCeiling = decimal.RequireFromString("0.5")

var ErrProfileNotFound = errors.New("modifier: profile not found")

type Item struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name" yaml:"name"`
	CashbackRate float64 `json:"cashbackRate" yaml:"cashback_rate"`
	Cost         int64   `json:"cost" yaml:"cost"`
}

// Catalog is the read-only item table. The default item is owned by everyone.
type Catalog struct {
	items     map[string]Item
	order     []string
	defaultID string
}

func NewCatalog(defaultID string, items ...Item) (*Catalog, error) {
	c := &Catalog{items: make(map[string]Item, len(items)), defaultID: defaultID}
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("modifier.NewCatalog: item without id")
		}
		if it.CashbackRate < 0 || math.IsNaN(it.CashbackRate) || math.IsInf(it.CashbackRate, 0) {
			return nil, fmt.Errorf("modifier.NewCatalog: %s has invalid rate %v", it.ID, it.CashbackRate)
		}
		if _, dup := c.items[it.ID]; dup {
			return nil, fmt.Errorf("modifier.NewCatalog: duplicate item %s", it.ID)
		}
		c.items[it.ID] = it
		c.order = append(c.order, it.ID)
	}
	if _, ok := c.items[defaultID]; !ok {
		return nil, fmt.Errorf("modifier.NewCatalog: default item %q not in catalog", defaultID)
	}
	return c, nil
}

// DefaultCatalog is the shipped weapon table.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog("starter_dagger",
		Item{ID: "starter_dagger", Name: "Starter Dagger", CashbackRate: 0.01, Cost: 0},
		Item{ID: "steel_blade", Name: "Steel Blade", CashbackRate: 0.02, Cost: 5000},
		Item{ID: "neon_katana", Name: "Neon Katana", CashbackRate: 0.04, Cost: 20000},
	)
	return c
}

func (c *Catalog) Default() Item { return c.items[c.defaultID] }

func (c *Catalog) Get(id string) (Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

func (c *Catalog) Items() []Item {
	out := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Profile is a point-in-time snapshot from the profile source.
type Profile struct {
	ParticipantID  string   `json:"participantId"`
	Name           string   `json:"name"`
	Points         int64    `json:"points"`
	EquippedItemID string   `json:"equippedItemId"`
	OwnedItems     []string `json:"ownedItems,omitempty"`
	TitleTag       string   `json:"titleTag,omitempty"`
	TitleRate      float64  `json:"titleRate"`
}

// ProfileSource serves profile snapshots. Implementations return
// ErrProfileNotFound for unknown participants.
type ProfileSource interface {
	Profile(ctx context.Context, participantID string) (Profile, error)
}

// Breakdown is the resolved rate with its parts.
type Breakdown struct {
	ItemID    string
	ItemRate  decimal.Decimal
	TitleTag  string
	TitleRate decimal.Decimal
	Rate      decimal.Decimal
}

// Charge is floor(total * (1 - rate)).
func (b Breakdown) Charge(total int64) int64 {
	return decimal.NewFromInt(total).Mul(decimal.NewFromInt(1).Sub(b.Rate)).Floor().IntPart()
}

// Cashback is floor(total * rate).
func (b Breakdown) Cashback(total int64) int64 {
	return decimal.NewFromInt(total).Mul(b.Rate).Floor().IntPart()
}

// Record converts to the audit form stored on a wager.
func (b Breakdown) Record() *round.Modifier {
	return &round.Modifier{
		ItemID:    b.ItemID,
		ItemRate:  b.ItemRate.InexactFloat64(),
		TitleTag:  b.TitleTag,
		TitleRate: b.TitleRate.InexactFloat64(),
		Rate:      b.Rate.InexactFloat64(),
	}
}

type Resolver struct {
	catalog *Catalog
	ceiling decimal.Decimal
}

func NewResolver(catalog *Catalog, ceiling decimal.Decimal) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if ceiling.IsNegative() {
		ceiling = decimal.Zero
	}
	return &Resolver{catalog: catalog, ceiling: ceiling}
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Resolve returns clamp(itemRate + titleRate, 0, ceiling). An equipped item
// the participant does not own, or that the catalog does not know, resolves to the default item.
func (r *Resolver) Resolve(p Profile) Breakdown {
	item := r.catalog.Default()
	if it, ok := r.catalog.Get(p.EquippedItemID); ok && owns(p, it.ID, r.catalog.defaultID) {
		item = it
	}
	itemRate := rateOf(item.CashbackRate)
	titleRate := rateOf(p.TitleRate)

	rate := itemRate.Add(titleRate)
	if rate.GreaterThan(r.ceiling) {
		rate = r.ceiling
	}
	return Breakdown{
		ItemID:    item.ID,
		ItemRate:  itemRate,
		TitleTag:  p.TitleTag,
		TitleRate: titleRate,
		Rate:      rate,
	}
}

// owns treats an empty ownership list as "source already validated the equip".
func owns(p Profile, itemID, defaultID string) bool {
	if itemID == defaultID || len(p.OwnedItems) == 0 {
		return true
	}
	return slices.Contains(p.OwnedItems, itemID)
}

// rateOf maps negative and non-finite rates, which profile sources can send, to zero.
func rateOf(f float64) decimal.Decimal {
	if !(f > 0) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// MemorySource is an in-process ProfileSource.
type MemorySource struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemorySource(profiles ...Profile) *MemorySource {
	m := &MemorySource{profiles: make(map[string]Profile)}
	for _, p := range profiles {
		m.Put(p)
	}
	return m
}

func (m *MemorySource) Put(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ParticipantID] = p
}

func (m *MemorySource) Profile(_ context.Context, participantID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[participantID]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, participantID)
	}
	return p, nil
}

func (m *MemorySource) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Fallback wraps a source so unknown participants resolve to a bare profile
// (default item, no title) instead of failing.
type Fallback struct {
	Source ProfileSource
}

func (f Fallback) Profile(ctx context.Context, participantID string) (Profile, error) {
	p, err := f.Source.Profile(ctx, participantID)
	if errors.Is(err, ErrProfileNotFound) {
		return Profile{ParticipantID: participantID}, nil
	}
	return p, err
}
