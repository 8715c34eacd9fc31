package modifier_test

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/modifier"
)

func resolver() *modifier.Resolver {
	return modifier.NewResolver(modifier.DefaultCatalog(), modifier.DefaultCeiling)
}

func TestDiscountedChargeIsExact(t *testing.T) {
	b := resolver().Resolve(modifier.Profile{
		EquippedItemID: "steel_blade",
		OwnedItems:     []string{"steel_blade"},
		TitleTag:       "landlord",
		TitleRate:      0.05,
	})
	assert.True(t, b.Rate.Equal(decimal.RequireFromString("0.07")), b.Rate.String())
	assert.Equal(t, int64(930), b.Charge(1000))
	assert.Equal(t, int64(70), b.Cashback(1000))
}

func TestResolveDefaultsUnknownOrUnownedItem(t *testing.T) {
	r := resolver()

	b := r.Resolve(modifier.Profile{EquippedItemID: "golden_axe"})
	assert.Equal(t, "starter_dagger", b.ItemID)

	b = r.Resolve(modifier.Profile{EquippedItemID: "neon_katana", OwnedItems: []string{"steel_blade"}})
	assert.Equal(t, "starter_dagger", b.ItemID, "not owned")

	b = r.Resolve(modifier.Profile{EquippedItemID: "neon_katana", OwnedItems: []string{"neon_katana"}})
	assert.Equal(t, "neon_katana", b.ItemID)
	assert.True(t, b.Rate.Equal(decimal.RequireFromString("0.04")))
}

func TestRateClampedToCeiling(t *testing.T) {
	r := modifier.NewResolver(modifier.DefaultCatalog(), decimal.RequireFromString("0.1"))
	b := r.Resolve(modifier.Profile{EquippedItemID: "neon_katana", TitleRate: 0.5})
	assert.True(t, b.Rate.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, int64(900), b.Charge(1000))
}

func TestRateNeverNegative(t *testing.T) {
	b := resolver().Resolve(modifier.Profile{TitleRate: -0.3})
	assert.True(t, b.TitleRate.IsZero())
	assert.True(t, b.Rate.Equal(decimal.RequireFromString("0.01")))
	assert.GreaterOrEqual(t, b.Cashback(1), int64(0))
}

func TestNonFiniteTitleRateIsZero(t *testing.T) {
	for _, title := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		var b modifier.Breakdown
		require.NotPanics(t, func() {
			b = resolver().Resolve(modifier.Profile{EquippedItemID: "starter_dagger", TitleRate: title})
		})
		assert.True(t, b.TitleRate.IsZero(), "%v", title)
		assert.True(t, b.Rate.Equal(decimal.RequireFromString("0.01")), "%v", title)
		assert.Equal(t, int64(10), b.Cashback(1000))
	}
}

func TestRateWithinBoundsForAnyProfile(t *testing.T) {
	r := resolver()
	for _, item := range []string{"", "starter_dagger", "steel_blade", "neon_katana", "bogus"} {
		for _, title := range []float64{-1, 0, 0.05, 0.3, 0.49, 0.5, 2} {
			b := r.Resolve(modifier.Profile{EquippedItemID: item, TitleRate: title})
			assert.False(t, b.Rate.IsNegative())
			assert.True(t, b.Rate.LessThanOrEqual(modifier.DefaultCeiling))
			assert.GreaterOrEqual(t, b.Charge(999), int64(0))
		}
	}
}

func TestRecordCarriesBreakdown(t *testing.T) {
	rec := resolver().Resolve(modifier.Profile{EquippedItemID: "steel_blade", TitleTag: "donor", TitleRate: 0.05}).Record()
	assert.Equal(t, "steel_blade", rec.ItemID)
	assert.Equal(t, "donor", rec.TitleTag)
	assert.InDelta(t, 0.07, rec.Rate, 1e-12)
}

func TestNewCatalogValidates(t *testing.T) {
	_, err := modifier.NewCatalog("missing", modifier.Item{ID: "a", CashbackRate: 0.1})
	assert.Error(t, err)
	_, err = modifier.NewCatalog("a", modifier.Item{ID: "a"}, modifier.Item{ID: "a"})
	assert.Error(t, err)
	_, err = modifier.NewCatalog("a", modifier.Item{ID: "a", CashbackRate: -0.1})
	assert.Error(t, err)
	for _, rate := range []float64{math.NaN(), math.Inf(1)} {
		_, err = modifier.NewCatalog("a", modifier.Item{ID: "a", CashbackRate: rate})
		assert.Error(t, err, "%v", rate)
	}

	c, err := modifier.NewCatalog("a", modifier.Item{ID: "a"}, modifier.Item{ID: "b", CashbackRate: 0.3})
	require.NoError(t, err)
	assert.Len(t, c.Items(), 2)
}

func TestMemorySourceAndFallback(t *testing.T) {
	src := modifier.NewMemorySource(modifier.Profile{ParticipantID: "alice", TitleRate: 0.05})
	ctx := context.Background()

	p, err := src.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0.05, p.TitleRate)

	_, err = src.Profile(ctx, "bob")
	assert.ErrorIs(t, err, modifier.ErrProfileNotFound)

	p, err = modifier.Fallback{Source: src}.Profile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.ParticipantID)
}
