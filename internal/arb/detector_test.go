package arb

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Arbitrage.MinProfitPerTrade = 0.01
	cfg.Arbitrage.MaxPairSize = 20
	return NewDetector(cfg)
}

func level(price, qty float64) core.PriceLevel {
	return core.PriceLevel{Price: decimal.NewFromFloat(price), Qty: decimal.NewFromFloat(qty)}
}

func book(marketID string, yesAsk, noAsk core.PriceLevel) *core.OrderBook {
	return &core.OrderBook{
		MarketID:  marketID,
		YesAsks:   []core.PriceLevel{yesAsk},
		NoAsks:    []core.PriceLevel{noAsk},
		FetchedAt: time.Now(),
	}
}

func TestFindSpread_DetectsUnderpricedPair(t *testing.T) {
	d := newTestDetector(t)

	// YES 0.45 x10, NO 0.48 x6: buying both costs 0.93 for a certain 1.00.
	opp, found := d.FindSpread(book("BTC-100K", level(0.45, 10), level(0.48, 6)))
	require.True(t, found)

	assert.Equal(t, KindSpread, opp.Kind)
	assert.True(t, opp.Size.Equal(decimal.NewFromInt(6)), "size is the thinner depth, got %s", opp.Size)
	assert.True(t, opp.ProfitPerUnit.Equal(decimal.NewFromFloat(0.07)),
		"profit per unit before fees, got %s", opp.ProfitPerUnit)
	assert.Equal(t, core.SideYes, opp.Buy.Side)
	assert.Equal(t, core.SideNo, opp.Hedge.Side)
	assert.True(t, opp.NetProfit.IsPositive())
}

func TestFindSpread_NoOpportunityAtFairPricing(t *testing.T) {
	d := newTestDetector(t)

	_, found := d.FindSpread(book("BTC-100K", level(0.52, 10), level(0.49, 6)))
	assert.False(t, found, "0.52 + 0.49 >= 1 leaves nothing to lock in")
}

func TestFindSpread_FeesEatThinMargins(t *testing.T) {
	d := newTestDetector(t)

	// 0.995 combined leaves 0.005/unit before fees; taker fees on both
	// legs exceed it.
	_, found := d.FindSpread(book("BTC-100K", level(0.50, 10), level(0.495, 10)))
	assert.False(t, found)
}

func TestFindSpread_RespectsMaxPairSize(t *testing.T) {
	d := newTestDetector(t)

	opp, found := d.FindSpread(book("BTC-100K", level(0.40, 500), level(0.40, 400)))
	require.True(t, found)
	assert.True(t, opp.Size.Equal(decimal.NewFromInt(20)))
}

func strikeMarket(id string, strike float64) core.Market {
	return core.Market{
		ID:        id,
		Family:    "KXBTC",
		Strike:    decimal.NewFromFloat(strike),
		HasStrike: true,
		Active:    true,
	}
}

func TestFindStrike_DetectsMonotonicityViolation(t *testing.T) {
	d := newTestDetector(t)

	// "Above 90K" is the weaker condition and must cost at least as much
	// as "above 95K". Here it is cheaper: 0.60 vs 0.65, and the executable
	// legs (90K YES at 0.60, 95K NO at 0.36) together cost 0.96 for a
	// settlement payout of at least 1.
	markets := []core.Market{
		strikeMarket("BTC-90K", 90000),
		strikeMarket("BTC-95K", 95000),
	}
	books := map[string]*core.OrderBook{
		"BTC-90K": book("BTC-90K", level(0.60, 5), level(0.41, 9)),
		"BTC-95K": book("BTC-95K", level(0.65, 8), level(0.36, 8)),
	}

	opps := d.FindStrike("KXBTC", markets, books)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, KindStrike, opp.Kind)
	assert.Equal(t, "BTC-90K", opp.Buy.MarketID)
	assert.Equal(t, core.SideYes, opp.Buy.Side)
	assert.Equal(t, "BTC-95K", opp.Hedge.MarketID)
	assert.Equal(t, core.SideNo, opp.Hedge.Side)
	assert.True(t, opp.Size.Equal(decimal.NewFromInt(5)), "sized to the thinner leg, got %s", opp.Size)
	assert.True(t, opp.ProfitPerUnit.Equal(decimal.NewFromFloat(0.04)),
		"profit per unit is 1 minus the combined leg cost, got %s", opp.ProfitPerUnit)
}

func TestFindStrike_WideSpreadHedgeEmitsNothing(t *testing.T) {
	d := newTestDetector(t)

	// The YES asks are inverted (0.55 vs 0.65), but the stronger market's
	// spread is so wide that its NO executes at 0.60: the legs cost 1.15
	// together, a certain loss of 0.15 per unit. No pair may be emitted on
	// the strength of the unexecutable YES quote.
	markets := []core.Market{
		strikeMarket("BTC-90K", 90000),
		strikeMarket("BTC-95K", 95000),
	}
	books := map[string]*core.OrderBook{
		"BTC-90K": book("BTC-90K", level(0.55, 5), level(0.46, 9)),
		"BTC-95K": book("BTC-95K", level(0.65, 8), level(0.60, 8)),
	}

	assert.Empty(t, d.FindStrike("KXBTC", markets, books))
}

func TestFindStrike_MonotonicBooksEmitNothing(t *testing.T) {
	d := newTestDetector(t)

	markets := []core.Market{
		strikeMarket("BTC-90K", 90000),
		strikeMarket("BTC-95K", 95000),
	}
	books := map[string]*core.OrderBook{
		"BTC-90K": book("BTC-90K", level(0.65, 5), level(0.36, 9)),
		"BTC-95K": book("BTC-95K", level(0.60, 8), level(0.41, 8)),
	}

	assert.Empty(t, d.FindStrike("KXBTC", markets, books))
}

func TestFindStrike_IgnoresInactiveAndStrikeless(t *testing.T) {
	d := newTestDetector(t)

	inactive := strikeMarket("BTC-90K", 90000)
	inactive.Active = false
	strikeless := core.Market{ID: "BTC-EVENT", Family: "KXBTC", Active: true}

	markets := []core.Market{inactive, strikeless, strikeMarket("BTC-95K", 95000)}
	books := map[string]*core.OrderBook{
		"BTC-90K":   book("BTC-90K", level(0.60, 5), level(0.41, 9)),
		"BTC-95K":   book("BTC-95K", level(0.65, 8), level(0.36, 8)),
		"BTC-EVENT": book("BTC-EVENT", level(0.10, 5), level(0.95, 5)),
	}

	assert.Empty(t, d.FindStrike("KXBTC", markets, books))
}

func TestScan_CombinesBothDetectors(t *testing.T) {
	d := newTestDetector(t)

	markets := []core.Market{
		strikeMarket("BTC-90K", 90000),
		strikeMarket("BTC-95K", 95000),
	}
	books := map[string]*core.OrderBook{
		// Spread violation on the 90K market plus a strike violation
		// across the pair.
		"BTC-90K": book("BTC-90K", level(0.45, 10), level(0.48, 6)),
		"BTC-95K": book("BTC-95K", level(0.65, 8), level(0.36, 8)),
	}

	opps := d.Scan("KXBTC", markets, books)
	require.Len(t, opps, 2)

	kinds := map[Kind]bool{}
	for _, o := range opps {
		kinds[o.Kind] = true
		assert.Equal(t, "KXBTC", o.Family)
	}
	assert.True(t, kinds[KindSpread])
	assert.True(t, kinds[KindStrike])
}
