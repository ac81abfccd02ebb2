// Package arb detects risk-free trade pairs in binary market books. The
// detector is a pure function over a point-in-time book view: it holds no
// state and performs no I/O, so a detected opportunity is valid only for
// the books it was computed from and callers must re-read the book before
// acting on it.
package arb

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
)

// Kind labels the structure of an opportunity.
type Kind string

const (
	KindSpread Kind = "spread"
	KindStrike Kind = "strike"
)

// Leg is one side of an arbitrage pair. Both legs are taker buys.
type Leg struct {
	MarketID string
	Side     core.Side
	Price    decimal.Decimal
}

// Opportunity is one detected risk-free pair. ProfitPerUnit is before
// fees; NetProfit is the total locked-in profit after taker fees on both
// legs at the given size.
type Opportunity struct {
	Kind          Kind
	Family        string
	Buy           Leg
	Hedge         Leg
	Size          decimal.Decimal
	ProfitPerUnit decimal.Decimal
	Fees          decimal.Decimal
	NetProfit     decimal.Decimal
}

// ID builds a stable identifier for deduplication across iterations.
func (o Opportunity) ID() string {
	return fmt.Sprintf("%s:%s:%s", o.Kind, o.Buy.MarketID, o.Hedge.MarketID)
}

// Detector holds the detection thresholds.
type Detector struct {
	minProfit   decimal.Decimal
	maxPairSize decimal.Decimal
}

// NewDetector creates a detector from the arbitrage configuration.
func NewDetector(cfg *config.Config) *Detector {
	return &Detector{
		minProfit:   decimal.NewFromFloat(cfg.Arbitrage.MinProfitPerTrade),
		maxPairSize: decimal.NewFromFloat(cfg.Arbitrage.MaxPairSize),
	}
}

// FindSpread checks a single binary market for the spread violation: best
// YES ask plus best NO ask below 1 means buying one of each locks a payout
// of exactly 1 at settlement for a cost below 1. Size is the smaller of
// the two book depths at those prices.
func (d *Detector) FindSpread(book *core.OrderBook) (Opportunity, bool) {
	yes, okYes := book.BestYesAsk()
	no, okNo := book.BestNoAsk()
	if !okYes || !okNo {
		return Opportunity{}, false
	}

	cost := yes.Price.Add(no.Price)
	if cost.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Opportunity{}, false
	}

	size := decimal.Min(yes.Qty, no.Qty)
	if d.maxPairSize.IsPositive() {
		size = decimal.Min(size, d.maxPairSize)
	}
	if !size.IsPositive() {
		return Opportunity{}, false
	}

	perUnit := decimal.NewFromInt(1).Sub(cost)
	fees := core.PairTakerFee(yes.Price, no.Price, size)
	net := perUnit.Mul(size).Sub(fees)
	if net.LessThan(d.minProfit) {
		return Opportunity{}, false
	}

	return Opportunity{
		Kind:          KindSpread,
		Buy:           Leg{MarketID: book.MarketID, Side: core.SideYes, Price: yes.Price},
		Hedge:         Leg{MarketID: book.MarketID, Side: core.SideNo, Price: no.Price},
		Size:          size,
		ProfitPerUnit: perUnit,
		Fees:          fees,
		NetProfit:     net,
	}, true
}

// FindStrike checks a family of threshold markets for monotonicity
// violations. For strikes A < B, "above A" is the weaker (more likely)
// condition and must be priced at or above "above B". The executable pair
// is buy the weaker YES, buy the stronger NO: at settlement it pays at
// least 1 whatever the outcome, so it is profitable exactly when the two
// asks together cost under 1. Both legs are gated on their actual ask
// prices; the stronger leg's YES quote plays no part, since that is not
// the price the hedge executes at.
func (d *Detector) FindStrike(family string, markets []core.Market, books map[string]*core.OrderBook) []Opportunity {
	type entry struct {
		market core.Market
		ask    core.PriceLevel
		noAsk  core.PriceLevel
		hasNo  bool
	}

	var entries []entry
	for _, m := range markets {
		if !m.HasStrike || !m.Active {
			continue
		}
		book, ok := books[m.ID]
		if !ok {
			continue
		}
		ask, okAsk := book.BestYesAsk()
		if !okAsk {
			continue
		}
		noAsk, hasNo := book.BestNoAsk()
		entries = append(entries, entry{market: m, ask: ask, noAsk: noAsk, hasNo: hasNo})
	}
	if len(entries) < 2 {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].market.Strike.LessThan(entries[j].market.Strike)
	})

	var out []Opportunity
	one := decimal.NewFromInt(1)
	for i := 0; i < len(entries)-1; i++ {
		weaker, stronger := entries[i], entries[i+1]
		if !stronger.hasNo {
			continue
		}

		cost := weaker.ask.Price.Add(stronger.noAsk.Price)
		if cost.GreaterThanOrEqual(one) {
			continue
		}

		perUnit := one.Sub(cost)
		size := decimal.Min(weaker.ask.Qty, stronger.noAsk.Qty)
		if d.maxPairSize.IsPositive() {
			size = decimal.Min(size, d.maxPairSize)
		}
		if !size.IsPositive() {
			continue
		}

		fees := core.PairTakerFee(weaker.ask.Price, stronger.noAsk.Price, size)
		net := perUnit.Mul(size).Sub(fees)
		if net.LessThan(d.minProfit) {
			continue
		}

		out = append(out, Opportunity{
			Kind:          KindStrike,
			Family:        family,
			Buy:           Leg{MarketID: weaker.market.ID, Side: core.SideYes, Price: weaker.ask.Price},
			Hedge:         Leg{MarketID: stronger.market.ID, Side: core.SideNo, Price: stronger.noAsk.Price},
			Size:          size,
			ProfitPerUnit: perUnit,
			Fees:          fees,
			NetProfit:     net,
		})
	}
	return out
}

// Scan runs both detectors over every market in a family and returns all
// surviving opportunities.
func (d *Detector) Scan(family string, markets []core.Market, books map[string]*core.OrderBook) []Opportunity {
	var out []Opportunity
	for _, m := range markets {
		book, ok := books[m.ID]
		if !ok {
			continue
		}
		if opp, found := d.FindSpread(book); found {
			opp.Family = family
			out = append(out, opp)
		}
	}
	out = append(out, d.FindStrike(family, markets, books)...)
	return out
}
