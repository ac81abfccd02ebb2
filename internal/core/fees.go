package core

import "github.com/shopspring/decimal"

var (
	one           = decimal.NewFromInt(1)
	takerFeeCoeff = decimal.NewFromFloat(0.07)
)

// TakerFee computes the exchange taker fee for crossing the spread:
// 0.07 * price * (1 - price) * contracts, rounded up to the next cent.
// Maker (resting) orders are fee-free.
func TakerFee(price, contracts decimal.Decimal) decimal.Decimal {
	raw := takerFeeCoeff.Mul(price).Mul(one.Sub(price)).Mul(contracts)
	return raw.RoundCeil(2)
}

// PairTakerFee is the combined fee for taking both legs of a paired trade.
func PairTakerFee(priceA, priceB, contracts decimal.Decimal) decimal.Decimal {
	return TakerFee(priceA, contracts).Add(TakerFee(priceB, contracts))
}
