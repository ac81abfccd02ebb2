package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTakerFee(t *testing.T) {
	// 0.07 * 0.50 * 0.50 * 10 = 0.175, rounded up to the cent.
	fee := TakerFee(decimal.NewFromFloat(0.50), decimal.NewFromInt(10))
	assert.True(t, fee.Equal(decimal.NewFromFloat(0.18)), "got %s", fee)

	// Fees shrink toward the tails of the price range.
	tail := TakerFee(decimal.NewFromFloat(0.05), decimal.NewFromInt(10))
	assert.True(t, tail.LessThan(fee), "fee at 0.05 should be below fee at 0.50")

	zero := TakerFee(decimal.NewFromFloat(0.50), decimal.Zero)
	assert.True(t, zero.IsZero())
}

func TestPairTakerFee(t *testing.T) {
	size := decimal.NewFromInt(6)
	pair := PairTakerFee(decimal.NewFromFloat(0.45), decimal.NewFromFloat(0.48), size)
	single := TakerFee(decimal.NewFromFloat(0.45), size).
		Add(TakerFee(decimal.NewFromFloat(0.48), size))
	assert.True(t, pair.Equal(single))
	assert.True(t, pair.IsPositive())
}
