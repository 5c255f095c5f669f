package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange/internal/common"
	"exchange/internal/money"
)

func limitOrder(id, userID string, side common.Side, price, qty string) *common.Order {
	return &common.Order{
		ID:            id,
		UserID:        userID,
		Market:        "SOL_USDC",
		Kind:          common.Spot,
		Side:          side,
		Price:         money.MustParse(price),
		Quantity:      money.MustParse(qty),
		TotalQuantity: money.MustParse(qty),
	}
}

// Scenario 1: B rests a sell of 5 @ 20; A buys 3 @ 20. Ask remainder is 2 @ 20.
func TestMatchAndInsert_PartialFillLeavesRemainder(t *testing.T) {
	b := New("SOL_USDC")

	sell := limitOrder("b1", "B", common.Sell, "20", "5")
	sellResult := b.MatchAndInsert(sell)
	assert.Empty(t, sellResult.Fills)

	buy := limitOrder("a1", "A", common.Buy, "20", "3")
	buyResult := b.MatchAndInsert(buy)

	require.Len(t, buyResult.Fills, 1)
	fill := buyResult.Fills[0]
	assert.True(t, fill.Price.Equal(money.MustParse("20")))
	assert.True(t, fill.Quantity.Equal(money.MustParse("3")))
	assert.True(t, buyResult.RemainingQty.IsZero())

	_, asks := b.Depth()
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Quantity.Equal(money.MustParse("2")))
}

// Scenario 2: maker-priced fill. B rests a sell of 5 @ 18; A buys 5 @ 20.
// All fills execute at the maker's price (18), never the taker's (20).
func TestMatchAndInsert_FillsAtMakerPrice(t *testing.T) {
	b := New("SOL_USDC")

	sell := limitOrder("b1", "B", common.Sell, "18", "5")
	b.MatchAndInsert(sell)

	buy := limitOrder("a1", "A", common.Buy, "20", "5")
	result := b.MatchAndInsert(buy)

	require.Len(t, result.Fills, 1)
	assert.True(t, result.Fills[0].Price.Equal(money.MustParse("18")))
	assert.True(t, result.FilledQty.Equal(money.MustParse("5")))
	assert.True(t, result.RemainingQty.IsZero())

	bids, asks := b.Depth()
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

// Price-time priority: a cheaper resting ask fills before a pricier one,
// and within the same price, the earlier order fills first.
func TestMatchAndInsert_PriceTimePriority(t *testing.T) {
	b := New("SOL_USDC")

	b.MatchAndInsert(limitOrder("s-high", "S1", common.Sell, "21", "5"))
	b.MatchAndInsert(limitOrder("s-low-first", "S2", common.Sell, "20", "2"))
	b.MatchAndInsert(limitOrder("s-low-second", "S3", common.Sell, "20", "2"))

	result := b.MatchAndInsert(limitOrder("buyer", "A", common.Buy, "21", "4"))

	require.Len(t, result.Fills, 2)
	assert.Equal(t, "s-low-first", result.Fills[0].MakerOrderID)
	assert.Equal(t, "s-low-second", result.Fills[1].MakerOrderID)
	for _, f := range result.Fills {
		assert.True(t, f.Price.Equal(money.MustParse("20")))
	}
}

func TestCancel_RemovesRestingOrder(t *testing.T) {
	b := New("SOL_USDC")
	b.MatchAndInsert(limitOrder("a1", "A", common.Buy, "20", "5"))

	outcome := b.Cancel("a1")
	require.True(t, outcome.Found)
	assert.True(t, outcome.Order.Quantity.Equal(money.MustParse("5")))

	bids, _ := b.Depth()
	assert.Empty(t, bids)
	_, ok := b.Get("a1")
	assert.False(t, ok)
}

func TestQuote_IsIdempotentAndNonMutating(t *testing.T) {
	b := New("SOL_USDC")
	b.MatchAndInsert(limitOrder("s1", "S", common.Sell, "20", "5"))
	b.MatchAndInsert(limitOrder("s2", "S", common.Sell, "21", "5"))

	avg1, cost1, filled1 := b.Quote(money.MustParse("7"), common.Buy)
	avg2, cost2, filled2 := b.Quote(money.MustParse("7"), common.Buy)

	assert.True(t, avg1.Equal(avg2))
	assert.True(t, cost1.Equal(cost2))
	assert.True(t, filled1.Equal(filled2))
	assert.True(t, filled1.Equal(money.MustParse("7")))

	// Book must be untouched by Quote.
	_, asks := b.Depth()
	require.Len(t, asks, 2)
}

func TestDepth_EmptyAfterCancellingAllOrders(t *testing.T) {
	b := New("SOL_USDC")
	b.MatchAndInsert(limitOrder("a1", "A", common.Buy, "19", "1"))
	b.MatchAndInsert(limitOrder("a2", "A", common.Buy, "20", "1"))
	b.MatchAndInsert(limitOrder("s1", "S", common.Sell, "22", "1"))

	b.Cancel("a1")
	b.Cancel("a2")
	b.Cancel("s1")

	bids, asks := b.Depth()
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}
