package marginbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange/internal/common"
	"exchange/internal/money"
)

func marginOrder(id, userID string, typ common.PositionType, price, qty string, leverage int) *common.Order {
	kind := common.MarginLong
	if typ == common.Short {
		kind = common.MarginShort
	}
	return &common.Order{
		ID:            id,
		UserID:        userID,
		Market:        "ETH_USDC",
		Kind:          kind,
		PositionType:  typ,
		Price:         money.MustParse(price),
		Quantity:      money.MustParse(qty),
		TotalQuantity: money.MustParse(qty),
		Leverage:      leverage,
	}
}

func TestMatchAndInsert_LongCrossesRestingShort(t *testing.T) {
	b := New("ETH_USDC")

	short := marginOrder("s1", "S", common.Short, "3000", "2", 5)
	b.MatchAndInsert(short)

	long := marginOrder("l1", "L", common.Long, "3000", "2", 5)
	result := b.MatchAndInsert(long)

	require.Len(t, result.Fills, 1)
	fill := result.Fills[0]
	assert.True(t, fill.Price.Equal(money.MustParse("3000")))
	assert.Equal(t, common.Short, fill.MakerType)
	assert.Equal(t, common.Long, fill.TakerType)
	assert.True(t, result.RemainingQty.IsZero())
}

func TestMatchAndInsert_RestsWhenNoCross(t *testing.T) {
	b := New("ETH_USDC")

	result := b.MatchAndInsert(marginOrder("l1", "L", common.Long, "2900", "1", 5))
	assert.Empty(t, result.Fills)
	assert.True(t, result.RemainingQty.Equal(money.MustParse("1")))

	_, ok := b.Get("l1")
	assert.True(t, ok)
}

func TestCancel_RemovesRestingMarginOrder(t *testing.T) {
	b := New("ETH_USDC")
	b.MatchAndInsert(marginOrder("l1", "L", common.Long, "3000", "1", 5))

	outcome := b.Cancel("l1")
	require.True(t, outcome.Found)
	assert.Equal(t, common.Long, outcome.Order.PositionType)

	_, ok := b.Get("l1")
	assert.False(t, ok)
}
