package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange/internal/common"
	"exchange/internal/money"
)

// Scenario 5: Long 2 ETH @ 3000, leverage 5, maintenance 0.05 -> liquidation ~2970.
func TestApplyFill_LongLiquidationPrice(t *testing.T) {
	b := New(money.MustParse("0.05"), money.MustParse("1.10"))

	b.ApplyFill("U", "ETH", common.Long, money.MustParse("3000"), money.MustParse("2"), 5)

	p, ok := b.Get("U", "ETH", common.Long)
	require.True(t, ok)
	assert.True(t, p.LiquidationPrice.Equal(money.MustParse("2970")))
}

func TestApplyFill_ShortInitialMarginAppliesSafetyMultiplier(t *testing.T) {
	b := New(money.MustParse("0.05"), money.MustParse("1.10"))

	margin := b.InitialMargin(money.MustParse("20"), money.MustParse("2"), 5, common.Short)
	// (20*2/5) * 1.10 == 8 * 1.10 == 8.8
	assert.True(t, margin.Equal(money.MustParse("8.8")))
}

// Scenario 6: Short 2 SOL @ 20 fully netted out by an opposing Long 2 SOL @ 20.
func TestApplyFill_NetsOutToFlat(t *testing.T) {
	b := New(money.MustParse("0.05"), money.MustParse("1.10"))

	b.ApplyFill("U", "SOL", common.Short, money.MustParse("20"), money.MustParse("2"), 5)
	result := b.ApplyFill("U", "SOL", common.Long, money.MustParse("20"), money.MustParse("2"), 5)

	_, hasShort := b.Get("U", "SOL", common.Short)
	_, hasLong := b.Get("U", "SOL", common.Long)
	assert.False(t, hasShort)
	assert.False(t, hasLong)
	assert.True(t, result.MarginReleased.IsPositive())
	assert.True(t, result.MarginRequired.IsZero())
}

func TestApplyFill_PartialNetReducesPosition(t *testing.T) {
	b := New(money.MustParse("0.05"), money.MustParse("1.10"))

	b.ApplyFill("U", "SOL", common.Long, money.MustParse("20"), money.MustParse("5"), 5)
	result := b.ApplyFill("U", "SOL", common.Short, money.MustParse("20"), money.MustParse("2"), 5)

	p, ok := b.Get("U", "SOL", common.Long)
	require.True(t, ok)
	assert.True(t, p.Quantity.Equal(money.MustParse("3")))
	assert.True(t, result.MarginReleased.IsPositive())
}

func TestApplyFill_AugmentingAveragesEntryPrice(t *testing.T) {
	b := New(money.MustParse("0.05"), money.MustParse("1.10"))

	b.ApplyFill("U", "SOL", common.Long, money.MustParse("20"), money.MustParse("5"), 5)
	b.ApplyFill("U", "SOL", common.Long, money.MustParse("30"), money.MustParse("5"), 5)

	p, ok := b.Get("U", "SOL", common.Long)
	require.True(t, ok)
	// (20*5 + 30*5) / 10 == 25
	assert.True(t, p.AvgPrice.Equal(money.MustParse("25")))
	assert.True(t, p.Quantity.Equal(money.MustParse("10")))
}

func TestMarginUsed_SumsAcrossOpenPositions(t *testing.T) {
	b := New(money.MustParse("0.05"), money.MustParse("1.10"))

	b.ApplyFill("U", "SOL", common.Long, money.MustParse("20"), money.MustParse("5"), 5)
	b.ApplyFill("U", "ETH", common.Short, money.MustParse("3000"), money.MustParse("1"), 10)

	total := b.MarginUsed("U")
	p1, _ := b.Get("U", "SOL", common.Long)
	p2, _ := b.Get("U", "ETH", common.Short)
	assert.True(t, total.Equal(p1.LockedMargin.Add(p2.LockedMargin)))
}

func TestRefreshPnL_ComputesUnrealizedForLongAndShort(t *testing.T) {
	b := New(money.MustParse("0.05"), money.MustParse("1.10"))

	b.ApplyFill("U", "SOL", common.Long, money.MustParse("20"), money.MustParse("2"), 5)
	b.ApplyFill("V", "SOL", common.Short, money.MustParse("20"), money.MustParse("2"), 5)
	b.RefreshPnL(map[string]money.Decimal{"SOL": money.MustParse("25")})

	p, ok := b.Get("U", "SOL", common.Long)
	require.True(t, ok)
	assert.True(t, p.UnrealizedPnL.Equal(money.MustParse("10")))

	// Short: (20 - 25) * 2 == -10
	s, ok := b.Get("V", "SOL", common.Short)
	require.True(t, ok)
	assert.True(t, s.UnrealizedPnL.Equal(money.MustParse("-10")))
}
