package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange/internal/common"
	"exchange/internal/money"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New([]string{"SOL_USDC"}, money.MustParse("0.05"), money.MustParse("1.10"), money.MustParse("20"), 10)
	require.NoError(t, err)
	return e
}

// Scenario 1: B sells 5 SOL @ 20; A buys 3 SOL @ 20.
// Expect A: USDC 9_940, SOL 3; B: USDC 60, SOL 95; ask remainder 2 @ 20.
func TestCreateOrder_SimpleSpotCross(t *testing.T) {
	e := newTestEngine(t)
	e.AdminCredit("A", "USDC", money.MustParse("10000"))
	e.AdminCredit("B", "SOL", money.MustParse("100"))

	sellOutcome, err := e.CreateOrder(CreateOrderRequest{
		UserID: "B", Market: "SOL_USDC", Kind: common.Spot,
		Side: common.Sell, Price: money.MustParse("20"), Quantity: money.MustParse("5"),
	})
	require.NoError(t, err)
	require.True(t, sellOutcome.Accepted)

	buyOutcome, err := e.CreateOrder(CreateOrderRequest{
		UserID: "A", Market: "SOL_USDC", Kind: common.Spot,
		Side: common.Buy, Price: money.MustParse("20"), Quantity: money.MustParse("3"),
	})
	require.NoError(t, err)
	require.True(t, buyOutcome.Accepted)

	aBalances := e.GetUserBalances("A")
	bBalances := e.GetUserBalances("B")

	assert.True(t, aBalances["USDC"].Available.Equal(money.MustParse("9940")))
	assert.True(t, aBalances["SOL"].Available.Equal(money.MustParse("3")))
	assert.True(t, bBalances["USDC"].Available.Equal(money.MustParse("60")))
	assert.True(t, bBalances["SOL"].Available.Equal(money.MustParse("95")))

	depth, err := e.GetDepth("SOL_USDC")
	require.NoError(t, err)
	require.Len(t, depth.Asks, 1)
	assert.True(t, depth.Asks[0].Price.Equal(money.MustParse("20")))
	assert.True(t, depth.Asks[0].Quantity.Equal(money.MustParse("2")))
}

// Scenario 2: maker-priced fill with price-improvement refund.
// B sells 5 SOL @ 18; A buys 5 SOL @ 20: all fills at 18, A debited 90
// (not 100), B credited 90.
func TestCreateOrder_MakerPricedFillRefundsPriceImprovement(t *testing.T) {
	e := newTestEngine(t)
	e.AdminCredit("A", "USDC", money.MustParse("10000"))
	e.AdminCredit("B", "SOL", money.MustParse("100"))

	_, err := e.CreateOrder(CreateOrderRequest{
		UserID: "B", Market: "SOL_USDC", Kind: common.Spot,
		Side: common.Sell, Price: money.MustParse("18"), Quantity: money.MustParse("5"),
	})
	require.NoError(t, err)

	outcome, err := e.CreateOrder(CreateOrderRequest{
		UserID: "A", Market: "SOL_USDC", Kind: common.Spot,
		Side: common.Buy, Price: money.MustParse("20"), Quantity: money.MustParse("5"),
	})
	require.NoError(t, err)
	require.Len(t, outcome.Trades, 1)
	assert.True(t, outcome.Trades[0].Price.Equal(money.MustParse("18")))

	aBalances := e.GetUserBalances("A")
	bBalances := e.GetUserBalances("B")

	assert.True(t, aBalances["USDC"].Available.Equal(money.MustParse("9910")))
	assert.True(t, aBalances["USDC"].Locked.IsZero())
	assert.True(t, aBalances["SOL"].Available.Equal(money.MustParse("5")))
	assert.True(t, bBalances["USDC"].Available.Equal(money.MustParse("90")))
}

// Scenario 3: insufficient funds leaves balances and book untouched.
func TestCreateOrder_RejectsInsufficientFunds(t *testing.T) {
	e := newTestEngine(t)
	e.AdminCredit("A", "USDC", money.MustParse("10"))

	outcome, err := e.CreateOrder(CreateOrderRequest{
		UserID: "A", Market: "SOL_USDC", Kind: common.Spot,
		Side: common.Buy, Price: money.MustParse("20"), Quantity: money.MustParse("1"),
	})
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.NotEmpty(t, outcome.Reason)

	bal := e.GetUserBalances("A")
	assert.True(t, bal["USDC"].Available.Equal(money.MustParse("10")))
	assert.True(t, bal["USDC"].Locked.IsZero())

	depth, err := e.GetDepth("SOL_USDC")
	require.NoError(t, err)
	assert.Empty(t, depth.Bids)
}

// Scenario 4: cancelling an unfilled limit order restores balances exactly.
func TestCancelOrder_RefundsLockedFunds(t *testing.T) {
	e := newTestEngine(t)
	e.AdminCredit("A", "USDC", money.MustParse("10000"))

	outcome, err := e.CreateOrder(CreateOrderRequest{
		UserID: "A", Market: "SOL_USDC", Kind: common.Spot,
		Side: common.Buy, Price: money.MustParse("20"), Quantity: money.MustParse("5"),
	})
	require.NoError(t, err)
	require.True(t, outcome.Accepted)

	before := e.GetUserBalances("A")["USDC"]
	assert.True(t, before.Available.Equal(money.MustParse("9900")))
	assert.True(t, before.Locked.Equal(money.MustParse("100")))

	cancelOutcome, err := e.CancelOrder("A", "SOL_USDC", outcome.OrderID, common.Spot)
	require.NoError(t, err)
	require.True(t, cancelOutcome.Found)

	after := e.GetUserBalances("A")["USDC"]
	assert.True(t, after.Available.Equal(money.MustParse("10000")))
	assert.True(t, after.Locked.IsZero())
}

// Scenario 6: a Short position fully netted by an opposing Long fill
// leaves no margin position and returns released margin to available.
func TestCreateOrder_MarginNetsOutToFlat(t *testing.T) {
	e := newTestEngine(t)
	e.AdminCredit("U", "USDC", money.MustParse("10000"))
	e.AdminCredit("Opener", "USDC", money.MustParse("10000"))
	e.AdminCredit("Closer", "USDC", money.MustParse("10000"))
	e.EnableMargin("U", 10)
	e.EnableMargin("Opener", 10)
	e.EnableMargin("Closer", 10)

	// Opener rests a Long; U crosses it as a Short taker, opening U's Short.
	_, err := e.CreateOrder(CreateOrderRequest{
		UserID: "Opener", Market: "SOL_USDC", Kind: common.MarginLong,
		PositionType: common.Long, Price: money.MustParse("20"), Quantity: money.MustParse("2"), Leverage: 5,
	})
	require.NoError(t, err)
	_, err = e.CreateOrder(CreateOrderRequest{
		UserID: "U", Market: "SOL_USDC", Kind: common.MarginShort,
		PositionType: common.Short, Price: money.MustParse("20"), Quantity: money.MustParse("2"), Leverage: 5,
	})
	require.NoError(t, err)

	before := e.GetUserBalances("U")["USDC"]
	assert.True(t, before.Locked.IsPositive())
	require.Len(t, e.GetMarginPositions("U"), 1)

	// Closer rests a Short; U crosses it as a Long taker, netting U flat.
	_, err = e.CreateOrder(CreateOrderRequest{
		UserID: "Closer", Market: "SOL_USDC", Kind: common.MarginShort,
		PositionType: common.Short, Price: money.MustParse("20"), Quantity: money.MustParse("2"), Leverage: 5,
	})
	require.NoError(t, err)
	_, err = e.CreateOrder(CreateOrderRequest{
		UserID: "U", Market: "SOL_USDC", Kind: common.MarginLong,
		PositionType: common.Long, Price: money.MustParse("20"), Quantity: money.MustParse("2"), Leverage: 5,
	})
	require.NoError(t, err)

	positions := e.GetMarginPositions("U")
	assert.Empty(t, positions)

	after := e.GetUserBalances("U")["USDC"]
	assert.True(t, after.Locked.IsZero())
}

func TestSweepLiquidations_ForceClosesCrossedPosition(t *testing.T) {
	e := newTestEngine(t)
	e.AdminCredit("U", "USDC", money.MustParse("10000"))
	e.AdminCredit("Counterparty", "USDC", money.MustParse("10000"))
	e.EnableMargin("U", 10)
	e.EnableMargin("Counterparty", 10)

	_, err := e.CreateOrder(CreateOrderRequest{
		UserID: "Counterparty", Market: "SOL_USDC", Kind: common.MarginShort,
		PositionType: common.Short, Price: money.MustParse("3000"), Quantity: money.MustParse("2"), Leverage: 5,
	})
	require.NoError(t, err)

	_, err = e.CreateOrder(CreateOrderRequest{
		UserID: "U", Market: "SOL_USDC", Kind: common.MarginLong,
		PositionType: common.Long, Price: money.MustParse("3000"), Quantity: money.MustParse("2"), Leverage: 5,
	})
	require.NoError(t, err)

	before := e.users.RealizedPnL("U")
	assert.True(t, before.IsZero())

	e.prices.OnTrade("SOL_USDC", money.MustParse("2900"), false)
	events := e.SweepLiquidations()

	require.Len(t, events, 1)
	assert.True(t, events[0].RealizedPnL.Equal(money.MustParse("-200")))

	positions := e.GetMarginPositions("U")
	assert.Empty(t, positions)
}
