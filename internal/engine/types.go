package engine

import (
	"errors"

	"exchange/internal/common"
	"exchange/internal/ledger"
	"exchange/internal/money"
	"exchange/internal/position"
	"exchange/internal/priceservice"
)

// Error taxonomy (spec.md §7). CreateOrder and CancelOrder surface
// validation and precondition failures as a Reason in their outcome, not as
// a Go error. GetDepth, GetQuote and GetTicker return ErrUnknownMarket as a
// Go error, which the bus adapter replies with as an error payload.
// ErrInvariantViolation is declared but no engine method returns it.
var (
	ErrUnknownMarket      = errors.New("engine: unknown market")
	ErrInsufficientFunds  = errors.New("engine: insufficient funds")
	ErrMarginDisabled     = errors.New("engine: margin trading not enabled for user")
	ErrLeverageTooHigh    = errors.New("engine: leverage exceeds user maximum")
	ErrInsufficientMargin = errors.New("engine: insufficient margin")
	ErrOrderNotFound      = errors.New("engine: order not found")
	ErrInvariantViolation = errors.New("engine: invariant violation")
)

// CreateOrderRequest is the engine-native form of a CREATE_ORDER bus
// request (spec.md §6).
type CreateOrderRequest struct {
	UserID       string
	Market       string
	Price        money.Decimal
	Quantity     money.Decimal
	Side         common.Side         // meaningful when Kind == common.Spot
	PositionType common.PositionType // meaningful when Kind != common.Spot
	Kind         common.OrderKind
	Leverage     int
}

// PriceQty is one (price, aggregate quantity) depth level.
type PriceQty struct {
	Price    money.Decimal `json:"price"`
	Quantity money.Decimal `json:"quantity"`
}

// DepthSnapshot is the ordered array-pair depth shape the original
// http-server/src/routes/depth.rs exposes (see SPEC_FULL.md §4), rather than
// an unordered map.
type DepthSnapshot struct {
	Market string     `json:"market"`
	Bids   []PriceQty `json:"bids"`
	Asks   []PriceQty `json:"asks"`
}

// OrderOutcome is the result of CreateOrder: either an acceptance (with
// fills and the resulting remainder) or a rejection with a reason, never
// both. Trades/Depth/Ticker carry whatever the caller needs to sequence
// the trade@/depth@/ticker@ broadcasts spec.md §4.8 requires after an
// acceptance.
type OrderOutcome struct {
	Accepted     bool
	Reason       string
	OrderID      string
	FilledQty    money.Decimal
	RemainingQty money.Decimal
	Trades       []common.TradeEvent
	Depth        DepthSnapshot
	Ticker       priceservice.Info
}

// CancelOutcome is the result of CancelOrder.
type CancelOutcome struct {
	Found  bool
	Reason string
	Depth  DepthSnapshot
}

// QuoteResult is the result of GetQuote.
type QuoteResult struct {
	AvgPrice  money.Decimal
	TotalCost money.Decimal
	FilledQty money.Decimal
}

// BalancesResult is the result of GetUserBalances.
type BalancesResult map[string]ledger.Balance

// PositionsResult is the result of GetMarginPositions.
type PositionsResult []position.Position
