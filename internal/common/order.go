package common

import (
	"time"

	"exchange/internal/money"
)

// Order is the unified resting-order shape for both the spot and margin
// books (spec.md §3 "Order (C2/C3)"). Quantity is always remaining, never
// original — TotalQuantity preserves the original request size for
// reporting. Cancel refunds are computed from the remaining Quantity.
type Order struct {
	ID            string
	UserID        string
	Market        string
	Kind          OrderKind
	Side          Side         // meaningful when Kind == Spot
	PositionType  PositionType // meaningful when Kind != Spot
	Price         money.Decimal
	Quantity      money.Decimal // remaining
	TotalQuantity money.Decimal // original size, for reporting
	Leverage      int           // margin only; 0 for spot
	Timestamp     int64         // monotonic tie-break key, a process-wide counter
}

// Remaining reports whether the order still has quantity resting in the book.
func (o *Order) Remaining() bool {
	return o.Quantity.IsPositive()
}

// Fill is a single crossing between one taker and one maker on the spot book.
type Fill struct {
	TradeID      uint64
	Market       string
	Price        money.Decimal // always the maker's price
	Quantity     money.Decimal
	MakerOrderID string
	MakerUserID  string
	MakerSide    Side
	TakerOrderID string
	TakerUserID  string
	TakerSide    Side
	Timestamp    time.Time
}

// MarginFill is the margin-book analogue of Fill: it carries position types
// instead of spot sides, since a margin fill nets/creates positions rather
// than moving the base asset (spec.md §4.3/§4.5).
type MarginFill struct {
	TradeID       uint64
	Market        string
	Price         money.Decimal
	Quantity      money.Decimal
	MakerOrderID  string
	MakerUserID   string
	MakerType     PositionType
	MakerLeverage int
	TakerOrderID  string
	TakerUserID   string
	TakerType     PositionType
	TakerLeverage int
	Timestamp     time.Time
}
