package common

import (
	"time"

	"exchange/internal/money"
)

// TradeEvent is the public record broadcast on trade@<market> (spec.md §6).
// It is a value copy of a Fill; no order pointers cross the bus boundary.
type TradeEvent struct {
	Market       string        `json:"market"`
	TradeID      uint64        `json:"trade_id"`
	Price        money.Decimal `json:"price"`
	Quantity     money.Decimal `json:"quantity"`
	MakerOrderID string        `json:"maker_order_id"`
	TakerOrderID string        `json:"taker_order_id"`
	Timestamp    time.Time     `json:"timestamp"`
}
