// Package bus implements the C9 bus adapter: a Redis-backed intake queue,
// per-client_id reply channels, and trade@/depth@/ticker@ broadcast
// topics (spec.md §6). Adapted from the teacher's internal/net/messages.go
// message-type-discriminator idiom, but envelopes are JSON over Redis
// pub/sub and a list, not a fixed binary TCP wire format, mirroring the
// original Rust engine's redis_manager.rs.
package bus

import (
	"encoding/json"
	"errors"

	"exchange/internal/common"
	"exchange/internal/engine"
	"exchange/internal/money"
	"exchange/internal/priceservice"
)

// ErrInvalidMessageType mirrors the teacher's sentinel for an
// unrecognized request/response discriminator.
var ErrInvalidMessageType = errors.New("bus: invalid message type")

// RequestType discriminates the kinds of request the intake queue carries.
type RequestType string

const (
	CreateOrder        RequestType = "CREATE_ORDER"
	CancelOrder        RequestType = "CANCEL_ORDER"
	GetDepth           RequestType = "GET_DEPTH"
	GetOpenOrders      RequestType = "GET_OPEN_ORDERS"
	GetQuote           RequestType = "GET_QUOTE"
	GetUserBalances    RequestType = "GET_USER_BALANCES"
	GetMarginPositions RequestType = "GET_MARGIN_POSITIONS"
	GetTicker          RequestType = "GET_TICKER"
)

// ResponseType discriminates the kinds of payload a reply carries.
type ResponseType string

const (
	OrderPlaced     ResponseType = "ORDER_PLACED"
	OrderCancelled  ResponseType = "ORDER_CANCELLED"
	Depth           ResponseType = "DEPTH"
	OpenOrders      ResponseType = "OPEN_ORDERS"
	UserBalances    ResponseType = "USER_BALANCES"
	MarginPositions ResponseType = "MARGIN_POSITIONS"
	SendQuote       ResponseType = "SEND_QUOTE"
	TickerPrice     ResponseType = "TICKER_PRICE"
	ErrorResponse   ResponseType = "ERROR"
)

// Envelope is the wire shape of every message placed on the intake list:
// a discriminator, the correlation id to reply on, and a raw payload
// decoded according to Type.
type Envelope struct {
	Type     RequestType     `json:"type"`
	ClientID string          `json:"client_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Reply is the wire shape of every message published back on a
// client_id's reply channel.
type Reply struct {
	Type    ResponseType `json:"type"`
	Payload any          `json:"payload"`
}

// CreateOrderPayload is the JSON body of a CREATE_ORDER request.
// Decimals are encoded as strings so precision never round-trips through
// a float.
type CreateOrderPayload struct {
	UserID       string        `json:"user_id"`
	Market       string        `json:"market"`
	Price        money.Decimal `json:"price"`
	Quantity     money.Decimal `json:"quantity"`
	Side         string        `json:"side,omitempty"`
	PositionType string        `json:"position_type,omitempty"`
	Kind         string        `json:"kind"`
	Leverage     int           `json:"leverage,omitempty"`
}

// ToRequest converts the wire payload into the engine's native request,
// resolving the string-typed side/kind/position fields.
func (p CreateOrderPayload) ToRequest() (engine.CreateOrderRequest, error) {
	var kind common.OrderKind
	switch p.Kind {
	case "SPOT":
		kind = common.Spot
	case "MARGIN_LONG":
		kind = common.MarginLong
	case "MARGIN_SHORT":
		kind = common.MarginShort
	default:
		return engine.CreateOrderRequest{}, ErrInvalidMessageType
	}

	req := engine.CreateOrderRequest{
		UserID:   p.UserID,
		Market:   p.Market,
		Price:    p.Price,
		Quantity: p.Quantity,
		Kind:     kind,
		Leverage: p.Leverage,
	}

	switch p.Side {
	case "SELL":
		req.Side = common.Sell
	default:
		req.Side = common.Buy
	}
	switch p.PositionType {
	case "SHORT":
		req.PositionType = common.Short
	default:
		req.PositionType = common.Long
	}
	return req, nil
}

// CancelOrderPayload is the JSON body of a CANCEL_ORDER request.
type CancelOrderPayload struct {
	UserID  string `json:"user_id"`
	Market  string `json:"market"`
	OrderID string `json:"order_id"`
	Kind    string `json:"kind"`
}

// GetDepthPayload is the JSON body of a GET_DEPTH request.
type GetDepthPayload struct {
	Market string `json:"market"`
}

// GetOpenOrdersPayload is the JSON body of a GET_OPEN_ORDERS request.
type GetOpenOrdersPayload struct {
	UserID string `json:"user_id"`
}

// GetQuotePayload is the JSON body of a GET_QUOTE request.
type GetQuotePayload struct {
	Market   string        `json:"market"`
	Quantity money.Decimal `json:"quantity"`
	Side     string        `json:"side"`
}

// GetUserBalancesPayload is the JSON body of a GET_USER_BALANCES request.
type GetUserBalancesPayload struct {
	UserID string `json:"user_id"`
}

// GetMarginPositionsPayload is the JSON body of a GET_MARGIN_POSITIONS request.
type GetMarginPositionsPayload struct {
	UserID string `json:"user_id"`
}

// GetTickerPayload is the JSON body of a GET_TICKER request.
type GetTickerPayload struct {
	Market string `json:"market"`
}

// TradeBroadcast is the payload published on trade@<market>.
type TradeBroadcast struct {
	Market string            `json:"market"`
	Trade  common.TradeEvent `json:"trade"`
}

// DepthBroadcast is the payload published on depth@<market>.
type DepthBroadcast struct {
	Market string              `json:"market"`
	Depth  engine.DepthSnapshot `json:"depth"`
}

// TickerBroadcast is the payload published on ticker@<market>.
type TickerBroadcast struct {
	Market string            `json:"market"`
	Ticker priceservice.Info `json:"ticker"`
}

// TradeAddedEnvelope is the db_processor list payload the sibling
// price-recorder process consumes (spec.md §6), matching the original
// db-processor/src/models/message_from_engine.rs AddTradePayload's
// #[serde(tag = "type")] TRADE_ADDED shape exactly.
type TradeAddedEnvelope struct {
	Type string         `json:"type"`
	Data TradeAddedData `json:"data"`
}

// TradeAddedData is the TRADE_ADDED envelope's data field.
type TradeAddedData struct {
	Ticker string `json:"ticker"`
	Time   string `json:"time"`
	Price  string `json:"price"`
}
