// Package engine implements the coordinator (spec.md C8): the only
// component that touches positions, balances, and a book in a single
// request. It validates preconditions, invokes book matching, applies the
// resulting ledger/position side effects, and returns an outcome carrying
// the trades, depth and ticker; the bus adapter (C9) replies with it before
// broadcasting trade/depth/ticker events (spec.md §4.8).
// Adapted from the teacher's internal/engine/engine.go, which owned a
// single equities book directly; this version fans a request out to one
// of several per-market spot/margin books plus the shared ledger and
// position book.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"exchange/internal/book"
	"exchange/internal/common"
	"exchange/internal/ledger"
	"exchange/internal/liquidation"
	"exchange/internal/marginbook"
	"exchange/internal/money"
	"exchange/internal/position"
	"exchange/internal/priceservice"
)

// Publisher decouples the coordinator from the bus transport (C9): it
// must reply on the request's own channel before any broadcast goes out,
// per spec.md §4.8's ordering rule.
type Publisher interface {
	Reply(clientID string, payload any)
	BroadcastTrade(market string, trade common.TradeEvent)
	BroadcastDepth(market string, depth DepthSnapshot)
	BroadcastTicker(market string, info priceservice.Info)
}

// Engine owns every market's books plus the shared ledger, position book,
// price service, and user registry.
type Engine struct {
	markets     map[string]common.Market
	spotBooks   map[string]*book.Book
	marginBooks map[string]*marginbook.Book

	ledger    *ledger.Ledger
	positions *position.Book
	prices    *priceservice.Service
	users     *Users
	liq       *liquidation.Monitor

	defaultMaxLeverage int
}

// New constructs an engine for the given BASE_QUOTE market keys.
func New(marketKeys []string, maintenanceMargin, shortSafetyMultiplier, fallbackMark money.Decimal, defaultMaxLeverage int) (*Engine, error) {
	markets := make(map[string]common.Market, len(marketKeys))
	spotBooks := make(map[string]*book.Book, len(marketKeys))
	marginBooks := make(map[string]*marginbook.Book, len(marketKeys))

	for _, key := range marketKeys {
		m, err := common.ParseMarket(key)
		if err != nil {
			return nil, fmt.Errorf("engine: configuring market %q: %w", key, err)
		}
		markets[key] = m
		spotBooks[key] = book.New(key)
		marginBooks[key] = marginbook.New(key)
	}

	l := ledger.New()
	positions := position.New(maintenanceMargin, shortSafetyMultiplier)
	users := newUsers()

	e := &Engine{
		markets:            markets,
		spotBooks:          spotBooks,
		marginBooks:        marginBooks,
		ledger:             l,
		positions:          positions,
		prices:             priceservice.New(fallbackMark),
		users:              users,
		defaultMaxLeverage: defaultMaxLeverage,
	}
	e.liq = liquidation.New(positions, l, users)
	return e, nil
}

// EnableMargin grants a user margin trading up to maxLeverage (admin/
// onboarding integration point, not reachable from any bus request kind).
func (e *Engine) EnableMargin(userID string, maxLeverage int) {
	e.users.EnableMargin(userID, maxLeverage)
}

// AdminCredit credits a user's available balance unconditionally, the
// wallet component's deposit hook (SPEC_FULL.md §4).
func (e *Engine) AdminCredit(userID, ticker string, amount money.Decimal) {
	e.ledger.AdminCredit(userID, ticker, amount)
}

func (e *Engine) market(key string) (common.Market, error) {
	m, ok := e.markets[key]
	if !ok {
		return common.Market{}, ErrUnknownMarket
	}
	return m, nil
}

// CreateOrder validates, matches, and settles a new order, dispatching to
// the spot or margin path by request kind.
func (e *Engine) CreateOrder(req CreateOrderRequest) (OrderOutcome, error) {
	m, err := e.market(req.Market)
	if err != nil {
		return OrderOutcome{Reason: err.Error()}, nil
	}

	if req.Kind == common.Spot {
		return e.createSpotOrder(req, m)
	}
	return e.createMarginOrder(req, m)
}

func (e *Engine) createSpotOrder(req CreateOrderRequest, m common.Market) (OrderOutcome, error) {
	var lockAsset string
	var lockAmount money.Decimal
	if req.Side == common.Buy {
		lockAsset = m.Quote
		lockAmount = req.Price.Mul(req.Quantity)
	} else {
		lockAsset = m.Base
		lockAmount = req.Quantity
	}

	if err := e.ledger.Lock(req.UserID, lockAsset, lockAmount); err != nil {
		return OrderOutcome{Reason: err.Error()}, nil
	}

	order := &common.Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Market:        req.Market,
		Kind:          common.Spot,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		TotalQuantity: req.Quantity,
	}

	spotBook := e.spotBooks[req.Market]
	result := spotBook.MatchAndInsert(order)

	events := make([]common.TradeEvent, 0, len(result.Fills))
	for _, fill := range result.Fills {
		e.settleSpotFill(fill, req.Price, m)
		e.prices.OnTrade(req.Market, fill.Price, e.hasQuotes(req.Market))
		events = append(events, toTradeEvent(fill))
	}

	log.Info().
		Str("market", req.Market).
		Str("order_id", order.ID).
		Str("filled", result.FilledQty.String()).
		Str("remaining", result.RemainingQty.String()).
		Msg("spot order matched")

	return OrderOutcome{
		Accepted:     true,
		OrderID:      order.ID,
		FilledQty:    result.FilledQty,
		RemainingQty: result.RemainingQty,
		Trades:       events,
		Depth:        e.buildDepth(req.Market),
		Ticker:       e.prices.Get(req.Market),
	}, nil
}

// settleSpotFill applies one fill's ledger side effects. The buyer always
// pays at the resting maker's price; when the taker is the buyer and its
// limit price is higher than the fill price, the over-reserved difference
// is refunded (spec.md §4.8 scenario 2).
func (e *Engine) settleSpotFill(fill common.Fill, takerPrice money.Decimal, m common.Market) {
	var buyerID, sellerID string
	if fill.TakerSide == common.Buy {
		buyerID, sellerID = fill.TakerUserID, fill.MakerUserID
	} else {
		buyerID, sellerID = fill.MakerUserID, fill.TakerUserID
	}

	cost := fill.Price.Mul(fill.Quantity)

	e.ledger.SettleOut(buyerID, m.Quote, cost)
	e.ledger.Credit(sellerID, m.Quote, cost)

	e.ledger.SettleOut(sellerID, m.Base, fill.Quantity)
	e.ledger.Credit(buyerID, m.Base, fill.Quantity)

	if fill.TakerSide == common.Buy {
		refund := takerPrice.Sub(fill.Price).Mul(fill.Quantity)
		if refund.IsPositive() {
			e.ledger.Unlock(buyerID, m.Quote, refund)
		}
	}
}

func (e *Engine) createMarginOrder(req CreateOrderRequest, m common.Market) (OrderOutcome, error) {
	if !e.users.marginEnabled(req.UserID) {
		return OrderOutcome{Reason: ErrMarginDisabled.Error()}, nil
	}
	if req.Leverage <= 0 || req.Leverage > e.users.maxLeverage(req.UserID) {
		return OrderOutcome{Reason: ErrLeverageTooHigh.Error()}, nil
	}

	required := e.positions.InitialMargin(req.Price, req.Quantity, req.Leverage, req.PositionType)
	if err := e.ledger.Lock(req.UserID, m.Quote, required); err != nil {
		return OrderOutcome{Reason: ErrInsufficientMargin.Error()}, nil
	}

	order := &common.Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Market:        req.Market,
		Kind:          req.Kind,
		PositionType:  req.PositionType,
		Price:         req.Price,
		Quantity:      req.Quantity,
		TotalQuantity: req.Quantity,
		Leverage:      req.Leverage,
	}

	marginBook := e.marginBooks[req.Market]
	result := marginBook.MatchAndInsert(order)

	events := make([]common.TradeEvent, 0, len(result.Fills))
	for _, fill := range result.Fills {
		e.settleMarginFill(fill, req.Price, m)
		e.prices.OnTrade(req.Market, fill.Price, e.hasQuotes(req.Market))
		events = append(events, toMarginTradeEvent(fill))
	}

	log.Info().
		Str("market", req.Market).
		Str("order_id", order.ID).
		Str("side", req.PositionType.String()).
		Str("filled", result.FilledQty.String()).
		Msg("margin order matched")

	return OrderOutcome{
		Accepted:     true,
		OrderID:      order.ID,
		FilledQty:    result.FilledQty,
		RemainingQty: result.RemainingQty,
		Trades:       events,
		Depth:        e.buildDepth(req.Market),
		Ticker:       e.prices.Get(req.Market),
	}, nil
}

// settleMarginFill applies one fill's position/margin side effects to
// both counterparties. Each side's position book independently nets or
// augments; the ApplyFillResult tells this caller how much locked quote
// margin to release or additionally reserve on the ledger for that side.
// The maker always fills at its own resting price, so it is only ever
// entitled to a refund, never an additional lock; the taker reconciles
// against whatever margin it reserved at its own order price.
func (e *Engine) settleMarginFill(fill common.MarginFill, takerPrice money.Decimal, m common.Market) {
	makerResult := e.positions.ApplyFill(fill.MakerUserID, m.Base, fill.MakerType, fill.Price, fill.Quantity, fill.MakerLeverage)
	e.reconcileMargin(fill.MakerUserID, m.Quote, fill.Price, fill.Quantity, fill.MakerLeverage, fill.MakerType, makerResult)

	takerResult := e.positions.ApplyFill(fill.TakerUserID, m.Base, fill.TakerType, fill.Price, fill.Quantity, fill.TakerLeverage)
	e.reconcileMargin(fill.TakerUserID, m.Quote, takerPrice, fill.Quantity, fill.TakerLeverage, fill.TakerType, takerResult)
}

// reconcileMargin settles the margin delta for one side of a fill.
// reservedPrice is the price at which this side's margin was originally
// locked (its own order price); fillPrice is the price the fill actually
// executed at. Margin already freed by netting is unlocked; margin newly
// required by an opened or augmented position is locked against whatever
// was reserved for this quantity at reservedPrice, with any shortfall
// best-effort locked from available balance.
func (e *Engine) reconcileMargin(userID, quoteAsset string, reservedPrice, qty money.Decimal, leverage int, typ common.PositionType, result position.ApplyFillResult) {
	if result.MarginReleased.IsPositive() {
		e.ledger.Unlock(userID, quoteAsset, result.MarginReleased)
	}

	// reserved is what the order-acceptance lock set aside for this
	// quantity, assuming it would open or augment a same-direction
	// position. If the fill instead netted an opposite position,
	// MarginRequired is zero or smaller than reserved, and the unused
	// reservation must still be returned to available.
	reserved := e.positions.InitialMargin(reservedPrice, qty, leverage, typ)
	delta := result.MarginRequired.Sub(reserved)
	switch {
	case delta.IsNegative():
		e.ledger.Unlock(userID, quoteAsset, delta.Neg())
	case delta.IsPositive():
		if err := e.ledger.Lock(userID, quoteAsset, delta); err != nil {
			log.Error().
				Err(err).
				Str("user_id", userID).
				Msg("margin shortfall reconciling fill; position undercollateralized until next liquidation sweep")
		}
	}
}

// CancelOrder removes a resting order and refunds whatever remains
// locked against it.
func (e *Engine) CancelOrder(userID, market, orderID string, kind common.OrderKind) (CancelOutcome, error) {
	m, err := e.market(market)
	if err != nil {
		return CancelOutcome{Reason: err.Error()}, nil
	}

	if kind == common.Spot {
		outcome := e.spotBooks[market].Cancel(orderID)
		if !outcome.Found || outcome.Order.UserID != userID {
			return CancelOutcome{Reason: ErrOrderNotFound.Error()}, nil
		}
		if outcome.Order.Side == common.Buy {
			e.ledger.Unlock(userID, m.Quote, outcome.Order.Price.Mul(outcome.Order.Quantity))
		} else {
			e.ledger.Unlock(userID, m.Base, outcome.Order.Quantity)
		}
		return CancelOutcome{Found: true, Depth: e.buildDepth(market)}, nil
	}

	outcome := e.marginBooks[market].Cancel(orderID)
	if !outcome.Found || outcome.Order.UserID != userID {
		return CancelOutcome{Reason: ErrOrderNotFound.Error()}, nil
	}
	refund := e.positions.InitialMargin(outcome.Order.Price, outcome.Order.Quantity, outcome.Order.Leverage, outcome.Order.PositionType)
	e.ledger.Unlock(userID, m.Quote, refund)
	return CancelOutcome{Found: true, Depth: e.buildDepth(market)}, nil
}

// GetDepth returns the current spot book depth for a market.
func (e *Engine) GetDepth(market string) (DepthSnapshot, error) {
	if _, err := e.market(market); err != nil {
		return DepthSnapshot{}, err
	}
	return e.buildDepth(market), nil
}

func (e *Engine) buildDepth(market string) DepthSnapshot {
	bids, asks := e.spotBooks[market].Depth()
	out := DepthSnapshot{Market: market}
	for _, lvl := range bids {
		out.Bids = append(out.Bids, PriceQty{Price: lvl.Price, Quantity: lvl.Quantity})
	}
	for _, lvl := range asks {
		out.Asks = append(out.Asks, PriceQty{Price: lvl.Price, Quantity: lvl.Quantity})
	}
	return out
}

func (e *Engine) hasQuotes(market string) bool {
	b := e.spotBooks[market]
	_, hasBid := b.BestBid()
	_, hasAsk := b.BestAsk()
	return hasBid || hasAsk
}

// GetQuote simulates filling quantity against the resting spot book
// without mutating state.
func (e *Engine) GetQuote(market string, quantity money.Decimal, takerSide common.Side) (QuoteResult, error) {
	if _, err := e.market(market); err != nil {
		return QuoteResult{}, err
	}
	avg, total, filled := e.spotBooks[market].Quote(quantity, takerSide)
	return QuoteResult{AvgPrice: avg, TotalCost: total, FilledQty: filled}, nil
}

// GetOpenOrders returns a user's resting orders across every market's
// spot and margin books.
func (e *Engine) GetOpenOrders(userID string) []common.Order {
	var out []common.Order
	for _, b := range e.spotBooks {
		out = append(out, b.OpenOrders(userID)...)
	}
	for _, b := range e.marginBooks {
		out = append(out, b.OpenOrders(userID)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// GetUserBalances returns a user's full balance snapshot.
func (e *Engine) GetUserBalances(userID string) BalancesResult {
	return e.ledger.Snapshot(userID)
}

// GetMarginPositions returns a user's open margin positions.
func (e *Engine) GetMarginPositions(userID string) PositionsResult {
	return e.positions.Snapshot(userID)
}

// GetTicker returns a market's current price info.
func (e *Engine) GetTicker(market string) (priceservice.Info, error) {
	if _, err := e.market(market); err != nil {
		return priceservice.Info{}, err
	}
	return e.prices.Get(market), nil
}

// SweepPrices refreshes every market's mark price from its spot book's
// midpoint, returning the markets whose mark changed (spec.md §4.6).
// Margin positions share the same underlying asset as the spot market, so
// the spot book is the sole mark-price source.
func (e *Engine) SweepPrices() []priceservice.Info {
	books := make(map[string]priceservice.BookQuoter, len(e.spotBooks))
	for market, b := range e.spotBooks {
		books[market] = b
	}
	return e.prices.Sweep(books)
}

// SweepLiquidations refreshes unrealized PnL against the latest marks and
// force-closes any position that has crossed its liquidation price
// (spec.md §4.7).
func (e *Engine) SweepLiquidations() []liquidation.Event {
	marksByAsset := make(map[string]money.Decimal, len(e.markets))
	for key, mk := range e.markets {
		info := e.prices.Get(key)
		marksByAsset[mk.Base] = info.MarkPrice
	}
	e.positions.RefreshPnL(marksByAsset)
	return e.liq.Sweep(marksByAsset)
}

func toTradeEvent(fill common.Fill) common.TradeEvent {
	return common.TradeEvent{
		Market:       fill.Market,
		TradeID:      fill.TradeID,
		Price:        fill.Price,
		Quantity:     fill.Quantity,
		MakerOrderID: fill.MakerOrderID,
		TakerOrderID: fill.TakerOrderID,
		Timestamp:    time.Now(),
	}
}

func toMarginTradeEvent(fill common.MarginFill) common.TradeEvent {
	return common.TradeEvent{
		Market:       fill.Market,
		TradeID:      fill.TradeID,
		Price:        fill.Price,
		Quantity:     fill.Quantity,
		MakerOrderID: fill.MakerOrderID,
		TakerOrderID: fill.TakerOrderID,
		Timestamp:    time.Now(),
	}
}
