// Package book implements the spot order book (spec.md C2): per-market bid
// and ask price levels, matched in strict price-time priority. Adapted from
// the teacher's internal/engine/orderbook.go, which used the same
// tidwall/btree price-level structure for a single equities book; this
// version generalizes prices to exact Decimal, makes Quantity mean
// remaining (not original), always prices fills at the maker's level, and
// separates matching from balance/position side effects (the engine owns
// those, per spec.md §4.2's "neither mutates balances" contract).
package book

import (
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"

	"exchange/internal/common"
	"exchange/internal/money"
)

// PriceLevel holds every resting order at one price, oldest first.
type PriceLevel struct {
	Price  money.Decimal
	Orders []*common.Order
}

type priceLevels = btree.BTreeG[*PriceLevel]

// clock hands out strictly increasing timestamps for tie-breaking, standing
// in for the "monotonic source" spec.md requires at insertion.
var clock int64

func nextTimestamp() int64 {
	return atomic.AddInt64(&clock, 1)
}

// NextTimestamp hands out the next strictly-increasing tie-break timestamp,
// shared process-wide so spot and margin books order fairly against each
// other when both are driven by the same coordinator.
func NextTimestamp() int64 {
	return nextTimestamp()
}

// nextTradeID is shared process-wide so trade IDs are monotonic across
// markets, matching spec.md's "monotonic trade_id" requirement.
var nextTradeID uint64

func NewTradeID() uint64 {
	return atomic.AddUint64(&nextTradeID, 1)
}

// Book is a single market's bid/ask ladder plus an order-id index for O(1)
// (amortized) cancel lookups.
type Book struct {
	mu sync.RWMutex

	Market string

	// Bids: price desc, timestamp asc within a level.
	Bids *priceLevels
	// Asks: price asc, timestamp asc within a level.
	Asks *priceLevels

	byID map[string]*common.Order

	lastTradePrice *money.Decimal
}

// New constructs an empty book for one market.
func New(market string) *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &Book{
		Market: market,
		Bids:   bids,
		Asks:   asks,
		byID:   make(map[string]*common.Order),
	}
}

// MatchResult reports the outcome of MatchAndInsert.
type MatchResult struct {
	FilledQty    money.Decimal
	RemainingQty money.Decimal
	Fills        []common.Fill
}

// MatchAndInsert walks the opposite side in price-time priority, producing
// fills at the resting (maker) price, then inserts any remainder into the
// order's own side. It never mutates balances or positions — the caller
// (engine, C8) is responsible for that, in the order matching returns the
// fills, so a fatal error downstream can still rollback cleanly (spec.md §7).
func (b *Book) MatchAndInsert(order *common.Order) MatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	order.Timestamp = nextTimestamp()

	var opposite, own *priceLevels
	if order.Side == common.Buy {
		opposite, own = b.Asks, b.Bids
	} else {
		opposite, own = b.Bids, b.Asks
	}

	result := MatchResult{FilledQty: money.Zero}

	for order.Quantity.IsPositive() {
		level, ok := opposite.Min()
		if !ok {
			break
		}
		if order.Side == common.Buy && level.Price.GreaterThan(order.Price) {
			break
		}
		if order.Side == common.Sell && level.Price.LessThan(order.Price) {
			break
		}

		consumed := 0
		for _, maker := range level.Orders {
			if !order.Quantity.IsPositive() {
				break
			}
			matchQty := money.Min(order.Quantity, maker.Quantity)

			order.Quantity = order.Quantity.Sub(matchQty)
			maker.Quantity = maker.Quantity.Sub(matchQty)

			fill := common.Fill{
				TradeID:      NewTradeID(),
				Market:       b.Market,
				Price:        maker.Price,
				Quantity:     matchQty,
				MakerOrderID: maker.ID,
				MakerUserID:  maker.UserID,
				MakerSide:    maker.Side,
				TakerOrderID: order.ID,
				TakerUserID:  order.UserID,
				TakerSide:    order.Side,
			}
			result.Fills = append(result.Fills, fill)
			result.FilledQty = result.FilledQty.Add(matchQty)
			price := maker.Price
			b.lastTradePrice = &price

			if !maker.Remaining() {
				delete(b.byID, maker.ID)
				consumed++
			}
		}

		if consumed > 0 {
			level.Orders = level.Orders[consumed:]
		}
		if len(level.Orders) == 0 {
			opposite.Delete(level)
		}
	}

	result.RemainingQty = order.Quantity
	if order.Quantity.IsPositive() {
		b.insertLocked(own, order)
	}
	return result
}

func (b *Book) insertLocked(levels *priceLevels, order *common.Order) {
	probe := &PriceLevel{Price: order.Price}
	level, ok := levels.Get(probe)
	if ok {
		level.Orders = append(level.Orders, order)
	} else {
		levels.Set(&PriceLevel{Price: order.Price, Orders: []*common.Order{order}})
	}
	b.byID[order.ID] = order
}

// CancelOutcome is the result of a Cancel call.
type CancelOutcome struct {
	Found    bool
	Order    common.Order
}

// Cancel removes an order by id from whichever side it rests on.
func (b *Book) Cancel(orderID string) CancelOutcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.byID[orderID]
	if !ok {
		return CancelOutcome{Found: false}
	}

	var levels *priceLevels
	if order.Side == common.Buy {
		levels = b.Bids
	} else {
		levels = b.Asks
	}

	probe := &PriceLevel{Price: order.Price}
	level, ok := levels.Get(probe)
	if ok {
		for i, o := range level.Orders {
			if o.ID == orderID {
				level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
				break
			}
		}
		if len(level.Orders) == 0 {
			levels.Delete(level)
		}
	}
	delete(b.byID, orderID)

	return CancelOutcome{Found: true, Order: *order}
}

// Get returns a copy of the order if it is currently resting in this book.
func (b *Book) Get(orderID string) (common.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.byID[orderID]
	if !ok {
		return common.Order{}, false
	}
	return *o, true
}

// DepthLevel is one aggregated price/quantity pair on one side.
type DepthLevel struct {
	Price    money.Decimal
	Quantity money.Decimal
}

// Depth returns both sides' aggregate resting quantity, bids sorted best
// (highest price) first, asks sorted best (lowest price) first.
func (b *Book) Depth() (bids, asks []DepthLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.Bids.Scan(func(level *PriceLevel) bool {
		bids = append(bids, DepthLevel{Price: level.Price, Quantity: aggregateQty(level)})
		return true
	})
	b.Asks.Scan(func(level *PriceLevel) bool {
		asks = append(asks, DepthLevel{Price: level.Price, Quantity: aggregateQty(level)})
		return true
	})
	return bids, asks
}

func aggregateQty(level *PriceLevel) money.Decimal {
	total := money.Zero
	for _, o := range level.Orders {
		total = total.Add(o.Quantity)
	}
	return total
}

// OpenOrders returns a value-copy snapshot of every resting order owned by
// userID across both sides.
func (b *Book) OpenOrders(userID string) []common.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []common.Order
	for _, o := range b.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out
}

// Quote simulates a non-mutating walk of quantity on the given taker side,
// returning a VWAP without touching book state (spec.md §4.2).
func (b *Book) Quote(quantity money.Decimal, takerSide common.Side) (avgPrice money.Decimal, totalCost money.Decimal, filledQty money.Decimal) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var levels *priceLevels
	if takerSide == common.Buy {
		levels = b.Asks
	} else {
		levels = b.Bids
	}

	remaining := quantity
	totalCost = money.Zero
	filledQty = money.Zero

	levels.Scan(func(level *PriceLevel) bool {
		if !remaining.IsPositive() {
			return false
		}
		avail := aggregateQty(level)
		take := money.Min(remaining, avail)
		totalCost = totalCost.Add(take.Mul(level.Price))
		filledQty = filledQty.Add(take)
		remaining = remaining.Sub(take)
		return remaining.IsPositive()
	})

	if filledQty.IsPositive() {
		avgPrice = totalCost.Div(filledQty)
	}
	return avgPrice, totalCost, filledQty
}

// BestBid returns the best (highest) resting bid price, if any.
func (b *Book) BestBid() (money.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	level, ok := b.Bids.Min()
	if !ok {
		return money.Decimal{}, false
	}
	return level.Price, true
}

// BestAsk returns the best (lowest) resting ask price, if any.
func (b *Book) BestAsk() (money.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	level, ok := b.Asks.Min()
	if !ok {
		return money.Decimal{}, false
	}
	return level.Price, true
}

// LastTradePrice returns the price of the most recent fill in this book, if
// any has occurred.
func (b *Book) LastTradePrice() (money.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastTradePrice == nil {
		return money.Decimal{}, false
	}
	return *b.lastTradePrice, true
}
