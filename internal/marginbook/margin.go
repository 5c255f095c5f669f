// Package marginbook implements the margin order book (spec.md C3): per
// market long/short queues matched in price-time priority, same shape as
// internal/book but where a fill creates or nets a position on each
// counter-party instead of moving the base asset between balances
// (spec.md §4.3). Structurally adapted from internal/book's btree-backed
// level ladder (itself adapted from the teacher's
// internal/engine/orderbook.go).
package marginbook

import (
	"sync"

	"github.com/tidwall/btree"

	"exchange/internal/book"
	"exchange/internal/common"
	"exchange/internal/money"
)

type priceLevels = btree.BTreeG[*book.PriceLevel]

// Book is a single market's long/short ladder.
type Book struct {
	mu sync.RWMutex

	Market string

	// Longs: price desc (a long taker wants the lowest ask-equivalent, but
	// resting longs are "bids" for the purposes of matching against
	// incoming shorts), timestamp asc within a level.
	Longs *priceLevels
	// Shorts: price asc, timestamp asc within a level.
	Shorts *priceLevels

	byID map[string]*common.Order

	lastTradePrice *money.Decimal
}

// New constructs an empty margin book for one market.
func New(market string) *Book {
	longs := btree.NewBTreeG(func(a, b *book.PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	shorts := btree.NewBTreeG(func(a, b *book.PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &Book{
		Market: market,
		Longs:  longs,
		Shorts: shorts,
		byID:   make(map[string]*common.Order),
	}
}

// MatchResult reports the outcome of MatchAndInsert.
type MatchResult struct {
	FilledQty    money.Decimal
	RemainingQty money.Decimal
	Fills        []common.MarginFill
}

// MatchAndInsert mirrors book.Book.MatchAndInsert's price-time walk, but
// emits MarginFill records (no base-asset movement) and matches Long takers
// against resting Short makers, and vice versa.
func (b *Book) MatchAndInsert(order *common.Order) MatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	order.Timestamp = book.NextTimestamp()

	var opposite, own *priceLevels
	if order.PositionType == common.Long {
		opposite, own = b.Shorts, b.Longs
	} else {
		opposite, own = b.Longs, b.Shorts
	}

	result := MatchResult{FilledQty: money.Zero}

	for order.Quantity.IsPositive() {
		level, ok := opposite.Min()
		if !ok {
			break
		}
		if order.PositionType == common.Long && level.Price.GreaterThan(order.Price) {
			break
		}
		if order.PositionType == common.Short && level.Price.LessThan(order.Price) {
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

			fill := common.MarginFill{
				TradeID:       book.NewTradeID(),
				Market:        b.Market,
				Price:         maker.Price,
				Quantity:      matchQty,
				MakerOrderID:  maker.ID,
				MakerUserID:   maker.UserID,
				MakerType:     maker.PositionType,
				MakerLeverage: maker.Leverage,
				TakerOrderID:  order.ID,
				TakerUserID:   order.UserID,
				TakerType:     order.PositionType,
				TakerLeverage: order.Leverage,
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
	probe := &book.PriceLevel{Price: order.Price}
	level, ok := levels.Get(probe)
	if ok {
		level.Orders = append(level.Orders, order)
	} else {
		levels.Set(&book.PriceLevel{Price: order.Price, Orders: []*common.Order{order}})
	}
	b.byID[order.ID] = order
}

// CancelOutcome is the result of a Cancel call.
type CancelOutcome struct {
	Found bool
	Order common.Order
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
	if order.PositionType == common.Long {
		levels = b.Longs
	} else {
		levels = b.Shorts
	}

	probe := &book.PriceLevel{Price: order.Price}
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

// BestLong returns the best (highest) resting long price, if any.
func (b *Book) BestLong() (money.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	level, ok := b.Longs.Min()
	if !ok {
		return money.Decimal{}, false
	}
	return level.Price, true
}

// BestShort returns the best (lowest) resting short price, if any.
func (b *Book) BestShort() (money.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	level, ok := b.Shorts.Min()
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
