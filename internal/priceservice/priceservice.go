// Package priceservice implements the price service (spec.md C6): a
// per-market mark price derived from the book's midpoint, a last-trade
// price updated on every fill, and a periodic sweep that republishes both.
package priceservice

import (
	"sync"
	"time"

	"exchange/internal/money"
)

// Info is a value-copy snapshot of one market's price state.
type Info struct {
	Market         string
	LastTradePrice money.Decimal
	HasLastTrade   bool
	MarkPrice      money.Decimal
	Timestamp      time.Time
}

// BookQuoter is the subset of a book the price service needs to derive a
// mark price: best bid/ask on one side.
type BookQuoter interface {
	BestBid() (money.Decimal, bool)
	BestAsk() (money.Decimal, bool)
}

// Service holds a small, writer-heavy per-market price map behind a single
// mutex, as spec.md §5 allows ("a simple mutex is acceptable").
type Service struct {
	mu           sync.Mutex
	prices       map[string]*Info
	fallbackMark money.Decimal
}

// New constructs a price service. fallbackMark is used when a market's book
// is entirely empty on both sides.
func New(fallbackMark money.Decimal) *Service {
	return &Service{
		prices:       make(map[string]*Info),
		fallbackMark: fallbackMark,
	}
}

func (s *Service) entryLocked(market string) *Info {
	info, ok := s.prices[market]
	if !ok {
		info = &Info{Market: market, MarkPrice: s.fallbackMark}
		s.prices[market] = info
	}
	return info
}

// OnTrade updates last_trade_price on every fill, and the mark price too if
// no quotes exist yet (spec.md §4.6 source (a)).
func (s *Service) OnTrade(market string, price money.Decimal, hasQuotes bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.entryLocked(market)
	info.LastTradePrice = price
	info.HasLastTrade = true
	if !hasQuotes {
		info.MarkPrice = price
	}
	info.Timestamp = time.Now()
}

// Sweep asks each book for its current mid-mark and stores it (spec.md
// §4.6 source (b)), returning the markets whose mark price changed so a
// caller can publish ticker@<market> broadcasts.
func (s *Service) Sweep(books map[string]BookQuoter) []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated []Info
	for market, book := range books {
		info := s.entryLocked(market)
		mark, ok := midpoint(book, s.fallbackMark)
		if ok && !mark.Equal(info.MarkPrice) {
			info.MarkPrice = mark
			info.Timestamp = time.Now()
			updated = append(updated, *info)
		}
	}
	return updated
}

func midpoint(book BookQuoter, fallback money.Decimal) (money.Decimal, bool) {
	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	switch {
	case hasBid && hasAsk:
		return bid.Add(ask).Div(money.NewFromInt(2)), true
	case hasBid:
		return bid, true
	case hasAsk:
		return ask, true
	default:
		return fallback, true
	}
}

// Get returns a value-copy of a market's current price info.
func (s *Service) Get(market string) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.prices[market]
	if !ok {
		return Info{Market: market, MarkPrice: s.fallbackMark}
	}
	return *info
}

// Marks returns a snapshot of every known market's current mark price,
// keyed by market key (e.g. "SOL_USDC"), not by asset ticker.
func (s *Service) Marks() map[string]money.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]money.Decimal, len(s.prices))
	for market, info := range s.prices {
		out[market] = info.MarkPrice
	}
	return out
}
