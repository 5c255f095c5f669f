// Package position implements margin positions (spec.md C5): per-user open
// positions with avg-price accounting, unrealized PnL, liquidation price,
// the netting rule (opposite-side fills reduce or flip a position) and the
// augmenting rule (same-side fills weighted-average the entry price).
package position

import (
	"sync"

	"exchange/internal/common"
	"exchange/internal/money"
)

// DefaultMaintenanceMargin is the fraction of notional that must remain as
// equity before liquidation triggers (spec.md §4.5, configurable).
var DefaultMaintenanceMargin = money.MustParse("0.05")

// DefaultShortSafetyMultiplier scales up a short's initial margin to cover
// its unbounded upside risk (spec.md §4.5, configurable).
var DefaultShortSafetyMultiplier = money.MustParse("1.10")

// Position is one open margin position for one user on one asset.
type Position struct {
	UserID           string
	Asset            string
	Quantity         money.Decimal
	AvgPrice         money.Decimal
	Type             common.PositionType
	Leverage         int
	LockedMargin     money.Decimal
	UnrealizedPnL    money.Decimal
	LiquidationPrice money.Decimal
}

type key struct {
	userID string
	asset  string
	typ    common.PositionType
}

// Book owns every user's open positions, keyed (user, asset, type) — at most
// one position per tuple, per spec.md §3.
type Book struct {
	mu                sync.RWMutex
	positions         map[key]*Position
	maintenanceMargin money.Decimal
	shortSafety       money.Decimal
}

// New constructs an empty position book with the given risk parameters.
func New(maintenanceMargin, shortSafetyMultiplier money.Decimal) *Book {
	return &Book{
		positions:         make(map[key]*Position),
		maintenanceMargin: maintenanceMargin,
		shortSafety:       shortSafetyMultiplier,
	}
}

// InitialMargin computes the margin required to open a position of the
// given price/quantity/leverage/type (spec.md §4.5 "Margin requirement").
func (b *Book) InitialMargin(price, quantity money.Decimal, leverage int, typ common.PositionType) money.Decimal {
	margin := price.Mul(quantity).Div(money.NewFromInt(int64(leverage)))
	if typ == common.Short {
		margin = margin.Mul(b.shortSafety)
	}
	return margin
}

func (b *Book) liquidationPrice(avgPrice money.Decimal, leverage int, typ common.PositionType) money.Decimal {
	ratio := b.maintenanceMargin.Div(money.NewFromInt(int64(leverage)))
	if typ == common.Long {
		return avgPrice.Mul(money.NewFromInt(1).Sub(ratio))
	}
	return avgPrice.Mul(money.NewFromInt(1).Add(ratio))
}

// Get returns a copy of a user's position on an asset/type, if open.
func (b *Book) Get(userID, asset string, typ common.PositionType) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[key{userID, asset, typ}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Snapshot returns a value-copy of every open position for a user.
func (b *Book) Snapshot(userID string) []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Position
	for k, p := range b.positions {
		if k.userID == userID {
			out = append(out, *p)
		}
	}
	return out
}

// All returns a value-copy of every open position across all users, for the
// liquidation monitor's sweep.
func (b *Book) All() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

// ApplyFillResult tells the caller how much locked margin was released (to
// be unlocked on the ledger) and how much new margin must be locked (to be
// locked on the ledger) as a consequence of ApplyFill.
type ApplyFillResult struct {
	MarginReleased money.Decimal
	MarginRequired money.Decimal
}

// ApplyFill applies one side of a margin fill (taker or maker) to a user's
// position book, implementing both the netting rule (opposite side reduces
// or flips) and the augmenting rule (same side averages in), per spec.md
// §4.5. Leverage of the incoming fill defines the liquidation price of any
// newly-created or augmented exposure.
func (b *Book) ApplyFill(userID, asset string, typ common.PositionType, price, qty money.Decimal, leverage int) ApplyFillResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := ApplyFillResult{MarginReleased: money.Zero, MarginRequired: money.Zero}

	existing, hasExisting := b.positions[key{userID, asset, typ.Opposite()}]
	if hasExisting {
		// Netting: fill opposes an existing position on the same asset.
		switch existing.Quantity.Cmp(qty) {
		case 0:
			result.MarginReleased = existing.LockedMargin
			delete(b.positions, key{userID, asset, typ.Opposite()})
		case 1:
			fraction := qty.Div(existing.Quantity)
			released := existing.LockedMargin.Mul(fraction)
			existing.Quantity = existing.Quantity.Sub(qty)
			existing.LockedMargin = existing.LockedMargin.Sub(released)
			result.MarginReleased = released
		default:
			remainder := qty.Sub(existing.Quantity)
			result.MarginReleased = existing.LockedMargin
			delete(b.positions, key{userID, asset, typ.Opposite()})

			required := b.InitialMargin(price, remainder, leverage, typ)
			b.positions[key{userID, asset, typ}] = &Position{
				UserID:           userID,
				Asset:            asset,
				Quantity:         remainder,
				AvgPrice:         price,
				Type:             typ,
				Leverage:         leverage,
				LockedMargin:     required,
				LiquidationPrice: b.liquidationPrice(price, leverage, typ),
			}
			result.MarginRequired = required
		}
		return result
	}

	// Augmenting: fill is on the same side as any existing position, or
	// there is no existing position at all (open fresh).
	current, ok := b.positions[key{userID, asset, typ}]
	required := b.InitialMargin(price, qty, leverage, typ)
	result.MarginRequired = required
	if !ok {
		b.positions[key{userID, asset, typ}] = &Position{
			UserID:           userID,
			Asset:            asset,
			Quantity:         qty,
			AvgPrice:         price,
			Type:             typ,
			Leverage:         leverage,
			LockedMargin:     required,
			LiquidationPrice: b.liquidationPrice(price, leverage, typ),
		}
		return result
	}

	newQty := current.Quantity.Add(qty)
	newAvg := current.AvgPrice.Mul(current.Quantity).Add(price.Mul(qty)).Div(newQty)
	current.Quantity = newQty
	current.AvgPrice = newAvg
	current.Leverage = leverage
	current.LockedMargin = current.LockedMargin.Add(required)
	current.LiquidationPrice = b.liquidationPrice(newAvg, leverage, typ)
	return result
}

// Remove deletes a position outright, returning it and its locked margin
// (used by the liquidation monitor, and anywhere else a position must be
// force-closed without a new opposite fill).
func (b *Book) Remove(userID, asset string, typ common.PositionType) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key{userID, asset, typ}
	p, ok := b.positions[k]
	if !ok {
		return Position{}, false
	}
	delete(b.positions, k)
	return *p, true
}

// RefreshPnL recomputes unrealized PnL for every position against the given
// per-asset mark price map. Liquidation prices are not touched here; they
// are set by ApplyFill. Positions for assets absent from marks are left
// untouched.
func (b *Book) RefreshPnL(marks map[string]money.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.positions {
		mark, ok := marks[p.Asset]
		if !ok {
			continue
		}
		p.UnrealizedPnL = unrealizedPnL(p, mark)
	}
}

func unrealizedPnL(p *Position, mark money.Decimal) money.Decimal {
	if p.Type == common.Long {
		return mark.Sub(p.AvgPrice).Mul(p.Quantity)
	}
	return p.AvgPrice.Sub(mark).Mul(p.Quantity)
}

// MarginUsed sums locked margin across every open position for a user. It
// is the only source of a user's margin used; no separate field stores it
// (spec.md §8 invariant 6).
func (b *Book) MarginUsed(userID string) money.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := money.Zero
	for k, p := range b.positions {
		if k.userID == userID {
			total = total.Add(p.LockedMargin)
		}
	}
	return total
}
