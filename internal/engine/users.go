package engine

import (
	"sync"

	"exchange/internal/money"
)

// UserProfile carries the per-user settings and accumulators that sit
// outside the ledger and position book: whether margin trading is enabled,
// their personal leverage ceiling, and their running realized PnL
// (spec.md §3 "User").
type UserProfile struct {
	MarginEnabled bool
	MaxLeverage   int
	RealizedPnL   money.Decimal
}

// Users is the registry of per-user profiles. margin_used is deliberately
// not stored here: it is always derived from position.Book.MarginUsed so it
// can never drift from "sum of locked margin across open positions"
// (spec.md §8 invariant 6; see DESIGN.md for the Open Question this
// resolves).
type Users struct {
	mu       sync.Mutex
	profiles map[string]*UserProfile
}

func newUsers() *Users {
	return &Users{profiles: make(map[string]*UserProfile)}
}

// profile returns (creating if absent) a user's profile. New users default
// to margin-disabled, matching a venue where margin trading is an opt-in
// the wallet/onboarding component grants (out of scope here, per spec.md §1).
func (u *Users) profile(userID string) *UserProfile {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.profiles[userID]
	if !ok {
		p = &UserProfile{RealizedPnL: money.Zero}
		u.profiles[userID] = p
	}
	return p
}

// EnableMargin grants margin trading to a user up to maxLeverage. Exposed
// for admin/onboarding integration and for tests; not reachable from any
// bus request kind (margin Non-goals, spec.md §1).
func (u *Users) EnableMargin(userID string, maxLeverage int) {
	p := u.profile(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	p.MarginEnabled = true
	p.MaxLeverage = maxLeverage
}

func (u *Users) marginEnabled(userID string) bool {
	return u.profile(userID).MarginEnabled
}

func (u *Users) maxLeverage(userID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.profiles[userID].MaxLeverage
}

// AddRealizedPnL implements liquidation.RealizedPnLTracker.
func (u *Users) AddRealizedPnL(userID string, delta money.Decimal) {
	p := u.profile(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	p.RealizedPnL = p.RealizedPnL.Add(delta)
}

// RealizedPnL returns a user's running realized PnL.
func (u *Users) RealizedPnL(userID string) money.Decimal {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.profiles[userID]
	if !ok {
		return money.Zero
	}
	return p.RealizedPnL
}
