// Package ledger implements the balance ledger (spec.md C4): per-user
// per-asset (available, locked) pairs with lock/unlock/settle/credit
// primitives. Held behind a single reader-writer guard per spec.md §5's
// lock-ordering rule (positions -> balances -> book); callers must never
// hold a book lock while calling into the ledger.
package ledger

import (
	"errors"
	"sync"

	"exchange/internal/money"
)

// ErrInsufficientFunds is returned by Lock when available < required.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// Balance is a user's holding of one asset.
type Balance struct {
	Available money.Decimal
	Locked    money.Decimal
}

// Ledger owns every user's balance map. It never creates or destroys value;
// every operation only relocates it between available, locked, and other
// users' entries (spec.md §4.4 invariant).
type Ledger struct {
	mu    sync.RWMutex
	users map[string]map[string]*Balance // userID -> ticker -> balance
}

// New constructs an empty ledger.
func New() *Ledger {
	return &Ledger{users: make(map[string]map[string]*Balance)}
}

func (l *Ledger) entryLocked(userID, ticker string) *Balance {
	assets, ok := l.users[userID]
	if !ok {
		assets = make(map[string]*Balance)
		l.users[userID] = assets
	}
	bal, ok := assets[ticker]
	if !ok {
		bal = &Balance{Available: money.Zero, Locked: money.Zero}
		assets[ticker] = bal
	}
	return bal
}

// Lock moves `required` from available to locked. Fails without mutation if
// available is insufficient.
func (l *Ledger) Lock(userID, ticker string, required money.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.entryLocked(userID, ticker)
	if bal.Available.LessThan(required) {
		return ErrInsufficientFunds
	}
	bal.Available = bal.Available.Sub(required)
	bal.Locked = bal.Locked.Add(required)
	return nil
}

// Unlock moves `amount` from locked back to available. It never drives
// locked below zero; amount is clamped to the current locked balance.
func (l *Ledger) Unlock(userID, ticker string, amount money.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.entryLocked(userID, ticker)
	amount = money.Min(amount, bal.Locked)
	bal.Locked = bal.Locked.Sub(amount)
	bal.Available = bal.Available.Add(amount)
}

// SettleOut decrements locked without returning to available — the paying
// leg of a fill (spec.md §4.4).
func (l *Ledger) SettleOut(userID, ticker string, amount money.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.entryLocked(userID, ticker)
	amount = money.Min(amount, bal.Locked)
	bal.Locked = bal.Locked.Sub(amount)
}

// Credit increments available — the receiving leg of a fill (spec.md §4.4).
func (l *Ledger) Credit(userID, ticker string, amount money.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.entryLocked(userID, ticker)
	bal.Available = bal.Available.Add(amount)
}

// AdminCredit increments available unconditionally, for the external wallet
// component's deposit path (see SPEC_FULL.md §4 "Admin credit endpoint").
// Not reachable from any bus request kind; exposed only for integration by
// a trusted caller.
func (l *Ledger) AdminCredit(userID, ticker string, amount money.Decimal) {
	l.Credit(userID, ticker, amount)
}

// Available returns a user's available balance for one asset.
func (l *Ledger) Available(userID, ticker string) money.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	assets, ok := l.users[userID]
	if !ok {
		return money.Zero
	}
	bal, ok := assets[ticker]
	if !ok {
		return money.Zero
	}
	return bal.Available
}

// Snapshot returns a value-copy of the user's whole balance map.
func (l *Ledger) Snapshot(userID string) map[string]Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Balance)
	for ticker, bal := range l.users[userID] {
		out[ticker] = *bal
	}
	return out
}
