package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange/internal/money"
)

func TestLock_MovesAvailableToLocked(t *testing.T) {
	l := New()
	l.AdminCredit("A", "USDC", money.MustParse("10000"))

	require.NoError(t, l.Lock("A", "USDC", money.MustParse("100")))

	assert.True(t, l.Available("A", "USDC").Equal(money.MustParse("9900")))
	assert.True(t, l.Snapshot("A")["USDC"].Locked.Equal(money.MustParse("100")))
}

func TestLock_FailsWithoutMutationWhenInsufficient(t *testing.T) {
	l := New()
	l.AdminCredit("A", "USDC", money.MustParse("10"))

	err := l.Lock("A", "USDC", money.MustParse("20"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, l.Available("A", "USDC").Equal(money.MustParse("10")))
}

// Scenario 4: cancel refund restores pre-order available and zeroes locked.
func TestUnlock_RestoresExactlyOnCancel(t *testing.T) {
	l := New()
	l.AdminCredit("A", "USDC", money.MustParse("10000"))

	require.NoError(t, l.Lock("A", "USDC", money.MustParse("100")))
	l.Unlock("A", "USDC", money.MustParse("100"))

	bal := l.Snapshot("A")["USDC"]
	assert.True(t, bal.Available.Equal(money.MustParse("10000")))
	assert.True(t, bal.Locked.IsZero())
}

func TestSettleOutAndCredit_ConserveValueAcrossAFill(t *testing.T) {
	l := New()
	l.AdminCredit("A", "USDC", money.MustParse("10000"))
	l.AdminCredit("B", "SOL", money.MustParse("100"))

	require.NoError(t, l.Lock("A", "USDC", money.MustParse("60")))
	require.NoError(t, l.Lock("B", "SOL", money.MustParse("3")))

	l.SettleOut("A", "USDC", money.MustParse("60"))
	l.Credit("B", "USDC", money.MustParse("60"))

	l.SettleOut("B", "SOL", money.MustParse("3"))
	l.Credit("A", "SOL", money.MustParse("3"))

	assert.True(t, l.Available("A", "USDC").Equal(money.MustParse("9940")))
	assert.True(t, l.Available("A", "SOL").Equal(money.MustParse("3")))
	assert.True(t, l.Available("B", "USDC").Equal(money.MustParse("60")))
	assert.True(t, l.Available("B", "SOL").Equal(money.MustParse("97")))
}

func TestUnlock_ClampsToCurrentLocked(t *testing.T) {
	l := New()
	l.AdminCredit("A", "USDC", money.MustParse("100"))
	require.NoError(t, l.Lock("A", "USDC", money.MustParse("50")))

	l.Unlock("A", "USDC", money.MustParse("1000"))

	bal := l.Snapshot("A")["USDC"]
	assert.True(t, bal.Locked.IsZero())
	assert.True(t, bal.Available.Equal(money.MustParse("100")))
}
