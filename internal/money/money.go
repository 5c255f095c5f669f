// Package money provides exact fixed-scale decimal arithmetic for every
// price, quantity, and balance field in the engine. Floats never enter the
// core; this package is the only place a float may be parsed or formatted.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DivisionScale is the scale (fractional digits) used for division results
// such as averages, margin ratios, and unrealized PnL. Division rounds
// half-to-even at this scale (see Decimal.Div).
const DivisionScale = 12

// ErrOverflow is returned when a parsed or computed value exceeds the
// engine's representable magnitude (10^12 major units).
var ErrOverflow = errors.New("money: value overflows representable range")

// maxMagnitude bounds every Decimal to +/- 10^12 major units, matching
// spec.md's "monetary arithmetic up to 10^12 major units" requirement.
var maxMagnitude = decimal.New(1, 12)

// Decimal is an exact, totally-ordered fixed-precision signed rational. It
// wraps shopspring/decimal and forbids float64 conversions on the hot path.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: decimal.Zero}

// New builds a Decimal from an integer coefficient and base-10 exponent,
// mirroring decimal.New.
func New(value int64, exp int32) Decimal {
	return Decimal{d: decimal.New(value, exp)}
}

// NewFromInt builds a Decimal representing an integral number of major units.
func NewFromInt(value int64) Decimal {
	return Decimal{d: decimal.NewFromInt(value)}
}

// Parse decodes a decimal string (as carried over the bus; see C9) into a
// Decimal, rejecting values outside the representable range.
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	out := Decimal{d: d}
	if out.exceedsRange() {
		return Decimal{}, ErrOverflow
	}
	return out, nil
}

// MustParse is Parse but panics on error; intended for constants in tests.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (a Decimal) exceedsRange() bool {
	return a.d.Abs().GreaterThan(maxMagnitude)
}

// String encodes the Decimal for wire transport (C9 requires decimal values
// as strings to preserve precision across the bus).
func (a Decimal) String() string {
	return a.d.String()
}

// MarshalJSON encodes as a JSON string, never a JSON number, so precision
// survives round-tripping through the bus.
func (a Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare JSON number, the
// latter for leniency with hand-written test fixtures.
func (a *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: unmarshal %q: %w", s, err)
	}
	a.d = d
	return nil
}

// checkOverflow panics when d falls outside the engine's representable
// range. shopspring/decimal never raises an overflow panic on its own (it
// grows arbitrary precision instead), so every arithmetic op on Decimal
// calls this to enforce "overflow fails loudly" (spec.md §4.1).
func checkOverflow(d Decimal) Decimal {
	if d.exceedsRange() {
		panic(ErrOverflow)
	}
	return d
}

// Add returns a+b.
func (a Decimal) Add(b Decimal) Decimal { return checkOverflow(Decimal{d: a.d.Add(b.d)}) }

// Sub returns a-b.
func (a Decimal) Sub(b Decimal) Decimal { return checkOverflow(Decimal{d: a.d.Sub(b.d)}) }

// Mul returns a*b.
func (a Decimal) Mul(b Decimal) Decimal { return checkOverflow(Decimal{d: a.d.Mul(b.d)}) }

// Div returns a/b rounded half-to-even at DivisionScale. Division by zero
// panics, matching "overflow fails loudly" in spec.md's C1 contract.
func (a Decimal) Div(b Decimal) Decimal {
	if b.IsZero() {
		panic("money: division by zero")
	}
	// q is the quotient truncated toward zero at DivisionScale; comparing
	// 2*|r|*10^DivisionScale with |b| decides the rounding, and an exact tie
	// goes to the even neighbour.
	q, r := a.d.QuoRem(b.d, DivisionScale)
	c := r.Abs().Mul(decimal.New(2, DivisionScale)).Cmp(b.d.Abs())
	if c > 0 || (c == 0 && q.Shift(DivisionScale).BigInt().Bit(0) == 1) {
		step := decimal.New(1, -DivisionScale)
		if a.d.Sign()*b.d.Sign() < 0 {
			q = q.Sub(step)
		} else {
			q = q.Add(step)
		}
	}
	return checkOverflow(Decimal{d: q})
}

// Neg returns -a.
func (a Decimal) Neg() Decimal { return Decimal{d: a.d.Neg()} }

// Abs returns |a|.
func (a Decimal) Abs() Decimal { return Decimal{d: a.d.Abs()} }

// Cmp returns -1, 0, or 1 as a<b, a==b, a>b, giving the total order spec.md
// requires of Decimal.
func (a Decimal) Cmp(b Decimal) int { return a.d.Cmp(b.d) }

func (a Decimal) LessThan(b Decimal) bool { return a.d.LessThan(b.d) }
func (a Decimal) LessThanOrEqual(b Decimal) bool { return a.d.LessThanOrEqual(b.d) }
func (a Decimal) GreaterThan(b Decimal) bool { return a.d.GreaterThan(b.d) }
func (a Decimal) GreaterThanOrEqual(b Decimal) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Decimal) Equal(b Decimal) bool { return a.d.Equal(b.d) }
func (a Decimal) IsZero() bool { return a.d.IsZero() }
func (a Decimal) IsNegative() bool { return a.d.IsNegative() }
func (a Decimal) IsPositive() bool { return a.d.IsPositive() }

// Min returns the lesser of a, b.
func Min(a, b Decimal) Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Max returns the greater of a, b.
func Max(a, b Decimal) Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}
