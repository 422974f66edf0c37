// Package money defines the fixed-precision value types used for every cash,
// price and cost figure in the ledger. All monetary values use
// shopspring/decimal, never float64.
package money

import (
	"database/sql/driver"
	"fmt"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept on every Money value.
const Places = 2

// Money is a non-float monetary amount held at cent precision.
// Values are rounded half away from zero on construction and after every
// multiplication or division, so two Money values always compare exactly.
type Money struct {
	value decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

func round(d decimal.Decimal) Money { return Money{value: d.Round(Places)} }

// FromDecimal rounds d to cent precision.
func FromDecimal(d decimal.Decimal) Money { return round(d) }

// FromInt returns a whole-unit amount.
func FromInt(units int64) Money { return Money{value: decimal.NewFromInt(units)} }

// FromCents returns an amount expressed in minor units.
func FromCents(cents int64) Money { return Money{value: decimal.New(cents, -Places)} }

// FromFloat converts a float at the edge of the system (price feeds) and
// rounds immediately.
func FromFloat(f float64) Money { return round(decimal.NewFromFloat(f)) }

// Parse reads a decimal string such as "150.00".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return round(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.value }
func (m Money) IsZero() bool             { return m.value.IsZero() }
func (m Money) IsPositive() bool         { return m.value.IsPositive() }
func (m Money) IsNegative() bool         { return m.value.IsNegative() }
func (m Money) Equal(n Money) bool       { return m.value.Equal(n.value) }
func (m Money) LessThan(n Money) bool    { return m.value.LessThan(n.value) }
func (m Money) GreaterThan(n Money) bool { return m.value.GreaterThan(n.value) }
func (m Money) Cmp(n Money) int          { return m.value.Cmp(n.value) }
func (m Money) Neg() Money               { return Money{value: m.value.Neg()} }
func (m Money) Add(n Money) Money        { return Money{value: m.value.Add(n.value)} }
func (m Money) Sub(n Money) Money        { return Money{value: m.value.Sub(n.value)} }

func (m Money) LessThanOrEqual(n Money) bool    { return m.value.LessThanOrEqual(n.value) }
func (m Money) GreaterThanOrEqual(n Money) bool { return m.value.GreaterThanOrEqual(n.value) }

// Mul returns m × q rounded to cents.
func (m Money) Mul(q Quantity) Money { return round(m.value.Mul(q.value)) }

// MulUp returns m × q rounded up to the next cent. Buys are charged with it.
func (m Money) MulUp(q Quantity) Money { return Money{value: m.value.Mul(q.value).RoundCeil(Places)} }

// MulDown returns m × q truncated to the cent. Sale proceeds use it.
func (m Money) MulDown(q Quantity) Money { return Money{value: m.value.Mul(q.value).RoundFloor(Places)} }

// Div returns m / q rounded to cents. Division by a zero quantity panics,
// callers guard it.
func (m Money) Div(q Quantity) Money { return round(m.value.Div(q.value)) }

// Ratio returns m / n as a plain decimal with 6 digits, used for percentages.
func (m Money) Ratio(n Money) decimal.Decimal {
	if n.IsZero() {
		return decimal.Zero
	}
	return m.value.DivRound(n.value, 6)
}

// String returns the plain fixed-point representation, e.g. "98500.00".
func (m Money) String() string { return m.value.StringFixed(Places) }

// Format renders m for display in the given ISO currency, e.g. "$98,500.00".
// Unknown currency codes fall back to the plain representation.
func (m Money) Format(currency string) string {
	if gomoney.GetCurrency(currency) == nil {
		return m.String() + " " + currency
	}
	cur := gomoney.New(0, currency).Currency()
	minor := m.value.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return gomoney.New(minor, currency).Display()
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = round(d)
	return nil
}

// Value implements driver.Valuer so Money can be bound to NUMERIC columns.
func (m Money) Value() (driver.Value, error) { return m.String(), nil }

// Scan implements sql.Scanner.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("money: scan: %w", err)
	}
	*m = round(d)
	return nil
}
