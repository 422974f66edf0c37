package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityPlaces is the share precision; fractional crypto lots need it.
const QuantityPlaces = 8

// QuantityEpsilon is the smallest quantity distinguishable from zero.
var QuantityEpsilon = decimal.New(1, -QuantityPlaces)

// Quantity is a share or unit count.
type Quantity struct {
	value decimal.Decimal
}

func roundQ(d decimal.Decimal) Quantity { return Quantity{value: d.Round(QuantityPlaces)} }

// Q returns a whole-unit quantity.
func Q(units int64) Quantity { return Quantity{value: decimal.NewFromInt(units)} }

func QuantityFromDecimal(d decimal.Decimal) Quantity { return roundQ(d) }

// ParseQuantity reads a decimal string such as "0.5".
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("quantity: parse %q: %w", s, err)
	}
	return roundQ(d), nil
}

func MustParseQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) Decimal() decimal.Decimal    { return q.value }
func (q Quantity) Add(p Quantity) Quantity     { return roundQ(q.value.Add(p.value)) }
func (q Quantity) Sub(p Quantity) Quantity     { return roundQ(q.value.Sub(p.value)) }
func (q Quantity) Equal(p Quantity) bool       { return q.value.Equal(p.value) }
func (q Quantity) LessThan(p Quantity) bool    { return q.value.LessThan(p.value) }
func (q Quantity) GreaterThan(p Quantity) bool { return q.value.GreaterThan(p.value) }
func (q Quantity) IsPositive() bool            { return q.value.IsPositive() }
func (q Quantity) IsNegative() bool            { return q.value.IsNegative() }
func (q Quantity) String() string              { return q.value.String() }

// IsZero reports whether q is within QuantityEpsilon of zero.
func (q Quantity) IsZero() bool { return q.value.Abs().LessThan(QuantityEpsilon) }

func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + q.value.String() + `"`), nil
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	*q = roundQ(d)
	return nil
}

func (q Quantity) Value() (driver.Value, error) { return q.value.String(), nil }

func (q *Quantity) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("quantity: scan: %w", err)
	}
	*q = roundQ(d)
	return nil
}
