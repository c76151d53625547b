package domain

import (
	"fmt"

	"github.com/cockroachdb/apd"
)

// DecimalContext governs all monetary arithmetic. Item values and cash
// adjustments are consumer-marketplace amounts, so 16 significant digits is
// far more headroom than any stored value needs.
var DecimalContext = apd.Context{
	Precision:   16,
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Traps:       apd.DefaultTraps,
}

// Decimal wraps apd.Decimal so snapshots and API payloads carry exact values
// as plain strings instead of the struct's internal representation.
type Decimal struct {
	apd.Decimal
}

// NewDecimal builds a Decimal from a coefficient and exponent:
// NewDecimal(2012, -2) is 20.12.
func NewDecimal(coeff int64, exponent int32) Decimal {
	return Decimal{Decimal: *apd.New(coeff, exponent)}
}

// ParseDecimal parses a decimal string such as "20.12" or "-5".
func ParseDecimal(s string) (Decimal, error) {
	var d Decimal
	if _, _, err := d.Decimal.SetString(s); err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.Decimal.String()), nil
}

func (d *Decimal) UnmarshalText(b []byte) error {
	_, _, err := d.Decimal.SetString(string(b))
	return err
}

// Equal reports exact numeric equality (20.1 equals 20.10).
func (d Decimal) Equal(other Decimal) bool {
	return d.Decimal.Cmp(&other.Decimal) == 0
}

// Positive reports whether the value is strictly greater than zero.
func (d Decimal) Positive() bool {
	zero := apd.Decimal{}
	return d.Decimal.Cmp(&zero) > 0
}

// Negative reports whether the value is strictly less than zero.
func (d Decimal) Negative() bool {
	zero := apd.Decimal{}
	return d.Decimal.Cmp(&zero) < 0
}

// Negated returns -d.
func (d Decimal) Negated() Decimal {
	var out Decimal
	out.Decimal.Neg(&d.Decimal)
	return out
}
