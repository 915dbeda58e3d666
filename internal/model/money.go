package model

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in minor units. All pipeline arithmetic happens
// in int64 minor units; conversion to decimal occurs only at the input and
// output boundaries, so large batch sums never accumulate float drift.
type Cents int64

var hundred = decimal.NewFromInt(100)

// ParseCents converts a decimal amount string (e.g. "12.34") to Cents.
// Empty strings parse as zero. Amounts with sub-cent precision are rejected
// rather than rounded, since silent rounding at the input boundary would make
// reconciliation deltas unattributable.
func ParseCents(s string) (Cents, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, eris.Wrapf(err, "model: parse amount %q", s)
	}
	m := d.Mul(hundred)
	if !m.IsInteger() {
		return 0, eris.Errorf("model: amount %q has sub-cent precision", s)
	}
	return Cents(m.IntPart()), nil
}

// Decimal returns the amount in major units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String renders the amount in major units with two fractional digits.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}
