package calc

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatAmount renders an amount in smallest units as a decimal string with
// the given number of decimals, e.g. 1500 with 2 decimals is "15".
func FormatAmount(amount uint64, decimals int32) string {
	return ToDecimal(amount, decimals).String()
}

// ToDecimal converts an amount in smallest units to a display decimal.
func ToDecimal(amount uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals)
}

// ParseAmount parses a display decimal back into smallest units. Values with
// more precision than decimals or outside the uint64 range are rejected.
func ParseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid amount %q: must not be negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimals", s, decimals)
	}
	n := scaled.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("invalid amount %q: out of range", s)
	}
	return n.Uint64(), nil
}
