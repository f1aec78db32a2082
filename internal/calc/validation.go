package calc

import (
	"fmt"
)

// ValidatePrice checks that a listing price is positive
func ValidatePrice(price uint64) error {
	if price == 0 {
		return fmt.Errorf("invalid price: must be positive")
	}
	return nil
}

// ValidateFeeRate checks a fee rate is a percentage between 0 and 100
func ValidateFeeRate(rate uint8) error {
	if rate > MaxFeeRate {
		return fmt.Errorf("invalid fee rate %d: must be between 0 and %d", rate, MaxFeeRate)
	}
	return nil
}

// ValidateTender checks a native payment covers the price
func ValidateTender(tendered, price uint64) error {
	if tendered < price {
		return fmt.Errorf("tendered %d less than price %d", tendered, price)
	}
	return nil
}
