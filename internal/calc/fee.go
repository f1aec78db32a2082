package calc

import (
	"fmt"
	"math/bits"
)

// MaxFeeRate is the upper bound of a fee rate, expressed in percent.
const MaxFeeRate = 100

// SplitFee divides price into the platform fee and the seller proceeds.
// fee = price*rate/100 computed on the full 128-bit product and truncated;
// proceeds = price - fee, so the rounding remainder stays with the seller.
func SplitFee(price uint64, rate uint8) (fee, proceeds uint64, err error) {
	if err := ValidateFeeRate(rate); err != nil {
		return 0, 0, err
	}
	hi, lo := bits.Mul64(price, uint64(rate))
	// hi < 100 because rate <= 100, so Div64 cannot overflow.
	fee, _ = bits.Div64(hi, lo, MaxFeeRate)
	return fee, price - fee, nil
}

// MustSplitFee is SplitFee for rates already validated by the caller.
func MustSplitFee(price uint64, rate uint8) (fee, proceeds uint64) {
	fee, proceeds, err := SplitFee(price, rate)
	if err != nil {
		panic(fmt.Sprintf("calc: %v", err))
	}
	return fee, proceeds
}
