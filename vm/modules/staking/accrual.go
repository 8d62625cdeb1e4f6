package staking

import (
	"github.com/holiman/uint256"

	"github.com/tolelom/stakebox/core"
)

// Accrue returns the reward earned over elapsed seconds at rate, rounded
// down. Negative elapsed time earns nothing.
func Accrue(rate core.RewardRate, elapsed int64) (uint64, error) {
	if elapsed <= 0 || rate.Numerator == 0 {
		return 0, nil
	}
	if rate.Denominator == 0 {
		return 0, ErrAccrualOverflow
	}
	product, overflow := new(uint256.Int).MulOverflow(
		uint256.NewInt(uint64(elapsed)),
		uint256.NewInt(rate.Numerator),
	)
	if overflow {
		return 0, ErrAccrualOverflow
	}
	amount := new(uint256.Int).Div(product, uint256.NewInt(rate.Denominator))
	if !amount.IsUint64() {
		return 0, ErrAccrualOverflow
	}
	return amount.Uint64(), nil
}
