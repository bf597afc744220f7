package market

import "github.com/holiman/uint256"

// Params is a helper struct for creating markets with all parameters
// This separates config from the runtime Market struct
type Params struct {
	Decimals  uint8
	PriceStep *uint256.Int
	MinAmount *uint256.Int
}

// DefaultParams returns the parameters the hybrid pairs launch with
func DefaultParams() Params {
	return Params{
		// Prices carry 18 decimals, like ERC-20 amounts
		// Example: 2000000000000000000 = 2.0 quote per base
		Decimals: 18,

		// PriceStep: 1000 wei of price (1e-15 quote per base)
		// Keeps limit prices on a grid so price levels aggregate
		PriceStep: uint256.NewInt(1000),

		// MinAmount: 1000 wei of the offered token
		// Applies to the offered amount and to any leftover that rests
		MinAmount: uint256.NewInt(1000),
	}
}

// CustomParams returns parameters with an explicit grid and minimum
func CustomParams(decimals uint8, priceStep, minAmount *uint256.Int) Params {
	return Params{
		Decimals:  decimals,
		PriceStep: priceStep.Clone(),
		MinAmount: minAmount.Clone(),
	}
}
