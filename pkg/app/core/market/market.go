package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
)

// MarketStatus gates order intake.
type MarketStatus int8

const (
	Active MarketStatus = iota
	Paused
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Market defines the immutable parameters of a hybrid pair (e.g. HYB-USDC)
type Market struct {
	// Identity
	Symbol     string         // "HYB-USDC"
	BaseToken  common.Address // token offered by sellers
	QuoteToken common.Address // token offered by buyers
	Status     MarketStatus

	// Decimals: fixed-point scale of prices, price = quote * 10^Decimals / base
	Decimals uint8

	// PriceStep: every limit price must be a positive multiple of this value
	PriceStep *uint256.Int

	// MinAmount: smallest offered amount, and smallest leftover that may rest
	MinAmount *uint256.Int

	scale *uint256.Int
}

// NewMarket creates a market with validation
func NewMarket(symbol string, base, quote common.Address, params Params) (*Market, error) {
	m := &Market{
		Symbol:     symbol,
		BaseToken:  base,
		QuoteToken: quote,
		Status:     Active,
		Decimals:   params.Decimals,
		PriceStep:  params.PriceStep.Clone(),
		MinAmount:  params.MinAmount.Clone(),
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	m.scale = amm.Scale(m.Decimals)
	return m, nil
}

// Validate checks market parameter sanity
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseToken == (common.Address{}) || m.QuoteToken == (common.Address{}) {
		return fmt.Errorf("base and quote tokens must be specified")
	}
	if m.BaseToken == m.QuoteToken {
		return fmt.Errorf("base and quote tokens must differ")
	}
	if m.Decimals > 36 {
		return fmt.Errorf("decimals %d out of range", m.Decimals)
	}
	if m.PriceStep == nil || m.PriceStep.IsZero() {
		return fmt.Errorf("price step must be positive")
	}
	if m.MinAmount == nil || m.MinAmount.IsZero() {
		return fmt.Errorf("min amount must be positive")
	}
	return nil
}

// Scale returns 10^Decimals
func (m *Market) Scale() *uint256.Int {
	if m.scale == nil {
		m.scale = amm.Scale(m.Decimals)
	}
	return m.scale
}

// ValidatePrice rejects non-positive or off-grid limit prices
func (m *Market) ValidatePrice(price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return fmt.Errorf("%w: price must be positive", core.ErrInvalidPrice)
	}
	if !new(uint256.Int).Mod(price, m.PriceStep).IsZero() {
		return fmt.Errorf("%w: %s is not a multiple of step %s", core.ErrInvalidPrice, price.Dec(), m.PriceStep.Dec())
	}
	return nil
}

// ValidateAmount rejects amounts under MinAmount
func (m *Market) ValidateAmount(amount *uint256.Int) error {
	if amount == nil || amount.Lt(m.MinAmount) {
		v := "0"
		if amount != nil {
			v = amount.Dec()
		}
		return fmt.Errorf("%w: %s < %s", core.ErrBelowMinimumAmount, v, m.MinAmount.Dec())
	}
	return nil
}

// ValidateOrder performs all request validations before any state is touched
func (m *Market) ValidateOrder(side core.Side, price, amount *uint256.Int) error {
	if m.Status != Active {
		return fmt.Errorf("%w: %s is %s", core.ErrMarketPaused, m.Symbol, m.Status)
	}
	if !side.Valid() {
		return core.ErrInvalidSide
	}
	if err := m.ValidatePrice(price); err != nil {
		return err
	}
	return m.ValidateAmount(amount)
}

// Tokens returns (offered, received) token addresses for a taker on side
func (m *Market) Tokens(side core.Side) (common.Address, common.Address) {
	if side == core.Buy {
		return m.QuoteToken, m.BaseToken
	}
	return m.BaseToken, m.QuoteToken
}

// ToDecimal converts a fixed-point value to a human readable decimal
// Example: 2500000000000000000 with Decimals=18 → 2.5
func (m *Market) ToDecimal(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(m.Decimals))
}

// FromDecimal converts a human readable decimal to fixed point, truncating
// digits beyond Decimals.
func (m *Market) FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("negative value %s", d)
	}
	v, overflow := uint256.FromBig(d.Shift(int32(m.Decimals)).Truncate(0).BigInt())
	if overflow {
		return nil, fmt.Errorf("value %s: %w", d, core.ErrOverflow)
	}
	return v, nil
}
