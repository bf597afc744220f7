package api

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
)

// API response types for REST endpoints and WebSocket messages.
// Raw amounts are decimal strings of base units; *Decimal fields are the
// human readable rendering at the pair's price decimals.

// ==============================
// REST Response Types
// ==============================

// PairInfo is the pair's static configuration plus its pool state
type PairInfo struct {
	Symbol         string          `json:"symbol"` // e.g., "HYB-USDC"
	BaseToken      string          `json:"baseToken"`
	QuoteToken     string          `json:"quoteToken"`
	Status         string          `json:"status"` // "Active", "Paused"
	Decimals       uint8           `json:"decimals"`
	PriceStep      *uint256.Int    `json:"priceStep"`
	MinAmount      *uint256.Int    `json:"minAmount"`
	FeeNumerator   uint64          `json:"feeNumerator"`
	FeeDenominator uint64          `json:"feeDenominator"`
	Reserves       amm.Reserves    `json:"reserves"`
	Price          *uint256.Int    `json:"price"`
	PriceDecimal   decimal.Decimal `json:"priceDecimal"`
}

// PriceInfo is the pool's marginal price
type PriceInfo struct {
	Symbol       string          `json:"symbol"`
	Price        *uint256.Int    `json:"price"`
	PriceDecimal decimal.Decimal `json:"priceDecimal"`
	Reserves     amm.Reserves    `json:"reserves"`
}

// OrderbookSnapshot is the pool price and the aggregated book
type OrderbookSnapshot struct {
	Symbol       string          `json:"symbol"`
	Price        *uint256.Int    `json:"price"`
	PriceDecimal decimal.Decimal `json:"priceDecimal"`
	Bids         []PriceLevel    `json:"bids"` // Sorted high to low, quote escrowed
	Asks         []PriceLevel    `json:"asks"` // Sorted low to high, base escrowed
	Timestamp    int64           `json:"timestamp"` // Unix milliseconds
}

// PriceLevel is the remaining amount resting at one price
type PriceLevel struct {
	Price        *uint256.Int    `json:"price"`
	PriceDecimal decimal.Decimal `json:"priceDecimal"`
	Amount       *uint256.Int    `json:"amount"`
}

// OrderInfo is a resting or exhausted limit order
type OrderInfo struct {
	ID              uint64          `json:"id"`
	Owner           string          `json:"owner"`
	Beneficiary     string          `json:"beneficiary"`
	Side            string          `json:"side"` // "buy" or "sell"
	Price           *uint256.Int    `json:"price"`
	PriceDecimal    decimal.Decimal `json:"priceDecimal"`
	AmountOffered   *uint256.Int    `json:"amountOffered"`
	AmountRemaining *uint256.Int    `json:"amountRemaining"`
	Live            bool            `json:"live"`
}

// BalanceInfo is an account's settled balances in the pair's tokens
type BalanceInfo struct {
	Address string       `json:"address"`
	Base    *uint256.Int `json:"base"`
	Quote   *uint256.Int `json:"quote"`
}

// FillInfo is one resting order's share of an execution
type FillInfo struct {
	OrderID  uint64       `json:"orderId"`
	Price    *uint256.Int `json:"price"`
	Paid     *uint256.Int `json:"paid"`     // taker asset paid to the maker
	Received *uint256.Int `json:"received"` // maker asset received, after fee
	Fee      *uint256.Int `json:"fee"`
	Filled   bool         `json:"filled"`
}

// ExecutionInfo summarizes a matched (or quoted) request
type ExecutionInfo struct {
	Side            string          `json:"side"`
	Offered         *uint256.Int    `json:"offered"`
	Received        *uint256.Int    `json:"received"`
	PoolIn          *uint256.Int    `json:"poolIn"`
	PoolOut         *uint256.Int    `json:"poolOut"`
	OrderIn         *uint256.Int    `json:"orderIn"`
	OrderOut        *uint256.Int    `json:"orderOut"`
	Fee             *uint256.Int    `json:"fee"`
	Leftover        *uint256.Int    `json:"leftover"`
	StartPrice      *uint256.Int    `json:"startPrice"`
	EndPrice        *uint256.Int    `json:"endPrice"`
	EndPriceDecimal decimal.Decimal `json:"endPriceDecimal"`
	Fills           []FillInfo      `json:"fills"`
	Created         *OrderInfo      `json:"created,omitempty"`
}

// SubmitOrderResponse is returned after an order is accepted
type SubmitOrderResponse struct {
	Status    string        `json:"status"` // "accepted"
	BatchID   uuid.UUID     `json:"batchId"`
	Execution ExecutionInfo `json:"execution"`
}

// HealthStatus reports liveness
type HealthStatus struct {
	Status string `json:"status"`
	Pair   string `json:"pair"`
	Time   int64  `json:"time"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is a generic WebSocket message
type WSMessage struct {
	Channel string      `json:"channel"` // "orders", "trades"
	Type    string      `json:"type"`    // event kind
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades", "orders"]
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
