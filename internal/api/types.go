package api

import (
	"strconv"
	"time"

	"github.com/leafsii/marketplace/internal/marketplace"
)

// Amounts travel as decimal strings of smallest units; the *Display fields
// are the same amounts scaled by the currency's decimals.

type TradingDTO struct {
	ID           string `json:"id"`
	Collection   string `json:"collection"`
	AssetID      string `json:"assetId"`
	Seller       string `json:"seller"`
	Price        string `json:"price"`
	PriceDisplay string `json:"priceDisplay"`
	Currency     string `json:"currency"`
	StartedAt    int64  `json:"startedAt"`
}

type TradingListDTO struct {
	Items     []TradingDTO `json:"items"`
	Count     int          `json:"count"`
	UpdatedAt int64        `json:"updatedAt"`
}

type SaleDTO struct {
	Trading  TradingDTO `json:"trading"`
	Buyer    string     `json:"buyer"`
	Rate     uint8      `json:"rate"`
	Fee      string     `json:"fee"`
	Proceeds string     `json:"proceeds"`
	Change   string     `json:"change"`
	SoldAt   int64      `json:"soldAt"`
}

type FeeDTO struct {
	Collection    string `json:"collection"`
	SpecialFee    bool   `json:"specialFee"`
	SpecialRate   uint8  `json:"specialRate"`
	EffectiveRate uint8  `json:"effectiveRate"`
	GlobalRate    uint8  `json:"globalRate"`
}

type CurrenciesDTO struct {
	Currencies []string `json:"currencies"`
}

type BalanceDTO struct {
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
}

type BalancesDTO struct {
	Fees []BalanceDTO `json:"fees"`
}

type ClaimDTO struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type RolesDTO struct {
	Admins []string `json:"admins"`
}

type EventsDTO struct {
	Items      []marketplace.Event `json:"items"`
	NextCursor string              `json:"nextCursor,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Requests

type CreateTradingRequest struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
}

type BuyRequest struct {
	// Value is the native amount attached to the purchase; zero for token listings.
	Value string `json:"value"`
}

type SpecialFeeRequest struct {
	Rate int `json:"rate"`
}

type CurrencyRequest struct {
	Currency string `json:"currency"`
}

type ClaimRequest struct {
	Currency string `json:"currency"`
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
