package marketplace

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxAssetIDLen = 78 // decimal digits of 2^256-1

// ValidateAssetID checks an asset id is a non-empty decimal token id.
func ValidateAssetID(id string) error {
	if id == "" {
		return fmt.Errorf("asset id is empty")
	}
	if len(id) > maxAssetIDLen {
		return fmt.Errorf("asset id %q too long", id)
	}
	if strings.TrimLeft(id, "0123456789") != "" {
		return fmt.Errorf("asset id %q is not a decimal number", id)
	}
	return nil
}

// TradingKey identifies a listed asset.
type TradingKey struct {
	Collection Address `json:"collection"`
	AssetID    string  `json:"assetId"`
}

func (k TradingKey) String() string {
	return k.Collection.String() + "/" + k.AssetID
}

// TradingRecord is an active listing. It exists only while the asset is
// listed and neither sold nor cancelled.
type TradingRecord struct {
	ID         uuid.UUID `json:"id"`
	Collection Address   `json:"collection"`
	AssetID    string    `json:"assetId"`
	Seller     Address   `json:"seller"`
	Price      uint64    `json:"price"`
	Currency   Address   `json:"currency"`
	StartedAt  time.Time `json:"startedAt"`
}

// Key returns the ledger key of the record.
func (r TradingRecord) Key() TradingKey {
	return TradingKey{Collection: r.Collection, AssetID: r.AssetID}
}

// SpecialFee is a per-collection fee override.
type SpecialFee struct {
	Enabled bool  `json:"enabled"`
	Rate    uint8 `json:"rate"`
}

// Sale describes a completed purchase.
type Sale struct {
	Record   TradingRecord `json:"record"`
	Buyer    Address       `json:"buyer"`
	Rate     uint8         `json:"rate"`
	Fee      uint64        `json:"fee"`
	Proceeds uint64        `json:"proceeds"`
	// Change is the part of a native tender that was not drawn. It never
	// left the buyer, so no refund transfer follows.
	Change uint64    `json:"change"`
	SoldAt time.Time `json:"soldAt"`
}

// TradingFilter narrows ListTradings. Zero fields match everything.
type TradingFilter struct {
	Collection Address
	Seller     Address
	Currency   Address
}

func (f TradingFilter) matches(r TradingRecord) bool {
	if f.Collection != "" && r.Collection != f.Collection {
		return false
	}
	if f.Seller != "" && r.Seller != f.Seller {
		return false
	}
	if f.Currency != "" && r.Currency != f.Currency {
		return false
	}
	return true
}
