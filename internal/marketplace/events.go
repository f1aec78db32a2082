package marketplace

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a committed state change.
type EventType string

const (
	EventTradingCreated    EventType = "TRADING_CREATED"
	EventTradingSold       EventType = "TRADING_SOLD"
	EventTradingCancelled  EventType = "TRADING_CANCELLED"
	EventFeesClaimed       EventType = "FEES_CLAIMED"
	EventCurrencyAdded     EventType = "CURRENCY_ADDED"
	EventCurrencyRemoved   EventType = "CURRENCY_REMOVED"
	EventSpecialFeeSet     EventType = "SPECIAL_FEE_SET"
	EventSpecialFeeRemoved EventType = "SPECIAL_FEE_REMOVED"
	EventAdminGranted      EventType = "ADMIN_GRANTED"
	EventAdminRevoked      EventType = "ADMIN_REVOKED"
)

// AllEventTypes lists every event type in emission-independent order.
var AllEventTypes = []EventType{
	EventTradingCreated, EventTradingSold, EventTradingCancelled, EventFeesClaimed,
	EventCurrencyAdded, EventCurrencyRemoved, EventSpecialFeeSet, EventSpecialFeeRemoved,
	EventAdminGranted, EventAdminRevoked,
}

// Event describes one committed operation. Fields not relevant to Type are
// left zero.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	Actor      Address        `json:"actor"`
	At         time.Time      `json:"at"`
	Collection Address        `json:"collection,omitempty"`
	AssetID    string         `json:"assetId,omitempty"`
	Record     *TradingRecord `json:"record,omitempty"`
	// Counterparty is the buyer for sales, the claimant of fees and the
	// subject of role changes.
	Counterparty Address `json:"counterparty,omitempty"`
	Currency     Address `json:"currency,omitempty"`
	Amount       uint64  `json:"amount,omitempty"`
	Fee          uint64  `json:"fee,omitempty"`
	Rate         *uint8  `json:"rate,omitempty"`
}

func newEvent(typ EventType, actor Address, at time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, Actor: actor, At: at}
}
