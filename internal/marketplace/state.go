package marketplace

import (
	"fmt"

	"github.com/leafsii/marketplace/internal/calc"
)

// State is a point-in-time copy of everything the engine owns. It is what
// gets persisted after each committed operation and restored at startup.
type State struct {
	Tradings    []TradingRecord        `json:"tradings"`
	SpecialFees map[Address]SpecialFee `json:"specialFees"`
	Currencies  []Address              `json:"currencies"`
	Admins      []Address              `json:"admins"`
	Fees        map[Address]uint64     `json:"fees"`
}

// snapshot copies the engine state. Caller holds e.mu.
func (e *Engine) snapshot() State {
	st := State{
		Tradings:    e.ledger.List(TradingFilter{}),
		SpecialFees: e.fees.All(),
		Currencies:  e.currencies.List()[1:],
		Admins:      e.access.List(),
		Fees:        make(map[Address]uint64, len(e.balances)),
	}
	for c, v := range e.balances {
		st.Fees[c] = v
	}
	return st
}

// restore replaces the engine state with st after validating it. Admins in
// st replace the configured ones only when st has any. The saved allow-list
// and admins win over configuration; configured entries they lack are logged
// so they can be added through the admin operations. Caller holds e.mu.
func (e *Engine) restore(st State) error {
	ledger := NewLedger()
	for _, r := range st.Tradings {
		if !r.Collection.Valid() || !r.Seller.Valid() || !r.Currency.Valid() {
			return fmt.Errorf("restore trading %s: invalid address", r.Key())
		}
		if err := calc.ValidatePrice(r.Price); err != nil {
			return fmt.Errorf("restore trading %s: %w", r.Key(), err)
		}
		if err := ledger.Insert(r); err != nil {
			return fmt.Errorf("restore trading %s: %w", r.Key(), err)
		}
	}

	fees, err := NewFeePolicy(e.fees.Global())
	if err != nil {
		return err
	}
	for c, sf := range st.SpecialFees {
		if err := calc.ValidateFeeRate(sf.Rate); err != nil {
			return fmt.Errorf("restore special fee %s: %w", c, err)
		}
		fees.special[c] = sf
	}

	currencies := NewAllowList()
	for _, c := range st.Currencies {
		if !c.Valid() {
			return fmt.Errorf("restore currency %q: invalid address", c)
		}
		currencies.Add(c)
	}

	access := e.access
	if len(st.Admins) > 0 {
		access = NewAccessControl(st.Admins...)
	}

	var missing []Address
	for _, c := range e.currencies.List()[1:] {
		if !currencies.IsAllowed(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		e.logger.Warnw("Configured currencies are not in the restored allow-list", "currencies", missing)
	}
	missing = nil
	for _, a := range e.access.List() {
		if !access.IsAdmin(a) {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		e.logger.Warnw("Configured administrators are not in the restored roles", "admins", missing)
	}

	balances := make(map[Address]uint64, len(st.Fees))
	for c, v := range st.Fees {
		balances[c] = v
	}

	e.ledger = ledger
	e.fees = fees
	e.currencies = currencies
	e.access = access
	e.balances = balances
	return nil
}
