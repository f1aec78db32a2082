package marketplace

import (
	"context"
	"fmt"
)

type subject Address

func (s subject) String() string { return string(s) }

// AddCurrency allows a fungible currency. Adding an allowed currency or the
// native sentinel is a no-op.
func (e *Engine) AddCurrency(ctx context.Context, caller, currency Address) error {
	const op = "addCurrency"
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(op, subject(currency), caller); err != nil {
		return err
	}
	if !currency.Valid() {
		return e.fail(op, subject(currency), ErrInvalidArgument, "invalid currency", nil)
	}
	if !e.currencies.Add(currency) {
		return nil
	}

	ev := newEvent(EventCurrencyAdded, caller, e.now())
	ev.Currency = currency
	e.logger.Infow("Currency added", "currency", currency, "admin", caller)
	e.commit(ctx, ev)
	return nil
}

// RemoveCurrency disallows a fungible currency for new listings. Live
// tradings priced in it are unaffected.
func (e *Engine) RemoveCurrency(ctx context.Context, caller, currency Address) error {
	const op = "removeCurrency"
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(op, subject(currency), caller); err != nil {
		return err
	}
	if !currency.Valid() {
		return e.fail(op, subject(currency), ErrInvalidArgument, "invalid currency", nil)
	}
	if currency.IsNative() {
		return e.fail(op, subject(currency), ErrInvalidArgument, "the native currency cannot be removed", nil)
	}
	if !e.currencies.Remove(currency) {
		return nil
	}

	ev := newEvent(EventCurrencyRemoved, caller, e.now())
	ev.Currency = currency
	e.logger.Infow("Currency removed", "currency", currency, "admin", caller)
	e.commit(ctx, ev)
	return nil
}

// SetSpecialFee overrides the fee rate of collection for subsequent sales.
func (e *Engine) SetSpecialFee(ctx context.Context, caller, collection Address, rate uint8) error {
	const op = "setSpecialFee"
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(op, subject(collection), caller); err != nil {
		return err
	}
	if !collection.Valid() || collection.IsNative() {
		return e.fail(op, subject(collection), ErrInvalidArgument, "invalid collection", nil)
	}
	if err := e.fees.SetSpecial(collection, rate); err != nil {
		return e.fail(op, subject(collection), ErrInvalidArgument, err.Error(), nil)
	}

	ev := newEvent(EventSpecialFeeSet, caller, e.now())
	ev.Collection = collection
	ev.Rate = &rate
	e.logger.Infow("Special fee set", "collection", collection, "rate", rate, "admin", caller)
	e.commit(ctx, ev)
	return nil
}

// RemoveSpecialFee restores the global rate for collection. Removing an
// absent override succeeds.
func (e *Engine) RemoveSpecialFee(ctx context.Context, caller, collection Address) error {
	const op = "removeSpecialFee"
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(op, subject(collection), caller); err != nil {
		return err
	}
	if !collection.Valid() {
		return e.fail(op, subject(collection), ErrInvalidArgument, "invalid collection", nil)
	}
	if !e.fees.RemoveSpecial(collection) {
		return nil
	}

	ev := newEvent(EventSpecialFeeRemoved, caller, e.now())
	ev.Collection = collection
	e.logger.Infow("Special fee removed", "collection", collection, "admin", caller)
	e.commit(ctx, ev)
	return nil
}

// AdminClaim pays the whole accumulated fee balance of currency to the
// calling administrator. A zero balance is a successful no-op.
func (e *Engine) AdminClaim(ctx context.Context, caller, currency Address) (uint64, error) {
	const op = "adminClaim"
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(op, subject(currency), caller); err != nil {
		return 0, err
	}
	if !currency.Valid() {
		return 0, e.fail(op, subject(currency), ErrInvalidArgument, "invalid currency", nil)
	}
	amount := e.balances[currency]
	if amount == 0 {
		return 0, nil
	}
	if err := e.payments.TransferFrom(ctx, currency, e.self, e.self, caller, amount); err != nil {
		return 0, e.fail(op, subject(currency), ErrPaymentTransferFailed, "", err)
	}
	delete(e.balances, currency)

	ev := newEvent(EventFeesClaimed, caller, e.now())
	ev.Counterparty = caller
	ev.Currency, ev.Amount = currency, amount
	e.logger.Infow("Fees claimed", "currency", currency, "amount", amount, "admin", caller)
	e.recorder.RecordFeesClaimed(currency.String(), amount)
	e.commit(ctx, ev)
	return amount, nil
}

// GrantAdmin gives principal the administrator role.
func (e *Engine) GrantAdmin(ctx context.Context, caller, principal Address) error {
	const op = "grantAdmin"
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(op, subject(principal), caller); err != nil {
		return err
	}
	if !principal.Valid() || principal.IsNative() {
		return e.fail(op, subject(principal), ErrInvalidArgument, "invalid principal", nil)
	}
	if !e.access.Grant(principal) {
		return nil
	}

	ev := newEvent(EventAdminGranted, caller, e.now())
	ev.Counterparty = principal
	e.logger.Infow("Administrator granted", "principal", principal, "admin", caller)
	e.commit(ctx, ev)
	return nil
}

// RevokeAdmin removes the administrator role. The last administrator cannot
// be revoked.
func (e *Engine) RevokeAdmin(ctx context.Context, caller, principal Address) error {
	const op = "revokeAdmin"
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(op, subject(principal), caller); err != nil {
		return err
	}
	removed, err := e.access.Revoke(principal)
	if err != nil {
		return e.fail(op, subject(principal), ErrInvalidArgument, "cannot revoke the last administrator", nil)
	}
	if !removed {
		return nil
	}

	ev := newEvent(EventAdminRevoked, caller, e.now())
	ev.Counterparty = principal
	e.logger.Infow("Administrator revoked", "principal", principal, "admin", caller)
	e.commit(ctx, ev)
	return nil
}

// Trading returns the live record for (collection, assetID), if any.
func (e *Engine) Trading(collection Address, assetID string) (TradingRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Get(TradingKey{Collection: collection, AssetID: assetID})
}

func (e *Engine) ListTradings(filter TradingFilter) []TradingRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.List(filter)
}

// SpecialFee returns the override for collection; the zero value means none.
func (e *Engine) SpecialFee(collection Address) SpecialFee {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees.Special(collection)
}

// FeeRate returns the rate a sale in collection would pay now.
func (e *Engine) FeeRate(collection Address) uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees.Resolve(collection)
}

func (e *Engine) GlobalFeeRate() uint8 {
	return e.fees.Global()
}

func (e *Engine) IsCurrencyAllowed(currency Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currencies.IsAllowed(currency)
}

// AllowedCurrencies lists the native sentinel first.
func (e *Engine) AllowedCurrencies() []Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currencies.List()
}

func (e *Engine) AccumulatedFee(currency Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[currency]
}

func (e *Engine) AccumulatedFees() map[Address]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[Address]uint64, len(e.balances))
	for c, v := range e.balances {
		out[c] = v
	}
	return out
}

func (e *Engine) IsAdmin(principal Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.access.IsAdmin(principal)
}

func (e *Engine) Admins() []Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.access.List()
}

// Snapshot returns a copy of the engine state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Engine) String() string {
	return fmt.Sprintf("marketplace(%s)", e.self)
}
