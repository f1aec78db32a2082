package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leafsii/marketplace/internal/calc"
)

// Config fixes the engine identity and its initial policy.
type Config struct {
	// Address is the engine principal: the operator for asset transfers and
	// the custodian of collected payments and fees.
	Address    Address
	FeeRate    uint8
	Admins     []Address
	Currencies []Address
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

func WithStateStore(store StateStore) Option {
	return func(e *Engine) { e.store = store }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithState restores a previously saved snapshot at construction.
func WithState(st State) Option {
	return func(e *Engine) { e.initial = &st }
}

// Engine is the marketplace. Every exported method runs under one lock, so
// each operation, including its calls to the registry and payment provider,
// is indivisible relative to every other operation.
type Engine struct {
	mu sync.Mutex

	self     Address
	registry AssetRegistry
	payments PaymentProvider

	ledger     *Ledger
	fees       *FeePolicy
	currencies *AllowList
	access     *AccessControl
	balances   map[Address]uint64

	sink     EventSink
	store    StateStore
	recorder Recorder
	logger   *zap.SugaredLogger
	now      func() time.Time
	initial  *State
}

func NewEngine(cfg Config, registry AssetRegistry, payments PaymentProvider, opts ...Option) (*Engine, error) {
	if registry == nil || payments == nil {
		return nil, errors.New("marketplace: registry and payment provider are required")
	}
	if !cfg.Address.Valid() || cfg.Address.IsNative() {
		return nil, fmt.Errorf("marketplace: invalid engine address %q", cfg.Address)
	}
	if len(cfg.Admins) == 0 {
		return nil, errors.New("marketplace: at least one administrator is required")
	}
	for _, a := range cfg.Admins {
		if !a.Valid() {
			return nil, fmt.Errorf("marketplace: invalid admin address %q", a)
		}
	}
	fees, err := NewFeePolicy(cfg.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("marketplace: %w", err)
	}
	currencies := NewAllowList()
	for _, c := range cfg.Currencies {
		if !c.Valid() {
			return nil, fmt.Errorf("marketplace: invalid currency address %q", c)
		}
		currencies.Add(c)
	}

	e := &Engine{
		self:       cfg.Address,
		registry:   registry,
		payments:   payments,
		ledger:     NewLedger(),
		fees:       fees,
		currencies: currencies,
		access:     NewAccessControl(cfg.Admins...),
		balances:   make(map[Address]uint64),
		recorder:   nopRecorder{},
		logger:     zap.NewNop().Sugar(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.initial != nil {
		if err := e.restore(*e.initial); err != nil {
			return nil, fmt.Errorf("marketplace: %w", err)
		}
		e.logger.Infow("Restored marketplace state",
			"tradings", e.ledger.Len(), "admins", len(e.access.List()))
		e.initial = nil
	}
	return e, nil
}

// Address returns the engine principal.
func (e *Engine) Address() Address {
	return e.self
}

// fail builds the operation error, logs the rejection and counts it.
func (e *Engine) fail(op string, key fmt.Stringer, kind error, detail string, cause error) error {
	k := ""
	if key != nil {
		k = key.String()
	}
	err := opErr(op, k, kind, detail, cause)
	e.logger.Debugw("Operation rejected", "op", op, "key", k, "error", err)
	e.recorder.RecordFailure(op, Kind(err))
	return err
}

// commit delivers events and persists a snapshot. Failures are logged and
// never undo the operation. Caller holds e.mu.
func (e *Engine) commit(ctx context.Context, events ...Event) {
	ctx = context.WithoutCancel(ctx)
	if e.sink != nil {
		for _, ev := range events {
			if err := e.sink.Emit(ctx, ev); err != nil {
				e.logger.Warnw("Failed to emit event", "type", ev.Type, "id", ev.ID, "error", err)
			}
		}
	}
	if e.store != nil {
		if err := e.store.Save(ctx, e.snapshot()); err != nil {
			e.logger.Errorw("Failed to save marketplace snapshot", "error", err)
			e.recorder.RecordSnapshotFailure()
		}
	}
}

func (e *Engine) requireAdmin(op string, key fmt.Stringer, caller Address) error {
	if !e.access.IsAdmin(caller) {
		return e.fail(op, key, ErrNotAuthorized, fmt.Sprintf("%s is not an administrator", caller), nil)
	}
	return nil
}

func validateKey(key TradingKey) error {
	if !key.Collection.Valid() || key.Collection.IsNative() {
		return fmt.Errorf("invalid collection %q", key.Collection)
	}
	return ValidateAssetID(key.AssetID)
}

// CreateTrading lists assetID of collection for sale by seller, the caller.
// The asset stays with the seller until it is bought.
func (e *Engine) CreateTrading(ctx context.Context, seller, collection Address, assetID string, price uint64, currency Address) (TradingRecord, error) {
	const op = "createTrading"
	key := TradingKey{Collection: collection, AssetID: assetID}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateKey(key); err != nil {
		return TradingRecord{}, e.fail(op, key, ErrInvalidArgument, err.Error(), nil)
	}
	if !seller.Valid() {
		return TradingRecord{}, e.fail(op, key, ErrInvalidArgument, fmt.Sprintf("invalid seller %q", seller), nil)
	}
	if seller == e.self {
		return TradingRecord{}, e.fail(op, key, ErrInvalidArgument, "the marketplace cannot list assets", nil)
	}
	if err := calc.ValidatePrice(price); err != nil {
		return TradingRecord{}, e.fail(op, key, ErrInvalidArgument, err.Error(), nil)
	}
	if !currency.Valid() {
		return TradingRecord{}, e.fail(op, key, ErrInvalidArgument, fmt.Sprintf("invalid currency %q", currency), nil)
	}
	if !e.currencies.IsAllowed(currency) {
		return TradingRecord{}, e.fail(op, key, ErrCurrencyNotAllowed, currency.String(), nil)
	}
	if _, listed := e.ledger.Get(key); listed {
		return TradingRecord{}, e.fail(op, key, ErrAlreadyListed, "", nil)
	}

	owner, err := e.registry.OwnerOf(ctx, collection, assetID)
	if err != nil {
		return TradingRecord{}, e.fail(op, key, ErrNotAuthorized, "owner lookup", err)
	}
	if owner != seller {
		return TradingRecord{}, e.fail(op, key, ErrNotAuthorized, fmt.Sprintf("%s does not own the asset", seller), nil)
	}
	approved, err := e.registry.IsApprovedForTransfer(ctx, collection, assetID, e.self)
	if err != nil {
		return TradingRecord{}, e.fail(op, key, ErrNotAuthorized, "approval lookup", err)
	}
	if !approved {
		return TradingRecord{}, e.fail(op, key, ErrNotAuthorized, "marketplace is not approved to transfer the asset", nil)
	}

	record := TradingRecord{
		ID:         uuid.New(),
		Collection: collection,
		AssetID:    assetID,
		Seller:     seller,
		Price:      price,
		Currency:   currency,
		StartedAt:  e.now(),
	}
	if err := e.ledger.Insert(record); err != nil {
		return TradingRecord{}, e.fail(op, key, err, "", nil)
	}

	ev := newEvent(EventTradingCreated, seller, record.StartedAt)
	ev.Collection, ev.AssetID = collection, assetID
	ev.Record = &record
	ev.Currency, ev.Amount = currency, price

	e.logger.Infow("Trading created",
		"collection", collection, "asset_id", assetID, "seller", seller,
		"price", price, "currency", currency)
	e.recorder.RecordListed(currency.String())
	e.commit(ctx, ev)
	return record, nil
}

// Buy purchases a listed asset for buyer, the caller. tendered is the native
// value attached to the call and must be zero for token-priced tradings.
//
// Payment is collected into custody, the asset is delivered and the seller
// is paid, all inside one unit of work on each collaborator. A failure at any
// step rolls every move back and leaves the trading listed.
func (e *Engine) Buy(ctx context.Context, buyer, collection Address, assetID string, tendered uint64) (Sale, error) {
	const op = "buy"
	key := TradingKey{Collection: collection, AssetID: assetID}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateKey(key); err != nil {
		return Sale{}, e.fail(op, key, ErrInvalidArgument, err.Error(), nil)
	}
	if !buyer.Valid() {
		return Sale{}, e.fail(op, key, ErrInvalidArgument, fmt.Sprintf("invalid buyer %q", buyer), nil)
	}
	if buyer == e.self {
		return Sale{}, e.fail(op, key, ErrInvalidArgument, "the marketplace cannot buy", nil)
	}
	record, ok := e.ledger.Get(key)
	if !ok {
		return Sale{}, e.fail(op, key, ErrNotListed, "", nil)
	}

	rate := e.fees.Resolve(collection)
	fee, proceeds := calc.MustSplitFee(record.Price, rate)

	var spender Address
	var change uint64
	if record.Currency.IsNative() {
		if err := calc.ValidateTender(tendered, record.Price); err != nil {
			return Sale{}, e.fail(op, key, ErrInsufficientPayment, err.Error(), nil)
		}
		spender = buyer
		change = tendered - record.Price
	} else {
		if tendered != 0 {
			return Sale{}, e.fail(op, key, ErrInvalidArgument, "native value sent for a token-priced trading", nil)
		}
		spender = e.self
	}

	if err := e.verifyDeliverable(ctx, record); err != nil {
		return Sale{}, e.fail(op, key, ErrAssetTransferFailed, "", err)
	}

	payTx, err := e.payments.Begin(ctx)
	if err != nil {
		return Sale{}, e.fail(op, key, ErrPaymentTransferFailed, "begin payment", err)
	}
	assetTx, err := e.registry.Begin(ctx)
	if err != nil {
		return Sale{}, e.abort(op, key, ErrAssetTransferFailed, "begin transfer", err, payTx)
	}

	if err := payTx.TransferFrom(ctx, record.Currency, spender, buyer, e.self, record.Price); err != nil {
		return Sale{}, e.abort(op, key, ErrPaymentTransferFailed, "collect payment", err, payTx, assetTx)
	}
	if err := assetTx.Transfer(ctx, collection, assetID, e.self, record.Seller, buyer); err != nil {
		return Sale{}, e.abort(op, key, ErrAssetTransferFailed, "deliver asset", err, payTx, assetTx)
	}
	if proceeds > 0 {
		if err := payTx.TransferFrom(ctx, record.Currency, e.self, e.self, record.Seller, proceeds); err != nil {
			return Sale{}, e.abort(op, key, ErrPaymentTransferFailed, "pay seller", err, payTx, assetTx)
		}
	}
	for _, tx := range []Tx{payTx, assetTx} {
		if err := tx.Commit(); err != nil {
			e.logger.Errorw("Failed to commit settlement", "key", key, "error", err)
		}
	}

	sale := Sale{
		Record:   record,
		Buyer:    buyer,
		Rate:     rate,
		Fee:      fee,
		Proceeds: proceeds,
		Change:   change,
		SoldAt:   e.now(),
	}
	e.ledger.Remove(key)
	e.balances[record.Currency] += fee

	ev := newEvent(EventTradingSold, buyer, sale.SoldAt)
	ev.Collection, ev.AssetID = collection, assetID
	ev.Record = &sale.Record
	ev.Counterparty = buyer
	ev.Currency, ev.Amount, ev.Fee = record.Currency, record.Price, fee
	ev.Rate = &sale.Rate

	e.logger.Infow("Trading sold",
		"collection", collection, "asset_id", assetID, "seller", record.Seller, "buyer", buyer,
		"price", record.Price, "fee", fee, "rate", rate, "currency", record.Currency)
	e.recorder.RecordSold(record.Currency.String(), record.Price, fee)
	e.commit(ctx, ev)
	return sale, nil
}

// abort rolls back txs, most recent first, and reports the failure.
func (e *Engine) abort(op string, key TradingKey, kind error, detail string, cause error, txs ...Tx) error {
	for i := len(txs) - 1; i >= 0; i-- {
		if err := txs[i].Rollback(); err != nil {
			e.logger.Errorw("Rollback failed", "op", op, "key", key, "error", err)
			cause = errors.Join(cause, err)
		}
	}
	return e.fail(op, key, kind, detail, cause)
}

// verifyDeliverable checks the seller still holds the asset and the engine
// may still move it.
func (e *Engine) verifyDeliverable(ctx context.Context, record TradingRecord) error {
	owner, err := e.registry.OwnerOf(ctx, record.Collection, record.AssetID)
	if err != nil {
		return err
	}
	if owner != record.Seller {
		return fmt.Errorf("seller %s no longer owns the asset", record.Seller)
	}
	approved, err := e.registry.IsApprovedForTransfer(ctx, record.Collection, record.AssetID, e.self)
	if err != nil {
		return err
	}
	if !approved {
		return errors.New("marketplace approval was revoked")
	}
	return nil
}

// CancelTrading withdraws a listing. Only the seller may cancel; no funds or
// assets move.
func (e *Engine) CancelTrading(ctx context.Context, caller, collection Address, assetID string) (TradingRecord, error) {
	const op = "cancelTrading"
	key := TradingKey{Collection: collection, AssetID: assetID}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateKey(key); err != nil {
		return TradingRecord{}, e.fail(op, key, ErrInvalidArgument, err.Error(), nil)
	}
	record, ok := e.ledger.Get(key)
	if !ok {
		return TradingRecord{}, e.fail(op, key, ErrNotListed, "", nil)
	}
	if caller != record.Seller {
		return TradingRecord{}, e.fail(op, key, ErrNotSeller, "", nil)
	}
	e.ledger.Remove(key)

	ev := newEvent(EventTradingCancelled, caller, e.now())
	ev.Collection, ev.AssetID = collection, assetID
	ev.Record = &record

	e.logger.Infow("Trading cancelled", "collection", collection, "asset_id", assetID, "seller", caller)
	e.recorder.RecordCancelled()
	e.commit(ctx, ev)
	return record, nil
}
