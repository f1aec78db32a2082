package marketplace

import "context"

// Tx is an open unit of work on a collaborator. Moves made through it take
// effect immediately; Rollback reverts every one of them and Commit keeps
// them. Either call finishes the Tx.
type Tx interface {
	Commit() error
	Rollback() error
}

// AssetRegistry is the ownership registry of non-fungible assets.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, collection Address, assetID string) (Address, error)
	// IsApprovedForTransfer reports whether operator may move the asset on
	// behalf of its owner.
	IsApprovedForTransfer(ctx context.Context, collection Address, assetID string, operator Address) (bool, error)
	Begin(ctx context.Context) (AssetTx, error)
}

type AssetTx interface {
	Tx
	// Transfer moves the asset from -> to. It fails unless operator is the
	// owner or approved.
	Transfer(ctx context.Context, collection Address, assetID string, operator, from, to Address) error
}

// PaymentProvider moves native value and fungible tokens.
//
// TransferFrom debits from and credits to. When spender differs from from,
// the provider draws on the allowance from granted spender; for the native
// currency the spender is always the payer.
type PaymentProvider interface {
	BalanceOf(ctx context.Context, currency, principal Address) (uint64, error)
	TransferFrom(ctx context.Context, currency, spender, from, to Address, amount uint64) error
	Begin(ctx context.Context) (PaymentTx, error)
}

// PaymentTx has the TransferFrom rules of PaymentProvider.
type PaymentTx interface {
	Tx
	TransferFrom(ctx context.Context, currency, spender, from, to Address, amount uint64) error
}

// EventSink receives events for committed operations.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// StateStore persists engine snapshots.
type StateStore interface {
	Save(ctx context.Context, state State) error
}

// Recorder receives operation metrics.
type Recorder interface {
	RecordListed(currency string)
	RecordSold(currency string, price, fee uint64)
	RecordCancelled()
	RecordFeesClaimed(currency string, amount uint64)
	RecordFailure(op, kind string)
	RecordSnapshotFailure()
}

type nopRecorder struct{}

func (nopRecorder) RecordListed(string)               {}
func (nopRecorder) RecordSold(string, uint64, uint64) {}
func (nopRecorder) RecordCancelled()                  {}
func (nopRecorder) RecordFeesClaimed(string, uint64)  {}
func (nopRecorder) RecordFailure(string, string)      {}
func (nopRecorder) RecordSnapshotFailure()            {}
