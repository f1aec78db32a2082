package onchain

import (
	"context"
	"sync"

	"github.com/leafsii/marketplace/internal/marketplace"
)

type balanceKey struct {
	currency Address
	holder   Address
}

type allowanceRef struct {
	currency Address
	key      allowanceKey
}

// BankTx applies transfers to its Bank as they are made and remembers the
// value each touched balance and allowance had before the first of them.
// Rollback writes those values back.
type BankTx struct {
	mu         sync.Mutex
	bank       *Bank
	balances   map[balanceKey]uint64
	allowances map[allowanceRef]uint64
	done       bool
}

func (b *Bank) Begin(ctx context.Context) (marketplace.PaymentTx, error) {
	return &BankTx{
		bank:       b,
		balances:   make(map[balanceKey]uint64),
		allowances: make(map[allowanceRef]uint64),
	}, nil
}

func (tx *BankTx) TransferFrom(ctx context.Context, currency, spender, from, to Address, amount uint64) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}

	b := tx.bank
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, holder := range []Address{from, to} {
		k := balanceKey{currency: currency, holder: holder}
		if _, seen := tx.balances[k]; !seen {
			tx.balances[k] = b.balances[currency][holder]
		}
	}
	if spender != from {
		ref := allowanceRef{currency: currency, key: allowanceKey{owner: from, spender: spender}}
		if _, seen := tx.allowances[ref]; !seen {
			tx.allowances[ref] = b.allowances[currency][ref.key]
		}
	}
	return b.transferLocked(currency, spender, from, to, amount)
}

func (tx *BankTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	return nil
}

func (tx *BankTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}

	b := tx.bank
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, v := range tx.balances {
		book, ok := b.balances[k.currency]
		if !ok {
			book = make(map[Address]uint64)
			b.balances[k.currency] = book
		}
		if v == 0 {
			delete(book, k.holder)
		} else {
			book[k.holder] = v
		}
	}
	for ref, v := range tx.allowances {
		book, ok := b.allowances[ref.currency]
		if !ok {
			book = make(map[allowanceKey]uint64)
			b.allowances[ref.currency] = book
		}
		if v == 0 {
			delete(book, ref.key)
		} else {
			book[ref.key] = v
		}
	}
	tx.done = true
	return nil
}

type assetRef struct {
	collection Address
	assetID    string
}

type assetEntry struct {
	owner    Address
	approved Address
}

// RegistryTx is the asset counterpart of BankTx: it remembers the owner and
// single-asset approval of every asset it moved.
type RegistryTx struct {
	mu       sync.Mutex
	registry *Registry
	assets   map[assetRef]assetEntry
	done     bool
}

func (r *Registry) Begin(ctx context.Context) (marketplace.AssetTx, error) {
	return &RegistryTx{registry: r, assets: make(map[assetRef]assetEntry)}, nil
}

func (tx *RegistryTx) Transfer(ctx context.Context, collection Address, assetID string, operator, from, to Address) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}

	r := tx.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := assetRef{collection: collection, assetID: assetID}
	if _, seen := tx.assets[ref]; !seen {
		if owner, ok := r.ownerLocked(collection, assetID); ok {
			tx.assets[ref] = assetEntry{owner: owner, approved: r.collections[collection].approvals[assetID]}
		}
	}
	return r.transferLocked(collection, assetID, operator, from, to)
}

func (tx *RegistryTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	return nil
}

func (tx *RegistryTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}

	r := tx.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	for ref, entry := range tx.assets {
		cs := r.collection(ref.collection)
		cs.owners[ref.assetID] = entry.owner
		if entry.approved == "" {
			delete(cs.approvals, ref.assetID)
		} else {
			cs.approvals[ref.assetID] = entry.approved
		}
	}
	tx.done = true
	return nil
}
