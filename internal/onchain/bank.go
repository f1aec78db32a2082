package onchain

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/leafsii/marketplace/internal/marketplace"
)

type allowanceKey struct {
	owner   Address
	spender Address
}

// Bank is an in-process ledger of native value and fungible tokens with
// ERC-20 allowance rules. It satisfies marketplace.PaymentProvider.
//
// A native transfer is authorized only by the payer itself. A token transfer
// where spender differs from the payer draws on the payer's allowance for
// spender; an allowance of math.MaxUint64 is never decreased.
type Bank struct {
	mu         sync.Mutex
	balances   map[Address]map[Address]uint64
	allowances map[Address]map[allowanceKey]uint64
}

func NewBank() *Bank {
	return &Bank{
		balances:   make(map[Address]map[Address]uint64),
		allowances: make(map[Address]map[allowanceKey]uint64),
	}
}

// Mint credits amount of currency to holder.
func (b *Bank) Mint(ctx context.Context, currency, holder Address, amount uint64) error {
	if !holder.Valid() || holder.IsNative() {
		return ErrInvalidRecipient
	}
	if amount == 0 {
		return ErrInvalidTokenAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.creditLocked(currency, holder, amount)
}

func (b *Bank) creditLocked(currency, holder Address, amount uint64) error {
	book, ok := b.balances[currency]
	if !ok {
		book = make(map[Address]uint64)
		b.balances[currency] = book
	}
	if book[holder] > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	book[holder] += amount
	return nil
}

func (b *Bank) BalanceOf(ctx context.Context, currency, principal Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[currency][principal], nil
}

// Approve sets the allowance spender may draw from owner's token balance.
func (b *Bank) Approve(ctx context.Context, currency, owner, spender Address, amount uint64) error {
	if currency.IsNative() {
		return fmt.Errorf("approve: native currency has no allowances")
	}
	if !spender.Valid() || spender.IsNative() {
		return fmt.Errorf("approve: invalid spender %q", spender)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	book, ok := b.allowances[currency]
	if !ok {
		book = make(map[allowanceKey]uint64)
		b.allowances[currency] = book
	}
	k := allowanceKey{owner: owner, spender: spender}
	if amount == 0 {
		delete(book, k)
		return nil
	}
	book[k] = amount
	return nil
}

func (b *Bank) Allowance(ctx context.Context, currency, owner, spender Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowances[currency][allowanceKey{owner: owner, spender: spender}]
}

func (b *Bank) TransferFrom(ctx context.Context, currency, spender, from, to Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transferLocked(currency, spender, from, to, amount)
}

func (b *Bank) transferLocked(currency, spender, from, to Address, amount uint64) error {
	if !to.Valid() || to.IsNative() {
		return ErrInvalidRecipient
	}
	if amount == 0 {
		return nil
	}

	var allowance uint64
	k := allowanceKey{owner: from, spender: spender}
	if spender != from {
		if currency.IsNative() {
			return ErrNotApproved
		}
		allowance = b.allowances[currency][k]
		if allowance < amount {
			return fmt.Errorf("%w: allowance %d, amount %d", ErrAllowanceExceeded, allowance, amount)
		}
	}
	balance := b.balances[currency][from]
	if balance < amount {
		return fmt.Errorf("%w: balance %d, amount %d", ErrInsufficientFunds, balance, amount)
	}
	if from != to && b.balances[currency][to] > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}

	b.balances[currency][from] = balance - amount
	if err := b.creditLocked(currency, to, amount); err != nil {
		b.balances[currency][from] = balance
		return err
	}
	if spender != from && allowance != math.MaxUint64 {
		if allowance == amount {
			delete(b.allowances[currency], k)
		} else {
			b.allowances[currency][k] = allowance - amount
		}
	}
	return nil
}

var _ marketplace.PaymentProvider = (*Bank)(nil)
var _ marketplace.AssetRegistry = (*Registry)(nil)
