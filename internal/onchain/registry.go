package onchain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/leafsii/marketplace/internal/marketplace"
)

type Address = marketplace.Address

type collectionState struct {
	owners    map[string]Address
	approvals map[string]Address
	operators map[Address]map[Address]bool
}

func newCollectionState() *collectionState {
	return &collectionState{
		owners:    make(map[string]Address),
		approvals: make(map[string]Address),
		operators: make(map[Address]map[Address]bool),
	}
}

// Registry is an in-process non-fungible asset registry with ERC-721
// ownership and approval rules. It satisfies marketplace.AssetRegistry.
type Registry struct {
	mu          sync.RWMutex
	collections map[Address]*collectionState
}

func NewRegistry() *Registry {
	return &Registry{collections: make(map[Address]*collectionState)}
}

func (r *Registry) collection(c Address) *collectionState {
	cs, ok := r.collections[c]
	if !ok {
		cs = newCollectionState()
		r.collections[c] = cs
	}
	return cs
}

// Mint creates assetID in collection owned by to.
func (r *Registry) Mint(ctx context.Context, collection Address, assetID string, to Address) error {
	if !to.Valid() || to.IsNative() {
		return ErrInvalidRecipient
	}
	if err := marketplace.ValidateAssetID(assetID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs := r.collection(collection)
	if _, exists := cs.owners[assetID]; exists {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyMinted, collection, assetID)
	}
	cs.owners[assetID] = to
	return nil
}

func (r *Registry) OwnerOf(ctx context.Context, collection Address, assetID string) (Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.ownerLocked(collection, assetID)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrNonexistentAsset, collection, assetID)
	}
	return owner, nil
}

func (r *Registry) ownerLocked(collection Address, assetID string) (Address, bool) {
	cs, ok := r.collections[collection]
	if !ok {
		return "", false
	}
	owner, ok := cs.owners[assetID]
	return owner, ok
}

// Approve lets approved move one asset. caller must be the owner or one of
// its operators. Approving the zero address clears the approval.
func (r *Registry) Approve(ctx context.Context, collection Address, assetID string, caller, approved Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.ownerLocked(collection, assetID)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNonexistentAsset, collection, assetID)
	}
	if approved == owner {
		return ErrApproveToOwner
	}
	cs := r.collections[collection]
	if caller != owner && !cs.operators[owner][caller] {
		return ErrNotApproved
	}
	if approved.IsNative() {
		delete(cs.approvals, assetID)
		return nil
	}
	cs.approvals[assetID] = approved
	return nil
}

// SetApprovalForAll lets operator move every asset owner holds in collection.
func (r *Registry) SetApprovalForAll(ctx context.Context, collection Address, owner, operator Address, approved bool) error {
	if owner == operator {
		return ErrApproveToOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs := r.collection(collection)
	if !approved {
		delete(cs.operators[owner], operator)
		return nil
	}
	if cs.operators[owner] == nil {
		cs.operators[owner] = make(map[Address]bool)
	}
	cs.operators[owner][operator] = true
	return nil
}

func (r *Registry) GetApproved(ctx context.Context, collection Address, assetID string) (Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.ownerLocked(collection, assetID); !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrNonexistentAsset, collection, assetID)
	}
	return r.collections[collection].approvals[assetID], nil
}

func (r *Registry) IsApprovedForTransfer(ctx context.Context, collection Address, assetID string, operator Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.ownerLocked(collection, assetID)
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", ErrNonexistentAsset, collection, assetID)
	}
	return r.authorizedLocked(collection, assetID, owner, operator), nil
}

func (r *Registry) authorizedLocked(collection Address, assetID string, owner, operator Address) bool {
	cs := r.collections[collection]
	return operator == owner || cs.approvals[assetID] == operator || cs.operators[owner][operator]
}

// Transfer moves the asset and clears its single-asset approval.
func (r *Registry) Transfer(ctx context.Context, collection Address, assetID string, operator, from, to Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferLocked(collection, assetID, operator, from, to)
}

func (r *Registry) transferLocked(collection Address, assetID string, operator, from, to Address) error {
	if !to.Valid() || to.IsNative() {
		return ErrInvalidRecipient
	}
	owner, ok := r.ownerLocked(collection, assetID)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNonexistentAsset, collection, assetID)
	}
	if owner != from {
		return ErrNotOwner
	}
	if !r.authorizedLocked(collection, assetID, owner, operator) {
		return ErrNotApproved
	}
	cs := r.collections[collection]
	delete(cs.approvals, assetID)
	cs.owners[assetID] = to
	return nil
}

// AssetsOf lists the asset ids owner holds in collection.
func (r *Registry) AssetsOf(ctx context.Context, collection, owner Address) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	if cs, ok := r.collections[collection]; ok {
		for id, o := range cs.owners {
			if o == owner {
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}
