package onchain

import "sort"

// AssetHolding is one owned asset with its single-asset approval.
type AssetHolding struct {
	Collection Address `json:"collection"`
	AssetID    string  `json:"assetId"`
	Owner      Address `json:"owner"`
	Approved   Address `json:"approved,omitempty"`
}

// OperatorGrant is a collection-wide approval.
type OperatorGrant struct {
	Collection Address `json:"collection"`
	Owner      Address `json:"owner"`
	Operator   Address `json:"operator"`
}

// RegistryState is a serializable copy of a Registry.
type RegistryState struct {
	Assets    []AssetHolding  `json:"assets"`
	Operators []OperatorGrant `json:"operators"`
}

func (r *Registry) Export() RegistryState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st RegistryState
	for c, cs := range r.collections {
		for id, owner := range cs.owners {
			st.Assets = append(st.Assets, AssetHolding{
				Collection: c, AssetID: id, Owner: owner, Approved: cs.approvals[id],
			})
		}
		for owner, ops := range cs.operators {
			for op := range ops {
				st.Operators = append(st.Operators, OperatorGrant{Collection: c, Owner: owner, Operator: op})
			}
		}
	}
	sort.Slice(st.Assets, func(i, j int) bool {
		if st.Assets[i].Collection != st.Assets[j].Collection {
			return st.Assets[i].Collection < st.Assets[j].Collection
		}
		return st.Assets[i].AssetID < st.Assets[j].AssetID
	})
	return st
}

// Import replaces the registry contents with st.
func (r *Registry) Import(st RegistryState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.collections = make(map[Address]*collectionState)
	for _, a := range st.Assets {
		cs := r.collection(a.Collection)
		cs.owners[a.AssetID] = a.Owner
		if a.Approved != "" {
			cs.approvals[a.AssetID] = a.Approved
		}
	}
	for _, g := range st.Operators {
		cs := r.collection(g.Collection)
		if cs.operators[g.Owner] == nil {
			cs.operators[g.Owner] = make(map[Address]bool)
		}
		cs.operators[g.Owner][g.Operator] = true
	}
}

// BalanceEntry is one holder's balance of a currency.
type BalanceEntry struct {
	Currency Address `json:"currency"`
	Holder   Address `json:"holder"`
	Amount   uint64  `json:"amount"`
}

// AllowanceEntry is one token allowance.
type AllowanceEntry struct {
	Currency Address `json:"currency"`
	Owner    Address `json:"owner"`
	Spender  Address `json:"spender"`
	Amount   uint64  `json:"amount"`
}

// BankState is a serializable copy of a Bank.
type BankState struct {
	Balances   []BalanceEntry   `json:"balances"`
	Allowances []AllowanceEntry `json:"allowances"`
}

func (b *Bank) Export() BankState {
	b.mu.Lock()
	defer b.mu.Unlock()

	var st BankState
	for c, book := range b.balances {
		for h, v := range book {
			if v > 0 {
				st.Balances = append(st.Balances, BalanceEntry{Currency: c, Holder: h, Amount: v})
			}
		}
	}
	for c, book := range b.allowances {
		for k, v := range book {
			st.Allowances = append(st.Allowances, AllowanceEntry{Currency: c, Owner: k.owner, Spender: k.spender, Amount: v})
		}
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		if st.Balances[i].Currency != st.Balances[j].Currency {
			return st.Balances[i].Currency < st.Balances[j].Currency
		}
		return st.Balances[i].Holder < st.Balances[j].Holder
	})
	return st
}

// Import replaces the bank contents with st.
func (b *Bank) Import(st BankState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.balances = make(map[Address]map[Address]uint64)
	b.allowances = make(map[Address]map[allowanceKey]uint64)
	for _, e := range st.Balances {
		if b.balances[e.Currency] == nil {
			b.balances[e.Currency] = make(map[Address]uint64)
		}
		b.balances[e.Currency][e.Holder] = e.Amount
	}
	for _, e := range st.Allowances {
		if b.allowances[e.Currency] == nil {
			b.allowances[e.Currency] = make(map[allowanceKey]uint64)
		}
		b.allowances[e.Currency][allowanceKey{owner: e.Owner, spender: e.Spender}] = e.Amount
	}
}
