package marketplace

import "sort"

// AllowList holds the accepted fungible currencies. The native currency is
// implicitly allowed and never stored.
type AllowList struct {
	set map[Address]struct{}
}

func NewAllowList() *AllowList {
	return &AllowList{set: make(map[Address]struct{})}
}

func (a *AllowList) IsAllowed(currency Address) bool {
	if currency.IsNative() {
		return true
	}
	_, ok := a.set[currency]
	return ok
}

// Add reports whether currency was newly added. Adding native is a no-op.
func (a *AllowList) Add(currency Address) bool {
	if currency.IsNative() || a.IsAllowed(currency) {
		return false
	}
	a.set[currency] = struct{}{}
	return true
}

// Remove reports whether currency was present. Callers reject native first.
func (a *AllowList) Remove(currency Address) bool {
	if _, ok := a.set[currency]; !ok {
		return false
	}
	delete(a.set, currency)
	return true
}

// List returns the native sentinel followed by the stored currencies, sorted.
func (a *AllowList) List() []Address {
	out := make([]Address, 0, len(a.set)+1)
	for c := range a.set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return append([]Address{NativeCurrency}, out...)
}
