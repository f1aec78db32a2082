package marketplace

import "sort"

// AccessControl tracks the administrator role.
type AccessControl struct {
	admins map[Address]struct{}
}

func NewAccessControl(admins ...Address) *AccessControl {
	ac := &AccessControl{admins: make(map[Address]struct{}, len(admins))}
	for _, a := range admins {
		ac.admins[a] = struct{}{}
	}
	return ac
}

func (ac *AccessControl) IsAdmin(principal Address) bool {
	_, ok := ac.admins[principal]
	return ok
}

func (ac *AccessControl) Grant(principal Address) bool {
	if ac.IsAdmin(principal) {
		return false
	}
	ac.admins[principal] = struct{}{}
	return true
}

// Revoke refuses to remove the last administrator.
func (ac *AccessControl) Revoke(principal Address) (removed bool, err error) {
	if !ac.IsAdmin(principal) {
		return false, nil
	}
	if len(ac.admins) == 1 {
		return false, ErrInvalidArgument
	}
	delete(ac.admins, principal)
	return true, nil
}

func (ac *AccessControl) List() []Address {
	out := make([]Address, 0, len(ac.admins))
	for a := range ac.admins {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
