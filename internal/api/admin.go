package api

import (
	"fmt"
	"net/http"

	"github.com/leafsii/marketplace/internal/calc"
	"github.com/leafsii/marketplace/internal/marketplace"
)

// Admin endpoints. The engine enforces the administrator role on writes;
// reads are checked here.

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (marketplace.Address, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return "", false
	}
	if !h.engine.IsAdmin(caller) {
		h.writeError(w, http.StatusForbidden, marketplace.CodeNotAuthorized,
			fmt.Sprintf("%s is not an administrator", caller))
		return "", false
	}
	return caller, true
}

func (h *Handler) SetSpecialFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	collection, ok := h.addressParam(w, r, "collection")
	if !ok {
		return
	}
	var req SpecialFeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Rate < 0 || req.Rate > calc.MaxFeeRate {
		h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument,
			fmt.Sprintf("rate must be between 0 and %d", calc.MaxFeeRate))
		return
	}

	if err := h.engine.SetSpecialFee(r.Context(), caller, collection, uint8(req.Rate)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.GetFee(w, r)
}

func (h *Handler) RemoveSpecialFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	collection, ok := h.addressParam(w, r, "collection")
	if !ok {
		return
	}

	if err := h.engine.RemoveSpecialFee(r.Context(), caller, collection); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.GetFee(w, r)
}

func (h *Handler) AddCurrency(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CurrencyRequest
	if !h.decode(w, r, &req) {
		return
	}
	currency, err := marketplace.ParseAddress(req.Currency)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "currency: "+err.Error())
		return
	}

	if err := h.engine.AddCurrency(r.Context(), caller, currency); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.ListCurrencies(w, r)
}

func (h *Handler) RemoveCurrency(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	currency, ok := h.addressParam(w, r, "currency")
	if !ok {
		return
	}

	if err := h.engine.RemoveCurrency(r.Context(), caller, currency); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.ListCurrencies(w, r)
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	currency := marketplace.NativeCurrency
	if req.Currency != "" {
		var err error
		if currency, err = marketplace.ParseAddress(req.Currency); err != nil {
			h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "currency: "+err.Error())
			return
		}
	}

	amount, err := h.engine.AdminClaim(r.Context(), caller, currency)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ClaimDTO{Currency: currency.String(), Amount: formatUint(amount)})
}

func (h *Handler) Balances(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	fees := h.engine.AccumulatedFees()
	out := BalancesDTO{Fees: make([]BalanceDTO, 0, len(fees))}
	for _, c := range h.engine.AllowedCurrencies() {
		out.Fees = append(out.Fees, h.balanceDTO(c, fees[c]))
		delete(fees, c)
	}
	// balances of currencies removed from the allow-list are still claimable
	for c, v := range fees {
		out.Fees = append(out.Fees, h.balanceDTO(c, v))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) balanceDTO(currency marketplace.Address, amount uint64) BalanceDTO {
	return BalanceDTO{
		Currency:      currency.String(),
		Amount:        formatUint(amount),
		AmountDisplay: calc.FormatAmount(amount, h.decimalsFor(currency)),
	}
}

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	h.writeRoles(w)
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	principal, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	if err := h.engine.GrantAdmin(r.Context(), caller, principal); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeRoles(w)
}

func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	principal, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	if err := h.engine.RevokeAdmin(r.Context(), caller, principal); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeRoles(w)
}

func (h *Handler) writeRoles(w http.ResponseWriter) {
	admins := h.engine.Admins()
	out := make([]string, 0, len(admins))
	for _, a := range admins {
		out = append(out, a.String())
	}
	h.writeJSON(w, http.StatusOK, RolesDTO{Admins: out})
}
