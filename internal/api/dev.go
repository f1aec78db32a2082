package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/onchain"
	"go.uber.org/zap"
)

// DevHandler drives the in-process registry and bank so a local marketplace
// can be exercised end to end. Mounted only when dev endpoints are enabled.
type DevHandler struct {
	registry *onchain.Registry
	bank     *onchain.Bank
	market   marketplace.Address
	persist  func(ctx context.Context) error
	logger   *zap.SugaredLogger
	api      *Handler
}

func NewDevHandler(api *Handler, registry *onchain.Registry, bank *onchain.Bank, market marketplace.Address, persist func(ctx context.Context) error) *DevHandler {
	return &DevHandler{
		registry: registry,
		bank:     bank,
		market:   market,
		persist:  persist,
		logger:   api.logger,
		api:      api,
	}
}

type MintAssetRequest struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
	To         string `json:"to"`
}

type ApproveAssetsRequest struct {
	Collection string `json:"collection"`
	Approved   *bool  `json:"approved,omitempty"`
}

type FundRequest struct {
	Currency string `json:"currency"`
	Holder   string `json:"holder"`
	Amount   string `json:"amount"`
}

type AllowanceRequest struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type AssetsDTO struct {
	Collection string   `json:"collection"`
	Owner      string   `json:"owner"`
	AssetIDs   []string `json:"assetIds"`
}

type WalletDTO struct {
	Address  string       `json:"address"`
	Balances []BalanceDTO `json:"balances"`
}

func (d *DevHandler) Routes(r chi.Router) {
	r.Post("/assets/mint", d.MintAsset)
	r.Post("/assets/approve", d.ApproveMarket)
	r.Get("/assets/{collection}/{owner}", d.ListAssets)
	r.Post("/funds/mint", d.Fund)
	r.Post("/funds/approve", d.ApproveAllowance)
	r.Get("/balances/{address}", d.Wallet)
}

func (d *DevHandler) MintAsset(w http.ResponseWriter, r *http.Request) {
	var req MintAssetRequest
	if !d.api.decode(w, r, &req) {
		return
	}
	collection, err := marketplace.ParseAddress(req.Collection)
	if err != nil {
		d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "collection: "+err.Error())
		return
	}
	to, err := marketplace.ParseAddress(req.To)
	if err != nil {
		d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "to: "+err.Error())
		return
	}
	if err := marketplace.ValidateAssetID(req.AssetID); err != nil {
		d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, err.Error())
		return
	}

	if err := d.registry.Mint(r.Context(), collection, req.AssetID, to); err != nil {
		d.writeOnchainError(w, err)
		return
	}
	d.saved(w, r, http.StatusCreated, AssetsDTO{
		Collection: collection.String(),
		Owner:      to.String(),
		AssetIDs:   d.registry.AssetsOf(r.Context(), collection, to),
	})
}

// ApproveMarket makes the marketplace an operator for all of the caller's
// assets in a collection.
func (d *DevHandler) ApproveMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := d.api.caller(w, r)
	if !ok {
		return
	}
	var req ApproveAssetsRequest
	if !d.api.decode(w, r, &req) {
		return
	}
	collection, err := marketplace.ParseAddress(req.Collection)
	if err != nil {
		d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "collection: "+err.Error())
		return
	}
	approved := true
	if req.Approved != nil {
		approved = *req.Approved
	}

	if err := d.registry.SetApprovalForAll(r.Context(), collection, caller, d.market, approved); err != nil {
		d.writeOnchainError(w, err)
		return
	}
	d.saved(w, r, http.StatusOK, map[string]any{
		"collection": collection.String(),
		"owner":      caller.String(),
		"operator":   d.market.String(),
		"approved":   approved,
	})
}

func (d *DevHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	collection, ok := d.api.addressParam(w, r, "collection")
	if !ok {
		return
	}
	owner, ok := d.api.addressParam(w, r, "owner")
	if !ok {
		return
	}
	d.api.writeJSON(w, http.StatusOK, AssetsDTO{
		Collection: collection.String(),
		Owner:      owner.String(),
		AssetIDs:   d.registry.AssetsOf(r.Context(), collection, owner),
	})
}

func (d *DevHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if !d.api.decode(w, r, &req) {
		return
	}
	currency := marketplace.NativeCurrency
	if req.Currency != "" {
		var err error
		if currency, err = marketplace.ParseAddress(req.Currency); err != nil {
			d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "currency: "+err.Error())
			return
		}
	}
	holder, err := marketplace.ParseAddress(req.Holder)
	if err != nil {
		d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "holder: "+err.Error())
		return
	}
	amount, err := parseUnits(req.Amount)
	if err != nil {
		d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "amount: "+err.Error())
		return
	}

	if err := d.bank.Mint(r.Context(), currency, holder, amount); err != nil {
		d.writeOnchainError(w, err)
		return
	}
	d.saved(w, r, http.StatusOK, d.wallet(r.Context(), holder))
}

// ApproveAllowance lets the marketplace draw amount of a token from the caller.
func (d *DevHandler) ApproveAllowance(w http.ResponseWriter, r *http.Request) {
	caller, ok := d.api.caller(w, r)
	if !ok {
		return
	}
	var req AllowanceRequest
	if !d.api.decode(w, r, &req) {
		return
	}
	currency, err := marketplace.ParseAddress(req.Currency)
	if err != nil {
		d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "currency: "+err.Error())
		return
	}
	amount, err := parseUnits(req.Amount)
	if err != nil {
		d.api.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "amount: "+err.Error())
		return
	}

	if err := d.bank.Approve(r.Context(), currency, caller, d.market, amount); err != nil {
		d.writeOnchainError(w, err)
		return
	}
	d.saved(w, r, http.StatusOK, map[string]string{
		"currency":  currency.String(),
		"owner":     caller.String(),
		"spender":   d.market.String(),
		"allowance": formatUint(d.bank.Allowance(r.Context(), currency, caller, d.market)),
	})
}

func (d *DevHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	addr, ok := d.api.addressParam(w, r, "address")
	if !ok {
		return
	}
	d.api.writeJSON(w, http.StatusOK, d.wallet(r.Context(), addr))
}

func (d *DevHandler) wallet(ctx context.Context, addr marketplace.Address) WalletDTO {
	out := WalletDTO{Address: addr.String()}
	for _, c := range d.api.engine.AllowedCurrencies() {
		v, err := d.bank.BalanceOf(ctx, c, addr)
		if err != nil {
			continue
		}
		out.Balances = append(out.Balances, d.api.balanceDTO(c, v))
	}
	return out
}

// saved persists the collaborators before answering; a failed save is logged
// and does not fail the request.
func (d *DevHandler) saved(w http.ResponseWriter, r *http.Request, status int, body any) {
	if d.persist != nil {
		if err := d.persist(r.Context()); err != nil {
			d.logger.Warnw("Failed to persist dev collaborators", "error", err)
		}
	}
	d.api.writeJSON(w, status, body)
}

func (d *DevHandler) writeOnchainError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, onchain.ErrAlreadyMinted):
		status = http.StatusConflict
	case errors.Is(err, onchain.ErrNotOwner), errors.Is(err, onchain.ErrNotApproved):
		status = http.StatusForbidden
	case errors.Is(err, onchain.ErrNonexistentAsset):
		status = http.StatusNotFound
	}
	d.api.writeError(w, status, "ONCHAIN_ERROR", err.Error())
}
