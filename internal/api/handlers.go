package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leafsii/marketplace/internal/calc"
	"github.com/leafsii/marketplace/internal/config"
	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/repository"
	"github.com/leafsii/marketplace/internal/store"
	"github.com/leafsii/marketplace/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	eventsCacheTTL = 3 * time.Second
	maxBodyBytes   = 1 << 16
)

// EventArchive serves archived events; nil disables GET /v1/events.
type EventArchive interface {
	Query(ctx context.Context, q repository.EventQuery) ([]marketplace.Event, string, error)
}

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	engine  *marketplace.Engine
	archive EventArchive
	cache   *store.Cache
	wsHub   *ws.Hub
	config  *config.Config
	logger  *zap.SugaredLogger
	checks  map[string]Pinger
	// collapses concurrent identical archive page queries
	pages singleflight.Group
}

func NewHandler(
	engine *marketplace.Engine,
	archive EventArchive,
	cache *store.Cache,
	wsHub *ws.Hub,
	config *config.Config,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		engine:  engine,
		archive: archive,
		cache:   cache,
		wsHub:   wsHub,
		config:  config,
		logger:  logger,
		checks:  make(map[string]Pinger),
	}
}

// AddReadinessCheck registers a dependency probed by /readyz.
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// Trading endpoints

func (h *Handler) ListTradings(w http.ResponseWriter, r *http.Request) {
	var filter marketplace.TradingFilter
	for param, dst := range map[string]*marketplace.Address{
		"collection": &filter.Collection,
		"seller":     &filter.Seller,
		"currency":   &filter.Currency,
	} {
		v := r.URL.Query().Get(param)
		if v == "" {
			continue
		}
		addr, err := marketplace.ParseAddress(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, fmt.Sprintf("%s: %v", param, err))
			return
		}
		*dst = addr
	}

	records := h.engine.ListTradings(filter)
	items := make([]TradingDTO, 0, len(records))
	for _, rec := range records {
		items = append(items, h.tradingDTO(rec))
	}
	h.writeJSON(w, http.StatusOK, TradingListDTO{Items: items, Count: len(items), UpdatedAt: time.Now().Unix()})
}

func (h *Handler) GetTrading(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.addressParam(w, r, "collection")
	if !ok {
		return
	}
	assetID := chi.URLParam(r, "assetId")

	rec, found := h.engine.Trading(collection, assetID)
	if !found {
		h.writeError(w, http.StatusNotFound, marketplace.CodeNotListed,
			fmt.Sprintf("%s/%s is not listed", collection, assetID))
		return
	}
	h.writeJSON(w, http.StatusOK, h.tradingDTO(rec))
}

func (h *Handler) CreateTrading(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateTradingRequest
	if !h.decode(w, r, &req) {
		return
	}

	collection, err := marketplace.ParseAddress(req.Collection)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "collection: "+err.Error())
		return
	}
	currency := marketplace.NativeCurrency
	if req.Currency != "" {
		if currency, err = marketplace.ParseAddress(req.Currency); err != nil {
			h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "currency: "+err.Error())
			return
		}
	}
	price, err := parseUnits(req.Price)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "price: "+err.Error())
		return
	}

	rec, err := h.engine.CreateTrading(r.Context(), caller, collection, req.AssetID, price, currency)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.tradingDTO(rec))
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	collection, ok := h.addressParam(w, r, "collection")
	if !ok {
		return
	}
	var req BuyRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	var value uint64
	if req.Value != "" {
		v, err := parseUnits(req.Value)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "value: "+err.Error())
			return
		}
		value = v
	}

	sale, err := h.engine.Buy(r.Context(), caller, collection, chi.URLParam(r, "assetId"), value)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.saleDTO(sale))
}

func (h *Handler) CancelTrading(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	collection, ok := h.addressParam(w, r, "collection")
	if !ok {
		return
	}

	rec, err := h.engine.CancelTrading(r.Context(), caller, collection, chi.URLParam(r, "assetId"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.tradingDTO(rec))
}

// Fee and currency endpoints

func (h *Handler) GetFee(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.addressParam(w, r, "collection")
	if !ok {
		return
	}
	special := h.engine.SpecialFee(collection)
	h.writeJSON(w, http.StatusOK, FeeDTO{
		Collection:    collection.String(),
		SpecialFee:    special.Enabled,
		SpecialRate:   special.Rate,
		EffectiveRate: h.engine.FeeRate(collection),
		GlobalRate:    h.engine.GlobalFeeRate(),
	})
}

func (h *Handler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies := h.engine.AllowedCurrencies()
	out := make([]string, 0, len(currencies))
	for _, c := range currencies {
		out = append(out, c.String())
	}
	h.writeJSON(w, http.StatusOK, CurrenciesDTO{Currencies: out})
}

// Event archive

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "event archive is not configured")
		return
	}

	query := r.URL.Query()
	var q repository.EventQuery
	for param, dst := range map[string]*marketplace.Address{
		"collection":  &q.Collection,
		"participant": &q.Participant,
	} {
		v := query.Get(param)
		if v == "" {
			continue
		}
		addr, err := marketplace.ParseAddress(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, fmt.Sprintf("%s: %v", param, err))
			return
		}
		*dst = addr
	}
	q.AssetID = query.Get("assetId")
	q.Type = marketplace.EventType(query.Get("type"))
	q.Cursor = query.Get("cursor")
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > repository.MaxPageSize {
			h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument,
				fmt.Sprintf("limit must be between 1 and %d", repository.MaxPageSize))
			return
		}
		q.Limit = limit
	}

	cacheKey := store.KeyEventsPage + ":" + query.Encode()
	var cached EventsDTO
	if h.cache != nil {
		if err := h.cache.Get(r.Context(), cacheKey, &cached); err == nil {
			h.writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	v, err, _ := h.pages.Do(cacheKey, func() (interface{}, error) {
		events, next, err := h.archive.Query(r.Context(), q)
		if err != nil {
			return nil, err
		}
		dto := EventsDTO{Items: events, NextCursor: next}
		if h.cache != nil {
			if err := h.cache.Set(r.Context(), cacheKey, dto, eventsCacheTTL); err != nil {
				h.logger.Warnw("Failed to cache events page", "error", err)
			}
		}
		return dto, nil
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "EVENTS_QUERY_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, v.(EventsDTO))
}

// Health and ops endpoints

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "NOT_READY", fmt.Sprintf("%s: %v", name, err))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		h.writeError(w, http.StatusServiceUnavailable, "WS_DISABLED", "live updates are not available")
		return
	}
	h.wsHub.HandleWebSocket(w, r)
}

// DTO conversion

func (h *Handler) decimalsFor(currency marketplace.Address) int32 {
	if h.config == nil {
		return 0
	}
	return h.config.Market.DecimalsFor(currency)
}

func (h *Handler) tradingDTO(rec marketplace.TradingRecord) TradingDTO {
	return TradingDTO{
		ID:           rec.ID.String(),
		Collection:   rec.Collection.String(),
		AssetID:      rec.AssetID,
		Seller:       rec.Seller.String(),
		Price:        formatUint(rec.Price),
		PriceDisplay: calc.FormatAmount(rec.Price, h.decimalsFor(rec.Currency)),
		Currency:     rec.Currency.String(),
		StartedAt:    unixOrZero(rec.StartedAt),
	}
}

func (h *Handler) saleDTO(s marketplace.Sale) SaleDTO {
	return SaleDTO{
		Trading:  h.tradingDTO(s.Record),
		Buyer:    s.Buyer.String(),
		Rate:     s.Rate,
		Fee:      formatUint(s.Fee),
		Proceeds: formatUint(s.Proceeds),
		Change:   formatUint(s.Change),
		SoldAt:   unixOrZero(s.SoldAt),
	}
}

// Request helpers

// caller identifies the principal from the X-User-Address header.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (marketplace.Address, bool) {
	raw := r.Header.Get(HeaderCaller)
	if raw == "" {
		h.writeError(w, http.StatusUnauthorized, "MISSING_CALLER", HeaderCaller+" header is required")
		return "", false
	}
	addr, err := marketplace.ParseAddress(raw)
	if err != nil || addr.IsNative() {
		h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, "invalid "+HeaderCaller+" header")
		return "", false
	}
	return addr, true
}

func (h *Handler) addressParam(w http.ResponseWriter, r *http.Request, name string) (marketplace.Address, bool) {
	addr, err := marketplace.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, marketplace.CodeInvalidArgument, name+": "+err.Error())
		return "", false
	}
	return addr, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseUnits parses a non-negative integer amount in smallest units.
func parseUnits(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an amount in smallest units", s)
	}
	return v, nil
}

// Response helpers

var statusByCode = map[string]int{
	marketplace.CodeInvalidArgument:       http.StatusBadRequest,
	marketplace.CodeCurrencyNotAllowed:    http.StatusUnprocessableEntity,
	marketplace.CodeAlreadyListed:         http.StatusConflict,
	marketplace.CodeNotListed:             http.StatusNotFound,
	marketplace.CodeNotSeller:             http.StatusForbidden,
	marketplace.CodeNotAuthorized:         http.StatusForbidden,
	marketplace.CodeInsufficientPayment:   http.StatusPaymentRequired,
	marketplace.CodePaymentTransferFailed: http.StatusPaymentRequired,
	marketplace.CodeAssetTransferFailed:   http.StatusConflict,
}

// StatusFor maps an engine error code to its HTTP status.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	code := marketplace.Kind(err)
	h.writeError(w, StatusFor(code), code, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}
	writeErrorBody(w, status, code, message)
}
