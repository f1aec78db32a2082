package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/onchain"
	"github.com/leafsii/marketplace/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	admin      = marketplace.MustParseAddress("0x000000000000000000000000000000000000ad01")
	seller     = marketplace.MustParseAddress("0x0000000000000000000000000000000000005e11")
	buyer      = marketplace.MustParseAddress("0x000000000000000000000000000000000000b0b0")
	market     = marketplace.MustParseAddress("0x000000000000000000000000000000000000e4e4")
	collection = marketplace.MustParseAddress("0x000000000000000000000000000000000000c011")
	token      = marketplace.MustParseAddress("0x0000000000000000000000000000000000007070")
)

type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Query(ctx context.Context, q repository.EventQuery) ([]marketplace.Event, string, error) {
	args := m.Called(ctx, q)
	events, _ := args.Get(0).([]marketplace.Event)
	return events, args.String(1), args.Error(2)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	handler  *Handler
	router   http.Handler
	engine   *marketplace.Engine
	registry *onchain.Registry
	bank     *onchain.Bank
}

func newTestServer(t *testing.T, archive EventArchive) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	registry := onchain.NewRegistry()
	bank := onchain.NewBank()
	for _, id := range []string{"1", "2"} {
		require.NoError(t, registry.Mint(ctx, collection, id, seller))
	}
	require.NoError(t, registry.SetApprovalForAll(ctx, collection, seller, market, true))
	require.NoError(t, bank.Mint(ctx, marketplace.NativeCurrency, buyer, 100000))
	require.NoError(t, bank.Mint(ctx, token, buyer, 100000))
	require.NoError(t, bank.Approve(ctx, token, buyer, market, 100000))

	engine, err := marketplace.NewEngine(marketplace.Config{
		Address:    market,
		FeeRate:    15,
		Admins:     []marketplace.Address{admin},
		Currencies: []marketplace.Address{token},
	}, registry, bank, marketplace.WithLogger(logger))
	require.NoError(t, err)

	h := NewHandler(engine, archive, nil, nil, nil, logger)
	dev := NewDevHandler(h, registry, bank, market, nil)
	router := h.Routes(NewMiddleware(logger, nil), RouterOptions{
		CORSOrigins: []string{"*"},
		Dev:         dev,
	})
	return &testServer{handler: h, router: router, engine: engine, registry: registry, bank: bank}
}

func (s *testServer) do(t *testing.T, method, path string, caller marketplace.Address, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(HeaderCaller, caller.String())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func tradingPath(assetID string) string {
	return "/v1/tradings/" + collection.String() + "/" + assetID
}

func (s *testServer) list(t *testing.T, assetID, price string, currency marketplace.Address) TradingDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/tradings", seller, CreateTradingRequest{
		Collection: collection.String(),
		AssetID:    assetID,
		Price:      price,
		Currency:   currency.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[TradingDTO](t, rec)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{marketplace.CodeInvalidArgument, http.StatusBadRequest},
		{marketplace.CodeCurrencyNotAllowed, http.StatusUnprocessableEntity},
		{marketplace.CodeAlreadyListed, http.StatusConflict},
		{marketplace.CodeNotListed, http.StatusNotFound},
		{marketplace.CodeNotSeller, http.StatusForbidden},
		{marketplace.CodeNotAuthorized, http.StatusForbidden},
		{marketplace.CodeInsufficientPayment, http.StatusPaymentRequired},
		{marketplace.CodeAssetTransferFailed, http.StatusConflict},
		{marketplace.CodeInternal, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.code))
		})
	}
}

func TestCreateAndGetTrading(t *testing.T) {
	s := newTestServer(t, nil)

	created := s.list(t, "1", "10000", marketplace.NativeCurrency)
	assert.Equal(t, seller.String(), created.Seller)
	assert.Equal(t, "10000", created.Price)
	assert.Equal(t, marketplace.NativeCurrency.String(), created.Currency)
	assert.NotEmpty(t, created.ID)

	rec := s.do(t, http.MethodGet, tradingPath("1"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[TradingDTO](t, rec)
	assert.Equal(t, created.ID, got.ID)

	rec = s.do(t, http.MethodGet, "/v1/tradings?seller="+seller.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[TradingListDTO](t, rec)
	assert.Equal(t, 1, listed.Count)

	rec = s.do(t, http.MethodGet, tradingPath("2"), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, marketplace.CodeNotListed, decodeBody[ErrorResponse](t, rec).Code)
}

func TestCreateTradingErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/tradings", "", CreateTradingRequest{Collection: collection.String(), AssetID: "1", Price: "1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "MISSING_CALLER", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/v1/tradings", seller, CreateTradingRequest{Collection: collection.String(), AssetID: "1", Price: "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, marketplace.CodeInvalidArgument, decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/v1/tradings", seller, CreateTradingRequest{
		Collection: collection.String(), AssetID: "1", Price: "5",
		Currency: "0x0000000000000000000000000000000000009999",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, marketplace.CodeCurrencyNotAllowed, decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/v1/tradings", buyer, CreateTradingRequest{Collection: collection.String(), AssetID: "1", Price: "5"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, marketplace.CodeNotAuthorized, decodeBody[ErrorResponse](t, rec).Code)

	s.list(t, "1", "5", marketplace.NativeCurrency)
	rec = s.do(t, http.MethodPost, "/v1/tradings", seller, CreateTradingRequest{Collection: collection.String(), AssetID: "1", Price: "5"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, marketplace.CodeAlreadyListed, decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/v1/tradings", seller, map[string]string{"collection": collection.String(), "bogus": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeBody[ErrorResponse](t, rec).Code)
}

func TestBuyNative(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	s.list(t, "1", "10000", marketplace.NativeCurrency)

	rec := s.do(t, http.MethodPost, tradingPath("1")+"/buy", buyer, BuyRequest{Value: "9999"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, marketplace.CodeInsufficientPayment, decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, tradingPath("1")+"/buy", buyer, BuyRequest{Value: "12000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sale := decodeBody[SaleDTO](t, rec)
	assert.Equal(t, buyer.String(), sale.Buyer)
	assert.EqualValues(t, 15, sale.Rate)
	assert.Equal(t, "1500", sale.Fee)
	assert.Equal(t, "8500", sale.Proceeds)
	assert.Equal(t, "2000", sale.Change)
	assert.NotZero(t, sale.SoldAt)

	owner, err := s.registry.OwnerOf(ctx, collection, "1")
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)
	paid, err := s.bank.BalanceOf(ctx, marketplace.NativeCurrency, seller)
	require.NoError(t, err)
	assert.EqualValues(t, 8500, paid)

	rec = s.do(t, http.MethodPost, tradingPath("1")+"/buy", buyer, BuyRequest{Value: "10000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuyTokenWithEmptyBody(t *testing.T) {
	s := newTestServer(t, nil)
	s.list(t, "2", "2000", token)

	rec := s.do(t, http.MethodPost, tradingPath("2")+"/buy", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sale := decodeBody[SaleDTO](t, rec)
	assert.Equal(t, "300", sale.Fee)
	assert.Equal(t, token.String(), sale.Trading.Currency)
}

func TestBuyPayoutFailureRollsBack(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	// the seller's native balance cannot absorb the proceeds
	require.NoError(t, s.bank.Mint(ctx, marketplace.NativeCurrency, seller, math.MaxUint64))
	s.list(t, "1", "10000", marketplace.NativeCurrency)

	rec := s.do(t, http.MethodPost, tradingPath("1")+"/buy", buyer, BuyRequest{Value: "10000"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	assert.Equal(t, marketplace.CodePaymentTransferFailed, decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, tradingPath("1"), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "trading stays listed")
	owner, err := s.registry.OwnerOf(ctx, collection, "1")
	require.NoError(t, err)
	assert.Equal(t, seller, owner)
	bal, err := s.bank.BalanceOf(ctx, marketplace.NativeCurrency, buyer)
	require.NoError(t, err)
	assert.EqualValues(t, 100000, bal)
	bal, err = s.bank.BalanceOf(ctx, marketplace.NativeCurrency, market)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestMarketplaceCannotBuyFromItself(t *testing.T) {
	s := newTestServer(t, nil)
	s.list(t, "1", "10000", marketplace.NativeCurrency)

	rec := s.do(t, http.MethodPost, tradingPath("1")+"/buy", market, BuyRequest{Value: "10000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, marketplace.CodeInvalidArgument, decodeBody[ErrorResponse](t, rec).Code)
}

func TestCancelTrading(t *testing.T) {
	s := newTestServer(t, nil)
	s.list(t, "1", "10000", marketplace.NativeCurrency)

	rec := s.do(t, http.MethodDelete, tradingPath("1"), buyer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, marketplace.CodeNotSeller, decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodDelete, tradingPath("1"), seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, listed := s.engine.Trading(collection, "1")
	assert.False(t, listed)

	rec = s.do(t, http.MethodDelete, tradingPath("1"), seller, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdempotentReplay(t *testing.T) {
	s := newTestServer(t, nil)
	body := CreateTradingRequest{Collection: collection.String(), AssetID: "1", Price: "10000"}

	first := s.do(t, http.MethodPost, "/v1/tradings", seller, body, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(HeaderReplayed))

	second := s.do(t, http.MethodPost, "/v1/tradings", seller, body, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	third := s.do(t, http.MethodPost, "/v1/tradings", seller, body, HeaderIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusConflict, third.Code)
}

func TestFeeEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	path := "/v1/admin/fees/" + collection.String()

	rec := s.do(t, http.MethodPut, path, seller, SpecialFeeRequest{Rate: 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, path, admin, SpecialFeeRequest{Rate: 101})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, path, admin, SpecialFeeRequest{Rate: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	fee := decodeBody[FeeDTO](t, rec)
	assert.True(t, fee.SpecialFee)
	assert.EqualValues(t, 5, fee.EffectiveRate)
	assert.EqualValues(t, 15, fee.GlobalRate)

	rec = s.do(t, http.MethodGet, "/v1/fees/"+collection.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decodeBody[FeeDTO](t, rec).EffectiveRate)

	rec = s.do(t, http.MethodDelete, path, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fee = decodeBody[FeeDTO](t, rec)
	assert.False(t, fee.SpecialFee)
	assert.EqualValues(t, 15, fee.EffectiveRate)
}

func TestCurrencyEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	other := "0x0000000000000000000000000000000000008080"

	rec := s.do(t, http.MethodPost, "/v1/admin/currencies", admin, CurrencyRequest{Currency: other})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody[CurrenciesDTO](t, rec).Currencies, other)

	rec = s.do(t, http.MethodDelete, "/v1/admin/currencies/"+other, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decodeBody[CurrenciesDTO](t, rec).Currencies, other)

	rec = s.do(t, http.MethodPost, "/v1/admin/currencies", seller, CurrencyRequest{Currency: other})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/currencies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody[CurrenciesDTO](t, rec).Currencies, token.String())
}

func TestClaimAndBalances(t *testing.T) {
	s := newTestServer(t, nil)
	s.list(t, "1", "10000", marketplace.NativeCurrency)
	rec := s.do(t, http.MethodPost, tradingPath("1")+"/buy", buyer, BuyRequest{Value: "10000"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/admin/balances", seller, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/admin/balances", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decodeBody[BalancesDTO](t, rec)
	var nativeFee string
	for _, b := range balances.Fees {
		if b.Currency == marketplace.NativeCurrency.String() {
			nativeFee = b.Amount
		}
	}
	assert.Equal(t, "1500", nativeFee)

	rec = s.do(t, http.MethodPost, "/v1/admin/claim", admin, ClaimRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1500", decodeBody[ClaimDTO](t, rec).Amount)

	claimed, err := s.bank.BalanceOf(context.Background(), marketplace.NativeCurrency, admin)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, claimed)
}

func TestRoleEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/admin/roles/"+seller.String(), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody[RolesDTO](t, rec).Admins, seller.String())
	assert.True(t, s.engine.IsAdmin(seller))

	rec = s.do(t, http.MethodDelete, "/v1/admin/roles/"+seller.String(), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.engine.IsAdmin(seller))

	rec = s.do(t, http.MethodGet, "/v1/admin/roles", buyer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListEvents(t *testing.T) {
	archive := new(MockArchive)
	s := newTestServer(t, archive)

	ev := marketplace.Event{Type: marketplace.EventTradingSold, Collection: collection, AssetID: "1", At: time.Unix(1700000000, 0).UTC()}
	archive.On("Query", mock.Anything, repository.EventQuery{
		Collection: collection,
		Type:       marketplace.EventTradingSold,
		Limit:      10,
	}).Return([]marketplace.Event{ev}, "41", nil).Once()

	rec := s.do(t, http.MethodGet, "/v1/events?collection="+collection.String()+"&type=TRADING_SOLD&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decodeBody[EventsDTO](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "1", page.Items[0].AssetID)
	assert.Equal(t, "41", page.NextCursor)
	archive.AssertExpectations(t)

	rec = s.do(t, http.MethodGet, "/v1/events?limit=100000", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEventsWithoutArchive(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/v1/events", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "ARCHIVE_DISABLED", decodeBody[ErrorResponse](t, rec).Code)
}

func TestReadiness(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.handler.AddReadinessCheck("kv", pingerFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	rec = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Message, "kv")

	rec = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDevEndpointsDriveAListing(t *testing.T) {
	s := newTestServer(t, nil)
	newcomer := marketplace.MustParseAddress("0x0000000000000000000000000000000000000777")

	rec := s.do(t, http.MethodPost, "/v1/dev/assets/mint", "", MintAssetRequest{
		Collection: collection.String(), AssetID: "50", To: newcomer.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"50"}, decodeBody[AssetsDTO](t, rec).AssetIDs)

	rec = s.do(t, http.MethodPost, "/v1/dev/assets/mint", "", MintAssetRequest{
		Collection: collection.String(), AssetID: "50", To: newcomer.String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/tradings", newcomer, CreateTradingRequest{Collection: collection.String(), AssetID: "50", Price: "100"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/dev/assets/approve", newcomer, ApproveAssetsRequest{Collection: collection.String()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/tradings", newcomer, CreateTradingRequest{Collection: collection.String(), AssetID: "50", Price: "100"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/dev/funds/mint", "", FundRequest{Currency: token.String(), Holder: newcomer.String(), Amount: "700"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/dev/funds/approve", newcomer, AllowanceRequest{Currency: token.String(), Amount: "300"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 300, s.bank.Allowance(context.Background(), token, newcomer, market))

	rec = s.do(t, http.MethodGet, "/v1/dev/balances/"+newcomer.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	wallet := decodeBody[WalletDTO](t, rec)
	var tokenBalance string
	for _, b := range wallet.Balances {
		if b.Currency == token.String() {
			tokenBalance = b.Amount
		}
	}
	assert.Equal(t, "700", tokenBalance)

	rec = s.do(t, http.MethodGet, "/v1/dev/assets/"+collection.String()+"/"+seller.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"1", "2"}, decodeBody[AssetsDTO](t, rec).AssetIDs)
}
