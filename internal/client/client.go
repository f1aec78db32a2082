// Package client is an HTTP client for the marketplace API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/leafsii/marketplace/internal/api"
	"go.uber.org/zap"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	endpoint string
	caller   string
	http     *retryablehttp.Client
	logger   *zap.SugaredLogger
}

type Option func(*Client)

// WithCaller sets the principal sent in the X-User-Address header.
func WithCaller(addr string) Option {
	return func(c *Client) { c.caller = addr }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logger
		c.http.Logger = leveledLogger{logger}
	}
}

func WithRetryMax(n int) Option {
	return func(c *Client) { c.http.RetryMax = n }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.HTTPClient.Timeout = d }
}

func New(endpoint string, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	// hand back the last response so server errors decode into APIError
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     retryClient,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// As returns a copy of the client acting for another caller.
func (c *Client) As(caller string) *Client {
	cp := *c
	cp.caller = caller
	return &cp
}

// do sends one request. Mutating requests carry a fresh Idempotency-Key so
// the server replays rather than repeats them when a retry follows a lost
// response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var raw any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		raw = data
	}
	req, err := retryablehttp.NewRequest(method, target, raw)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.caller != "" {
		req.Header.Set(api.HeaderCaller, c.caller)
	}
	if method != http.MethodGet {
		req.Header.Set(api.HeaderIdempotencyKey, uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var body api.ErrorResponse
		if json.Unmarshal(data, &body) == nil && body.Code != "" {
			apiErr.Code, apiErr.Message = body.Code, body.Message
		} else {
			apiErr.Code, apiErr.Message = http.StatusText(resp.StatusCode), strings.TrimSpace(string(data))
		}
		return apiErr
	}
	c.logger.Debugw("API call", "method", method, "path", path, "status", resp.StatusCode)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func tradingPath(collection, assetID string) string {
	return "/v1/tradings/" + url.PathEscape(collection) + "/" + url.PathEscape(assetID)
}

// TradingQuery filters ListTradings; empty fields match everything.
type TradingQuery struct {
	Collection string
	Seller     string
	Currency   string
}

func (c *Client) ListTradings(ctx context.Context, q TradingQuery) (api.TradingListDTO, error) {
	query := url.Values{}
	for k, v := range map[string]string{"collection": q.Collection, "seller": q.Seller, "currency": q.Currency} {
		if v != "" {
			query.Set(k, v)
		}
	}
	var out api.TradingListDTO
	err := c.do(ctx, http.MethodGet, "/v1/tradings", query, nil, &out)
	return out, err
}

func (c *Client) GetTrading(ctx context.Context, collection, assetID string) (api.TradingDTO, error) {
	var out api.TradingDTO
	err := c.do(ctx, http.MethodGet, tradingPath(collection, assetID), nil, nil, &out)
	return out, err
}

func (c *Client) CreateTrading(ctx context.Context, req api.CreateTradingRequest) (api.TradingDTO, error) {
	var out api.TradingDTO
	err := c.do(ctx, http.MethodPost, "/v1/tradings", nil, req, &out)
	return out, err
}

// Buy purchases a trading. value is the native amount attached, empty for
// token-priced tradings.
func (c *Client) Buy(ctx context.Context, collection, assetID, value string) (api.SaleDTO, error) {
	var out api.SaleDTO
	err := c.do(ctx, http.MethodPost, tradingPath(collection, assetID)+"/buy", nil, api.BuyRequest{Value: value}, &out)
	return out, err
}

func (c *Client) CancelTrading(ctx context.Context, collection, assetID string) (api.TradingDTO, error) {
	var out api.TradingDTO
	err := c.do(ctx, http.MethodDelete, tradingPath(collection, assetID), nil, nil, &out)
	return out, err
}

func (c *Client) GetFee(ctx context.Context, collection string) (api.FeeDTO, error) {
	var out api.FeeDTO
	err := c.do(ctx, http.MethodGet, "/v1/fees/"+url.PathEscape(collection), nil, nil, &out)
	return out, err
}

func (c *Client) ListCurrencies(ctx context.Context) (api.CurrenciesDTO, error) {
	var out api.CurrenciesDTO
	err := c.do(ctx, http.MethodGet, "/v1/currencies", nil, nil, &out)
	return out, err
}

// ListEvents pages through the event archive. query takes the same
// parameters as GET /v1/events.
func (c *Client) ListEvents(ctx context.Context, query url.Values) (api.EventsDTO, error) {
	var out api.EventsDTO
	err := c.do(ctx, http.MethodGet, "/v1/events", query, nil, &out)
	return out, err
}

// Admin

func (c *Client) SetSpecialFee(ctx context.Context, collection string, rate int) (api.FeeDTO, error) {
	var out api.FeeDTO
	err := c.do(ctx, http.MethodPut, "/v1/admin/fees/"+url.PathEscape(collection), nil, api.SpecialFeeRequest{Rate: rate}, &out)
	return out, err
}

func (c *Client) RemoveSpecialFee(ctx context.Context, collection string) (api.FeeDTO, error) {
	var out api.FeeDTO
	err := c.do(ctx, http.MethodDelete, "/v1/admin/fees/"+url.PathEscape(collection), nil, nil, &out)
	return out, err
}

func (c *Client) AddCurrency(ctx context.Context, currency string) (api.CurrenciesDTO, error) {
	var out api.CurrenciesDTO
	err := c.do(ctx, http.MethodPost, "/v1/admin/currencies", nil, api.CurrencyRequest{Currency: currency}, &out)
	return out, err
}

func (c *Client) RemoveCurrency(ctx context.Context, currency string) (api.CurrenciesDTO, error) {
	var out api.CurrenciesDTO
	err := c.do(ctx, http.MethodDelete, "/v1/admin/currencies/"+url.PathEscape(currency), nil, nil, &out)
	return out, err
}

// Claim withdraws accumulated fees; an empty currency claims native fees.
func (c *Client) Claim(ctx context.Context, currency string) (api.ClaimDTO, error) {
	var out api.ClaimDTO
	err := c.do(ctx, http.MethodPost, "/v1/admin/claim", nil, api.ClaimRequest{Currency: currency}, &out)
	return out, err
}

func (c *Client) Balances(ctx context.Context) (api.BalancesDTO, error) {
	var out api.BalancesDTO
	err := c.do(ctx, http.MethodGet, "/v1/admin/balances", nil, nil, &out)
	return out, err
}

func (c *Client) Roles(ctx context.Context) (api.RolesDTO, error) {
	var out api.RolesDTO
	err := c.do(ctx, http.MethodGet, "/v1/admin/roles", nil, nil, &out)
	return out, err
}

func (c *Client) GrantAdmin(ctx context.Context, principal string) (api.RolesDTO, error) {
	var out api.RolesDTO
	err := c.do(ctx, http.MethodPost, "/v1/admin/roles/"+url.PathEscape(principal), nil, nil, &out)
	return out, err
}

func (c *Client) RevokeAdmin(ctx context.Context, principal string) (api.RolesDTO, error) {
	var out api.RolesDTO
	err := c.do(ctx, http.MethodDelete, "/v1/admin/roles/"+url.PathEscape(principal), nil, nil, &out)
	return out, err
}

// Dev endpoints, available when the server runs with dev endpoints enabled.

func (c *Client) MintAsset(ctx context.Context, collection, assetID, to string) (api.AssetsDTO, error) {
	var out api.AssetsDTO
	err := c.do(ctx, http.MethodPost, "/v1/dev/assets/mint", nil, api.MintAssetRequest{Collection: collection, AssetID: assetID, To: to}, &out)
	return out, err
}

func (c *Client) ApproveMarket(ctx context.Context, collection string, approved bool) error {
	return c.do(ctx, http.MethodPost, "/v1/dev/assets/approve", nil, api.ApproveAssetsRequest{Collection: collection, Approved: &approved}, nil)
}

func (c *Client) Fund(ctx context.Context, currency, holder, amount string) (api.WalletDTO, error) {
	var out api.WalletDTO
	err := c.do(ctx, http.MethodPost, "/v1/dev/funds/mint", nil, api.FundRequest{Currency: currency, Holder: holder, Amount: amount}, &out)
	return out, err
}

func (c *Client) ApproveAllowance(ctx context.Context, currency, amount string) error {
	return c.do(ctx, http.MethodPost, "/v1/dev/funds/approve", nil, api.AllowanceRequest{Currency: currency, Amount: amount}, nil)
}

func (c *Client) Wallet(ctx context.Context, address string) (api.WalletDTO, error) {
	var out api.WalletDTO
	err := c.do(ctx, http.MethodGet, "/v1/dev/balances/"+url.PathEscape(address), nil, nil, &out)
	return out, err
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
