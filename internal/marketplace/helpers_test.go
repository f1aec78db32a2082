package marketplace_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/onchain"
)

var (
	admin      = marketplace.MustParseAddress("0x000000000000000000000000000000000000ad01")
	seller     = marketplace.MustParseAddress("0x0000000000000000000000000000000000005e11")
	buyer      = marketplace.MustParseAddress("0x000000000000000000000000000000000000b0b0")
	stranger   = marketplace.MustParseAddress("0x0000000000000000000000000000000000005707")
	market     = marketplace.MustParseAddress("0x000000000000000000000000000000000000e4e4")
	collection = marketplace.MustParseAddress("0x000000000000000000000000000000000000c011")
	token      = marketplace.MustParseAddress("0x0000000000000000000000000000000000007070")
	native     = marketplace.NativeCurrency
)

const (
	defaultRate  = 15
	defaultPrice = 10000
	startBalance = 100000
)

type recordingSink struct {
	mu     sync.Mutex
	events []marketplace.Event
	err    error
}

func (s *recordingSink) Emit(ctx context.Context, ev marketplace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) types() []marketplace.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]marketplace.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *recordingSink) last() marketplace.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type memoryStateStore struct {
	mu    sync.Mutex
	saves int
	last  marketplace.State
	err   error
}

func (s *memoryStateStore) Save(ctx context.Context, st marketplace.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = st
	return s.err
}

type fixture struct {
	engine   *marketplace.Engine
	registry *onchain.Registry
	bank     *onchain.Bank
	sink     *recordingSink
	store    *memoryStateStore
}

// newFixture mints asset "1" and "2" to the seller with the marketplace
// approved as operator, and funds the buyer with native value and tokens.
func newFixture(t *testing.T, opts ...marketplace.Option) *fixture {
	t.Helper()
	return newFaultyFixture(t, faults{}, opts...)
}

// faults wraps the fixture collaborators: payments to payTo and asset
// transfers made inside a unit of work fail when set.
type faults struct {
	payTo    marketplace.Address
	transfer error
}

func newFaultyFixture(t *testing.T, fl faults, opts ...marketplace.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		registry: onchain.NewRegistry(),
		bank:     onchain.NewBank(),
		sink:     &recordingSink{},
		store:    &memoryStateStore{},
	}
	for _, id := range []string{"1", "2"} {
		require.NoError(t, f.registry.Mint(ctx, collection, id, seller))
	}
	require.NoError(t, f.registry.SetApprovalForAll(ctx, collection, seller, market, true))
	require.NoError(t, f.bank.Mint(ctx, native, buyer, startBalance))
	require.NoError(t, f.bank.Mint(ctx, token, buyer, startBalance))
	require.NoError(t, f.bank.Approve(ctx, token, buyer, market, startBalance))

	opts = append([]marketplace.Option{
		marketplace.WithEventSink(f.sink),
		marketplace.WithStateStore(f.store),
	}, opts...)
	engine, err := marketplace.NewEngine(marketplace.Config{
		Address:    market,
		FeeRate:    defaultRate,
		Admins:     []marketplace.Address{admin},
		Currencies: []marketplace.Address{token},
	}, &faultyRegistry{Registry: f.registry, err: fl.transfer}, &faultyPayments{Bank: f.bank, failTo: fl.payTo}, opts...)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) balance(t *testing.T, currency, who marketplace.Address) uint64 {
	t.Helper()
	b, err := f.bank.BalanceOf(context.Background(), currency, who)
	require.NoError(t, err)
	return b
}

func (f *fixture) owner(t *testing.T, assetID string) marketplace.Address {
	t.Helper()
	o, err := f.registry.OwnerOf(context.Background(), collection, assetID)
	require.NoError(t, err)
	return o
}

func (f *fixture) list(t *testing.T, assetID string, price uint64, currency marketplace.Address) marketplace.TradingRecord {
	t.Helper()
	rec, err := f.engine.CreateTrading(context.Background(), seller, collection, assetID, price, currency)
	require.NoError(t, err)
	return rec
}

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) OwnerOf(ctx context.Context, c marketplace.Address, assetID string) (marketplace.Address, error) {
	args := m.Called(ctx, c, assetID)
	return args.Get(0).(marketplace.Address), args.Error(1)
}

func (m *mockRegistry) IsApprovedForTransfer(ctx context.Context, c marketplace.Address, assetID string, operator marketplace.Address) (bool, error) {
	args := m.Called(ctx, c, assetID, operator)
	return args.Bool(0), args.Error(1)
}

func (m *mockRegistry) Begin(ctx context.Context) (marketplace.AssetTx, error) {
	args := m.Called(ctx)
	return args.Get(0).(marketplace.AssetTx), args.Error(1)
}

type mockAssetTx struct {
	mock.Mock
}

func (m *mockAssetTx) Transfer(ctx context.Context, c marketplace.Address, assetID string, operator, from, to marketplace.Address) error {
	args := m.Called(ctx, c, assetID, operator, from, to)
	return args.Error(0)
}

func (m *mockAssetTx) Commit() error   { return m.Called().Error(0) }
func (m *mockAssetTx) Rollback() error { return m.Called().Error(0) }

var errProviderFault = errors.New("provider fault")

// faultyPayments fails transfers to failTo and delegates the rest.
type faultyPayments struct {
	*onchain.Bank
	failTo marketplace.Address
}

func (p *faultyPayments) TransferFrom(ctx context.Context, currency, spender, from, to marketplace.Address, amount uint64) error {
	if p.failTo != "" && to == p.failTo {
		return errProviderFault
	}
	return p.Bank.TransferFrom(ctx, currency, spender, from, to, amount)
}

func (p *faultyPayments) Begin(ctx context.Context) (marketplace.PaymentTx, error) {
	tx, err := p.Bank.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyPaymentTx{PaymentTx: tx, failTo: p.failTo}, nil
}

type faultyPaymentTx struct {
	marketplace.PaymentTx
	failTo marketplace.Address
}

func (tx *faultyPaymentTx) TransferFrom(ctx context.Context, currency, spender, from, to marketplace.Address, amount uint64) error {
	if tx.failTo != "" && to == tx.failTo {
		return errProviderFault
	}
	return tx.PaymentTx.TransferFrom(ctx, currency, spender, from, to, amount)
}

// faultyRegistry fails every asset transfer made in a unit of work when err
// is set.
type faultyRegistry struct {
	*onchain.Registry
	err error
}

func (r *faultyRegistry) Begin(ctx context.Context) (marketplace.AssetTx, error) {
	tx, err := r.Registry.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyAssetTx{AssetTx: tx, err: r.err}, nil
}

type faultyAssetTx struct {
	marketplace.AssetTx
	err error
}

func (tx *faultyAssetTx) Transfer(ctx context.Context, c marketplace.Address, assetID string, operator, from, to marketplace.Address) error {
	if tx.err != nil {
		return tx.err
	}
	return tx.AssetTx.Transfer(ctx, c, assetID, operator, from, to)
}
