package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/onchain"
	memkv "github.com/leafsii/marketplace/pkg/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin      = marketplace.MustParseAddress("0x000000000000000000000000000000000000ad01")
	seller     = marketplace.MustParseAddress("0x0000000000000000000000000000000000005e11")
	buyer      = marketplace.MustParseAddress("0x000000000000000000000000000000000000b0b0")
	collection = marketplace.MustParseAddress("0x00000000000000000000000000000000000000c1")
	token      = marketplace.MustParseAddress("0x0000000000000000000000000000000000007070")
)

func sampleState() marketplace.State {
	return marketplace.State{
		Tradings: []marketplace.TradingRecord{{
			ID:         uuid.New(),
			Collection: collection,
			AssetID:    "7",
			Seller:     seller,
			Price:      1000,
			Currency:   token,
			StartedAt:  time.Unix(1700000000, 0).UTC(),
		}},
		SpecialFees: map[marketplace.Address]marketplace.SpecialFee{
			collection: {Enabled: true, Rate: 5},
		},
		Currencies: []marketplace.Address{token},
		Admins:     []marketplace.Address{admin},
		Fees:       map[marketplace.Address]uint64{marketplace.NativeCurrency: 42, token: 7},
	}
}

func TestStateRepositoryRoundTrip(t *testing.T) {
	repo := NewStateRepository(memkv.NewStore(), nil)
	ctx := context.Background()

	_, found, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	want := sampleState()
	require.NoError(t, repo.Save(ctx, want))

	got, found, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.Tradings, got.Tradings)
	assert.Equal(t, want.SpecialFees, got.SpecialFees)
	assert.ElementsMatch(t, want.Currencies, got.Currencies)
	assert.ElementsMatch(t, want.Admins, got.Admins)
	assert.Equal(t, want.Fees, got.Fees)

	rev, err := repo.Revision(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rev)
}

func TestStateRepositorySaveReplacesPreviousSnapshot(t *testing.T) {
	repo := NewStateRepository(memkv.NewStore(), nil)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleState()))
	require.NoError(t, repo.Save(ctx, marketplace.State{Admins: []marketplace.Address{admin}}))

	got, found, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, got.Tradings)
	assert.Empty(t, got.SpecialFees)
	assert.Empty(t, got.Currencies)
	assert.Empty(t, got.Fees)
	assert.Equal(t, []marketplace.Address{admin}, got.Admins)

	rev, err := repo.Revision(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rev)
}

func TestStateRepositoryReset(t *testing.T) {
	repo := NewStateRepository(memkv.NewStore(), nil)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleState()))
	require.NoError(t, repo.Reset(ctx))

	_, found, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStateRepositoryRestoresEngine(t *testing.T) {
	repo := NewStateRepository(memkv.NewStore(), nil)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, sampleState()))

	st, found, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)

	engine, err := marketplace.NewEngine(marketplace.Config{
		Address: marketplace.MustParseAddress("0x000000000000000000000000000000000000e4e4"),
		FeeRate: 15,
		Admins:  []marketplace.Address{admin},
	}, onchain.NewRegistry(), onchain.NewBank(), marketplace.WithState(st))
	require.NoError(t, err)

	rec, ok := engine.Trading(collection, "7")
	require.True(t, ok)
	assert.Equal(t, seller, rec.Seller)
	assert.EqualValues(t, 5, engine.FeeRate(collection))
	assert.True(t, engine.IsCurrencyAllowed(token))
	assert.EqualValues(t, 42, engine.AccumulatedFee(marketplace.NativeCurrency))
}

func TestStateRepositoryCollaborators(t *testing.T) {
	repo := NewStateRepository(memkv.NewStore(), nil)
	ctx := context.Background()

	registry := onchain.NewRegistry()
	bank := onchain.NewBank()
	require.NoError(t, registry.Mint(ctx, collection, "1", seller))
	require.NoError(t, bank.Mint(ctx, token, buyer, 500))

	found, err := repo.LoadCollaborators(ctx, onchain.NewRegistry(), onchain.NewBank())
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.SaveCollaborators(ctx, registry, bank))

	restoredRegistry := onchain.NewRegistry()
	restoredBank := onchain.NewBank()
	found, err = repo.LoadCollaborators(ctx, restoredRegistry, restoredBank)
	require.NoError(t, err)
	require.True(t, found)

	owner, err := restoredRegistry.OwnerOf(ctx, collection, "1")
	require.NoError(t, err)
	assert.Equal(t, seller, owner)
	balance, err := restoredBank.BalanceOf(ctx, token, buyer)
	require.NoError(t, err)
	assert.EqualValues(t, 500, balance)
}

func TestWithCollaboratorsSavesBoth(t *testing.T) {
	repo := NewStateRepository(memkv.NewStore(), nil)
	ctx := context.Background()

	registry := onchain.NewRegistry()
	bank := onchain.NewBank()
	require.NoError(t, registry.Mint(ctx, collection, "9", buyer))

	require.NoError(t, repo.WithCollaborators(registry, bank).Save(ctx, sampleState()))

	_, found, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)

	restored := onchain.NewRegistry()
	found, err = repo.LoadCollaborators(ctx, restored, onchain.NewBank())
	require.NoError(t, err)
	require.True(t, found)
	owner, err := restored.OwnerOf(ctx, collection, "9")
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)
}
