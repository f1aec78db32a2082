package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/onchain"
	"github.com/leafsii/marketplace/pkg/kv"
	"go.uber.org/zap"
)

// KV layout of an engine snapshot. Each hash holds one field per entry.
const (
	KeyTradings    = "mp:state:tradings"
	KeySpecialFees = "mp:state:special_fees"
	KeyCurrencies  = "mp:state:currencies"
	KeyAdmins      = "mp:state:admins"
	KeyFees        = "mp:state:fees"
	KeyRevision    = "mp:state:revision"

	KeyRegistry = "mp:onchain:registry"
	KeyBank     = "mp:onchain:bank"
)

var stateKeys = []string{KeyTradings, KeySpecialFees, KeyCurrencies, KeyAdmins, KeyFees, KeyRevision}

// StateRepository persists engine snapshots, and optionally the in-process
// collaborators, in a kv.Store.
type StateRepository struct {
	store  kv.Store
	logger *zap.SugaredLogger
}

var _ marketplace.StateStore = (*StateRepository)(nil)

func NewStateRepository(store kv.Store, logger *zap.SugaredLogger) *StateRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StateRepository{store: store, logger: logger}
}

// Save writes st and bumps the revision counter.
func (r *StateRepository) Save(ctx context.Context, st marketplace.State) error {
	tradings := make(map[string][]byte, len(st.Tradings))
	for _, rec := range st.Tradings {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal trading %s: %w", rec.Key(), err)
		}
		tradings[rec.Key().String()] = data
	}

	special := make(map[string][]byte, len(st.SpecialFees))
	for c, f := range st.SpecialFees {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to marshal special fee %s: %w", c, err)
		}
		special[c.String()] = data
	}

	currencies := make(map[string][]byte, len(st.Currencies))
	for _, c := range st.Currencies {
		currencies[c.String()] = []byte("1")
	}

	admins := make(map[string][]byte, len(st.Admins))
	for _, a := range st.Admins {
		admins[a.String()] = []byte("1")
	}

	fees := make(map[string][]byte, len(st.Fees))
	for c, v := range st.Fees {
		fees[c.String()] = []byte(strconv.FormatUint(v, 10))
	}

	for _, h := range []struct {
		key    string
		fields map[string][]byte
	}{
		{KeyTradings, tradings},
		{KeySpecialFees, special},
		{KeyCurrencies, currencies},
		{KeyAdmins, admins},
		{KeyFees, fees},
	} {
		if err := r.store.HReplace(ctx, h.key, h.fields); err != nil {
			return fmt.Errorf("failed to save %s: %w", h.key, err)
		}
	}

	rev, err := r.store.IncrBy(ctx, KeyRevision, 1)
	if err != nil {
		return fmt.Errorf("failed to bump revision: %w", err)
	}
	r.logger.Debugw("Saved marketplace snapshot", "revision", rev, "tradings", len(st.Tradings))
	return nil
}

// Load returns the last saved snapshot. found is false when nothing was ever saved.
func (r *StateRepository) Load(ctx context.Context) (st marketplace.State, found bool, err error) {
	n, err := r.store.Exists(ctx, KeyRevision)
	if err != nil {
		return st, false, fmt.Errorf("failed to check snapshot: %w", err)
	}
	if n == 0 {
		return st, false, nil
	}

	tradings, err := r.hash(ctx, KeyTradings)
	if err != nil {
		return st, false, err
	}
	for field, data := range tradings {
		var rec marketplace.TradingRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return st, false, fmt.Errorf("failed to decode trading %s: %w", field, err)
		}
		st.Tradings = append(st.Tradings, rec)
	}

	special, err := r.hash(ctx, KeySpecialFees)
	if err != nil {
		return st, false, err
	}
	st.SpecialFees = make(map[marketplace.Address]marketplace.SpecialFee, len(special))
	for field, data := range special {
		var f marketplace.SpecialFee
		if err := json.Unmarshal(data, &f); err != nil {
			return st, false, fmt.Errorf("failed to decode special fee %s: %w", field, err)
		}
		addr, err := marketplace.ParseAddress(field)
		if err != nil {
			return st, false, fmt.Errorf("failed to decode special fee key: %w", err)
		}
		st.SpecialFees[addr] = f
	}

	if st.Currencies, err = r.addressSet(ctx, KeyCurrencies); err != nil {
		return st, false, err
	}
	if st.Admins, err = r.addressSet(ctx, KeyAdmins); err != nil {
		return st, false, err
	}

	fees, err := r.hash(ctx, KeyFees)
	if err != nil {
		return st, false, err
	}
	st.Fees = make(map[marketplace.Address]uint64, len(fees))
	for field, data := range fees {
		addr, err := marketplace.ParseAddress(field)
		if err != nil {
			return st, false, fmt.Errorf("failed to decode fee key: %w", err)
		}
		v, err := strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return st, false, fmt.Errorf("failed to decode fee balance %s: %w", field, err)
		}
		st.Fees[addr] = v
	}

	return st, true, nil
}

// Revision is the number of snapshots saved so far.
func (r *StateRepository) Revision(ctx context.Context) (int64, error) {
	data, err := r.store.Get(ctx, KeyRevision)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	return strconv.ParseInt(string(data), 10, 64)
}

// Reset removes every saved snapshot key.
func (r *StateRepository) Reset(ctx context.Context) error {
	if _, err := r.store.Del(ctx, stateKeys...); err != nil {
		return fmt.Errorf("failed to reset snapshot: %w", err)
	}
	return nil
}

func (r *StateRepository) hash(ctx context.Context, key string) (map[string][]byte, error) {
	fields, err := r.store.HGetAll(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return fields, nil
}

func (r *StateRepository) addressSet(ctx context.Context, key string) ([]marketplace.Address, error) {
	fields, err := r.hash(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]marketplace.Address, 0, len(fields))
	for field := range fields {
		addr, err := marketplace.ParseAddress(field)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s entry: %w", key, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// SaveCollaborators persists the in-process registry and bank.
func (r *StateRepository) SaveCollaborators(ctx context.Context, registry *onchain.Registry, bank *onchain.Bank) error {
	if err := r.setJSON(ctx, KeyRegistry, registry.Export()); err != nil {
		return err
	}
	return r.setJSON(ctx, KeyBank, bank.Export())
}

// LoadCollaborators restores the registry and bank if they were saved.
func (r *StateRepository) LoadCollaborators(ctx context.Context, registry *onchain.Registry, bank *onchain.Bank) (bool, error) {
	var rs onchain.RegistryState
	found, err := r.getJSON(ctx, KeyRegistry, &rs)
	if err != nil || !found {
		return false, err
	}
	var bs onchain.BankState
	if _, err := r.getJSON(ctx, KeyBank, &bs); err != nil {
		return false, err
	}
	registry.Import(rs)
	bank.Import(bs)
	return true, nil
}

// WithCollaborators returns a StateStore that saves the registry and bank
// together with every engine snapshot.
func (r *StateRepository) WithCollaborators(registry *onchain.Registry, bank *onchain.Bank) marketplace.StateStore {
	return &collaboratorStore{repo: r, registry: registry, bank: bank}
}

type collaboratorStore struct {
	repo     *StateRepository
	registry *onchain.Registry
	bank     *onchain.Bank
}

func (s *collaboratorStore) Save(ctx context.Context, st marketplace.State) error {
	if err := s.repo.SaveCollaborators(ctx, s.registry, s.bank); err != nil {
		return err
	}
	return s.repo.Save(ctx, st)
}

func (r *StateRepository) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (r *StateRepository) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Ping checks the backing store.
func (r *StateRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
