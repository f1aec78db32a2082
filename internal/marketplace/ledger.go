package marketplace

import (
	"sort"
)

// Ledger holds at most one active trading record per (collection, asset).
// It is not safe for concurrent use; the Engine serializes access.
type Ledger struct {
	records map[TradingKey]TradingRecord
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[TradingKey]TradingRecord)}
}

// Insert adds a record. It fails with ErrAlreadyListed if the key is live.
func (l *Ledger) Insert(r TradingRecord) error {
	if _, exists := l.records[r.Key()]; exists {
		return ErrAlreadyListed
	}
	l.records[r.Key()] = r
	return nil
}

// Get returns the live record for key. Absence is not an error.
func (l *Ledger) Get(key TradingKey) (TradingRecord, bool) {
	r, ok := l.records[key]
	return r, ok
}

// Remove deletes the record for key and reports whether it existed.
func (l *Ledger) Remove(key TradingKey) bool {
	if _, ok := l.records[key]; !ok {
		return false
	}
	delete(l.records, key)
	return true
}

func (l *Ledger) Len() int {
	return len(l.records)
}

// List returns matching records ordered by start time, then key.
func (l *Ledger) List(filter TradingFilter) []TradingRecord {
	out := make([]TradingRecord, 0, len(l.records))
	for _, r := range l.records {
		if filter.matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}
