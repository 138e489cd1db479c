// Package memory holds a process-local ConsumptionStore for tests and
// development. It honors the same atomicity contract as the durable
// backends but offers no durability; production deployments use the
// postgres store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kamiyo/x402/store"
	"github.com/kamiyo/x402/types"
)

type Store struct {
	mu      sync.Mutex
	records map[string]store.ConsumptionRecord
}

var _ store.ConsumptionStore = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[string]store.ConsumptionRecord)}
}

func key(chain types.Chain, txID string) string {
	return string(chain) + ":" + txID
}

func (s *Store) Consume(_ context.Context, rec store.ConsumptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(rec.Chain, rec.TxID)
	if _, ok := s.records[k]; ok {
		return store.ErrAlreadyConsumed
	}
	s.records[k] = rec
	return nil
}

func (s *Store) Get(_ context.Context, chain types.Chain, txID string) (*store.ConsumptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key(chain, txID)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *Store) Purge(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.records {
		if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// Len reports the current record count, for tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
