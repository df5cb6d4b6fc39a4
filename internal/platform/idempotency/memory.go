package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps idempotency records in process memory. Suitable for local
// development and single-instance deployments only.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fp string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := hashKey(key)
	record, ok := s.records[id]
	if ok && now.Before(record.ExpiresAt) {
		if record.Fingerprint != fp {
			return Reservation{}, ErrFingerprintMismatch
		}
		if record.Completed {
			return Reservation{State: StateCompleted, Record: record}, nil
		}
		return Reservation{State: StatePending, Record: record}, nil
	}

	s.records[id] = Record{Fingerprint: fp, ExpiresAt: now.Add(ttl)}
	return Reservation{State: StateNew}, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, fp string, status int, contentType string, body []byte, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[hashKey(key)] = Record{
		Fingerprint:    fp,
		Completed:      true,
		ResponseStatus: status,
		ContentType:    contentType,
		ResponseBody:   append([]byte(nil), body...),
		ExpiresAt:      now.Add(ttl),
	}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, hashKey(key))
	return nil
}
