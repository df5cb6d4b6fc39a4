package idempotency

import (
	"context"
	"errors"
	"time"

	platformfirestore "github.com/npi-gateway/applepay-api/internal/platform/firestore"
)

const firestoreCollection = "idempotency_keys"

type recordDocument struct {
	Fingerprint    string    `firestore:"fingerprint"`
	Completed      bool      `firestore:"completed"`
	ResponseStatus int       `firestore:"responseStatus"`
	ContentType    string    `firestore:"contentType"`
	ResponseBody   []byte    `firestore:"responseBody"`
	ExpiresAt      time.Time `firestore:"expiresAt"`
}

// FirestoreStore persists idempotency records in a Firestore collection, using
// create-if-absent semantics for reservation.
type FirestoreStore struct {
	base *platformfirestore.BaseRepository[recordDocument]
}

// NewFirestoreStore constructs a FirestoreStore backed by the shared provider.
func NewFirestoreStore(provider *platformfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	base := platformfirestore.NewBaseRepository[recordDocument](provider, firestoreCollection, nil, nil)
	return &FirestoreStore{base: base}, nil
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fp string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := hashKey(key)
	fresh := recordDocument{Fingerprint: fp, ExpiresAt: now.Add(ttl)}

	err := s.base.Create(ctx, id, fresh)
	if err == nil {
		return Reservation{State: StateNew}, nil
	}

	var storeErr *platformfirestore.Error
	if !errors.As(err, &storeErr) || !storeErr.IsConflict() {
		return Reservation{}, err
	}

	doc, getErr := s.base.Get(ctx, id)
	if getErr != nil {
		var notFound *platformfirestore.Error
		if errors.As(getErr, &notFound) && notFound.IsNotFound() {
			// Record vanished between create and get. Treat the key as free.
			if err := s.base.Set(ctx, id, fresh); err != nil {
				return Reservation{}, err
			}
			return Reservation{State: StateNew}, nil
		}
		return Reservation{}, getErr
	}

	existing := doc.Data
	if !now.Before(existing.ExpiresAt) {
		if err := s.base.Set(ctx, id, fresh); err != nil {
			return Reservation{}, err
		}
		return Reservation{State: StateNew}, nil
	}
	if existing.Fingerprint != fp {
		return Reservation{}, ErrFingerprintMismatch
	}
	record := recordFromDocument(existing)
	if existing.Completed {
		return Reservation{State: StateCompleted, Record: record}, nil
	}
	return Reservation{State: StatePending, Record: record}, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, fp string, status int, contentType string, body []byte, now time.Time, ttl time.Duration) error {
	return s.base.Set(ctx, hashKey(key), recordDocument{
		Fingerprint:    fp,
		Completed:      true,
		ResponseStatus: status,
		ContentType:    contentType,
		ResponseBody:   append([]byte(nil), body...),
		ExpiresAt:      now.Add(ttl),
	})
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.base.Delete(ctx, hashKey(key))
}

func recordFromDocument(doc recordDocument) Record {
	return Record{
		Fingerprint:    doc.Fingerprint,
		Completed:      doc.Completed,
		ResponseStatus: doc.ResponseStatus,
		ContentType:    doc.ContentType,
		ResponseBody:   doc.ResponseBody,
		ExpiresAt:      doc.ExpiresAt,
	}
}
