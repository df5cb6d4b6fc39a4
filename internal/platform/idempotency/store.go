package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is the default retention for idempotency records. Payment retries
// from a stale browser tab can arrive much later than ordinary API retries.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused with a different
// request payload.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request")

// State describes the outcome of reserving a key.
type State int

const (
	// StateNew means the key was free; the caller should process the request.
	StateNew State = iota
	// StateCompleted means a stored response exists and should be replayed.
	StateCompleted
	// StatePending means another request holds the key right now.
	StatePending
)

// Record is the persisted outcome for a key.
type Record struct {
	Fingerprint    string
	Completed      bool
	ResponseStatus int
	ContentType    string
	ResponseBody   []byte
	ExpiresAt      time.Time
}

// Reservation is the result of attempting to reserve a key.
type Reservation struct {
	State  State
	Record Record
}

// Store persists idempotency reservations and responses.
type Store interface {
	// Reserve claims the key for a request with the given fingerprint.
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	// Complete stores the response to replay for future requests with the key.
	Complete(ctx context.Context, key, fingerprint string, status int, contentType string, body []byte, now time.Time, ttl time.Duration) error
	// Release frees a pending key after a processing failure.
	Release(ctx context.Context, key string) error
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{'|'})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
