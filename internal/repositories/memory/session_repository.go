package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/repositories"
)

// SessionRepository is a mutex-guarded in-memory checkout session store.
// Expired sessions are dropped on read.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.CheckoutSession
	clock    func() time.Time
}

// NewSessionRepository constructs an empty session store.
func NewSessionRepository(clock func() time.Time) *SessionRepository {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &SessionRepository{
		sessions: make(map[string]*domain.CheckoutSession),
		clock:    clock,
	}
}

// Create stores a new checkout session.
func (r *SessionRepository) Create(_ context.Context, session *domain.CheckoutSession) error {
	if session == nil || session.ID == "" {
		return repositories.NewConflictError("memory: session requires an ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return repositories.NewConflictError(fmt.Sprintf("memory: session %s already exists", session.ID))
	}
	now := r.clock()
	session.CreatedAt = now
	session.UpdatedAt = now
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

// Get loads a session, treating expired sessions as missing.
func (r *SessionRepository) Get(_ context.Context, id string) (*domain.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, repositories.NewNotFoundError(fmt.Sprintf("memory: session %s not found", id))
	}
	if !session.ExpiresAt.IsZero() && !r.clock().Before(session.ExpiresAt) {
		delete(r.sessions, id)
		return nil, repositories.NewNotFoundError(fmt.Sprintf("memory: session %s expired", id))
	}
	return cloneSession(session), nil
}

// Update persists mutations to an existing session.
func (r *SessionRepository) Update(_ context.Context, session *domain.CheckoutSession) error {
	if session == nil || session.ID == "" {
		return repositories.NewConflictError("memory: session requires an ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; !exists {
		return repositories.NewNotFoundError(fmt.Sprintf("memory: session %s not found", session.ID))
	}
	session.UpdatedAt = r.clock()
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func cloneSession(session *domain.CheckoutSession) *domain.CheckoutSession {
	if session == nil {
		return nil
	}
	clone := *session
	clone.AvailableRates = append([]domain.ShippingRate(nil), session.AvailableRates...)
	if session.SelectedRate != nil {
		rate := *session.SelectedRate
		clone.SelectedRate = &rate
	}
	return &clone
}
