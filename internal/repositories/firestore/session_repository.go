package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
	platformfirestore "github.com/npi-gateway/applepay-api/internal/platform/firestore"
	"github.com/npi-gateway/applepay-api/internal/repositories"
)

const sessionCollection = "checkout_sessions"

type sessionDocument struct {
	CartID         string             `firestore:"cartId"`
	OrderKey       string             `firestore:"orderKey,omitempty"`
	State          string             `firestore:"state"`
	AvailableRates []rateDocument     `firestore:"availableRates,omitempty"`
	SelectedRate   *rateDocument      `firestore:"selectedRate,omitempty"`
	CreatedAt      time.Time          `firestore:"createdAt"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
	ExpiresAt      time.Time          `firestore:"expiresAt"`
}

type rateDocument struct {
	ID          string `firestore:"id"`
	InstanceID  string `firestore:"instanceId"`
	Title       string `firestore:"title"`
	Description string `firestore:"description,omitempty"`
	Cost        string `firestore:"cost"`
}

// SessionRepository persists checkout sessions in a Firestore collection.
// Expired sessions are treated as missing on read.
type SessionRepository struct {
	base  *platformfirestore.BaseRepository[sessionDocument]
	clock func() time.Time
}

// NewSessionRepository constructs a Firestore session repository.
func NewSessionRepository(provider *platformfirestore.Provider, clock func() time.Time) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore: provider is required")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	base := platformfirestore.NewBaseRepository[sessionDocument](provider, sessionCollection, nil, nil)
	return &SessionRepository{base: base, clock: clock}, nil
}

// Create stores a new checkout session.
func (r *SessionRepository) Create(ctx context.Context, session *domain.CheckoutSession) error {
	if session == nil || session.ID == "" {
		return repositories.NewConflictError("firestore: session requires an ID")
	}
	now := r.clock()
	session.CreatedAt = now
	session.UpdatedAt = now
	return r.base.Create(ctx, session.ID, encodeSession(session))
}

// Get loads a session, treating expired sessions as missing.
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	session, err := decodeSession(doc.ID, doc.Data)
	if err != nil {
		return nil, err
	}
	if !session.ExpiresAt.IsZero() && !r.clock().Before(session.ExpiresAt) {
		_ = r.base.Delete(ctx, id)
		return nil, repositories.NewNotFoundError(fmt.Sprintf("firestore: session %s expired", id))
	}
	return session, nil
}

// Update persists mutations to an existing session.
func (r *SessionRepository) Update(ctx context.Context, session *domain.CheckoutSession) error {
	if session == nil || session.ID == "" {
		return repositories.NewConflictError("firestore: session requires an ID")
	}
	session.UpdatedAt = r.clock()
	return r.base.Set(ctx, session.ID, encodeSession(session))
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return r.base.Delete(ctx, id)
}

func encodeSession(session *domain.CheckoutSession) sessionDocument {
	doc := sessionDocument{
		CartID:    session.CartID,
		OrderKey:  session.OrderKey,
		State:     string(session.State),
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		ExpiresAt: session.ExpiresAt,
	}
	for _, rate := range session.AvailableRates {
		doc.AvailableRates = append(doc.AvailableRates, encodeRate(rate))
	}
	if session.SelectedRate != nil {
		selected := encodeRate(*session.SelectedRate)
		doc.SelectedRate = &selected
	}
	return doc
}

func decodeSession(id string, doc sessionDocument) (*domain.CheckoutSession, error) {
	session := &domain.CheckoutSession{
		ID:        id,
		CartID:    doc.CartID,
		OrderKey:  doc.OrderKey,
		State:     domain.SessionState(doc.State),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		ExpiresAt: doc.ExpiresAt,
	}
	for _, rate := range doc.AvailableRates {
		decoded, err := decodeRate(id, rate)
		if err != nil {
			return nil, err
		}
		session.AvailableRates = append(session.AvailableRates, decoded)
	}
	if doc.SelectedRate != nil {
		decoded, err := decodeRate(id, *doc.SelectedRate)
		if err != nil {
			return nil, err
		}
		session.SelectedRate = &decoded
	}
	return session, nil
}

func encodeRate(rate domain.ShippingRate) rateDocument {
	return rateDocument{
		ID:          rate.ID,
		InstanceID:  rate.InstanceID,
		Title:       rate.Title,
		Description: rate.Description,
		Cost:        rate.Cost.String(),
	}
}

func decodeRate(sessionID string, doc rateDocument) (domain.ShippingRate, error) {
	cost, err := decimal.NewFromString(doc.Cost)
	if err != nil {
		return domain.ShippingRate{}, fmt.Errorf("firestore: session %s rate cost: %w", sessionID, err)
	}
	return domain.ShippingRate{
		ID:          doc.ID,
		InstanceID:  doc.InstanceID,
		Title:       doc.Title,
		Description: doc.Description,
		Cost:        cost,
	}, nil
}
