package repositories

import (
	"context"

	"github.com/npi-gateway/applepay-api/internal/domain"
)

// RepositoryError describes persistence failures with enough classification
// for services to translate them into caller-facing errors.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists the orders this service creates and finalizes.
type OrderRepository interface {
	// Create stores a new order. The order ID must be unique.
	Create(ctx context.Context, order *domain.Order) error
	// GetByID loads an order by its internal ID.
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// GetByKey loads an order by its public retry key.
	GetByKey(ctx context.Context, key string) (*domain.Order, error)
	// Update persists mutations to an existing order.
	Update(ctx context.Context, order *domain.Order) error
}

// SessionRepository stores per-checkout protocol state keyed by session ID.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.CheckoutSession) error
	Get(ctx context.Context, id string) (*domain.CheckoutSession, error)
	Update(ctx context.Context, session *domain.CheckoutSession) error
	Delete(ctx context.Context, id string) error
}

// CartRepository exposes the host commerce system's live carts.
type CartRepository interface {
	// Get returns the cart for a checkout session.
	Get(ctx context.Context, cartID string) (*domain.Cart, error)
	// ApplyCoupon applies a coupon code to the cart and returns the repriced cart.
	ApplyCoupon(ctx context.Context, cartID, code string) (*domain.Cart, error)
}

// ShippingZoneRepository resolves the host system's shipping zones.
type ShippingZoneRepository interface {
	// RatesForCountry lists the shipping rates configured for a country code.
	// An empty slice means no zone covers the country.
	RatesForCountry(ctx context.Context, countryCode string) ([]domain.ShippingRate, error)
}
