package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/repositories"
)

// CartRepository is an in-memory stand-in for the host commerce system's cart
// store. Carts are seeded by the host integration; coupon validity is decided
// by the set of known codes.
type CartRepository struct {
	mu      sync.RWMutex
	carts   map[string]*domain.Cart
	coupons map[string]struct{}
}

// NewCartRepository constructs an empty cart store. knownCoupons lists the
// coupon codes the host system would accept.
func NewCartRepository(knownCoupons []string) *CartRepository {
	coupons := make(map[string]struct{}, len(knownCoupons))
	for _, code := range knownCoupons {
		coupons[strings.ToLower(strings.TrimSpace(code))] = struct{}{}
	}
	return &CartRepository{
		carts:   make(map[string]*domain.Cart),
		coupons: coupons,
	}
}

// Seed stores a cart, replacing any existing cart with the same ID.
func (r *CartRepository) Seed(cart *domain.Cart) {
	if cart == nil || cart.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.ID] = cloneCart(cart)
}

// Get returns the cart for a checkout session.
func (r *CartRepository) Get(_ context.Context, cartID string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return nil, repositories.NewNotFoundError(fmt.Sprintf("memory: cart %s not found", cartID))
	}
	return cloneCart(cart), nil
}

// ApplyCoupon records a coupon code on the cart.
func (r *CartRepository) ApplyCoupon(_ context.Context, cartID, code string) (*domain.Cart, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if normalized == "" {
		return nil, repositories.NewNotFoundError("memory: coupon code is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return nil, repositories.NewNotFoundError(fmt.Sprintf("memory: cart %s not found", cartID))
	}
	if _, known := r.coupons[normalized]; !known {
		return nil, repositories.NewNotFoundError(fmt.Sprintf("memory: coupon %s not recognised", code))
	}
	if slices.Contains(cart.CouponCodes, normalized) {
		return nil, repositories.NewConflictError(fmt.Sprintf("memory: coupon %s already applied", code))
	}
	cart.CouponCodes = append(cart.CouponCodes, normalized)
	return cloneCart(cart), nil
}

func cloneCart(cart *domain.Cart) *domain.Cart {
	if cart == nil {
		return nil
	}
	clone := *cart
	clone.CouponCodes = slices.Clone(cart.CouponCodes)
	clone.Items = make([]domain.CartItem, len(cart.Items))
	for i, item := range cart.Items {
		clone.Items[i] = item
		if item.Subscription != nil {
			terms := *item.Subscription
			clone.Items[i].Subscription = &terms
		}
	}
	return &clone
}
