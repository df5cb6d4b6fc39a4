// Package memory provides in-process repository implementations. Carts and
// shipping zones stand in for the host commerce system; the order and session
// stores back tests and single-node deployments.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/repositories"
)

// OrderRepository is a mutex-guarded in-memory order store.
type OrderRepository struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Order
	byKey map[string]string
	clock func() time.Time
}

// NewOrderRepository constructs an empty order store. A nil clock defaults to
// time.Now in UTC.
func NewOrderRepository(clock func() time.Time) *OrderRepository {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &OrderRepository{
		byID:  make(map[string]*domain.Order),
		byKey: make(map[string]string),
		clock: clock,
	}
}

// Create stores a new order.
func (r *OrderRepository) Create(_ context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return repositories.NewConflictError("memory: order requires an ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[order.ID]; exists {
		return repositories.NewConflictError(fmt.Sprintf("memory: order %s already exists", order.ID))
	}
	now := r.clock()
	order.CreatedAt = now
	order.UpdatedAt = now
	r.byID[order.ID] = cloneOrder(order)
	if order.Key != "" {
		r.byKey[order.Key] = order.ID
	}
	return nil
}

// GetByID loads an order by internal ID.
func (r *OrderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.byID[id]
	if !ok {
		return nil, repositories.NewNotFoundError(fmt.Sprintf("memory: order %s not found", id))
	}
	return cloneOrder(order), nil
}

// GetByKey loads an order by its public retry key.
func (r *OrderRepository) GetByKey(_ context.Context, key string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, repositories.NewNotFoundError(fmt.Sprintf("memory: order with key %s not found", key))
	}
	return cloneOrder(r.byID[id]), nil
}

// Update persists mutations to an existing order.
func (r *OrderRepository) Update(_ context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return repositories.NewConflictError("memory: order requires an ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[order.ID]; !exists {
		return repositories.NewNotFoundError(fmt.Sprintf("memory: order %s not found", order.ID))
	}
	order.UpdatedAt = r.clock()
	r.byID[order.ID] = cloneOrder(order)
	if order.Key != "" {
		r.byKey[order.Key] = order.ID
	}
	return nil
}

func cloneOrder(order *domain.Order) *domain.Order {
	if order == nil {
		return nil
	}
	clone := *order
	clone.Items = slices.Clone(order.Items)
	clone.Notes = slices.Clone(order.Notes)
	clone.Billing.Lines = slices.Clone(order.Billing.Lines)
	clone.Shipping.Lines = slices.Clone(order.Shipping.Lines)
	if order.GatewayResponse != nil {
		clone.GatewayResponse = maps.Clone(order.GatewayResponse)
	}
	return &clone
}
