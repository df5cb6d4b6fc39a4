package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/repositories"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestOrderRepositoryLifecycle(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	repo := NewOrderRepository(fixedClock(now))
	ctx := context.Background()

	order := &domain.Order{ID: "ord_1", Key: "wc_order_abc", Status: domain.OrderStatusPending}
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, &domain.Order{ID: "ord_1"}); err == nil {
		t.Fatalf("expected conflict on duplicate create")
	}

	byKey, err := repo.GetByKey(ctx, "wc_order_abc")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if byKey.ID != "ord_1" {
		t.Fatalf("expected ord_1 got %s", byKey.ID)
	}
	if !byKey.CreatedAt.Equal(now) {
		t.Fatalf("expected created at %s got %s", now, byKey.CreatedAt)
	}

	byKey.Status = domain.OrderStatusFailed
	byKey.Notes = append(byKey.Notes, domain.OrderNote{At: now, Text: "payment failed"})
	if err := repo.Update(ctx, byKey); err != nil {
		t.Fatalf("Update: %v", err)
	}

	loaded, err := repo.GetByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded.Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed status got %s", loaded.Status)
	}
	if len(loaded.Notes) != 1 {
		t.Fatalf("expected 1 note got %d", len(loaded.Notes))
	}

	// Mutating the returned copy must not leak into the store.
	loaded.Status = domain.OrderStatusCompleted
	again, err := repo.GetByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if again.Status != domain.OrderStatusFailed {
		t.Fatalf("repository leaked caller mutations")
	}

	var repoErr repositories.RepositoryError
	if _, err := repo.GetByID(ctx, "missing"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not-found repository error, got %v", err)
	}
}

func TestSessionRepositoryExpiry(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	current := now
	repo := NewSessionRepository(func() time.Time { return current })
	ctx := context.Background()

	session := &domain.CheckoutSession{
		ID:        "sess_1",
		CartID:    "cart_1",
		State:     domain.SessionStarted,
		ExpiresAt: now.Add(15 * time.Minute),
	}
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := repo.Get(ctx, "sess_1"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	current = now.Add(16 * time.Minute)
	var repoErr repositories.RepositoryError
	if _, err := repo.Get(ctx, "sess_1"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected expired session to read as not found, got %v", err)
	}
}

func TestCartRepositoryCoupons(t *testing.T) {
	repo := NewCartRepository([]string{"SPRING10"})
	repo.Seed(&domain.Cart{ID: "cart_1", Items: []domain.CartItem{{Title: "Widget", Quantity: 1, UnitPrice: decimal.RequireFromString("4.99")}}})
	ctx := context.Background()

	cart, err := repo.ApplyCoupon(ctx, "cart_1", "spring10")
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if len(cart.CouponCodes) != 1 || cart.CouponCodes[0] != "spring10" {
		t.Fatalf("expected coupon recorded, got %v", cart.CouponCodes)
	}

	var repoErr repositories.RepositoryError
	if _, err := repo.ApplyCoupon(ctx, "cart_1", "SPRING10"); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate coupon, got %v", err)
	}
	if _, err := repo.ApplyCoupon(ctx, "cart_1", "UNKNOWN"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for unknown coupon, got %v", err)
	}
}

func TestShippingZoneRepositoryLookup(t *testing.T) {
	repo := NewShippingZoneRepository(map[string][]domain.ShippingRate{
		"GB": {
			{ID: "flat_rate", InstanceID: "1", Title: "Standard", Cost: decimal.RequireFromString("2.50")},
			{ID: "flat_rate", InstanceID: "2", Title: "Express", Cost: decimal.RequireFromString("6.00")},
		},
	})
	ctx := context.Background()

	rates, err := repo.RatesForCountry(ctx, "gb")
	if err != nil {
		t.Fatalf("RatesForCountry: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected 2 rates got %d", len(rates))
	}

	none, err := repo.RatesForCountry(ctx, "FR")
	if err != nil {
		t.Fatalf("RatesForCountry: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no rates for uncovered country, got %d", len(none))
	}
}
