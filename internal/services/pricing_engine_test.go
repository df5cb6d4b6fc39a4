package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
)

func testClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestPriceShippingLineComesFirst(t *testing.T) {
	engine := NewPricingEngine(testClock(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)))

	summary := engine.Price([]domain.CartItem{
		{Title: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("4.99")},
	}, decimal.RequireFromString("2.50"))

	if len(summary.LineItems) != 2 {
		t.Fatalf("expected 2 line items got %d", len(summary.LineItems))
	}
	if summary.LineItems[0].Label != "Shipping" || summary.LineItems[0].Amount != "2.50" {
		t.Fatalf("expected shipping line first, got %+v", summary.LineItems[0])
	}
	if summary.LineItems[1].Label != "2 x Widget" || summary.LineItems[1].Amount != "9.98" {
		t.Fatalf("unexpected item line %+v", summary.LineItems[1])
	}
	if summary.Total.Label != "Total" || summary.Total.Amount != "12.48" {
		t.Fatalf("expected total 12.48 got %+v", summary.Total)
	}
}

func TestPriceRecurringItemIncludedOnlyOnStartDate(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	engine := NewPricingEngine(testClock(now))

	subscription := domain.CartItem{
		Title:     "Coffee Club",
		Quantity:  1,
		UnitPrice: decimal.RequireFromString("15.00"),
		Subscription: &domain.SubscriptionTerms{
			IntervalUnit:     domain.IntervalUnitMonth,
			FirstPaymentDate: now,
		},
	}

	summary := engine.Price([]domain.CartItem{subscription}, decimal.Zero)
	if summary.Total.Amount != "15.00" {
		t.Fatalf("recurring item starting today must be totalled, got %s", summary.Total.Amount)
	}
	line := summary.LineItems[1]
	if line.PaymentTiming != domain.PaymentTimingRecurring {
		t.Fatalf("expected recurring payment timing, got %q", line.PaymentTiming)
	}
	if line.RecurringPaymentStartDate != "2025-03-10" {
		t.Fatalf("unexpected start date %q", line.RecurringPaymentStartDate)
	}
	if line.RecurringPaymentIntervalUnit != domain.IntervalUnitMonth {
		t.Fatalf("unexpected interval unit %q", line.RecurringPaymentIntervalUnit)
	}

	subscription.Subscription.FirstPaymentDate = now.AddDate(0, 1, 0)
	summary = engine.Price([]domain.CartItem{subscription}, decimal.Zero)
	if summary.Total.Amount != "0.00" {
		t.Fatalf("future-dated recurring item must not be totalled, got %s", summary.Total.Amount)
	}
	if len(summary.LineItems) != 2 {
		t.Fatalf("future-dated recurring item must still appear as a line, got %d lines", len(summary.LineItems))
	}

	// Same day of month in a different month must not count as today.
	subscription.Subscription.FirstPaymentDate = time.Date(2025, time.April, 10, 9, 0, 0, 0, time.UTC)
	summary = engine.Price([]domain.CartItem{subscription}, decimal.Zero)
	if summary.Total.Amount != "0.00" {
		t.Fatalf("start date in a later month must not be totalled, got %s", summary.Total.Amount)
	}
}

func TestPriceSignUpFeeAlwaysTotalled(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	engine := NewPricingEngine(testClock(now))

	summary := engine.Price([]domain.CartItem{{
		Title:     "Coffee Club",
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("15.00"),
		Subscription: &domain.SubscriptionTerms{
			SignUpFee:        decimal.RequireFromString("5.00"),
			IntervalUnit:     domain.IntervalUnitMonth,
			FirstPaymentDate: now.AddDate(0, 1, 0),
		},
	}}, decimal.RequireFromString("1.00"))

	if len(summary.LineItems) != 3 {
		t.Fatalf("expected shipping, recurring and fee lines, got %d", len(summary.LineItems))
	}
	fee := summary.LineItems[2]
	if fee.Label != "Coffee Club sign-up fee" || fee.Amount != "10.00" {
		t.Fatalf("unexpected fee line %+v", fee)
	}
	// Shipping 1.00 + fee 10.00; future-dated recurring charge excluded.
	if summary.Total.Amount != "11.00" {
		t.Fatalf("expected total 11.00 got %s", summary.Total.Amount)
	}
}

func TestPriceDecimalAccumulation(t *testing.T) {
	engine := NewPricingEngine(testClock(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)))

	// 3 x 0.10 trips binary float accumulation; decimals must stay exact.
	summary := engine.Price([]domain.CartItem{
		{Title: "Sticker", Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")},
		{Title: "Pin", Quantity: 1, UnitPrice: decimal.RequireFromString("0.20")},
	}, decimal.Zero)

	if summary.Total.Amount != "0.50" {
		t.Fatalf("expected exact total 0.50 got %s", summary.Total.Amount)
	}
}

func TestPriceOrderUsesFrozenItems(t *testing.T) {
	engine := NewPricingEngine(testClock(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)))

	order := &domain.Order{
		Items: []domain.OrderItem{
			{Title: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("4.99")},
		},
		ShippingTotal: decimal.RequireFromString("2.50"),
	}

	summary := engine.PriceOrder(order)
	if summary.Total.Amount != "12.48" {
		t.Fatalf("expected total 12.48 got %s", summary.Total.Amount)
	}
}

func TestPriceIsDeterministic(t *testing.T) {
	engine := NewPricingEngine(testClock(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)))
	items := []domain.CartItem{{Title: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("4.99")}}
	shipping := decimal.RequireFromString("2.50")

	first := engine.Price(items, shipping)
	second := engine.Price(items, shipping)
	if first.Total != second.Total || len(first.LineItems) != len(second.LineItems) {
		t.Fatalf("pricing must be deterministic for identical inputs")
	}
	for i := range first.LineItems {
		if first.LineItems[i] != second.LineItems[i] {
			t.Fatalf("line %d differs between identical pricings", i)
		}
	}
}
