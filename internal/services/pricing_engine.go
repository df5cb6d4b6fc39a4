package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
)

const (
	shippingLineLabel = "Shipping"
	totalLineLabel    = "Total"

	recurringStartDateLayout = "2006-01-02"
)

// PricingEngine turns cart or order contents into the ordered line-item list
// and grand total shown on the payment sheet. It is a pure function of its
// inputs and the injected clock.
type PricingEngine struct {
	clock Clock
}

// NewPricingEngine constructs the engine. A nil clock defaults to UTC now.
func NewPricingEngine(clock Clock) *PricingEngine {
	return &PricingEngine{clock: normalizeClock(clock)}
}

// Price builds the PriceSummary for the given items and shipping cost. The
// shipping line always comes first. Amounts accumulate in decimal and only the
// rendered strings are rounded to two places.
//
// A recurring item contributes a recurring line but joins today's total only
// when its first payment date falls on the evaluation day.
func (e *PricingEngine) Price(items []domain.CartItem, shippingCost decimal.Decimal) domain.PriceSummary {
	today := e.clock()

	lineItems := []domain.LineItem{{
		Label:  shippingLineLabel,
		Amount: domain.FormatAmount(shippingCost),
	}}
	total := shippingCost

	for _, item := range items {
		amount := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		line := domain.LineItem{
			Label:  fmt.Sprintf("%d x %s", item.Quantity, item.Title),
			Amount: domain.FormatAmount(amount),
		}

		if item.Subscription == nil {
			lineItems = append(lineItems, line)
			total = total.Add(amount)
			continue
		}

		terms := item.Subscription
		line.PaymentTiming = domain.PaymentTimingRecurring
		line.RecurringPaymentStartDate = terms.FirstPaymentDate.UTC().Format(recurringStartDateLayout)
		line.RecurringPaymentIntervalUnit = terms.IntervalUnit
		lineItems = append(lineItems, line)

		if sameDay(terms.FirstPaymentDate.UTC(), today) {
			total = total.Add(amount)
		}

		if terms.SignUpFee.IsPositive() {
			fee := terms.SignUpFee.Mul(decimal.NewFromInt(int64(item.Quantity)))
			lineItems = append(lineItems, domain.LineItem{
				Label:  fmt.Sprintf("%s sign-up fee", item.Title),
				Amount: domain.FormatAmount(fee),
			})
			total = total.Add(fee)
		}
	}

	return domain.PriceSummary{
		LineItems: lineItems,
		Total: domain.LineItem{
			Label:  totalLineLabel,
			Amount: domain.FormatAmount(total),
		},
	}
}

// PriceOrder prices an existing order's frozen items with its recorded
// shipping total, for failed-order retries.
func (e *PricingEngine) PriceOrder(order *domain.Order) domain.PriceSummary {
	items := make([]domain.CartItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, domain.CartItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return e.Price(items, order.ShippingTotal)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
