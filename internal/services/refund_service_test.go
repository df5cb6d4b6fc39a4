package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/payments"
	"github.com/npi-gateway/applepay-api/internal/repositories/memory"
)

type refundFixture struct {
	service *RefundService
	orders  *OrderService
	gateway *stubGateway
	order   *domain.Order
}

func newRefundFixture(t *testing.T, received int64, state string) *refundFixture {
	t.Helper()
	clock := testClock(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))

	orders, err := NewOrderService(OrderServiceDeps{
		Orders:      memory.NewOrderRepository(clock),
		Pricer:      NewPricingEngine(clock),
		IDGenerator: func() string { return "order-1" },
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	order, err := orders.CreateFromContacts(context.Background(), CreateOrderInput{
		Cart: &domain.Cart{
			ID:    "cart-1",
			Items: []domain.CartItem{{Title: "Widget", Quantity: 1, UnitPrice: domain.MajorUnits(received)}},
		},
		Currency: "GBP",
	})
	if err != nil {
		t.Fatalf("CreateFromContacts: %v", err)
	}
	order.TransactionXref = "xref-1"
	order.AmountReceived = received
	order.Status = domain.OrderStatusCompleted
	if err := orders.SetStatus(context.Background(), order, domain.OrderStatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	gateway := &stubGateway{
		queryFunc: func(ctx context.Context, xref string) (*payments.TransactionResponse, error) {
			if xref != "xref-1" {
				return nil, fmt.Errorf("unexpected xref %s", xref)
			}
			return &payments.TransactionResponse{
				ResponseCode:   payments.ResponseCodeSuccess,
				State:          state,
				AmountReceived: received,
			}, nil
		},
	}

	service, err := NewRefundService(RefundServiceDeps{Orders: orders, Gateway: gateway, Clock: clock})
	if err != nil {
		t.Fatalf("NewRefundService: %v", err)
	}
	return &refundFixture{service: service, orders: orders, gateway: gateway, order: order}
}

func (f *refundFixture) reload(t *testing.T) *domain.Order {
	t.Helper()
	order, err := f.orders.LoadByID(context.Background(), f.order.ID)
	if err != nil {
		t.Fatalf("LoadByID: %v", err)
	}
	return order
}

func approveSettle(captured *payments.TransactionRequest) func(ctx context.Context, req payments.TransactionRequest) (*payments.TransactionResponse, error) {
	return func(ctx context.Context, req payments.TransactionRequest) (*payments.TransactionResponse, error) {
		*captured = req
		return &payments.TransactionResponse{ResponseCode: payments.ResponseCodeSuccess, Fields: map[string]string{}}, nil
	}
}

func TestRefundFullAmountBeforeCaptureVoidsTransaction(t *testing.T) {
	fixture := newRefundFixture(t, 1248, payments.StateApproved)
	var captured payments.TransactionRequest
	fixture.gateway.settleFunc = approveSettle(&captured)

	result, err := fixture.service.Refund(context.Background(), fixture.order.ID, decimal.RequireFromString("12.48"))
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if result.Action != payments.ActionCancel {
		t.Fatalf("expected CANCEL got %s", result.Action)
	}
	if !result.AmountRefunded.IsZero() {
		t.Fatalf("voided transaction must report zero refunded, got %s", result.AmountRefunded)
	}
	if captured.Xref != "xref-1" {
		t.Fatalf("expected xref forwarded, got %q", captured.Xref)
	}

	order := fixture.reload(t)
	if order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded order got %s", order.Status)
	}
	note := order.Notes[len(order.Notes)-1].Text
	if note != "Refund Successful" {
		t.Fatalf("void note must omit the amount line, got %q", note)
	}
}

func TestRefundPartialBeforeCaptureRewritesCapture(t *testing.T) {
	fixture := newRefundFixture(t, 1248, payments.StateCaptured)
	var captured payments.TransactionRequest
	fixture.gateway.settleFunc = approveSettle(&captured)

	result, err := fixture.service.Refund(context.Background(), fixture.order.ID, decimal.RequireFromString("2.48"))
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if result.Action != payments.ActionCapture {
		t.Fatalf("expected CAPTURE got %s", result.Action)
	}
	if captured.Amount != 1000 {
		t.Fatalf("expected capture for remaining 1000 minor units, got %d", captured.Amount)
	}

	order := fixture.reload(t)
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("partial refund must not mark the order refunded, got %s", order.Status)
	}
	note := order.Notes[len(order.Notes)-1].Text
	if !strings.Contains(note, "Amount Refunded: 2.48") {
		t.Fatalf("expected refunded amount in note, got %q", note)
	}
}

func TestRefundSettledTransactionUsesRefundSale(t *testing.T) {
	fixture := newRefundFixture(t, 1248, payments.StateAccepted)
	var captured payments.TransactionRequest
	fixture.gateway.settleFunc = approveSettle(&captured)

	result, err := fixture.service.Refund(context.Background(), fixture.order.ID, decimal.RequireFromString("12.48"))
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if result.Action != payments.ActionRefundSale {
		t.Fatalf("expected REFUND_SALE got %s", result.Action)
	}
	if captured.Amount != 1248 {
		t.Fatalf("expected refund of 1248 minor units, got %d", captured.Amount)
	}
	if fixture.reload(t).Status != domain.OrderStatusRefunded {
		t.Fatalf("full refund must mark the order refunded")
	}
}

func TestRefundUnknownStateNotRefundable(t *testing.T) {
	fixture := newRefundFixture(t, 1248, "declined")

	_, err := fixture.service.Refund(context.Background(), fixture.order.ID, decimal.RequireFromString("1.00"))
	if !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable got %v", err)
	}
	if !strings.Contains(err.Error(), "declined") {
		t.Fatalf("error must name the settlement state, got %v", err)
	}
}

func TestRefundWithoutXrefNotRefundable(t *testing.T) {
	fixture := newRefundFixture(t, 1248, payments.StateAccepted)
	fixture.order.TransactionXref = ""
	if err := fixture.orders.UpdateBilling(context.Background(), fixture.order, domain.Contact{}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := fixture.service.Refund(context.Background(), fixture.order.ID, decimal.RequireFromString("1.00")); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable got %v", err)
	}
}

func TestRefundAmbiguousQuery(t *testing.T) {
	fixture := newRefundFixture(t, 1248, payments.StateAccepted)
	fixture.gateway.queryFunc = func(ctx context.Context, xref string) (*payments.TransactionResponse, error) {
		return nil, fmt.Errorf("%w: garbled body", payments.ErrGatewayProtocol)
	}

	if _, err := fixture.service.Refund(context.Background(), fixture.order.ID, decimal.RequireFromString("1.00")); !errors.Is(err, ErrAmbiguousSettlement) {
		t.Fatalf("expected ErrAmbiguousSettlement got %v", err)
	}
}

func TestRefundDeclinedLeavesUnsuccessfulNote(t *testing.T) {
	fixture := newRefundFixture(t, 1248, payments.StateAccepted)
	fixture.gateway.settleFunc = func(ctx context.Context, req payments.TransactionRequest) (*payments.TransactionResponse, error) {
		return &payments.TransactionResponse{ResponseCode: 5, ResponseMessage: "REFUND DECLINED", Fields: map[string]string{}}, nil
	}

	result, err := fixture.service.Refund(context.Background(), fixture.order.ID, decimal.RequireFromString("1.00"))
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if result.ResponseCode != 5 {
		t.Fatalf("expected gateway code surfaced, got %d", result.ResponseCode)
	}

	order := fixture.reload(t)
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("declined refund must not change order status, got %s", order.Status)
	}
	note := order.Notes[len(order.Notes)-1].Text
	if !strings.HasPrefix(note, "Refund Unsuccessful") {
		t.Fatalf("expected unsuccessful note, got %q", note)
	}
}

func TestRefundRejectsNonPositiveAmount(t *testing.T) {
	fixture := newRefundFixture(t, 1248, payments.StateAccepted)

	if _, err := fixture.service.Refund(context.Background(), fixture.order.ID, decimal.Zero); !errors.Is(err, ErrRefundInvalidInput) {
		t.Fatalf("expected ErrRefundInvalidInput got %v", err)
	}
}
