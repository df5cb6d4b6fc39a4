package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/payments"
	"github.com/npi-gateway/applepay-api/internal/repositories/memory"
)

func newOrderService(t *testing.T) *OrderService {
	t.Helper()
	clock := testClock(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))
	service, err := NewOrderService(OrderServiceDeps{
		Orders:      memory.NewOrderRepository(clock),
		Pricer:      NewPricingEngine(clock),
		IDGenerator: func() string { return "abc123" },
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return service
}

func testCart() *domain.Cart {
	return &domain.Cart{
		ID: "cart-1",
		Items: []domain.CartItem{
			{ProductID: "p1", Title: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("4.99")},
		},
	}
}

func TestCreateFromContactsRecomputesTotal(t *testing.T) {
	service := newOrderService(t)

	order, err := service.CreateFromContacts(context.Background(), CreateOrderInput{
		Cart: testCart(),
		Billing: domain.Contact{
			GivenName: "Ada", FamilyName: "Lovelace", EmailAddress: "ada@example.com", CountryCode: "gb",
		},
		Currency:      "GBP",
		ShippingTotal: decimal.RequireFromString("2.50"),
	})
	if err != nil {
		t.Fatalf("CreateFromContacts: %v", err)
	}

	if order.Key != "order_abc123" {
		t.Fatalf("unexpected key %q", order.Key)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("new orders must be pending, got %s", order.Status)
	}
	if !order.Total.Equal(decimal.RequireFromString("12.48")) {
		t.Fatalf("expected recomputed total 12.48 got %s", order.Total)
	}
	if order.Billing.Name != "Ada Lovelace" {
		t.Fatalf("unexpected billing name %q", order.Billing.Name)
	}
	if order.Billing.Country != "GB" {
		t.Fatalf("country codes must be upper-cased, got %q", order.Billing.Country)
	}

	loaded, err := service.LoadByKey(context.Background(), "order_abc123")
	if err != nil {
		t.Fatalf("LoadByKey: %v", err)
	}
	if loaded.ID != order.ID {
		t.Fatalf("expected persisted order, got %+v", loaded)
	}
}

func TestCreateFromContactsRejectsEmptyCart(t *testing.T) {
	service := newOrderService(t)

	cases := []CreateOrderInput{
		{Cart: nil, Currency: "GBP"},
		{Cart: &domain.Cart{ID: "cart-1"}, Currency: "GBP"},
		{Cart: testCart(), Currency: " "},
	}
	for i, input := range cases {
		if _, err := service.CreateFromContacts(context.Background(), input); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("case %d: expected ErrOrderInvalidInput got %v", i, err)
		}
	}
}

func TestLoadByKeyNotFound(t *testing.T) {
	service := newOrderService(t)

	if _, err := service.LoadByKey(context.Background(), "order_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound got %v", err)
	}
	if _, err := service.LoadByKey(context.Background(), ""); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput got %v", err)
	}
}

func TestRecordGatewayResponseStoresAudit(t *testing.T) {
	service := newOrderService(t)
	order, err := service.CreateFromContacts(context.Background(), CreateOrderInput{Cart: testCart(), Currency: "GBP"})
	if err != nil {
		t.Fatalf("CreateFromContacts: %v", err)
	}

	resp := &payments.TransactionResponse{
		ResponseCode:   payments.ResponseCodeSuccess,
		Xref:           "xref-9",
		AmountReceived: 998,
		Fields:         map[string]string{"responseCode": "0", "xref": "xref-9"},
	}
	if err := service.RecordGatewayResponse(context.Background(), order, resp); err != nil {
		t.Fatalf("RecordGatewayResponse: %v", err)
	}

	loaded, err := service.LoadByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("LoadByID: %v", err)
	}
	if loaded.TransactionXref != "xref-9" {
		t.Fatalf("expected xref persisted, got %q", loaded.TransactionXref)
	}
	if loaded.AmountReceived != 998 {
		t.Fatalf("expected amount received persisted, got %d", loaded.AmountReceived)
	}
	if loaded.GatewayResponse["xref"] != "xref-9" {
		t.Fatalf("expected raw fields persisted, got %v", loaded.GatewayResponse)
	}
}

func TestRecordGatewayResponseFallsBackToAmount(t *testing.T) {
	service := newOrderService(t)
	order, err := service.CreateFromContacts(context.Background(), CreateOrderInput{Cart: testCart(), Currency: "GBP"})
	if err != nil {
		t.Fatalf("CreateFromContacts: %v", err)
	}

	// Some gateway replies omit amountReceived; the requested amount stands in.
	resp := &payments.TransactionResponse{ResponseCode: payments.ResponseCodeSuccess, Amount: 998, Fields: map[string]string{}}
	if err := service.RecordGatewayResponse(context.Background(), order, resp); err != nil {
		t.Fatalf("RecordGatewayResponse: %v", err)
	}
	if order.AmountReceived != 998 {
		t.Fatalf("expected fallback to requested amount, got %d", order.AmountReceived)
	}
}

func TestCompleteAppendsGatewayNote(t *testing.T) {
	service := newOrderService(t)
	order, err := service.CreateFromContacts(context.Background(), CreateOrderInput{Cart: testCart(), Currency: "GBP"})
	if err != nil {
		t.Fatalf("CreateFromContacts: %v", err)
	}

	resp := &payments.TransactionResponse{
		ResponseCode:      payments.ResponseCodeSuccess,
		ResponseMessage:   "AUTHCODE:123456",
		AmountReceived:    998,
		TransactionUnique: "order_abc123-u1",
	}
	if err := service.Complete(context.Background(), order, resp); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed got %s", order.Status)
	}
	note := order.Notes[len(order.Notes)-1].Text
	for _, want := range []string{
		"Apple Pay payment completed.",
		"Response Code : 0",
		"Message : AUTHCODE:123456",
		"Amount Received : 9.98",
		"Unique Transaction Code : order_abc123-u1",
	} {
		if !strings.Contains(note, want) {
			t.Fatalf("note missing %q:\n%s", want, note)
		}
	}
}

func TestFailAppendsGatewayNote(t *testing.T) {
	service := newOrderService(t)
	order, err := service.CreateFromContacts(context.Background(), CreateOrderInput{Cart: testCart(), Currency: "GBP"})
	if err != nil {
		t.Fatalf("CreateFromContacts: %v", err)
	}

	resp := &payments.TransactionResponse{ResponseCode: 5, ResponseMessage: "CARD DECLINED"}
	if err := service.Fail(context.Background(), order, resp); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed got %s", order.Status)
	}
	note := order.Notes[len(order.Notes)-1].Text
	if !strings.Contains(note, "Apple Pay payment failed.") || !strings.Contains(note, "Response Code : 5") {
		t.Fatalf("unexpected note %q", note)
	}
}

func TestDuplicateOrderCreateRejected(t *testing.T) {
	service := newOrderService(t)

	if _, err := service.CreateFromContacts(context.Background(), CreateOrderInput{Cart: testCart(), Currency: "GBP"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// The fixed ID generator forces a key collision.
	if _, err := service.CreateFromContacts(context.Background(), CreateOrderInput{Cart: testCart(), Currency: "GBP"}); !errors.Is(err, ErrOrderCreation) {
		t.Fatalf("expected ErrOrderCreation got %v", err)
	}
}
