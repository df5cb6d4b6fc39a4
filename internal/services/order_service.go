package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/payments"
	"github.com/npi-gateway/applepay-api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals missing or malformed order data.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound is returned when no order matches the reference.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrOrderCreation is returned when the order store rejects a new order.
	ErrOrderCreation = errors.New("orders: unable to create order")
	// ErrOrderUnavailable indicates a transient order store outage.
	ErrOrderUnavailable = errors.New("orders: order store unavailable")
)

const paymentMethodTitle = "Apple Pay"

// OrderServiceDeps lists collaborators for the order coordinator.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Pricer      *PricingEngine
	IDGenerator func() string
	Clock       Clock
	Logger      Logger
}

// OrderService creates order records from payment-sheet contact data and
// finalizes them after settlement.
type OrderService struct {
	orders     repositories.OrderRepository
	pricer     *PricingEngine
	generateID func() string
	clock      Clock
	logger     Logger
}

// NewOrderService validates dependencies and constructs the service.
func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("order service: id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &OrderService{
		orders:     deps.Orders,
		pricer:     deps.Pricer,
		generateID: deps.IDGenerator,
		clock:      normalizeClock(deps.Clock),
		logger:     logger,
	}, nil
}

// CreateOrderInput carries everything needed to build an order from the
// authorized payment's contacts.
type CreateOrderInput struct {
	Cart             *domain.Cart
	Billing          domain.Contact
	Shipping         domain.Contact
	Currency         string
	ShippingMethodID string
	ShippingTotal    decimal.Decimal
}

// CreateFromContacts builds and persists a new pending order. The order total
// is recomputed from the cart contents; client-supplied amounts are never
// trusted.
func (s *OrderService) CreateFromContacts(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if input.Cart == nil || len(input.Cart.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(input.Currency) == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}

	summary := s.pricer.Price(input.Cart.Items, input.ShippingTotal)
	total, err := domain.ParseAmount(summary.Total.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	id := s.generateID()
	order := &domain.Order{
		ID:               id,
		Key:              "order_" + id,
		Status:           domain.OrderStatusPending,
		Currency:         input.Currency,
		ShippingTotal:    input.ShippingTotal,
		Total:            total,
		Billing:          contactToAddress(input.Billing),
		Shipping:         contactToAddress(input.Shipping),
		ShippingMethodID: input.ShippingMethodID,
	}
	for _, item := range input.Cart.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger(ctx, "order_create_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		return nil, translateOrderError(err, ErrOrderCreation)
	}

	s.logger(ctx, "order_created", map[string]any{"order_id": order.ID, "total": summary.Total.Amount})
	return order, nil
}

// LoadByKey fetches an order by its public retry key.
func (s *OrderService) LoadByKey(ctx context.Context, key string) (*domain.Order, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: order key is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.GetByKey(ctx, key)
	if err != nil {
		return nil, translateOrderError(err, ErrOrderUnavailable)
	}
	return order, nil
}

// LoadByID fetches an order by internal ID.
func (s *OrderService) LoadByID(ctx context.Context, id string) (*domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, translateOrderError(err, ErrOrderUnavailable)
	}
	return order, nil
}

// UpdateBilling overwrites billing details on a reused order before a retry
// attempt.
func (s *OrderService) UpdateBilling(ctx context.Context, order *domain.Order, billing domain.Contact) error {
	order.Billing = contactToAddress(billing)
	if err := s.orders.Update(ctx, order); err != nil {
		return translateOrderError(err, ErrOrderUnavailable)
	}
	return nil
}

// RecordGatewayResponse persists the raw gateway reply onto the order before
// any outcome classification, so a crash after settlement still leaves
// evidence the charge was attempted. The xref is stored as the order's
// transaction reference as soon as it is known.
func (s *OrderService) RecordGatewayResponse(ctx context.Context, order *domain.Order, resp *payments.TransactionResponse) error {
	order.GatewayResponse = resp.Fields
	if resp.Xref != "" {
		order.TransactionXref = resp.Xref
	}
	if resp.AmountReceived > 0 {
		order.AmountReceived = resp.AmountReceived
	} else if resp.Amount > 0 {
		order.AmountReceived = resp.Amount
	}
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "order_audit_write_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		return translateOrderError(err, ErrOrderUnavailable)
	}
	return nil
}

// Complete marks the order settled. Only called once the gateway confirmed
// success.
func (s *OrderService) Complete(ctx context.Context, order *domain.Order, resp *payments.TransactionResponse) error {
	order.Status = domain.OrderStatusCompleted
	s.appendNote(order, paymentMethodTitle+" payment completed."+gatewayNote(resp))
	if err := s.orders.Update(ctx, order); err != nil {
		return translateOrderError(err, ErrOrderUnavailable)
	}
	s.logger(ctx, "order_completed", map[string]any{"order_id": order.ID, "xref": order.TransactionXref})
	return nil
}

// Fail marks the order's settlement attempt as failed and records the gateway
// diagnostics for support.
func (s *OrderService) Fail(ctx context.Context, order *domain.Order, resp *payments.TransactionResponse) error {
	order.Status = domain.OrderStatusFailed
	s.appendNote(order, paymentMethodTitle+" payment failed."+gatewayNote(resp))
	if err := s.orders.Update(ctx, order); err != nil {
		return translateOrderError(err, ErrOrderUnavailable)
	}
	s.logger(ctx, "order_failed", map[string]any{"order_id": order.ID, "response_code": resp.ResponseCode})
	return nil
}

// AppendNote adds an audit note to the order.
func (s *OrderService) AppendNote(ctx context.Context, order *domain.Order, text string) error {
	s.appendNote(order, text)
	if err := s.orders.Update(ctx, order); err != nil {
		return translateOrderError(err, ErrOrderUnavailable)
	}
	return nil
}

// SetStatus transitions the order to the given status.
func (s *OrderService) SetStatus(ctx context.Context, order *domain.Order, status domain.OrderStatus) error {
	order.Status = status
	if err := s.orders.Update(ctx, order); err != nil {
		return translateOrderError(err, ErrOrderUnavailable)
	}
	return nil
}

func (s *OrderService) appendNote(order *domain.Order, text string) {
	order.Notes = append(order.Notes, domain.OrderNote{At: s.clock(), Text: text})
}

func gatewayNote(resp *payments.TransactionResponse) string {
	return fmt.Sprintf("\nResponse Code : %d\nMessage : %s\nAmount Received : %s\nUnique Transaction Code : %s",
		resp.ResponseCode, resp.ResponseMessage, resp.AmountReceivedMajor(), resp.TransactionUnique)
}

func contactToAddress(contact domain.Contact) domain.Address {
	name := strings.TrimSpace(contact.GivenName + " " + contact.FamilyName)
	return domain.Address{
		Name:       name,
		Lines:      contact.AddressLines,
		City:       contact.Locality,
		Region:     contact.AdministrativeArea,
		PostalCode: contact.PostalCode,
		Country:    strings.ToUpper(contact.CountryCode),
		Email:      contact.EmailAddress,
		Phone:      contact.PhoneNumber,
	}
}

func translateOrderError(err error, fallback error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderCreation, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
