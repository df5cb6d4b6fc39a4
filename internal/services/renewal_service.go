package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/payments"
)

var (
	// ErrRenewalInvalidInput signals a malformed renewal charge request.
	ErrRenewalInvalidInput = errors.New("renewals: invalid input")
)

// RenewalServiceDeps lists collaborators for the renewal charger.
type RenewalServiceDeps struct {
	Orders   *OrderService
	Gateway  payments.Client
	UniqueID func() string
	Clock    Clock
	Logger   Logger
}

// RenewalService charges scheduled subscription renewals against the stored
// continuous-authority agreement from the original settlement. No payment
// sheet or cardholder interaction is involved.
type RenewalService struct {
	orders   *OrderService
	gateway  payments.Client
	uniqueID func() string
	clock    Clock
	logger   Logger
}

// NewRenewalService validates dependencies and constructs the service.
func NewRenewalService(deps RenewalServiceDeps) (*RenewalService, error) {
	if deps.Orders == nil {
		return nil, errors.New("renewal service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("renewal service: gateway client is required")
	}
	if deps.UniqueID == nil {
		return nil, errors.New("renewal service: unique id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &RenewalService{
		orders:   deps.Orders,
		gateway:  deps.Gateway,
		uniqueID: deps.UniqueID,
		clock:    normalizeClock(deps.Clock),
		logger:   logger,
	}, nil
}

// Charge runs a merchant-initiated renewal payment. renewalOrderID names the
// pending renewal order to finalize; agreementXref is the xref of the original
// cardholder-present settlement the recurring agreement hangs off.
func (s *RenewalService) Charge(ctx context.Context, renewalOrderID, agreementXref string, amount decimal.Decimal) error {
	if strings.TrimSpace(agreementXref) == "" {
		return fmt.Errorf("%w: agreement xref is required", ErrRenewalInvalidInput)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: renewal amount must be positive", ErrRenewalInvalidInput)
	}

	order, err := s.orders.LoadByID(ctx, renewalOrderID)
	if err != nil {
		return err
	}

	resp, err := s.gateway.Settle(ctx, payments.TransactionRequest{
		Action:            payments.ActionSale,
		Type:              payments.TypeContinuousAuthority,
		Amount:            domain.MinorUnits(amount),
		TransactionUnique: order.Key + "-" + s.uniqueID(),
		Xref:              agreementXref,
		RTAgreementType:   "recurring",
	})
	if err != nil {
		s.logger(ctx, "renewal_settle_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		if noteErr := s.orders.AppendNote(ctx, order, "Subscription renewal attempt failed: "+err.Error()); noteErr != nil {
			s.logger(ctx, "order_note_failed", map[string]any{"order_id": order.ID, "error": noteErr.Error()})
		}
		if statusErr := s.orders.SetStatus(ctx, order, domain.OrderStatusFailed); statusErr != nil {
			s.logger(ctx, "order_fail_write_failed", map[string]any{"order_id": order.ID, "error": statusErr.Error()})
		}
		return err
	}

	if recordErr := s.orders.RecordGatewayResponse(ctx, order, resp); recordErr != nil {
		s.logger(ctx, "renewal_audit_failed", map[string]any{"order_id": order.ID, "error": recordErr.Error()})
	}

	if resp.Success() {
		if err := s.orders.Complete(ctx, order, resp); err != nil {
			return err
		}
		s.logger(ctx, "renewal_completed", map[string]any{"order_id": order.ID, "xref": resp.Xref})
		return nil
	}

	if err := s.orders.Fail(ctx, order, resp); err != nil {
		return err
	}
	s.logger(ctx, "renewal_declined", map[string]any{"order_id": order.ID, "response_code": resp.ResponseCode})
	return nil
}
