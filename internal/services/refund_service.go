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
	// ErrNotRefundable is returned when the transaction's settlement state
	// admits no refund operation.
	ErrNotRefundable = errors.New("refunds: transaction not refundable")
	// ErrAmbiguousSettlement is returned when the settlement state cannot be
	// determined; no refund operation is attempted.
	ErrAmbiguousSettlement = errors.New("refunds: settlement state unknown")
	// ErrRefundInvalidInput signals a malformed refund request.
	ErrRefundInvalidInput = errors.New("refunds: invalid input")
)

// RefundServiceDeps lists collaborators for the refund coordinator.
type RefundServiceDeps struct {
	Orders  *OrderService
	Gateway payments.Client
	Clock   Clock
	Logger  Logger
}

// RefundService reverses settled payments. The gateway operation depends on
// how far the original transaction progressed, so every refund starts with a
// state query.
type RefundService struct {
	orders  *OrderService
	gateway payments.Client
	clock   Clock
	logger  Logger
}

// NewRefundService validates dependencies and constructs the service.
func NewRefundService(deps RefundServiceDeps) (*RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("refund service: gateway client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &RefundService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		clock:   normalizeClock(deps.Clock),
		logger:  logger,
	}, nil
}

// RefundResult records the operation chosen and its outcome.
type RefundResult struct {
	// Action is the gateway operation that performed the refund.
	Action payments.Action
	// AmountRefunded is the refunded amount in major units. Zero when the
	// transaction was voided before capture.
	AmountRefunded decimal.Decimal
	// ResponseCode is the gateway's response code for the refund operation.
	ResponseCode int
	// Message is the gateway's response message.
	Message string
}

// Refund reverses up to amount of the order's settled payment. The strategy
// follows the transaction's settlement state:
//
//   - approved or captured, refund covers the full amount: CANCEL voids the
//     transaction before the batch settles, so nothing is charged.
//   - approved or captured, partial refund: CAPTURE for the reduced amount
//     rewrites what will settle.
//   - accepted (already settled): REFUND_SALE returns money to the card.
//
// Any other state is not refundable.
func (s *RefundService) Refund(ctx context.Context, orderID string, amount decimal.Decimal) (*RefundResult, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrRefundInvalidInput)
	}

	order, err := s.orders.LoadByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.TransactionXref == "" {
		return nil, fmt.Errorf("%w: order has no settled transaction", ErrNotRefundable)
	}

	state, err := s.gateway.Query(ctx, order.TransactionXref)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayProtocol) {
			return nil, fmt.Errorf("%w: %v", ErrAmbiguousSettlement, err)
		}
		return nil, err
	}

	amountMinor := domain.MinorUnits(amount)
	received := state.AmountReceived
	if received == 0 {
		received = state.Amount
	}

	req := payments.TransactionRequest{Xref: order.TransactionXref}
	refunded := amount
	switch state.State {
	case payments.StateApproved, payments.StateCaptured:
		if received-amountMinor <= 0 {
			// Full reversal before batch settlement: void the transaction.
			req.Action = payments.ActionCancel
			refunded = decimal.Zero
		} else {
			// Partial reversal: re-capture for the remainder.
			req.Action = payments.ActionCapture
			req.Amount = received - amountMinor
		}
	case payments.StateAccepted:
		req.Action = payments.ActionRefundSale
		req.Amount = amountMinor
	default:
		return nil, fmt.Errorf("%w: transaction state %q", ErrNotRefundable, state.State)
	}

	resp, err := s.gateway.Settle(ctx, req)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayProtocol) {
			s.noteRefund(ctx, order, false, refunded, req.Action)
			return nil, fmt.Errorf("%w: %v", ErrAmbiguousSettlement, err)
		}
		s.noteRefund(ctx, order, false, refunded, req.Action)
		return nil, err
	}

	result := &RefundResult{
		Action:         req.Action,
		AmountRefunded: refunded,
		ResponseCode:   resp.ResponseCode,
		Message:        resp.ResponseMessage,
	}

	if !resp.Success() {
		s.noteRefund(ctx, order, false, refunded, req.Action)
		s.logger(ctx, "refund_declined", map[string]any{
			"order_id":      order.ID,
			"response_code": resp.ResponseCode,
		})
		return result, nil
	}

	s.noteRefund(ctx, order, true, refunded, req.Action)
	if s.fullyRefunded(order, amountMinor, req.Action) {
		if err := s.orders.SetStatus(ctx, order, domain.OrderStatusRefunded); err != nil {
			s.logger(ctx, "refund_status_write_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		}
	}
	s.logger(ctx, "refund_completed", map[string]any{
		"order_id": order.ID,
		"action":   string(req.Action),
		"amount":   domain.FormatAmount(refunded),
	})
	return result, nil
}

func (s *RefundService) fullyRefunded(order *domain.Order, amountMinor int64, action payments.Action) bool {
	if action == payments.ActionCancel {
		return true
	}
	return order.AmountReceived > 0 && amountMinor >= order.AmountReceived
}

// noteRefund appends the refund audit note. A voided transaction carries no
// refunded amount, so the amount line is omitted for CANCEL.
func (s *RefundService) noteRefund(ctx context.Context, order *domain.Order, success bool, refunded decimal.Decimal, action payments.Action) {
	text := "Refund Unsuccessful"
	if success {
		text = "Refund Successful"
	}
	if action != payments.ActionCancel {
		text += "\nAmount Refunded: " + domain.FormatAmount(refunded)
	}
	if err := s.orders.AppendNote(ctx, order, text); err != nil {
		s.logger(ctx, "order_note_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
	}
}
