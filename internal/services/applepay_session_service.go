package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/payments"
	"github.com/npi-gateway/applepay-api/internal/repositories"
)

var (
	// ErrSessionInvalidInput signals malformed step input.
	ErrSessionInvalidInput = errors.New("applepay session: invalid input")
	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("applepay session: session not found")
	// ErrSessionState rejects a protocol step fired out of order.
	ErrSessionState = errors.New("applepay session: step not allowed in current state")
	// ErrMerchantValidation is returned when the merchant-validation round trip
	// fails or the validation URL is untrusted.
	ErrMerchantValidation = errors.New("applepay session: merchant validation failed")
	// ErrCouponInvalid is returned for unknown or already-applied coupon codes.
	ErrCouponInvalid = errors.New("applepay session: coupon not applicable")
)

const defaultSessionTTL = 30 * time.Minute

// Contact fields the sheet must collect before authorization.
var requiredContactFields = []string{"email", "name", "phone", "postalAddress"}

// ApplePaySessionConfig carries the static sheet parameters and redirect
// targets.
type ApplePaySessionConfig struct {
	// CountryCode is the merchant's ISO 3166 alpha-2 country.
	CountryCode string
	// CurrencyCode is the ISO 4217 alpha currency shown on the sheet.
	CurrencyCode string
	// SupportedNetworks lists the card networks the sheet may offer.
	SupportedNetworks []string
	// MerchantCapabilities advertises gateway capabilities to the sheet.
	MerchantCapabilities []string
	// SessionTTL bounds how long an abandoned session stays resumable.
	SessionTTL time.Duration
	// OrderReceivedURL is the post-payment redirect; {orderKey} is replaced
	// with the order's key.
	OrderReceivedURL string
	// CheckoutURL is the redirect target after a failed settlement.
	CheckoutURL string
}

// ApplePaySessionDeps lists collaborators for the orchestrator.
type ApplePaySessionDeps struct {
	Sessions    repositories.SessionRepository
	Carts       repositories.CartRepository
	Zones       repositories.ShippingZoneRepository
	Orders      *OrderService
	Pricer      *PricingEngine
	Gateway     payments.Client
	IDGenerator func() string
	UniqueID    func() string
	Clock       Clock
	Logger      Logger
}

// ApplePaySessionService drives the payment-sheet protocol: merchant
// validation, shipping negotiation, and payment authorization. Each step loads
// the session, checks the state machine, performs its effect, and persists the
// new state.
type ApplePaySessionService struct {
	cfg        ApplePaySessionConfig
	sessions   repositories.SessionRepository
	carts      repositories.CartRepository
	zones      repositories.ShippingZoneRepository
	orders     *OrderService
	pricer     *PricingEngine
	gateway    payments.Client
	generateID func() string
	uniqueID   func() string
	clock      Clock
	logger     Logger
}

// NewApplePaySessionService validates dependencies and constructs the service.
func NewApplePaySessionService(cfg ApplePaySessionConfig, deps ApplePaySessionDeps) (*ApplePaySessionService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("applepay session service: session repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("applepay session service: cart repository is required")
	}
	if deps.Zones == nil {
		return nil, errors.New("applepay session service: shipping zone repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("applepay session service: order service is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("applepay session service: pricing engine is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("applepay session service: gateway client is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("applepay session service: id generator is required")
	}
	if deps.UniqueID == nil {
		return nil, errors.New("applepay session service: unique id generator is required")
	}
	if strings.TrimSpace(cfg.CountryCode) == "" || strings.TrimSpace(cfg.CurrencyCode) == "" {
		return nil, errors.New("applepay session service: country and currency are required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &ApplePaySessionService{
		cfg:        cfg,
		sessions:   deps.Sessions,
		carts:      deps.Carts,
		zones:      deps.Zones,
		orders:     deps.Orders,
		pricer:     deps.Pricer,
		gateway:    deps.Gateway,
		generateID: deps.IDGenerator,
		uniqueID:   deps.UniqueID,
		clock:      normalizeClock(deps.Clock),
		logger:     logger,
	}, nil
}

// StartSession creates a fresh checkout session bound to a cart.
func (s *ApplePaySessionService) StartSession(ctx context.Context, cartID string) (*domain.CheckoutSession, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, fmt.Errorf("%w: cart id is required", ErrSessionInvalidInput)
	}
	if _, err := s.carts.Get(ctx, cartID); err != nil {
		return nil, s.translateSessionError(err)
	}

	session := &domain.CheckoutSession{
		ID:        s.generateID(),
		CartID:    cartID,
		State:     domain.SessionStarted,
		ExpiresAt: s.clock().Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, s.translateSessionError(err)
	}
	s.logger(ctx, "session_started", map[string]any{"session_id": session.ID, "cart_id": cartID})
	return session, nil
}

// BuildSheetRequest assembles the payment-sheet request for a session. When
// orderKey names a previously failed order, the sheet is rebuilt from the
// order's frozen items and shipping fields are omitted.
func (s *ApplePaySessionService) BuildSheetRequest(ctx context.Context, sessionID, orderKey string) (*domain.PaymentSheetRequest, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionState, session.State)
	}

	request := &domain.PaymentSheetRequest{
		CountryCode:                  s.cfg.CountryCode,
		CurrencyCode:                 s.cfg.CurrencyCode,
		MerchantCapabilities:         s.cfg.MerchantCapabilities,
		SupportedNetworks:            s.cfg.SupportedNetworks,
		RequiredBillingContactFields: requiredContactFields,
	}

	if strings.TrimSpace(orderKey) != "" {
		order, err := s.orders.LoadByKey(ctx, orderKey)
		if err != nil {
			return nil, err
		}
		summary := s.pricer.PriceOrder(order)
		request.LineItems = summary.LineItems
		request.Total = summary.Total

		session.OrderKey = orderKey
		if err := s.sessions.Update(ctx, session); err != nil {
			return nil, s.translateSessionError(err)
		}
		return request, nil
	}

	cart, err := s.carts.Get(ctx, session.CartID)
	if err != nil {
		return nil, s.translateSessionError(err)
	}

	summary := s.pricer.Price(cart.Items, s.shippingCost(session, cart))
	request.LineItems = summary.LineItems
	request.Total = summary.Total
	request.SupportsCouponCode = len(cart.CouponCodes) == 0

	methodChosen := session.SelectedRate != nil || cart.ChosenShippingMethodID != ""
	if !cart.Virtual() && methodChosen {
		request.RequiredShippingContactFields = requiredContactFields
	}
	return request, nil
}

// ValidateMerchant forwards the validation URL to the gateway client and
// advances the session once the provider confirms the merchant identity.
func (s *ApplePaySessionService) ValidateMerchant(ctx context.Context, sessionID, validationURL string) (json.RawMessage, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() || session.State == domain.SessionAuthorizing {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionState, session.State)
	}

	payload, err := s.gateway.ValidateMerchant(ctx, validationURL)
	if err != nil {
		s.logger(ctx, "merchant_validation_failed", map[string]any{"session_id": sessionID, "error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrMerchantValidation, err)
	}

	if session.State == domain.SessionStarted {
		session.State = domain.SessionMerchantValidated
		if err := s.sessions.Update(ctx, session); err != nil {
			return nil, s.translateSessionError(err)
		}
	}
	s.logger(ctx, "merchant_validated", map[string]any{"session_id": sessionID})
	return payload, nil
}

// ShippingContactResult is the response to a shipping-contact selection.
// Status false carries the structured "no methods for this region" outcome the
// sheet renders as a contact error, not a transport failure.
type ShippingContactResult struct {
	Status          bool                    `json:"status"`
	ShippingMethods []domain.ShippingMethod `json:"shippingMethods"`
	LineItems       []domain.LineItem       `json:"lineItems"`
	Total           domain.LineItem         `json:"total"`
}

// ShippingMethodsForContact resolves shipping methods for the contact's
// country, auto-selects the first as default, and reprices.
func (s *ApplePaySessionService) ShippingMethodsForContact(ctx context.Context, sessionID string, contact domain.Contact) (*ShippingContactResult, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.SessionMerchantValidated && session.State != domain.SessionShippingNegotiated {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionState, session.State)
	}
	if strings.TrimSpace(contact.CountryCode) == "" {
		return nil, fmt.Errorf("%w: contact country code is required", ErrSessionInvalidInput)
	}

	cart, err := s.carts.Get(ctx, session.CartID)
	if err != nil {
		return nil, s.translateSessionError(err)
	}

	rates, err := s.zones.RatesForCountry(ctx, contact.CountryCode)
	if err != nil {
		return nil, s.translateSessionError(err)
	}

	session.AvailableRates = rates
	session.State = domain.SessionShippingNegotiated

	result := &ShippingContactResult{ShippingMethods: []domain.ShippingMethod{}}
	if len(rates) == 0 {
		// No zone covers the region. Selection state is cleared and the sheet
		// reprices with zero shipping while it shows the contact error.
		session.SelectedRate = nil
		summary := s.pricer.Price(cart.Items, decimal.Zero)
		result.LineItems = summary.LineItems
		result.Total = summary.Total

		if err := s.sessions.Update(ctx, session); err != nil {
			return nil, s.translateSessionError(err)
		}
		s.logger(ctx, "shipping_unavailable", map[string]any{"session_id": sessionID, "country": contact.CountryCode})
		return result, nil
	}

	selected := rates[0]
	session.SelectedRate = &selected
	for i, rate := range rates {
		result.ShippingMethods = append(result.ShippingMethods, domain.ShippingMethod{
			Label:      rate.Title,
			Detail:     rate.Description,
			Amount:     domain.FormatAmount(rate.Cost),
			Identifier: rate.Identifier(),
			Selected:   i == 0,
		})
	}

	summary := s.pricer.Price(cart.Items, selected.Cost)
	result.Status = true
	result.LineItems = summary.LineItems
	result.Total = summary.Total

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, s.translateSessionError(err)
	}
	return result, nil
}

// ShippingUpdateResult is the partial repricing returned after a shipping
// method selection: the shipping line plus the new total, per the sheet's
// completion contract.
type ShippingUpdateResult struct {
	Status    bool              `json:"status"`
	LineItems []domain.LineItem `json:"lineItems"`
	Total     domain.LineItem   `json:"total"`
}

// SelectShippingMethod records the chosen method on the session and reprices.
// Selecting the same identifier twice yields identical results.
func (s *ApplePaySessionService) SelectShippingMethod(ctx context.Context, sessionID, identifier string) (*ShippingUpdateResult, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() || session.State == domain.SessionAuthorizing {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionState, session.State)
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: shipping method identifier is required", ErrSessionInvalidInput)
	}

	cart, err := s.carts.Get(ctx, session.CartID)
	if err != nil {
		return nil, s.translateSessionError(err)
	}

	rate, err := s.resolveRate(ctx, session, cart, identifier)
	if err != nil {
		return nil, err
	}

	session.SelectedRate = &rate
	if session.State == domain.SessionMerchantValidated {
		session.State = domain.SessionShippingNegotiated
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, s.translateSessionError(err)
	}

	summary := s.pricer.Price(cart.Items, rate.Cost)
	return &ShippingUpdateResult{
		Status:    true,
		LineItems: []domain.LineItem{summary.LineItems[0]},
		Total:     summary.Total,
	}, nil
}

// ApplyCoupon applies a coupon code to the session's cart and reprices.
func (s *ApplePaySessionService) ApplyCoupon(ctx context.Context, sessionID, code string) (*domain.PriceSummary, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() || session.State == domain.SessionAuthorizing {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionState, session.State)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: coupon code is required", ErrSessionInvalidInput)
	}

	cart, err := s.carts.ApplyCoupon(ctx, session.CartID, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && (repoErr.IsNotFound() || repoErr.IsConflict()) {
			return nil, fmt.Errorf("%w: %v", ErrCouponInvalid, err)
		}
		return nil, s.translateSessionError(err)
	}

	summary := s.pricer.Price(cart.Items, s.shippingCost(session, cart))
	return &summary, nil
}

// AuthorizeResult is the terminal step outcome. Redirect is always populated,
// success or failure.
type AuthorizeResult struct {
	Complete bool   `json:"paymentComplete"`
	Redirect string `json:"redirect"`
	Message  string `json:"message"`
}

// AuthorizePayment runs the critical settlement path: resolve or create the
// order, record the raw gateway response before classifying it, then finalize
// order and session.
func (s *ApplePaySessionService) AuthorizePayment(ctx context.Context, sessionID string, payment domain.ApplePayPayment, orderKey string) (*AuthorizeResult, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Merchant validation must precede authorization.
	if session.State != domain.SessionMerchantValidated && session.State != domain.SessionShippingNegotiated {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionState, session.State)
	}
	if len(payment.Token.PaymentData) == 0 {
		return nil, fmt.Errorf("%w: payment token is required", ErrSessionInvalidInput)
	}

	previousState := session.State
	session.State = domain.SessionAuthorizing
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, s.translateSessionError(err)
	}

	order, err := s.resolveOrder(ctx, session, payment, orderKey)
	if err != nil {
		// No gateway call was made; the step may be retried.
		session.State = previousState
		if updateErr := s.sessions.Update(ctx, session); updateErr != nil {
			s.logger(ctx, "session_state_restore_failed", map[string]any{"session_id": sessionID, "error": updateErr.Error()})
		}
		return nil, err
	}

	resp, err := s.gateway.Settle(ctx, payments.TransactionRequest{
		Action:            payments.ActionSale,
		Type:              payments.TypeECommerce,
		Amount:            domain.MinorUnits(order.Total),
		TransactionUnique: order.Key + "-" + s.uniqueID(),
		PaymentToken:      string(payment.Token.PaymentData),
	})
	if err != nil {
		return s.settleFailed(ctx, session, order, err)
	}

	// Audit before classification: a crash past this point still leaves
	// evidence the charge happened.
	if err := s.orders.RecordGatewayResponse(ctx, order, resp); err != nil {
		s.logger(ctx, "settlement_audit_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
	}

	if resp.ResponseCode == payments.ResponseCodeIPBlocked {
		s.logger(ctx, "gateway_ip_blocked", map[string]any{"order_id": order.ID})
	}

	if resp.Success() {
		if err := s.orders.Complete(ctx, order, resp); err != nil {
			s.logger(ctx, "order_complete_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		}
		s.finishSession(ctx, session, domain.SessionCompleted)
		return &AuthorizeResult{
			Complete: true,
			Redirect: s.orderReceivedURL(order),
			Message:  "Payment approved",
		}, nil
	}

	if err := s.orders.Fail(ctx, order, resp); err != nil {
		s.logger(ctx, "order_fail_write_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
	}
	s.finishSession(ctx, session, domain.SessionFailed)

	message := resp.ResponseMessage
	if message == "" {
		message = "Payment declined"
	}
	return &AuthorizeResult{
		Complete: false,
		Redirect: s.cfg.CheckoutURL,
		Message:  message,
	}, nil
}

// Cancel clears shipping-selection state and returns the session to Started.
// A session mid-settlement cannot be cancelled; the payment may already be
// committed remotely.
func (s *ApplePaySessionService) Cancel(ctx context.Context, sessionID string) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State.Terminal() || session.State == domain.SessionAuthorizing {
		return fmt.Errorf("%w: session is %s", ErrSessionState, session.State)
	}

	session.State = domain.SessionStarted
	session.SelectedRate = nil
	session.AvailableRates = nil
	if err := s.sessions.Update(ctx, session); err != nil {
		return s.translateSessionError(err)
	}
	s.logger(ctx, "session_cancelled", map[string]any{"session_id": sessionID})
	return nil
}

func (s *ApplePaySessionService) resolveOrder(ctx context.Context, session *domain.CheckoutSession, payment domain.ApplePayPayment, orderKey string) (*domain.Order, error) {
	if strings.TrimSpace(orderKey) == "" {
		orderKey = session.OrderKey
	}
	if strings.TrimSpace(orderKey) != "" {
		order, err := s.orders.LoadByKey(ctx, orderKey)
		if err != nil {
			return nil, err
		}
		if err := s.orders.UpdateBilling(ctx, order, payment.BillingContact); err != nil {
			return nil, err
		}
		return order, nil
	}

	cart, err := s.carts.Get(ctx, session.CartID)
	if err != nil {
		return nil, s.translateSessionError(err)
	}

	input := CreateOrderInput{
		Cart:          cart,
		Billing:       payment.BillingContact,
		Shipping:      payment.ShippingContact,
		Currency:      s.cfg.CurrencyCode,
		ShippingTotal: s.shippingCost(session, cart),
	}
	if session.SelectedRate != nil {
		input.ShippingMethodID = session.SelectedRate.Identifier()
	} else {
		input.ShippingMethodID = cart.ChosenShippingMethodID
	}
	return s.orders.CreateFromContacts(ctx, input)
}

// settleFailed handles transport and protocol failures from the settle call.
// A protocol failure after the request went out means money may have moved, so
// the ambiguity is preserved for operators instead of reversing anything.
func (s *ApplePaySessionService) settleFailed(ctx context.Context, session *domain.CheckoutSession, order *domain.Order, settleErr error) (*AuthorizeResult, error) {
	if errors.Is(settleErr, payments.ErrGatewayProtocol) {
		s.logger(ctx, "settlement_ambiguous", map[string]any{
			"order_id": order.ID,
			"error":    settleErr.Error(),
		})
		if err := s.orders.AppendNote(ctx, order, "Settlement outcome unknown: gateway response could not be interpreted. Manual reconciliation required. "+settleErr.Error()); err != nil {
			s.logger(ctx, "order_note_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		}
	} else {
		s.logger(ctx, "settlement_unreachable", map[string]any{"order_id": order.ID, "error": settleErr.Error()})
		if err := s.orders.AppendNote(ctx, order, "Payment attempt failed: gateway unreachable."); err != nil {
			s.logger(ctx, "order_note_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		}
		if err := s.orders.SetStatus(ctx, order, domain.OrderStatusFailed); err != nil {
			s.logger(ctx, "order_fail_write_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		}
	}

	s.finishSession(ctx, session, domain.SessionFailed)
	return &AuthorizeResult{
		Complete: false,
		Redirect: s.cfg.CheckoutURL,
		Message:  "Payment could not be completed",
	}, nil
}

func (s *ApplePaySessionService) finishSession(ctx context.Context, session *domain.CheckoutSession, state domain.SessionState) {
	session.State = state
	// Shipping selection no longer applies once the attempt is settled.
	session.SelectedRate = nil
	session.AvailableRates = nil
	if err := s.sessions.Update(ctx, session); err != nil {
		s.logger(ctx, "session_finish_failed", map[string]any{"session_id": session.ID, "error": err.Error()})
	}
}

func (s *ApplePaySessionService) resolveRate(ctx context.Context, session *domain.CheckoutSession, cart *domain.Cart, identifier string) (domain.ShippingRate, error) {
	for _, rate := range session.AvailableRates {
		if rate.Identifier() == identifier {
			return rate, nil
		}
	}
	// Checkout-page selections arrive before any contact negotiation, so fall
	// back to the cart's shipping country.
	if cart.ShippingCountry != "" {
		rates, err := s.zones.RatesForCountry(ctx, cart.ShippingCountry)
		if err != nil {
			return domain.ShippingRate{}, s.translateSessionError(err)
		}
		for _, rate := range rates {
			if rate.Identifier() == identifier {
				return rate, nil
			}
		}
	}
	return domain.ShippingRate{}, fmt.Errorf("%w: unknown shipping method %q", ErrSessionInvalidInput, identifier)
}

func (s *ApplePaySessionService) shippingCost(session *domain.CheckoutSession, cart *domain.Cart) decimal.Decimal {
	if session.SelectedRate != nil {
		return session.SelectedRate.Cost
	}
	return cart.ShippingTotal
}

func (s *ApplePaySessionService) orderReceivedURL(order *domain.Order) string {
	return strings.ReplaceAll(s.cfg.OrderReceivedURL, "{orderKey}", order.Key)
}

func (s *ApplePaySessionService) loadSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrSessionInvalidInput)
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, s.translateSessionError(err)
	}
	return session, nil
}

func (s *ApplePaySessionService) translateSessionError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return err
}
