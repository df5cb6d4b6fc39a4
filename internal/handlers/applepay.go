package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/platform/auth"
	"github.com/npi-gateway/applepay-api/internal/platform/httpx"
	"github.com/npi-gateway/applepay-api/internal/services"
)

const maxFormBodySize = 64 * 1024

// Form actions dispatched by the payment-sheet bridge endpoint.
const (
	actionGetRequest       = "get_applepay_request"
	actionValidateMerchant = "validate_applepay_merchant"
	actionUpdateShipping   = "update_shipping_method"
	actionGetShipping      = "get_shipping_methods"
	actionProcessPayment   = "process_applepay_payment"
	actionApplyCoupon      = "apply_coupon_code"
)

// ApplePayHandlers bridges the browser's payment-sheet callbacks to the
// session orchestrator over a single action-dispatch endpoint.
type ApplePayHandlers struct {
	sessions *services.ApplePaySessionService
	tokens   *auth.TokenIssuer
	validate *validator.Validate
}

// NewApplePayHandlers constructs the payment-sheet bridge handlers.
func NewApplePayHandlers(sessions *services.ApplePaySessionService, tokens *auth.TokenIssuer) *ApplePayHandlers {
	return &ApplePayHandlers{
		sessions: sessions,
		tokens:   tokens,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes wires the applepay endpoints onto the provided router.
func (h *ApplePayHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/session", h.startSession)
	r.Post("/", h.dispatch)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type sessionResponse struct {
	SessionID    string `json:"sessionId"`
	SecurityCode string `json:"securityCode"`
	ExpiresAt    string `json:"expiresAt"`
}

func (h *ApplePayHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cartID := strings.TrimSpace(r.URL.Query().Get("cartId"))
	session, err := h.sessions.StartSession(ctx, cartID)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	token, err := h.tokens.Issue(session.ID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("token_issue_failed", "unable to issue session token", http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: sessionResponse{
		SessionID:    session.ID,
		SecurityCode: token,
		ExpiresAt:    session.ExpiresAt.UTC().Format(time.RFC3339),
	}})
}

// dispatch routes a form post by its action field. The security token is
// checked before any side effect; a bad token terminates the request with no
// payload.
func (h *ApplePayHandlers) dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to parse form body", http.StatusBadRequest))
		return
	}

	sessionID, err := h.tokens.Verify(r.PostFormValue("securitycode"))
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.PostFormValue("action") {
	case actionGetRequest:
		h.getRequest(ctx, w, r, sessionID)
	case actionValidateMerchant:
		h.validateMerchant(ctx, w, r, sessionID)
	case actionUpdateShipping:
		h.updateShippingMethod(ctx, w, r, sessionID)
	case actionGetShipping:
		h.getShippingMethods(ctx, w, r, sessionID)
	case actionProcessPayment:
		h.processPayment(ctx, w, r, sessionID)
	case actionApplyCoupon:
		h.applyCoupon(ctx, w, r, sessionID)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("unknown_action", "unrecognised action", http.StatusBadRequest))
	}
}

func (h *ApplePayHandlers) getRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string) {
	request, err := h.sessions.BuildSheetRequest(ctx, sessionID, r.PostFormValue("orderID"))
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: request})
}

func (h *ApplePayHandlers) validateMerchant(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string) {
	payload, err := h.sessions.ValidateMerchant(ctx, sessionID, r.PostFormValue("validationURL"))
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: json.RawMessage(payload)})
}

func (h *ApplePayHandlers) updateShippingMethod(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string) {
	identifier := shippingMethodIdentifier(r)
	result, err := h.sessions.SelectShippingMethod(ctx, sessionID, identifier)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: result})
}

// sheetError is the structured error entry the payment sheet renders inline.
type sheetError struct {
	Code         string `json:"code"`
	ContactField string `json:"contactField,omitempty"`
	Message      string `json:"message"`
}

type shippingMethodsResponse struct {
	*services.ShippingContactResult
	Errors []sheetError `json:"errors,omitempty"`
}

func (h *ApplePayHandlers) getShippingMethods(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string) {
	var contact domain.Contact
	raw := r.PostFormValue("shippingContactSelected")
	if err := json.Unmarshal([]byte(raw), &contact); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shippingContactSelected must be a JSON contact", http.StatusBadRequest))
		return
	}

	result, err := h.sessions.ShippingMethodsForContact(ctx, sessionID, contact)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	response := shippingMethodsResponse{ShippingContactResult: result}
	if !result.Status {
		// The sheet expects the region failure inside the success envelope, as
		// a contact error, not a transport-level failure.
		response.Errors = []sheetError{{
			Code:         "shippingContactInvalid",
			ContactField: "postalAddress",
			Message:      "No delivery is available for this address.",
		}}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: response})
}

func (h *ApplePayHandlers) processPayment(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string) {
	var payment domain.ApplePayPayment
	if err := json.Unmarshal([]byte(r.PostFormValue("payment")), &payment); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment must be a JSON payment object", http.StatusBadRequest))
		return
	}
	if err := h.validate.Struct(payment); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment token is missing required fields", http.StatusBadRequest))
		return
	}

	result, err := h.sessions.AuthorizePayment(ctx, sessionID, payment, r.PostFormValue("orderID"))
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: result.Complete, Data: result, Message: result.Message})
}

func (h *ApplePayHandlers) applyCoupon(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string) {
	summary, err := h.sessions.ApplyCoupon(ctx, sessionID, r.PostFormValue("couponCode"))
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: summary})
}

// shippingMethodIdentifier accepts the two spellings browsers send: the raw
// identifier under checkoutShippingMethodSelected, or the selected method
// object under shippingMethodSelected.
func shippingMethodIdentifier(r *http.Request) string {
	if raw := strings.TrimSpace(r.PostFormValue("checkoutShippingMethodSelected")); raw != "" {
		return raw
	}
	raw := strings.TrimSpace(r.PostFormValue("shippingMethodSelected"))
	if raw == "" {
		return ""
	}
	var method struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal([]byte(raw), &method); err == nil && method.Identifier != "" {
		return method.Identifier
	}
	return raw
}

func (h *ApplePayHandlers) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found or expired", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionState):
		httpx.WriteError(ctx, w, httpx.NewError("session_state_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrMerchantValidation):
		httpx.WriteError(ctx, w, httpx.NewError("merchant_validation_failed", "merchant validation failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", "coupon code is not applicable", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderCreation):
		httpx.WriteError(ctx, w, httpx.NewError("order_creation_failed", "unable to create order", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "order store is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
