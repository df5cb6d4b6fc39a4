package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSettleTimeout = 30 * time.Second

	// paymentMethodApplePay tags SALE requests carrying a payment-sheet token.
	paymentMethodApplePay = "applepay"

	// merchantData identifies this integration to the gateway.
	merchantData = "APPLEPAY_BRIDGE"

	// trustedValidationSuffix is the only host suffix merchant-validation URLs
	// may resolve to.
	trustedValidationSuffix = ".apple.com"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DirectClientConfig captures the merchant credentials and endpoints for the
// gateway's direct integration.
type DirectClientConfig struct {
	// GatewayURL is the direct endpoint transactions are posted to.
	GatewayURL string
	// MerchantID identifies the merchant account at the gateway.
	MerchantID string
	// SignatureKey signs every transaction request.
	SignatureKey string
	// CountryCode is the merchant's ISO 3166 numeric country code.
	CountryCode string
	// CurrencyCode is the ISO 4217 numeric settlement currency.
	CurrencyCode string
	// MerchantIdentifier is the Apple Pay merchant identifier.
	MerchantIdentifier string
	// MerchantDomain is the registered payment-sheet domain.
	MerchantDomain string
	// DisplayName is shown on the payment sheet during validation.
	DisplayName string
	// Timeout bounds each settle/query call. Defaults to 30s; an indefinite
	// hang blocks a checkout with money potentially in flight.
	Timeout time.Duration
}

// DirectClientDeps lists collaborators for the direct client. AppleHTTP must
// be configured with the merchant certificate for mutual TLS.
type DirectClientDeps struct {
	GatewayHTTP httpDoer
	AppleHTTP   httpDoer
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// DirectClient implements Client over the gateway's signed form protocol.
type DirectClient struct {
	cfg         DirectClientConfig
	gatewayHTTP httpDoer
	appleHTTP   httpDoer
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewDirectClient validates configuration and returns a ready client.
func NewDirectClient(cfg DirectClientConfig, deps DirectClientDeps) (*DirectClient, error) {
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, errors.New("payments: gateway URL is required")
	}
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return nil, errors.New("payments: merchant ID is required")
	}
	if strings.TrimSpace(cfg.SignatureKey) == "" {
		return nil, errors.New("payments: signature key is required")
	}
	if deps.GatewayHTTP == nil {
		return nil, errors.New("payments: gateway HTTP client is required")
	}
	if deps.AppleHTTP == nil {
		return nil, errors.New("payments: apple HTTP client is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSettleTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DirectClient{cfg: cfg, gatewayHTTP: deps.GatewayHTTP, appleHTTP: deps.AppleHTTP, logger: logger}, nil
}

// Settle executes a transaction against the direct endpoint. Single attempt;
// the caller owns any retry decision.
func (c *DirectClient) Settle(ctx context.Context, req TransactionRequest) (*TransactionResponse, error) {
	fields := url.Values{}
	fields.Set("merchantID", c.cfg.MerchantID)
	fields.Set("action", string(req.Action))
	if req.Type > 0 {
		fields.Set("type", strconv.Itoa(req.Type))
	}
	if req.Amount > 0 {
		fields.Set("amount", strconv.FormatInt(req.Amount, 10))
	}
	if c.cfg.CountryCode != "" {
		fields.Set("countryCode", c.cfg.CountryCode)
	}
	if c.cfg.CurrencyCode != "" {
		fields.Set("currencyCode", c.cfg.CurrencyCode)
	}
	if req.TransactionUnique != "" {
		fields.Set("transactionUnique", req.TransactionUnique)
	}
	if req.PaymentToken != "" {
		fields.Set("paymentMethod", paymentMethodApplePay)
		fields.Set("paymentToken", req.PaymentToken)
		fields.Set("merchantData", merchantData)
	}
	if req.Xref != "" {
		fields.Set("xref", req.Xref)
	}
	if req.RTAgreementType != "" {
		fields.Set("rtAgreementType", req.RTAgreementType)
		fields.Set("avscv2CheckRequired", "N")
	}

	signature := Sign(fields, c.cfg.SignatureKey)
	fields.Set("signature", signature)

	body, err := c.post(ctx, c.gatewayHTTP, c.cfg.GatewayURL, "application/x-www-form-urlencoded", []byte(fields.Encode()))
	if err != nil {
		return nil, err
	}

	resp, err := parseTransactionResponse(body)
	if err != nil {
		c.logger(ctx, "gateway_response_unparseable", map[string]any{"action": string(req.Action), "error": err.Error()})
		return nil, err
	}

	c.logger(ctx, "gateway_response", map[string]any{
		"action":        string(req.Action),
		"response_code": resp.ResponseCode,
		"xref":          resp.Xref,
	})
	return resp, nil
}

// Query fetches the settlement state for a gateway xref.
func (c *DirectClient) Query(ctx context.Context, xref string) (*TransactionResponse, error) {
	if strings.TrimSpace(xref) == "" {
		return nil, fmt.Errorf("%w: query without xref", ErrGatewayProtocol)
	}
	return c.Settle(ctx, TransactionRequest{Action: ActionQuery, Xref: xref})
}

// ValidateMerchant performs the merchant-validation handshake. The URL is
// checked against the provider domain before any network call is made.
func (c *DirectClient) ValidateMerchant(ctx context.Context, validationURL string) (json.RawMessage, error) {
	parsed, err := url.Parse(strings.TrimSpace(validationURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUntrustedValidationURL, validationURL)
	}
	if parsed.Scheme != "https" || !strings.HasSuffix(parsed.Hostname(), trustedValidationSuffix) {
		return nil, fmt.Errorf("%w: %q", ErrUntrustedValidationURL, validationURL)
	}

	payload, err := json.Marshal(map[string]string{
		"merchantIdentifier": c.cfg.MerchantIdentifier,
		"domainName":         c.cfg.MerchantDomain,
		"displayName":        c.cfg.DisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("payments: encode validation payload: %w", err)
	}

	body, err := c.post(ctx, c.appleHTTP, parsed.String(), "application/json", payload)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: merchant session payload is not JSON", ErrGatewayProtocol)
	}

	c.logger(ctx, "merchant_validated", map[string]any{"host": parsed.Hostname()})
	return json.RawMessage(body), nil
}

func (c *DirectClient) post(ctx context.Context, client httpDoer, target, contentType string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnreachable, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnreachable, httpResp.StatusCode)
	}
	return respBody, nil
}

func parseTransactionResponse(body []byte) (*TransactionResponse, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayProtocol, err)
	}
	rawCode := values.Get("responseCode")
	if rawCode == "" {
		return nil, fmt.Errorf("%w: missing responseCode", ErrGatewayProtocol)
	}
	code, err := strconv.Atoi(rawCode)
	if err != nil {
		return nil, fmt.Errorf("%w: responseCode %q", ErrGatewayProtocol, rawCode)
	}

	fields := make(map[string]string, len(values))
	for key := range values {
		fields[key] = values.Get(key)
	}

	resp := &TransactionResponse{
		ResponseCode:      code,
		ResponseMessage:   values.Get("responseMessage"),
		Xref:              values.Get("xref"),
		State:             values.Get("state"),
		TransactionUnique: values.Get("transactionUnique"),
		Fields:            fields,
	}
	if raw := values.Get("amount"); raw != "" {
		if amount, err := strconv.ParseInt(raw, 10, 64); err == nil {
			resp.Amount = amount
		}
	}
	if raw := values.Get("amountReceived"); raw != "" {
		if amount, err := strconv.ParseInt(raw, 10, 64); err == nil {
			resp.AmountReceived = amount
		}
	}
	return resp, nil
}
