// Package di wires configuration, repositories, the gateway client, and the
// services into a ready application graph.
package di

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/npi-gateway/applepay-api/internal/domain"
	"github.com/npi-gateway/applepay-api/internal/payments"
	"github.com/npi-gateway/applepay-api/internal/platform/auth"
	"github.com/npi-gateway/applepay-api/internal/platform/config"
	platformfirestore "github.com/npi-gateway/applepay-api/internal/platform/firestore"
	"github.com/npi-gateway/applepay-api/internal/platform/idempotency"
	"github.com/npi-gateway/applepay-api/internal/platform/requestctx"
	"github.com/npi-gateway/applepay-api/internal/repositories"
	firestorerepo "github.com/npi-gateway/applepay-api/internal/repositories/firestore"
	memoryrepo "github.com/npi-gateway/applepay-api/internal/repositories/memory"
	"github.com/npi-gateway/applepay-api/internal/services"
)

// Container holds the initialised application graph.
type Container struct {
	Config config.Config

	Sessions repositories.SessionRepository
	Orders   repositories.OrderRepository
	Carts    repositories.CartRepository
	Zones    repositories.ShippingZoneRepository

	Gateway payments.Client

	OrderService   *services.OrderService
	SessionService *services.ApplePaySessionService
	RefundService  *services.RefundService
	RenewalService *services.RenewalService

	TokenIssuer      *auth.TokenIssuer
	IdempotencyStore idempotency.Store

	firestoreProvider *platformfirestore.Provider
}

// Options carries optional overrides for container construction.
type Options struct {
	// Logger is the process logger used when no request logger is in context.
	Logger *zap.Logger
	// Gateway overrides the constructed gateway client, primarily for tests.
	Gateway payments.Client
	// Clock overrides the time source.
	Clock func() time.Time
}

// NewContainer builds the full application graph from configuration. With an
// empty Firestore project ID all stores are in-memory.
func NewContainer(ctx context.Context, cfg config.Config, opts Options) (*Container, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Container{Config: cfg}

	if err := c.buildRepositories(cfg, clock); err != nil {
		return nil, err
	}

	gateway := opts.Gateway
	if gateway == nil {
		built, err := buildGateway(cfg, logger)
		if err != nil {
			return nil, err
		}
		gateway = built
	}
	c.Gateway = gateway

	svcLogger := serviceLogger(logger)
	pricer := services.NewPricingEngine(clock)

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      c.Orders,
		Pricer:      pricer,
		IDGenerator: newOrderID,
		Clock:       clock,
		Logger:      svcLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: order service: %w", err)
	}
	c.OrderService = orders

	session, err := services.NewApplePaySessionService(services.ApplePaySessionConfig{
		CountryCode:          cfg.Gateway.CountryCode,
		CurrencyCode:         cfg.Gateway.CurrencyCode,
		SupportedNetworks:    cfg.ApplePay.SupportedNetworks,
		MerchantCapabilities: cfg.ApplePay.MerchantCapabilities,
		SessionTTL:           cfg.Session.TTL,
		OrderReceivedURL:     cfg.ApplePay.OrderReceivedURL,
		CheckoutURL:          cfg.ApplePay.CheckoutURL,
	}, services.ApplePaySessionDeps{
		Sessions:    c.Sessions,
		Carts:       c.Carts,
		Zones:       c.Zones,
		Orders:      orders,
		Pricer:      pricer,
		Gateway:     gateway,
		IDGenerator: newSessionID,
		UniqueID:    newUniqueID,
		Clock:       clock,
		Logger:      svcLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: session service: %w", err)
	}
	c.SessionService = session

	refunds, err := services.NewRefundService(services.RefundServiceDeps{
		Orders:  orders,
		Gateway: gateway,
		Clock:   clock,
		Logger:  svcLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: refund service: %w", err)
	}
	c.RefundService = refunds

	renewals, err := services.NewRenewalService(services.RenewalServiceDeps{
		Orders:   orders,
		Gateway:  gateway,
		UniqueID: newUniqueID,
		Clock:    clock,
		Logger:   svcLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: renewal service: %w", err)
	}
	c.RenewalService = renewals

	issuer, err := auth.NewTokenIssuer(cfg.Session.TokenSecret, cfg.Session.TokenTTL, clock)
	if err != nil {
		return nil, fmt.Errorf("di: token issuer: %w", err)
	}
	c.TokenIssuer = issuer

	return c, nil
}

func (c *Container) buildRepositories(cfg config.Config, clock func() time.Time) error {
	// Carts and shipping zones belong to the host commerce system; the
	// in-memory adapters stand in for its integration API.
	c.Carts = memoryrepo.NewCartRepository(nil)
	c.Zones = memoryrepo.NewShippingZoneRepository(map[string][]domain.ShippingRate{})

	if strings.TrimSpace(cfg.Firestore.ProjectID) == "" {
		c.Sessions = memoryrepo.NewSessionRepository(clock)
		c.Orders = memoryrepo.NewOrderRepository(clock)
		c.IdempotencyStore = idempotency.NewMemoryStore()
		return nil
	}

	provider := platformfirestore.NewProvider(platformfirestore.ProviderConfig{
		ProjectID:    cfg.Firestore.ProjectID,
		EmulatorHost: cfg.Firestore.EmulatorHost,
	})
	c.firestoreProvider = provider

	sessions, err := firestorerepo.NewSessionRepository(provider, clock)
	if err != nil {
		return fmt.Errorf("di: session repository: %w", err)
	}
	c.Sessions = sessions

	orders, err := firestorerepo.NewOrderRepository(provider, clock)
	if err != nil {
		return fmt.Errorf("di: order repository: %w", err)
	}
	c.Orders = orders

	store, err := idempotency.NewFirestoreStore(provider)
	if err != nil {
		return fmt.Errorf("di: idempotency store: %w", err)
	}
	c.IdempotencyStore = store
	return nil
}

func buildGateway(cfg config.Config, logger *zap.Logger) (payments.Client, error) {
	appleHTTP, err := appleHTTPClient(cfg.ApplePay, cfg.Gateway.Timeout)
	if err != nil {
		return nil, err
	}

	client, err := payments.NewDirectClient(payments.DirectClientConfig{
		GatewayURL:         cfg.Gateway.URL,
		MerchantID:         cfg.Gateway.MerchantID,
		SignatureKey:       cfg.Gateway.SignatureKey,
		CountryCode:        cfg.Gateway.CountryCode,
		CurrencyCode:       cfg.Gateway.CurrencyCode,
		MerchantIdentifier: cfg.ApplePay.MerchantIdentifier,
		MerchantDomain:     cfg.ApplePay.MerchantDomain,
		DisplayName:        cfg.ApplePay.DisplayName,
		Timeout:            cfg.Gateway.Timeout,
	}, payments.DirectClientDeps{
		GatewayHTTP: &http.Client{Timeout: cfg.Gateway.Timeout},
		AppleHTTP:   appleHTTP,
		Logger:      serviceLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("di: gateway client: %w", err)
	}
	return client, nil
}

// appleHTTPClient builds the mutual-TLS client used for merchant validation.
// Without certificate paths a plain client is returned; Apple rejects it, but
// local development against a stubbed validation endpoint still works.
func appleHTTPClient(cfg config.ApplePayConfig, timeout time.Duration) (*http.Client, error) {
	if cfg.CertificatePath == "" && cfg.CertificateKeyPath == "" {
		return &http.Client{Timeout: timeout}, nil
	}
	if cfg.CertificatePath == "" || cfg.CertificateKeyPath == "" {
		return nil, errors.New("di: merchant certificate and key must both be set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertificatePath, cfg.CertificateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("di: load merchant certificate: %w", err)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		},
	}, nil
}

// Close releases held resources.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.firestoreProvider == nil {
		return nil
	}
	return c.firestoreProvider.Close(ctx)
}

// serviceLogger adapts the request-scoped zap logger to the services' logging
// contract.
func serviceLogger(fallback *zap.Logger) services.Logger {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() && fallback != nil {
			logger = fallback
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

func newSessionID() string {
	return "cs_" + strings.ToLower(ulid.Make().String())
}

func newOrderID() string {
	return strings.ToLower(ulid.Make().String())
}

func newUniqueID() string {
	return uuid.NewString()
}
