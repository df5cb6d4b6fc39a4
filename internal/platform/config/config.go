package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultGatewayTimeout = 30 * time.Second
	defaultCountryCode    = "GB"
	defaultCurrencyCode   = "GBP"

	defaultSessionTTL      = 30 * time.Minute
	defaultTokenTTL        = 15 * time.Minute
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultEnvironmentName = "local"
)

var defaultSupportedNetworks = []string{"visa", "masterCard", "amex", "discover"}
var defaultMerchantCapabilities = []string{"supports3DS"}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firestore   FirestoreConfig
	Gateway     GatewayConfig
	ApplePay    ApplePayConfig
	Session     SessionConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters. An empty project ID selects the
// in-memory repositories, for local development and tests.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig holds the card gateway's endpoint and signing credentials.
type GatewayConfig struct {
	URL          string
	MerchantID   string
	SignatureKey string
	CountryCode  string
	CurrencyCode string
	Timeout      time.Duration
}

// ApplePayConfig holds the merchant identity registered with the payment-sheet
// provider and the client certificate used for merchant validation.
type ApplePayConfig struct {
	MerchantIdentifier   string
	MerchantDomain       string
	DisplayName          string
	CertificatePath      string
	CertificateKeyPath   string
	SupportedNetworks    []string
	MerchantCapabilities []string
	OrderReceivedURL     string
	CheckoutURL          string
}

// SessionConfig controls checkout session lifetime and the request token.
type SessionConfig struct {
	TTL         time.Duration
	TokenSecret string
	TokenTTL    time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver resolves references to external secrets (secret:// URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided
// maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironmentName)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			URL:          stringWithDefault(lookup, "API_GATEWAY_URL", ""),
			MerchantID:   stringWithDefault(lookup, "API_GATEWAY_MERCHANT_ID", ""),
			SignatureKey: stringWithDefault(lookup, "API_GATEWAY_SIGNATURE_KEY", ""),
			CountryCode:  stringWithDefault(lookup, "API_GATEWAY_COUNTRY_CODE", defaultCountryCode),
			CurrencyCode: stringWithDefault(lookup, "API_GATEWAY_CURRENCY_CODE", defaultCurrencyCode),
			Timeout:      durationWithDefault(lookup, "API_GATEWAY_TIMEOUT", defaultGatewayTimeout),
		},
		ApplePay: ApplePayConfig{
			MerchantIdentifier:   stringWithDefault(lookup, "API_APPLEPAY_MERCHANT_IDENTIFIER", ""),
			MerchantDomain:       stringWithDefault(lookup, "API_APPLEPAY_MERCHANT_DOMAIN", ""),
			DisplayName:          stringWithDefault(lookup, "API_APPLEPAY_DISPLAY_NAME", ""),
			CertificatePath:      stringWithDefault(lookup, "API_APPLEPAY_CERT_PATH", ""),
			CertificateKeyPath:   stringWithDefault(lookup, "API_APPLEPAY_CERT_KEY_PATH", ""),
			SupportedNetworks:    csvWithDefault(lookup, "API_APPLEPAY_SUPPORTED_NETWORKS", defaultSupportedNetworks),
			MerchantCapabilities: csvWithDefault(lookup, "API_APPLEPAY_MERCHANT_CAPABILITIES", defaultMerchantCapabilities),
			OrderReceivedURL:     stringWithDefault(lookup, "API_APPLEPAY_ORDER_RECEIVED_URL", ""),
			CheckoutURL:          stringWithDefault(lookup, "API_APPLEPAY_CHECKOUT_URL", ""),
		},
		Session: SessionConfig{
			TTL:         durationWithDefault(lookup, "API_SESSION_TTL", defaultSessionTTL),
			TokenSecret: stringWithDefault(lookup, "API_SESSION_TOKEN_SECRET", ""),
			TokenTTL:    durationWithDefault(lookup, "API_SESSION_TOKEN_TTL", defaultTokenTTL),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", "Idempotency-Key"),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	// Signing material may reference Secret Manager instead of carrying the
	// value inline.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Gateway.SignatureKey", &cfg.Gateway.SignatureKey},
		{"Session.TokenSecret", &cfg.Session.TokenSecret},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Gateway.URL == "" {
		missing = append(missing, "Gateway.URL")
	}
	if cfg.Gateway.MerchantID == "" {
		missing = append(missing, "Gateway.MerchantID")
	}
	if cfg.Gateway.SignatureKey == "" {
		missing = append(missing, "Gateway.SignatureKey")
	}
	if cfg.ApplePay.MerchantIdentifier == "" {
		missing = append(missing, "ApplePay.MerchantIdentifier")
	}
	if cfg.ApplePay.MerchantDomain == "" {
		missing = append(missing, "ApplePay.MerchantDomain")
	}
	if cfg.ApplePay.DisplayName == "" {
		missing = append(missing, "ApplePay.DisplayName")
	}
	if cfg.Session.TokenSecret == "" {
		missing = append(missing, "Session.TokenSecret")
	}
	if cfg.Session.TTL <= 0 {
		missing = append(missing, "Session.TTL")
	}
	if cfg.Session.TokenTTL <= 0 {
		missing = append(missing, "Session.TokenTTL")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
