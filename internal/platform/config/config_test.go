package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_GATEWAY_URL":                  "https://gateway.example.com/direct/",
		"API_GATEWAY_MERCHANT_ID":          "100001",
		"API_GATEWAY_SIGNATURE_KEY":        "sigkey",
		"API_APPLEPAY_MERCHANT_IDENTIFIER": "merchant.com.example.shop",
		"API_APPLEPAY_MERCHANT_DOMAIN":     "shop.example.com",
		"API_APPLEPAY_DISPLAY_NAME":        "Example Shop",
		"API_SESSION_TOKEN_SECRET":         "tokensecret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080 got %s", cfg.Server.Port)
	}
	if cfg.Gateway.CountryCode != "GB" || cfg.Gateway.CurrencyCode != "GBP" {
		t.Fatalf("unexpected gateway region %s/%s", cfg.Gateway.CountryCode, cfg.Gateway.CurrencyCode)
	}
	if cfg.Gateway.Timeout != 30*time.Second {
		t.Fatalf("unexpected gateway timeout %s", cfg.Gateway.Timeout)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Fatalf("unexpected session ttl %s", cfg.Session.TTL)
	}
	if len(cfg.ApplePay.SupportedNetworks) == 0 {
		t.Fatalf("expected default supported networks")
	}
	if cfg.Environment != "local" {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_APPLEPAY_SUPPORTED_NETWORKS"] = "visa, masterCard"
	env["API_SESSION_TTL"] = "10m"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected overridden port got %s", cfg.Server.Port)
	}
	if len(cfg.ApplePay.SupportedNetworks) != 2 || cfg.ApplePay.SupportedNetworks[1] != "masterCard" {
		t.Fatalf("unexpected networks %v", cfg.ApplePay.SupportedNetworks)
	}
	if cfg.Session.TTL != 10*time.Minute {
		t.Fatalf("unexpected session ttl %s", cfg.Session.TTL)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	env := baseEnv()
	delete(env, "API_GATEWAY_SIGNATURE_KEY")
	delete(env, "API_APPLEPAY_MERCHANT_DOMAIN")

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError got %v", err)
	}
	fields := validation.Fields()
	want := map[string]bool{"Gateway.SignatureKey": false, "ApplePay.MerchantDomain": false}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Fatalf("expected %s reported missing, got %v", field, fields)
		}
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["API_GATEWAY_SIGNATURE_KEY"] = "secret://gateway-signature-key"

	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		if ref != "secret://gateway-signature-key" {
			t.Fatalf("unexpected ref %q", ref)
		}
		return "resolved-key", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.SignatureKey != "resolved-key" {
		t.Fatalf("expected resolved secret, got %q", cfg.Gateway.SignatureKey)
	}
}

func TestLoadNormalizesSMReferences(t *testing.T) {
	env := baseEnv()
	env["API_SESSION_TOKEN_SECRET"] = "sm://session-token"

	var seen string
	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		seen = ref
		return "value", nil
	})

	if _, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if seen != "secret://session-token" {
		t.Fatalf("expected sm:// normalized, got %q", seen)
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := baseEnv()
	env["API_GATEWAY_SIGNATURE_KEY"] = "secret://gateway-signature-key"

	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		return "", errors.New("access denied")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError got %v", err)
	}
	if secretErr.Ref != "secret://gateway-signature-key" {
		t.Fatalf("unexpected ref %q", secretErr.Ref)
	}
}
