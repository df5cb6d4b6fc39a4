package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubSecretClient struct {
	access func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	closed bool
}

func (c *stubSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return c.access(ctx, req)
}

func (c *stubSecretClient) Close() error {
	c.closed = true
	return nil
}

func payload(value string) *secretmanagerpb.AccessSecretVersionResponse {
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}
}

func TestResolveSecretFetchesAndCaches(t *testing.T) {
	calls := 0
	client := &stubSecretClient{
		access: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			calls++
			if req.Name != "projects/proj-1/secrets/gateway-signature-key/versions/latest" {
				t.Fatalf("unexpected resource %q", req.Name)
			}
			return payload("sigkey"), nil
		},
	}

	fetcher, err := NewFetcher(context.Background(), WithClient(client), WithProject("proj-1"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		value, err := fetcher.ResolveSecret(context.Background(), "secret://gateway-signature-key")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if value != "sigkey" {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveSecretVersionPin(t *testing.T) {
	client := &stubSecretClient{
		access: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			if req.Name != "projects/proj-1/secrets/token/versions/7" {
				t.Fatalf("unexpected resource %q", req.Name)
			}
			return payload("pinned"), nil
		},
	}
	fetcher, err := NewFetcher(context.Background(), WithClient(client), WithProject("proj-1"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.ResolveSecret(context.Background(), "secret://token?version=7")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "pinned" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestResolveSecretFallsBackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "secrets.local")
	if err := os.WriteFile(fallback, []byte("# local values\ngateway-signature-key=localkey\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := &stubSecretClient{
		access: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.PermissionDenied, "denied")
		},
	}
	fetcher, err := NewFetcher(context.Background(), WithClient(client), WithProject("proj-1"), WithFallbackFile(fallback))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.ResolveSecret(context.Background(), "secret://gateway-signature-key")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "localkey" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestResolveSecretHardFailureDoesNotFallBack(t *testing.T) {
	client := &stubSecretClient{
		access: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.NotFound, "no such secret")
		},
	}
	fetcher, err := NewFetcher(context.Background(), WithClient(client), WithProject("proj-1"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.ResolveSecret(context.Background(), "secret://missing"); err == nil {
		t.Fatalf("expected error for NotFound")
	}
}

func TestResolveSecretRejectsBadReferences(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), WithClient(&stubSecretClient{}), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for _, ref := range []string{"", "http://nope", "secret://"} {
		if _, err := fetcher.ResolveSecret(context.Background(), ref); err == nil {
			t.Fatalf("expected error for ref %q", ref)
		}
	}
}

func TestCloseOnlyClosesOwnedClient(t *testing.T) {
	client := &stubSecretClient{access: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
		return nil, errors.New("unused")
	}}
	fetcher, err := NewFetcher(context.Background(), WithClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if err := fetcher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.closed {
		t.Fatalf("injected client must not be closed by the fetcher")
	}
}
