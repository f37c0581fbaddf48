package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/waypoint/secrets/stripe-webhook/versions/latest"
	client.values[resource] = "whsec_remote"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("waypoint"),
		WithFallbackFile(""),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://stripe/webhook")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "whsec_remote" {
			t.Fatalf("expected whsec_remote, got %s", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProjectOverride(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/other/secrets/stripe-api/versions/3"
	client.values[resource] = "sk_live_pinned"

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("waypoint"), WithFallbackFile(""))

	got, err := fetcher.Resolve(ctx, "secret://stripe/api?version=3&project=other")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk_live_pinned" {
		t.Fatalf("unexpected value %s", got)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("# local\nsm://stripe/api=sk_test_local\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	client := newFakeSecretClient()
	client.errors["projects/waypoint/secrets/stripe-api/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("waypoint"), WithFallbackFile(path))

	got, err := fetcher.Resolve(ctx, "secret://stripe/api")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("expected fallback value, got %s", got)
	}
}

func TestResolveSurfacesNonFallbackErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/waypoint/secrets/stripe-api/versions/latest"] = status.Error(codes.InvalidArgument, "bad name")

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("waypoint"), WithFallbackFile(""))

	if _, err := fetcher.Resolve(ctx, "secret://stripe/api"); err == nil {
		t.Fatalf("expected error for invalid argument")
	}
}

func TestParseReferenceRejectsInvalid(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errors: map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err, ok := f.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func TestPingTreatsMissingSecretAsHealthy(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("waypoint"), WithFallbackFile(""))

	if err := fetcher.Ping(ctx, "secret://system-healthz"); err != nil {
		t.Fatalf("expected missing secret to be healthy, got %v", err)
	}

	client.errors["projects/waypoint/secrets/system-healthz/versions/latest"] = status.Error(codes.Unavailable, "down")
	if err := fetcher.Ping(ctx, "secret://system-healthz"); err == nil {
		t.Fatalf("expected unavailable secret manager to fail ping")
	}
}

func TestPingWithoutClientIsNoop(t *testing.T) {
	fetcher, _ := NewFetcher(context.Background(), WithFallbackFile(""))
	if err := fetcher.Ping(context.Background(), "secret://system-healthz"); err != nil {
		t.Fatalf("expected fallback-only fetcher to pass ping, got %v", err)
	}
}
