package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
	closed bool
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{
		values: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeAccessClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeAccessClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func newTestFetcher(t *testing.T, client accessClient, opts ...Option) *Fetcher {
	t.Helper()
	opts = append([]Option{WithAccessClient(client), WithDefaultProject("loomline-test")}, opts...)
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

func TestResolveCachesRemoteValue(t *testing.T) {
	client := newFakeAccessClient()
	resource := "projects/loomline-test/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_test_123"
	fetcher := newTestFetcher(t, client)

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "sk_test_123" {
			t.Fatalf("value = %q", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("remote calls = %d, want 1 (second hit served from cache)", calls)
	}
}

func TestResolveAcceptsSMScheme(t *testing.T) {
	client := newFakeAccessClient()
	client.values["projects/loomline-test/secrets/admin_passphrase/versions/latest"] = "weaver-moon"
	fetcher := newTestFetcher(t, client)

	got, err := fetcher.Resolve(context.Background(), "sm://admin_passphrase")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "weaver-moon" {
		t.Fatalf("value = %q", got)
	}
}

func TestResolveVersionAndProjectOverrides(t *testing.T) {
	client := newFakeAccessClient()
	client.values["projects/other-proj/secrets/webhook_secret/versions/7"] = "whsec_7"
	fetcher := newTestFetcher(t, client)

	got, err := fetcher.Resolve(context.Background(), "secret://webhook_secret?version=7&project=other-proj")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "whsec_7" {
		t.Fatalf("value = %q", got)
	}
}

func TestResolveHonoursVersionPins(t *testing.T) {
	client := newFakeAccessClient()
	client.values["projects/loomline-test/secrets/jwt_secret/versions/3"] = "pinned"
	fetcher := newTestFetcher(t, client, WithVersionPins(map[string]string{
		"secret://jwt_secret": "3",
	}))

	got, err := fetcher.Resolve(context.Background(), "secret://jwt_secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("value = %q", got)
	}
}

func TestResolveUsesProjectMapForEnvironment(t *testing.T) {
	client := newFakeAccessClient()
	client.values["projects/loomline-staging/secrets/api_key/versions/latest"] = "staging-key"
	fetcher := newTestFetcher(t, client,
		WithEnvironment("staging"),
		WithProjectMap(map[string]string{"staging": "loomline-staging"}),
	)

	got, err := fetcher.Resolve(context.Background(), "secret://api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "staging-key" {
		t.Fatalf("value = %q", got)
	}
}

func writeFallbackFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	return path
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	client := newFakeAccessClient()
	client.errs["projects/loomline-test/secrets/stripe_api_key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")
	path := writeFallbackFile(t, "secret://stripe_api_key=local-key\n")
	fetcher := newTestFetcher(t, client, WithFallbackFile(path))

	got, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-key" {
		t.Fatalf("value = %q, want fallback value", got)
	}
}

func TestResolveDoesNotFallBackOnNotFound(t *testing.T) {
	client := newFakeAccessClient()
	path := writeFallbackFile(t, "secret://missing_secret=should-not-be-used\n")
	fetcher := newTestFetcher(t, client, WithFallbackFile(path))

	if _, err := fetcher.Resolve(context.Background(), "secret://missing_secret"); err == nil {
		t.Fatal("NotFound from the provider must surface, not mask via fallback")
	}
}

func TestResolveWithoutClientUsesFallbackOnly(t *testing.T) {
	path := writeFallbackFile(t, strings.Join([]string{
		"# comment line",
		"",
		"sm://site_base_url=https://loomline.example",
		"PLAIN_KEY=ignored-format",
	}, "\n"))
	orig := newAccessClient
	newAccessClient = func(context.Context, ...option.ClientOption) (accessClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newAccessClient = orig })

	fetcher, err := NewFetcher(context.Background(), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = fetcher.Close() })

	got, err := fetcher.Resolve(context.Background(), "secret://site_base_url")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "https://loomline.example" {
		t.Fatalf("value = %q", got)
	}
}

func TestParseReferenceErrors(t *testing.T) {
	cases := []string{"", "   ", "https://example.com/x", "secret://"}
	for _, ref := range cases {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("parseReference(%q) must error", ref)
		}
	}
}
