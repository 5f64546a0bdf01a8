package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string { return f.email }

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func newUploadClient(t *testing.T) (*Client, *fakeSigner) {
	t.Helper()
	signer := &fakeSigner{email: "uploads@loomline.iam.gserviceaccount.com"}
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	return client, signer
}

func TestSignedUploadURLSuccess(t *testing.T) {
	client, signer := newUploadClient(t)

	result, err := client.SignedUploadURL(context.Background(), "loomline-assets", "content/hero/slide1/banner.webp", UploadOptions{
		ContentType:         "image/webp",
		AllowedContentTypes: []string{"image/*"},
		MaxSize:             5 << 20,
		ExpiresIn:           10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != "PUT" {
		t.Fatalf("expected PUT, got %s", result.Method)
	}
	if want := time.Date(2025, 11, 3, 12, 10, 0, 0, time.UTC); !result.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, result.ExpiresAt)
	}
	if result.Headers["Content-Type"] != "image/webp" {
		t.Fatalf("expected content type header, got %#v", result.Headers)
	}
	if result.Headers["x-goog-content-length-range"] != "0,5242880" {
		t.Fatalf("expected length range header, got %#v", result.Headers)
	}
	if len(signer.payloads) == 0 {
		t.Fatalf("expected signer to be invoked")
	}

	parsed, err := url.Parse(result.URL)
	if err != nil {
		t.Fatalf("expected parseable URL: %v", err)
	}
	if !strings.Contains(parsed.Path, "loomline-assets/content/hero/slide1/banner.webp") {
		t.Fatalf("unexpected signed path: %s", parsed.Path)
	}
	if parsed.Query().Get("X-Goog-Signature") == "" {
		t.Fatalf("expected signature query parameter")
	}
}

func TestSignedUploadURLValidation(t *testing.T) {
	client, _ := newUploadClient(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		bucket  string
		object  string
		opts    UploadOptions
		wantErr error
	}{
		{"missing bucket", "", "obj", UploadOptions{ContentType: "image/webp"}, errInvalidBucket},
		{"missing object", "bkt", "  ", UploadOptions{ContentType: "image/webp"}, errInvalidObject},
		{"missing content type", "bkt", "obj", UploadOptions{}, errContentTypeMissing},
		{"denied content type", "bkt", "obj", UploadOptions{ContentType: "application/zip", AllowedContentTypes: []string{"image/*"}}, errContentTypeDenied},
		{"bad method", "bkt", "obj", UploadOptions{Method: "DELETE", ContentType: "image/webp"}, errMethodNotAllowed},
		{"bad md5", "bkt", "obj", UploadOptions{ContentType: "image/webp", ContentMD5: "!!not-base64!!"}, errMD5Invalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.SignedUploadURL(ctx, tc.bucket, tc.object, tc.opts)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSignedUploadURLIncludesAdditionalHeaders(t *testing.T) {
	client, _ := newUploadClient(t)

	result, err := client.SignedUploadURL(context.Background(), "loomline-assets", "content/hero/slide2/banner.webp", UploadOptions{
		ContentType: "image/webp",
		AdditionalHeaders: map[string]string{
			"x-goog-meta-swatch": " indigo ",
			"ignored":            "  ",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Headers["x-goog-meta-swatch"] != "indigo" {
		t.Fatalf("expected trimmed metadata header, got %#v", result.Headers)
	}
	if _, present := result.Headers["ignored"]; present {
		t.Fatalf("blank headers must be dropped: %#v", result.Headers)
	}
}

func TestNewClientRequiresSigner(t *testing.T) {
	if _, err := NewClient(nil); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}
	if _, err := NewClient(&fakeSigner{email: "  "}); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner for blank email, got %v", err)
	}
}
