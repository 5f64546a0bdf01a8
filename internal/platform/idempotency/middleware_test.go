package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomline/api/internal/platform/auth"
)

var fixedTime = time.Date(2025, time.November, 3, 12, 0, 0, 0, time.UTC)

func checkoutRequest(key string, payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/checkout/confirm", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	store := NewMemoryStore()
	handlerCalled := false
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			handlerCalled = true
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("", `{"cartId":"cart_1"}`))

	if handlerCalled {
		t.Fatal("handler must not run without an idempotency key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"orderId":"ord_001"}`))
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, checkoutRequest("key-abc", `{"cartId":"cart_1"}`))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if rr1.Code != http.StatusCreated {
		t.Fatalf("unexpected first response status: %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, checkoutRequest("key-abc", `{"cartId":"cart_1"}`))

	if calls != 1 {
		t.Fatalf("expected replay without a second handler call, got %d calls", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatal("expected replay header on second response")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected replayed body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddlewareConflictOnReusedKeyWithDifferentPayload(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, checkoutRequest("same-key", `{"cartId":"cart_1"}`))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, checkoutRequest("same-key", `{"cartId":"cart_2"}`))

	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorCode(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewareConflictWhileFirstRequestPending(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run while the key is pending")
		}))

	req := checkoutRequest("pending-key", `{"cartId":"cart_1"}`)
	body, err := bufferRequestBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	requester := requesterID(req.Context())
	fingerprint := requestFingerprint(req, body, requester)
	if _, err := store.Reserve(req.Context(), scopeKey("pending-key", requester), fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareReleasesKeyWhenSaveFails(t *testing.T) {
	store := &flakyStore{failSave: true}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("ok"))
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("fail-key", `{"cartId":"cart_1"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 response, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_store_error")
	if !store.released {
		t.Fatal("expected reservation to be released after save failure")
	}
}

func TestRequesterID(t *testing.T) {
	ctx := context.Background()
	if got := requesterID(ctx); got != "anonymous" {
		t.Fatalf("expected anonymous requester, got %q", got)
	}

	uidCtx := auth.WithIdentity(ctx, &auth.Identity{UID: "usr_123", Email: "asha@example.com"})
	if got := requesterID(uidCtx); got != "usr_123" {
		t.Fatalf("expected UID requester, got %q", got)
	}

	emailCtx := auth.WithIdentity(ctx, &auth.Identity{Email: " Asha@Example.com "})
	if got := requesterID(emailCtx); got != "asha@example.com" {
		t.Fatalf("expected normalised email requester, got %q", got)
	}
}

func TestMiddlewareScopesKeysPerShopper(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusCreated)
		}))

	send := func(uid string) *httptest.ResponseRecorder {
		ctx := auth.WithIdentity(context.Background(), &auth.Identity{UID: uid})
		req := checkoutRequest("shared-key", `{"cartId":"cart_1"}`)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req.WithContext(ctx))
		return rr
	}

	first := send("usr_a")
	second := send("usr_b")

	if calls != 2 {
		t.Fatalf("expected one handler call per shopper, got %d", calls)
	}
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both requests to execute, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get(replayHeaderName) == "true" {
		t.Fatal("second shopper must not see the first shopper's response")
	}
}

func TestMiddlewarePassesThroughUnguardedMethods(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/catalog/scarves", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if calls != 1 || rr.Code != http.StatusOK {
		t.Fatalf("expected GET to pass through, calls=%d status=%d", calls, rr.Code)
	}
}

type flakyStore struct {
	failSave bool
	released bool
}

func (s *flakyStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *flakyStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *flakyStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *flakyStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
