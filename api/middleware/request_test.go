package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

func TestRequestIDKeepsValidCallerID(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "checkout-42.a_b")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if seen != "checkout-42.a_b" || resp.Header().Get("X-Request-Id") != seen {
		t.Fatalf("caller id not propagated: ctx=%q header=%q", seen, resp.Header().Get("X-Request-Id"))
	}
}

func TestRequestIDReplacesUnsafeCallerID(t *testing.T) {
	for _, bad := range []string{"has space", "new\nline", strings.Repeat("a", maxRequestIDLength+1)} {
		handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", bad)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		got := resp.Header().Get("X-Request-Id")
		if got == bad || got == "" {
			t.Fatalf("expected a minted id for %q, got %q", bad, got)
		}
	}
}

func TestRecovererWritesEnvelopeWithRequestID(t *testing.T) {
	handler := RequestID(nil)(Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-1")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RequestID != "req-1" || body.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("unexpected envelope %+v", body)
	}
}

func TestRecovererLeavesStartedResponseAlone(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusAccepted || resp.Body.Len() != 0 {
		t.Fatalf("expected untouched 202, got %d body=%q", resp.Code, resp.Body.String())
	}
}

func TestRecovererReraisesAbort(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
