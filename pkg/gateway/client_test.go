package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

func testConfig(baseURL string) config.GatewayConfig {
	return config.GatewayConfig{BaseURL: baseURL, APIKey: "key_test", Timeout: time.Second}
}

func TestCreateIntentRequest(t *testing.T) {
	var capturedURL string
	var capturedHeaders http.Header
	var payload map[string]any

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedHeaders = req.Header.Clone()
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(bodyBytes, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"id":"int_123","status":"created","amount":"10.50","currency":"INR"}`)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig("http://gateway.test/"), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	intent, err := client.CreateIntent(context.Background(), IntentRequest{
		Amount:   1050,
		Currency: "inr",
		Receipt:  "order-1",
		Metadata: map[string]string{"order_id": "order-1"},
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if capturedURL != "http://gateway.test/v1/intents" {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedHeaders.Get("Authorization") != "Bearer key_test" {
		t.Fatalf("authorization header missing")
	}
	if capturedHeaders.Get("Idempotency-Key") != "order-1" {
		t.Fatalf("idempotency key header missing")
	}
	if payload["amount"] != "10.50" || payload["currency"] != "INR" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if intent.ID != "int_123" || intent.Amount != 1050 || intent.Currency != "INR" {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestCreateIntentMapsFailuresToGatewayErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.CreateIntent(context.Background(), IntentRequest{Amount: 100, Currency: "INR", Receipt: "r"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestCreateIntentTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.CreateIntent(context.Background(), IntentRequest{Amount: 100, Currency: "INR", Receipt: "r"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if !strings.Contains(err.Error(), "outcome unknown") {
		t.Fatalf("expected timeout to be flagged as unknown outcome, got %v", err)
	}
}

func TestRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/txn_9/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "refund-txn_9" {
			t.Errorf("unexpected idempotency key %q", r.Header.Get("Idempotency-Key"))
		}
		_, _ = w.Write([]byte(`{"id":"rfnd_1","status":"processed"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	refund, err := client.Refund(context.Background(), "txn_9", 1000)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.ID != "rfnd_1" {
		t.Fatalf("unexpected refund %+v", refund)
	}
	if _, err := client.Refund(context.Background(), " ", 1000); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(config.GatewayConfig{APIKey: "k"}); !errors.Is(err, errBaseURLRequired) {
		t.Fatalf("expected base url error, got %v", err)
	}
	if _, err := NewClient(config.GatewayConfig{BaseURL: "http://x"}); !errors.Is(err, errAPIKeyRequired) {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestAmountConversions(t *testing.T) {
	if got := FormatAmount(100005); got != "1000.05" {
		t.Fatalf("unexpected formatted amount %s", got)
	}
	got, err := ParseAmount("12.3")
	if err != nil || got != 1230 {
		t.Fatalf("unexpected parsed amount %d %v", got, err)
	}
	if _, err := ParseAmount("abc"); err == nil {
		t.Fatal("expected parse error")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
