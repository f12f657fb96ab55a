package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/orderflow-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

type stubVerifier struct {
	signature string
	body      string
	result    payments.WebhookResult
	err       error
}

func (s *stubVerifier) VerifyWebhook(_ context.Context, signature string, rawBody []byte) (payments.WebhookResult, error) {
	s.signature = signature
	s.body = string(rawBody)
	return s.result, s.err
}

func TestGatewayWebhookPassesRawBody(t *testing.T) {
	stub := &stubVerifier{result: payments.WebhookResult{Status: payments.WebhookProcessed}}
	body := `{"id":"evt_1","type":"payment.captured"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(body))
	req.Header.Set(SignatureHeader, "deadbeef")
	resp := httptest.NewRecorder()
	GatewayWebhook(stub, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if stub.body != body || stub.signature != "deadbeef" {
		t.Fatalf("unexpected verifier input %+v", stub)
	}
}

func TestGatewayWebhookIgnoredReturns200(t *testing.T) {
	stub := &stubVerifier{result: payments.WebhookResult{Status: payments.WebhookIgnored, Reason: "payment already settled"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(`{}`))
	req.Header.Set(SignatureHeader, "abc")
	resp := httptest.NewRecorder()
	GatewayWebhook(stub, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data payments.WebhookResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Status != payments.WebhookIgnored {
		t.Fatalf("expected ignored got %q", envelope.Data.Status)
	}
}

func TestGatewayWebhookMissingSignature(t *testing.T) {
	stub := &stubVerifier{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	GatewayWebhook(stub, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if stub.body != "" {
		t.Fatal("verifier should not run without a signature")
	}
}

func TestGatewayWebhookRejectsBadSignature(t *testing.T) {
	stub := &stubVerifier{err: pkgerrors.New(pkgerrors.CodeInvalidSignature, "webhook signature mismatch")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(`{}`))
	req.Header.Set(SignatureHeader, "00")
	resp := httptest.NewRecorder()
	GatewayWebhook(stub, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}
