package coins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	internalcoins "github.com/angelmondragon/orderflow-backend/internal/coins"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

type stubLedger struct {
	balance    int64
	entries    []models.CoinLedgerEntry
	limit      int
	offset     int
	creditUser uuid.UUID
	creditAmt  int64
	creditSrc  enums.CoinSource
	creditOpts int
}

func (s *stubLedger) Balance(context.Context, uuid.UUID) (int64, error) {
	return s.balance, nil
}

func (s *stubLedger) Ledger(_ context.Context, _ uuid.UUID, limit, offset int) ([]models.CoinLedgerEntry, error) {
	s.limit, s.offset = limit, offset
	return s.entries, nil
}

func (s *stubLedger) Credit(_ context.Context, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...internalcoins.EntryOption) (*models.CoinLedgerEntry, error) {
	s.creditUser, s.creditAmt, s.creditSrc, s.creditOpts = userID, amount, source, len(opts)
	entry := &models.CoinLedgerEntry{ID: uuid.New(), UserID: userID, Amount: amount, Source: source}
	for _, opt := range opts {
		opt(entry)
	}
	return entry, nil
}

func callerRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithActor(req.Context(), uuid.NewString(), enums.ActorRoleCustomer))
}

func TestBalance(t *testing.T) {
	resp := httptest.NewRecorder()
	Balance(&stubLedger{balance: 120}, nil).ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/coins/balance", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data struct {
			Balance int64 `json:"balance"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Balance != 120 {
		t.Fatalf("expected 120 got %d", envelope.Data.Balance)
	}
}

func TestHistoryPaging(t *testing.T) {
	stub := &stubLedger{}
	resp := httptest.NewRecorder()
	History(stub, nil).ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/coins/ledger?limit=20&offset=40", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if stub.limit != 20 || stub.offset != 40 {
		t.Fatalf("unexpected paging %d/%d", stub.limit, stub.offset)
	}
}

func TestAdminCreditDefaultsSource(t *testing.T) {
	stub := &stubLedger{}
	target := uuid.New()
	body := `{"user_id":"` + target.String() + `","amount":50,"reference_id":"promo-7"}`
	resp := httptest.NewRecorder()
	AdminCredit(stub, nil).ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/admin/coins/credit", body))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.creditUser != target || stub.creditAmt != 50 || stub.creditSrc != enums.CoinSourceAdminCredit {
		t.Fatalf("unexpected credit %+v", stub)
	}
	if stub.creditOpts != 1 {
		t.Fatalf("expected reference option, got %d options", stub.creditOpts)
	}
}

func TestAdminCreditRejectsDebitSources(t *testing.T) {
	body := `{"user_id":"` + uuid.NewString() + `","amount":50,"source":"order_payment"}`
	resp := httptest.NewRecorder()
	AdminCredit(&stubLedger{}, nil).ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/admin/coins/credit", body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminCreditRejectsPastExpiry(t *testing.T) {
	body := `{"user_id":"` + uuid.NewString() + `","amount":5,"expires_at":"2001-01-01T00:00:00Z"}`
	resp := httptest.NewRecorder()
	AdminCredit(&stubLedger{}, nil).ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/admin/coins/credit", body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
