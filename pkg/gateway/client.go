package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const (
	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1024
	minorUnitExponent           = -2
)

var (
	errBaseURLRequired = errors.New("gateway base url is required")
	errAPIKeyRequired  = errors.New("gateway api key is required")
)

// Client talks to the payment gateway's intent and refund endpoints. It never
// reports a payment as captured; capture is only learned through confirmation
// or webhook.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds the gateway client. Every call is bounded by cfg.Timeout.
func NewClient(cfg config.GatewayConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient.Timeout <= 0 {
		client.httpClient.Timeout = timeout
	}
	return client, nil
}

// IntentRequest describes a payment intent. Amount is in minor units.
type IntentRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Metadata map[string]string
}

// Intent is the gateway-side payment request.
type Intent struct {
	ID       string
	Status   string
	Amount   int64
	Currency string
}

// Refund is the gateway acknowledgement of a refund request.
type Refund struct {
	ID     string
	Status string
}

// CreateIntent registers a payment intent with the gateway. The receipt doubles
// as the idempotency key so checkout retries reuse the same intent.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment gateway not configured")
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" || strings.TrimSpace(req.Receipt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent currency and receipt are required")
	}

	body := map[string]any{
		"amount":   FormatAmount(req.Amount),
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.Receipt,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var apiResp struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := c.post(ctx, "v1/intents", req.Receipt, body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway returned an intent without id")
	}

	amount := req.Amount
	if apiResp.Amount != "" {
		parsed, err := ParseAmount(apiResp.Amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode intent amount")
		}
		amount = parsed
	}
	currency := apiResp.Currency
	if currency == "" {
		currency = strings.ToUpper(req.Currency)
	}
	return &Intent{ID: apiResp.ID, Status: apiResp.Status, Amount: amount, Currency: currency}, nil
}

// Refund asks the gateway to refund amount (minor units) of a captured transaction.
func (c *Client) Refund(ctx context.Context, transactionID string, amount int64) (*Refund, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment gateway not configured")
	}
	trimmed := strings.TrimSpace(transactionID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	var apiResp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := fmt.Sprintf("v1/payments/%s/refunds", url.PathEscape(trimmed))
	if err := c.post(ctx, path, "refund-"+trimmed, map[string]any{"amount": FormatAmount(amount)}, &apiResp); err != nil {
		return nil, err
	}
	return &Refund{ID: apiResp.ID, Status: apiResp.Status}, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal gateway request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "gateway timed out, outcome unknown")
		}
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "gateway request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode gateway response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
}

// FormatAmount renders minor units as a fixed two-decimal major-unit string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, minorUnitExponent).StringFixed(2)
}

// ParseAmount converts a major-unit decimal string into minor units.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return d.Shift(-minorUnitExponent).Round(0).IntPart(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
