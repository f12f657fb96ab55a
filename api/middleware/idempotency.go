package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/orderflow-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 255

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	defaultIdempotencyLock = 30 * time.Second
)

type ttlClass int

const (
	ttlStandard ttlClass = iota
	ttlCritical
)

type idempotencyRule struct {
	method string
	prefix string
	suffix string
	class  ttlClass
}

func (r idempotencyRule) matches(method, pattern string) bool {
	if r.method != method || !strings.HasPrefix(pattern, r.prefix) {
		return false
	}
	if r.suffix == "" {
		return pattern == r.prefix
	}
	return len(pattern) > len(r.prefix) && strings.HasSuffix(pattern, r.suffix)
}

// Routes that must carry an Idempotency-Key. An empty suffix means prefix is
// the whole path.
var idempotencyRules = []idempotencyRule{
	{http.MethodPost, "/api/v1/checkout", "", ttlCritical},
	{http.MethodPost, "/api/v1/orders/", "/cancel", ttlCritical},
	{http.MethodPost, "/api/v1/orders/", "/payment-intent", ttlCritical},
	{http.MethodPost, "/api/v1/payments/confirm", "", ttlCritical},
	{http.MethodPost, "/api/v1/admin/orders/", "/refund", ttlCritical},
	{http.MethodPost, "/api/v1/vendor/orders/", "/status", ttlStandard},
	{http.MethodPost, "/api/v1/admin/orders/", "/status", ttlStandard},
	{http.MethodPost, "/api/v1/admin/jobs/", "/requeue", ttlStandard},
	{http.MethodPost, "/api/v1/admin/outbox/dlq/", "/replay", ttlStandard},
	{http.MethodPost, "/api/v1/admin/coins/credit", "", ttlStandard},
}

// idempotencyRecord is what the store holds under a key. While the first
// request runs only RequestHash is set and Pending is true.
type idempotencyRecord struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

type idempotency struct {
	store    pkgredis.IdempotencyStore
	logg     *logger.Logger
	standard time.Duration
	critical time.Duration
	lock     time.Duration
}

// Idempotency makes the routes in idempotencyRules replay their first non-5xx
// response for a repeated key. A retry that arrives while the first attempt is
// still running gets IDEMPOTENCY_IN_FLIGHT; a reused key with another body
// gets IDEMPOTENCY_KEY_REUSED.
func Idempotency(store pkgredis.IdempotencyStore, cfg config.HTTPConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	m := &idempotency{
		store:    store,
		logg:     logg,
		standard: orDefault(cfg.IdempotencyTTL, defaultIdempotencyTTL),
		critical: orDefault(cfg.IdempotencyCriticalTTL, criticalIdempotencyTTL),
		lock:     orDefault(cfg.IdempotencyLockTTL, defaultIdempotencyLock),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := m.ttlFor(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			m.serve(w, r, next, ttl)
		})
	}
}

func (m *idempotency) serve(w http.ResponseWriter, r *http.Request, next http.Handler, ttl time.Duration) {
	ctx := r.Context()
	clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	switch {
	case clientKey == "":
		responses.WriteError(ctx, m.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
		return
	case len(clientKey) > maxIdempotencyKeyLen:
		responses.WriteError(ctx, m.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(ctx, m.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body could not be read"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	hash := hashBody(body)
	key := m.store.IdempotencyKey(requestScope(r), clientKey)

	reserved, err := m.reserve(ctx, key, hash)
	if err != nil {
		responses.WriteError(ctx, m.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
		return
	}
	if !reserved {
		m.replay(w, r, key, hash)
		return
	}

	rec := &responseCapture{ResponseWriter: w}
	completed := false
	defer func() {
		// a panic or 5xx leaves nothing to replay; free the key for a retry
		if !completed {
			m.release(context.WithoutCancel(ctx), key)
		}
	}()
	next.ServeHTTP(rec, r)

	status := rec.statusOrOK()
	if status >= http.StatusInternalServerError {
		return
	}
	completed = true

	payload, err := json.Marshal(idempotencyRecord{
		RequestHash: hash,
		Status:      status,
		ContentType: rec.Header().Get("Content-Type"),
		Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
	})
	if err == nil {
		err = m.store.Set(context.WithoutCancel(ctx), key, string(payload), ttl)
	}
	if err != nil && m.logg != nil {
		m.logg.Error(m.logg.WithField(ctx, "idempotency_key", clientKey), "idempotency.persist_failed", err)
	}
}

// reserve claims key with a pending record that expires after the lock TTL.
func (m *idempotency) reserve(ctx context.Context, key, hash string) (bool, error) {
	pending, err := json.Marshal(idempotencyRecord{Pending: true, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, string(pending), m.lock)
}

func (m *idempotency) release(ctx context.Context, key string) {
	if err := m.store.Del(ctx, key); err != nil && m.logg != nil {
		m.logg.Error(ctx, "idempotency.release_failed", err)
	}
}

func (m *idempotency) replay(w http.ResponseWriter, r *http.Request, key, hash string) {
	ctx := r.Context()
	stored, err := m.store.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNil(err) {
			// the holder finished with a 5xx between our SETNX and GET
			responses.WriteError(ctx, m.logg, w, m.inFlight())
			return
		}
		responses.WriteError(ctx, m.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, m.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, m.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.Pending:
		responses.WriteError(ctx, m.logg, w, m.inFlight())
	default:
		writeRecord(w, record)
	}
}

func (m *idempotency) inFlight() error {
	return pkgerrors.New(pkgerrors.CodeIdempotencyInFlight, "a request with this Idempotency-Key is still in progress").
		WithDetails(map[string]any{responses.RetryAfterKey: int(m.lock.Seconds())})
}

func (m *idempotency) ttlFor(method, pattern string) (time.Duration, bool) {
	if pattern == "" {
		return 0, false
	}
	for _, rule := range idempotencyRules {
		if !rule.matches(method, pattern) {
			continue
		}
		if rule.class == ttlCritical {
			return m.critical, true
		}
		return m.standard, true
	}
	return 0, false
}

func writeRecord(w http.ResponseWriter, record idempotencyRecord) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

// requestScope keys records per caller and path so two users can pick the
// same client key.
func requestScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func orDefault(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		// group middleware only sees the mount pattern, such as /api/*
		if pattern := rc.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return r.URL.Path
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
