package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// RequestIDHeader is set on the response by the request id middleware before
// any handler runs, so error bodies can echo it.
const RequestIDHeader = "X-Request-Id"

// RetryAfterKey is the details key a handler sets to emit a Retry-After header.
const RetryAfterKey = "retry_after_seconds"

// codes whose caller-facing message is specific enough to return verbatim
var passthroughMessage = map[pkgerrors.Code]struct{}{
	pkgerrors.CodeValidation:          {},
	pkgerrors.CodeForbidden:           {},
	pkgerrors.CodeUnauthorized:        {},
	pkgerrors.CodeNotFound:            {},
	pkgerrors.CodeConflict:            {},
	pkgerrors.CodeStateConflict:       {},
	pkgerrors.CodeInvalidTransition:   {},
	pkgerrors.CodeInvalidState:        {},
	pkgerrors.CodeStaleState:          {},
	pkgerrors.CodeInsufficientBalance: {},
	pkgerrors.CodeIdempotency:         {},
	pkgerrors.CodeIdempotencyInFlight: {},
	pkgerrors.CodeRateLimit:           {},
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WritePage writes one page of a cursor-paginated list.
func WritePage(w http.ResponseWriter, data any, nextCursor string) {
	writeJSON(w, http.StatusOK, types.PageEnvelope{Data: data, NextCursor: nextCursor})
}

// WriteError maps err onto its registered HTTP status and writes the public
// envelope. Untyped errors become INTERNAL_ERROR with no details.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:      string(typed.Code()),
			Message:   publicMessage(typed, meta),
			Retryable: meta.Retryable,
		},
		RequestID: w.Header().Get(RequestIDHeader),
	}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}
	if seconds, ok := retryAfter(typed); ok {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, errorFields(err, typed))
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}

	writeJSONWithLogger(ctx, logg, w, meta.HTTPStatus, payload)
}

func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if _, ok := passthroughMessage[typed.Code()]; ok {
		if m := typed.Message(); m != "" {
			return m
		}
	}
	return meta.PublicMessage
}

func retryAfter(typed *pkgerrors.Error) (int, bool) {
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := details[RetryAfterKey].(type) {
	case int:
		return v, v > 0
	case int64:
		return int(v), v > 0
	case float64:
		return int(v), v > 0
	}
	return 0, false
}

func errorFields(err error, typed *pkgerrors.Error) map[string]any {
	dump := pkgerrors.Dump(err)
	fields := map[string]any{
		"error":       dump.TopMessage,
		"error_code":  dump.Code,
		"error_chain": dump.Chain,
	}
	if dump.PGCode != "" {
		fields["pg_code"] = dump.PGCode
		fields["pg_detail"] = dump.PGDetail
		fields["pg_message"] = dump.PGMessage
		fields["pg_table"] = dump.PGTable
		fields["pg_column"] = dump.PGColumn
		fields["pg_constraint"] = dump.PGConstraint
	}
	if dm, ok := typed.Details().(map[string]any); ok {
		for _, key := range []string{"step", "order_id", "from", "to"} {
			if v, ok := dm[key]; ok {
				fields[key] = v
			}
		}
	}
	return fields
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSONWithLogger(context.Background(), nil, w, status, payload)
}

func writeJSONWithLogger(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logg != nil {
		logg.Error(ctx, "response.encode_failed", fmt.Errorf("encode %T: %w", payload, err))
	}
}
