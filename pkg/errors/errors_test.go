package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeForbidden, status: http.StatusForbidden},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeInvalidTransition, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeInvalidState, status: http.StatusConflict, detailsOK: true},
		{code: CodeStaleState, status: http.StatusConflict, detailsOK: true},
		{code: CodeInvalidSignature, status: http.StatusUnauthorized},
		{code: CodeInsufficientBalance, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeIdempotencyInFlight, status: http.StatusConflict, retryable: true},
		{code: CodeGateway, status: http.StatusBadGateway, retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s missing public message", tt.code)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"field": "foo"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeGateway, cause, "create intent")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if !wrapped.Retryable() {
		t.Fatalf("gateway errors should be retryable")
	}
}

func TestAsAndIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeInsufficientBalance, "balance 10 < 20"))
	if got := As(err); got == nil || got.Code() != CodeInsufficientBalance {
		t.Fatalf("As failed to return typed error")
	}
	if !IsCode(err, CodeInsufficientBalance) {
		t.Fatalf("expected IsCode to match")
	}
	if IsCode(err, CodeForbidden) {
		t.Fatalf("expected IsCode mismatch")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDumpExtractsPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payments_order_id", TableName: "payments"}
	err := Wrap(CodeConflict, fmt.Errorf("insert: %w", pgErr), "upsert payment")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", dump.Code)
	}
	if dump.PGCode != "23505" || dump.PGConstraint != "ux_payments_order_id" {
		t.Fatalf("unexpected pg details %+v", dump)
	}
	if len(dump.Chain) < 3 {
		t.Fatalf("expected full chain, got %v", dump.Chain)
	}
	if PGCode(err) != "23505" {
		t.Fatalf("expected PGCode helper to find sqlstate")
	}
	fields := dump.Fields()
	if fields["pg_table"] != "payments" {
		t.Fatalf("expected pg_table field, got %v", fields)
	}
}
