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
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeInsufficientCreds, status: http.StatusPaymentRequired, publicMsg: "insufficient credits", detailsOK: true},
		{code: CodeDuplicateRequest, status: http.StatusConflict, publicMsg: "request already processed", detailsOK: true},
		{code: CodeAlreadyReversed, status: http.StatusUnprocessableEntity, publicMsg: "entry already reversed", detailsOK: true},
		{code: CodePricingNotFound, status: http.StatusNotFound, publicMsg: "model pricing not found", detailsOK: true},
		{code: CodeUnrecognizedUsage, status: http.StatusUnprocessableEntity, publicMsg: "usage payload not recognized", detailsOK: true},
		{code: CodeLedgerUnavailable, status: http.StatusServiceUnavailable, publicMsg: "ledger temporarily unavailable", retryable: true},
		{code: CodeBalanceInvariant, status: http.StatusInternalServerError, publicMsg: "internal server error"},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
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

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDump(t *testing.T) {
	if d := Dump(nil); d.TopMessage != "" || d.Code != "" {
		t.Fatalf("Dump(nil) should be empty, got %+v", d)
	}

	typed := New(CodeInsufficientCreds, "short 12 credits").
		WithDetails(map[string]any{"requestId": "req-1", "required": int64(60)})
	d := Dump(typed)
	if d.Code != CodeInsufficientCreds {
		t.Fatalf("unexpected code %s", d.Code)
	}
	if d.Details == nil {
		t.Fatalf("details should carry through to the dump")
	}
	if len(d.Chain) == 0 {
		t.Fatalf("chain should list at least the top error")
	}

	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "idx_ledger_entries_request_id",
		TableName:      "ledger_entries",
	}
	d = Dump(Wrap(CodeLedgerUnavailable, fmt.Errorf("insert entry: %w", pgErr), "debit failed"))
	if d.PGCode != "23505" {
		t.Fatalf("expected SQLSTATE from wrapped driver error, got %q", d.PGCode)
	}
	if d.PGConstraint != "idx_ledger_entries_request_id" {
		t.Fatalf("unexpected constraint %q", d.PGConstraint)
	}
}

func TestIsCode(t *testing.T) {
	inner := New(CodeInsufficientCreds, "short 12 credits")
	outer := Wrap(CodeInternal, inner, "deduct failed")

	if !IsCode(inner, CodeInsufficientCreds) {
		t.Fatalf("expected direct match")
	}
	// As resolves the outermost typed error, so the wrap shadows the inner code.
	if IsCode(outer, CodeInsufficientCreds) {
		t.Fatalf("outer wrap should shadow the inner code")
	}
	if IsCode(nil, CodeInternal) {
		t.Fatalf("nil error should never match")
	}
}
