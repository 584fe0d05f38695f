package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stripe/stripe-go/v82"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeSignature, status: http.StatusBadRequest},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeForbidden, status: http.StatusForbidden},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s has no public message", tt.code)
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

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("db down")
	err := Wrap(CodeInternal, cause, "load subscription")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped error to unwrap to cause")
	}
	if !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected cause in message, got %q", err.Error())
	}
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := New(CodeNotFound, "company missing")
	outer := Wrap(CodeInternal, fmt.Errorf("checkout: %w", inner), "handle event")

	if !HasCode(outer, CodeNotFound) {
		t.Fatal("expected nested not found code to be detected")
	}
	if !HasCode(outer, CodeInternal) {
		t.Fatal("expected outer code to be detected")
	}
	if HasCode(outer, CodeConflict) {
		t.Fatal("did not expect conflict code")
	}
	if HasCode(stdErrors.New("plain"), CodeInternal) {
		t.Fatal("plain errors carry no code")
	}
}

func TestAsReturnsNilForPlainErrors(t *testing.T) {
	if As(stdErrors.New("plain")) != nil {
		t.Fatal("expected nil for plain error")
	}
	if As(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestDescribeCapturesPostgresDetails(t *testing.T) {
	pgErr := &pq.Error{Code: "23505", Constraint: "payment_transactions_dedupe_key_key", Table: "payment_transactions"}
	err := Wrap(CodeConflict, pgErr, "insert transaction")

	d := Describe(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", d.Code)
	}
	if d.PGCode != "23505" || d.PGConstraint != "payment_transactions_dedupe_key_key" {
		t.Fatalf("unexpected pg details %+v", d)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}
	fields := d.LogFields()
	if fields["pg_code"] != "23505" {
		t.Fatalf("expected pg_code in log fields, got %v", fields)
	}
	if _, ok := fields["stripe_request_id"]; ok {
		t.Fatalf("stripe fields should be omitted, got %v", fields)
	}
}

func TestDescribeCapturesStripeDetails(t *testing.T) {
	apiErr := &stripe.Error{
		Type:           stripe.ErrorTypeInvalidRequest,
		Code:           stripe.ErrorCodeResourceMissing,
		RequestID:      "req_123",
		HTTPStatusCode: 404,
		Msg:            "No such subscription",
	}
	err := Wrap(CodeDependency, fmt.Errorf("schedule cancellation: %w", apiErr), "billing provider unavailable")

	fields := Describe(err).LogFields()
	if fields["stripe_request_id"] != "req_123" || fields["stripe_status"] != 404 {
		t.Fatalf("unexpected stripe fields %v", fields)
	}
	if fields["error_code"] != CodeDependency {
		t.Fatalf("expected dependency code, got %v", fields["error_code"])
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("pg fields should be omitted, got %v", fields)
	}
}
