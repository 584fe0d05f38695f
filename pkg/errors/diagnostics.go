package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stripe/stripe-go/v82"
)

// Diagnostics is the log-only view of an error chain. None of it is ever
// returned to a client.
type Diagnostics struct {
	Message string
	Code    Code
	Chain   []string

	PGCode       string
	PGConstraint string
	PGTable      string
	PGMessage    string

	StripeType      string
	StripeCode      string
	StripeRequestID string
	StripeStatus    int
}

// Describe walks err and pulls out typed-error, Postgres and Stripe details.
func Describe(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}

	d := Diagnostics{Message: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGMessage = pgxErr.Message
	case errors.As(err, &pqErr):
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGMessage = pqErr.Message
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		d.StripeType = string(stripeErr.Type)
		d.StripeCode = string(stripeErr.Code)
		d.StripeRequestID = stripeErr.RequestID
		d.StripeStatus = stripeErr.HTTPStatusCode
	}
	return d
}

// LogFields flattens the diagnostics, omitting empty groups.
func (d Diagnostics) LogFields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_chain": d.Chain,
	}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if d.PGCode != "" {
		fields["pg_code"] = d.PGCode
		fields["pg_constraint"] = d.PGConstraint
		fields["pg_table"] = d.PGTable
		fields["pg_message"] = d.PGMessage
	}
	if d.StripeRequestID != "" || d.StripeType != "" {
		fields["stripe_error_type"] = d.StripeType
		fields["stripe_error_code"] = d.StripeCode
		fields["stripe_request_id"] = d.StripeRequestID
		fields["stripe_status"] = d.StripeStatus
	}
	return fields
}
