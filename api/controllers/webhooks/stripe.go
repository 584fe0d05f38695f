package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/localpros/localpros-backend/api/responses"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/metrics"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "Stripe-Signature"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (bool, error)
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type eventVerifier interface {
	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

type acknowledgement struct {
	Received bool `json:"received"`
}

// StripeWebhook verifies and dispatches Stripe billing events. A nil guard
// disables delivery de-duplication; handlers stay idempotent on their own.
func StripeWebhook(svc StripeWebhookService, verifier eventVerifier, guard stripeWebhookGuard, recorder *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		if svc == nil || verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				recorder.Observe("", metrics.OutcomeRejected, time.Since(start))
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sig := strings.TrimSpace(r.Header.Get(signatureHeader))
		if sig == "" {
			recorder.Observe("", metrics.OutcomeRejected, time.Since(start))
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing"))
			return
		}

		event, err := verifier.ConstructEvent(payload, sig)
		if err != nil {
			recorder.Observe("", metrics.OutcomeRejected, time.Since(start))
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "stripe signature invalid"))
			return
		}

		eventType := string(event.Type)
		if logg != nil {
			ctx = logg.WithEvent(ctx, event.ID, eventType)
		}

		marked := false
		if guard != nil {
			seen, err := guard.CheckAndMark(ctx, event.ID)
			switch {
			case err != nil:
				if logg != nil {
					logg.Error(ctx, "stripe.webhook.guard_unavailable", err)
				}
			case seen:
				recorder.Observe(eventType, metrics.OutcomeDuplicate, time.Since(start))
				if logg != nil {
					logg.Info(ctx, "stripe.webhook.duplicate")
				}
				responses.WriteRaw(w, http.StatusOK, acknowledgement{Received: true})
				return
			default:
				marked = true
			}
		}

		handled, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			if marked {
				if relErr := guard.Release(ctx, event.ID); relErr != nil && logg != nil {
					logg.Error(ctx, "stripe.webhook.guard_release_failed", relErr)
				}
			}
			recorder.Observe(eventType, metrics.OutcomeFailed, time.Since(start))
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInternal {
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "handle stripe event")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome := metrics.OutcomeProcessed
		if !handled {
			outcome = metrics.OutcomeIgnored
		}
		recorder.Observe(eventType, outcome, time.Since(start))
		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", outcome), "stripe.webhook.complete")
		}
		responses.WriteRaw(w, http.StatusOK, acknowledgement{Received: true})
	}
}
