package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/internal/subscriptions"
	"github.com/localpros/localpros-backend/pkg/enums"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
)

func decodeSubscription(raw []byte) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription")
	}
	if sub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	return &sub, nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	remote, err := decodeSubscription(event.Data.Raw)
	if err != nil {
		return err
	}
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", remote.ID)
	projection := subscriptions.Project(subscriptions.StateFromStripe(remote), s.plans)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		sub, err := repo.FindSubscriptionByStripeID(ctx, remote.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil {
			s.logg.Info(ctx, "update for unknown subscription ignored")
			return nil
		}

		before := subscriptions.SnapshotOf(sub)
		projection.Apply(sub)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}

		diff := subscriptions.Compare(before, projection.Snapshot())
		entry, changed := subscriptions.ChangeFromDiff(diff)
		if !changed {
			s.logg.Debug(ctx, "subscription update without tracked changes")
			return nil
		}
		if err := repo.CreateHistory(ctx, subscriptions.Record(sub.ID, entry, event.ID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription history")
		}
		if err := s.recordTierChange(ctx, repo, sub.CompanyID, diff); err != nil {
			return err
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"tier":          sub.Tier,
			"status":        sub.Status,
			"billing_cycle": sub.BillingCycle,
		}), "subscription updated")
		return nil
	})
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	remote, err := decodeSubscription(event.Data.Raw)
	if err != nil {
		return err
	}
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", remote.ID)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		sub, err := repo.FindSubscriptionByStripeID(ctx, remote.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil {
			s.logg.Info(ctx, "deletion for unknown subscription ignored")
			return nil
		}
		recorded, err := repo.HasHistoryAction(ctx, sub.ID, enums.HistoryActionCanceled)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription history")
		}
		// An update may already have projected canceled; the deletion still
		// owes ended_at and the canceled history row.
		if sub.Status == enums.SubscriptionStatusCanceled && sub.EndedAt != nil && recorded {
			s.logg.Info(ctx, "subscription already canceled")
			return nil
		}

		before := subscriptions.SnapshotOf(sub)
		sub.Status = enums.SubscriptionStatusCanceled
		if sub.EndedAt == nil {
			endedAt := s.now().UTC()
			sub.EndedAt = &endedAt
		}
		sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}

		if !recorded {
			diff := subscriptions.Compare(before, subscriptions.SnapshotOf(sub))
			entry := subscriptions.Record(sub.ID, subscriptions.Canceled{Diff: diff, Reason: cancellationReason(remote)}, event.ID)
			if err := repo.CreateHistory(ctx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription history")
			}
		}
		s.logg.Info(s.logg.WithField(ctx, "previous_status", before.Status), "subscription canceled")
		return nil
	})
}

// cancellationReason prefers the partner's reason recorded at cancel time.
func cancellationReason(sub *stripe.Subscription) string {
	if reason := strings.TrimSpace(sub.Metadata["cancel_reason"]); reason != "" {
		return reason
	}
	if sub.CancellationDetails != nil {
		if comment := strings.TrimSpace(sub.CancellationDetails.Comment); comment != "" {
			return comment
		}
		return string(sub.CancellationDetails.Reason)
	}
	return ""
}
