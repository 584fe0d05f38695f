package subscriptions

import (
	"strings"

	"github.com/google/uuid"

	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
)

// Snapshot holds the fields whose changes are audited.
type Snapshot struct {
	Tier   enums.PricingTier
	Status enums.SubscriptionStatus
	Cycle  enums.BillingCycle
}

// Change is one field moving From → To. A zero From means there was no prior value.
type Change[T comparable] struct {
	From T
	To   T
}

// Diff carries a Change only for the fields that differ.
type Diff struct {
	Tier   *Change[enums.PricingTier]
	Status *Change[enums.SubscriptionStatus]
	Cycle  *Change[enums.BillingCycle]
}

// Compare returns the changed fields between two snapshots.
func Compare(before, after Snapshot) Diff {
	var d Diff
	if before.Tier != after.Tier {
		d.Tier = &Change[enums.PricingTier]{From: before.Tier, To: after.Tier}
	}
	if before.Status != after.Status {
		d.Status = &Change[enums.SubscriptionStatus]{From: before.Status, To: after.Status}
	}
	if before.Cycle != after.Cycle {
		d.Cycle = &Change[enums.BillingCycle]{From: before.Cycle, To: after.Cycle}
	}
	return d
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return d.Tier == nil && d.Status == nil && d.Cycle == nil
}

// Entry is one of the history variants below. The set is closed.
type Entry interface {
	history() (enums.HistoryAction, Diff, string)
}

// Created records the first projection of a subscription.
type Created struct {
	Initial Snapshot
}

// Renewed records a successful invoice payment.
type Renewed struct {
	Diff Diff
}

// TierChanged records a provider update that moved the subscription to another tier.
type TierChanged struct {
	Diff Diff
}

// Updated records a provider update that changed status or cycle but not tier.
type Updated struct {
	Diff Diff
}

// Canceled records the subscription ending.
type Canceled struct {
	Diff   Diff
	Reason string
}

// PaymentFailed records a failed invoice payment.
type PaymentFailed struct {
	Diff   Diff
	Reason string
}

func (e Created) history() (enums.HistoryAction, Diff, string) {
	return enums.HistoryActionCreated, Compare(Snapshot{}, e.Initial), ""
}

func (e Renewed) history() (enums.HistoryAction, Diff, string) {
	return enums.HistoryActionRenewed, e.Diff, ""
}

func (e TierChanged) history() (enums.HistoryAction, Diff, string) {
	return enums.HistoryActionTierChanged, e.Diff, ""
}

func (e Updated) history() (enums.HistoryAction, Diff, string) {
	return enums.HistoryActionUpdated, e.Diff, ""
}

func (e Canceled) history() (enums.HistoryAction, Diff, string) {
	return enums.HistoryActionCanceled, e.Diff, e.Reason
}

func (e PaymentFailed) history() (enums.HistoryAction, Diff, string) {
	return enums.HistoryActionPaymentFailed, e.Diff, e.Reason
}

// ChangeFromDiff picks the entry for a provider-driven update: TierChanged when
// the tier moved, Updated for any other change, nothing for an empty diff.
func ChangeFromDiff(d Diff) (Entry, bool) {
	switch {
	case d.Tier != nil:
		return TierChanged{Diff: d}, true
	case !d.Empty():
		return Updated{Diff: d}, true
	default:
		return nil, false
	}
}

// Record builds the history row for entry. Previous/new columns are set only
// for fields present in the entry's diff.
func Record(subscriptionID uuid.UUID, entry Entry, stripeEventID string) *models.SubscriptionHistory {
	action, diff, reason := entry.history()
	row := &models.SubscriptionHistory{
		SubscriptionID: subscriptionID,
		Action:         action,
	}
	if diff.Tier != nil {
		row.PreviousTier = nonZero(diff.Tier.From)
		row.NewTier = nonZero(diff.Tier.To)
	}
	if diff.Status != nil {
		row.PreviousStatus = nonZero(diff.Status.From)
		row.NewStatus = nonZero(diff.Status.To)
	}
	if diff.Cycle != nil {
		row.PreviousCycle = nonZero(diff.Cycle.From)
		row.NewCycle = nonZero(diff.Cycle.To)
	}
	if r := strings.TrimSpace(reason); r != "" {
		row.Reason = &r
	}
	if stripeEventID != "" {
		row.StripeEventID = &stripeEventID
	}
	return row
}

func nonZero[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}
