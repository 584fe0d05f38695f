package subscriptions

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/localpros/localpros-backend/internal/plans"
	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
)

// PlanMatcher is the part of the plan resolver the projector needs.
type PlanMatcher interface {
	Match(ref string) (plans.Plan, bool)
	Default() plans.Plan
}

// ProviderState is the provider's view of a subscription at event time.
type ProviderState struct {
	SubscriptionID     string
	CustomerID         string
	Status             string
	PriceRef           string
	MetadataTier       string
	MetadataCycle      string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CancelAt           *time.Time
	EndedAt            *time.Time
}

// StateFromStripe flattens a Stripe subscription. Price and billing period are
// read from the first subscription item.
func StateFromStripe(sub *stripe.Subscription) ProviderState {
	if sub == nil {
		return ProviderState{}
	}
	state := ProviderState{
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          unixPtr(sub.CancelAt),
		EndedAt:           unixPtr(sub.EndedAt),
	}
	if sub.Customer != nil {
		state.CustomerID = sub.Customer.ID
	}
	state.MetadataTier, state.MetadataCycle = planMetadata(sub.Metadata)

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item != nil {
			if item.Price != nil {
				state.PriceRef = item.Price.ID
			}
			state.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
			state.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		}
	}
	return state
}

// Projection is the local record a provider state maps to.
type Projection struct {
	Tier   enums.PricingTier
	Cycle  enums.BillingCycle
	Status enums.SubscriptionStatus
	State  ProviderState
}

// Project derives tier, cycle and status. The price reference is authoritative;
// metadata is consulted only when the price does not match a configured plan.
func Project(state ProviderState, matcher PlanMatcher) Projection {
	plan := ResolvePlan(matcher, state.PriceRef, state.MetadataTier, state.MetadataCycle)
	return Projection{
		Tier:   plan.Tier,
		Cycle:  plan.Cycle,
		Status: StatusFromProvider(state.Status),
		State:  state,
	}
}

// ResolvePlan applies the price → metadata → default chain.
func ResolvePlan(matcher PlanMatcher, priceRef, metaTier, metaCycle string) plans.Plan {
	if plan, ok := matcher.Match(priceRef); ok {
		return plan
	}
	tier, tierErr := enums.ParsePricingTier(metaTier)
	cycle, cycleErr := enums.ParseBillingCycle(metaCycle)
	if tierErr == nil && cycleErr == nil {
		return plans.Plan{Tier: tier, Cycle: cycle}
	}
	return matcher.Default()
}

// Snapshot returns the tracked fields of the projection.
func (p Projection) Snapshot() Snapshot {
	return Snapshot{Tier: p.Tier, Status: p.Status, Cycle: p.Cycle}
}

// Apply copies the projection onto sub. Provider references and periods are
// only overwritten when the provider sent them.
func (p Projection) Apply(sub *models.Subscription) {
	if sub == nil {
		return
	}
	sub.Tier = p.Tier
	sub.BillingCycle = p.Cycle
	sub.Status = p.Status

	s := p.State
	if s.SubscriptionID != "" {
		sub.StripeSubscriptionID = s.SubscriptionID
	}
	if s.CustomerID != "" {
		sub.StripeCustomerID = stringPtr(s.CustomerID)
	}
	if s.PriceRef != "" {
		sub.StripePriceID = stringPtr(s.PriceRef)
	}
	if s.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = s.CurrentPeriodStart
	}
	if s.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = s.CurrentPeriodEnd
	}
	sub.CancelAtPeriodEnd = s.CancelAtPeriodEnd
	sub.CancelAt = s.CancelAt
	if p.Status == enums.SubscriptionStatusCanceled && sub.EndedAt == nil {
		sub.EndedAt = s.EndedAt
	}
}

// SnapshotOf reads the tracked fields from a stored subscription.
func SnapshotOf(sub *models.Subscription) Snapshot {
	if sub == nil {
		return Snapshot{}
	}
	return Snapshot{Tier: sub.Tier, Status: sub.Status, Cycle: sub.BillingCycle}
}

func planMetadata(meta map[string]string) (tier, cycle string) {
	if meta == nil {
		return "", ""
	}
	tier = meta["tier"]
	cycle = meta["billingCycle"]
	if strings.TrimSpace(cycle) == "" {
		cycle = meta["billing_cycle"]
	}
	return tier, cycle
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func stringPtr(v string) *string {
	return &v
}
