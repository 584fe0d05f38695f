// Package plans maps Stripe price references to a pricing tier and billing cycle.
package plans

import (
	"strings"

	"github.com/localpros/localpros-backend/pkg/config"
	"github.com/localpros/localpros-backend/pkg/enums"
)

// Plan is the (tier, cycle) pair a price reference resolves to.
type Plan struct {
	Tier  enums.PricingTier
	Cycle enums.BillingCycle
}

// Default is returned when a reference cannot be matched.
func Default() Plan {
	return Plan{Tier: enums.PricingTierPremium, Cycle: enums.BillingCycleMonthly}
}

type entry struct {
	ref  string
	plan Plan
}

// Resolver is built once from configuration and never mutated afterwards.
type Resolver struct {
	entries []entry
	exact   map[string]Plan
}

// NewResolver builds the lookup table. Tier-specific references come first and
// the legacy generic references last; blank references are skipped and the
// first plan configured for a duplicated reference wins.
func NewResolver(cfg config.PlansConfig) *Resolver {
	candidates := []entry{
		{ref: cfg.StandardMonthly, plan: Plan{Tier: enums.PricingTierStandard, Cycle: enums.BillingCycleMonthly}},
		{ref: cfg.StandardAnnual, plan: Plan{Tier: enums.PricingTierStandard, Cycle: enums.BillingCycleAnnual}},
		{ref: cfg.PremiumMonthly, plan: Plan{Tier: enums.PricingTierPremium, Cycle: enums.BillingCycleMonthly}},
		{ref: cfg.PremiumAnnual, plan: Plan{Tier: enums.PricingTierPremium, Cycle: enums.BillingCycleAnnual}},
		{ref: cfg.EliteMonthly, plan: Plan{Tier: enums.PricingTierElite, Cycle: enums.BillingCycleMonthly}},
		{ref: cfg.EliteAnnual, plan: Plan{Tier: enums.PricingTierElite, Cycle: enums.BillingCycleAnnual}},
		{ref: cfg.LegacyMonthly, plan: Plan{Tier: enums.PricingTierPremium, Cycle: enums.BillingCycleMonthly}},
		{ref: cfg.LegacyAnnual, plan: Plan{Tier: enums.PricingTierPremium, Cycle: enums.BillingCycleAnnual}},
	}

	r := &Resolver{exact: make(map[string]Plan, len(candidates))}
	for _, c := range candidates {
		ref := strings.TrimSpace(c.ref)
		if ref == "" {
			continue
		}
		if _, dup := r.exact[ref]; dup {
			continue
		}
		r.exact[ref] = c.plan
		r.entries = append(r.entries, entry{ref: ref, plan: c.plan})
	}
	return r
}

// Default returns the fallback plan.
func (r *Resolver) Default() Plan {
	return Default()
}

// Len reports how many references are configured.
func (r *Resolver) Len() int {
	return len(r.entries)
}

// Resolve never fails; unmatched references degrade to Default.
func (r *Resolver) Resolve(ref string) Plan {
	if plan, ok := r.Match(ref); ok {
		return plan
	}
	return Default()
}

// Match looks the reference up exactly, then by substring in either
// direction. Among substring candidates the one closest in length wins, with
// ties going to table order.
func (r *Resolver) Match(ref string) (Plan, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Plan{}, false
	}
	if plan, ok := r.exact[ref]; ok {
		return plan, true
	}

	best := -1
	bestDistance := 0
	for i, e := range r.entries {
		if !strings.Contains(e.ref, ref) && !strings.Contains(ref, e.ref) {
			continue
		}
		distance := len(e.ref) - len(ref)
		if distance < 0 {
			distance = -distance
		}
		if best == -1 || distance < bestDistance {
			best = i
			bestDistance = distance
		}
	}
	if best == -1 {
		return Plan{}, false
	}
	return r.entries[best].plan, true
}
