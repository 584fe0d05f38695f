package enums

import (
	"fmt"
	"strings"
)

// PricingTier is the subscription level a company is billed for.
type PricingTier string

const (
	PricingTierStandard PricingTier = "standard"
	PricingTierPremium  PricingTier = "premium"
	PricingTierElite    PricingTier = "elite"
)

var validPricingTiers = []PricingTier{
	PricingTierStandard,
	PricingTierPremium,
	PricingTierElite,
}

// String implements fmt.Stringer.
func (p PricingTier) String() string {
	return string(p)
}

// Title returns the display name used in emails.
func (p PricingTier) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// IsValid reports whether the value is a known PricingTier.
func (p PricingTier) IsValid() bool {
	for _, candidate := range validPricingTiers {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePricingTier converts raw input into a PricingTier; matching ignores case.
func ParsePricingTier(value string) (PricingTier, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPricingTiers {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pricing tier %q", value)
}
