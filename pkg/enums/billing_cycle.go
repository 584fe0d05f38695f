package enums

import (
	"fmt"
	"strings"
)

// BillingCycle defines how often a subscription renews.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleAnnual  BillingCycle = "annual"
)

var validBillingCycles = []BillingCycle{
	BillingCycleMonthly,
	BillingCycleAnnual,
}

// String implements fmt.Stringer.
func (b BillingCycle) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingCycle.
func (b BillingCycle) IsValid() bool {
	for _, candidate := range validBillingCycles {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingCycle converts raw input into a BillingCycle. "yearly" is
// accepted as an alias for annual.
func ParseBillingCycle(value string) (BillingCycle, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "yearly" {
		return BillingCycleAnnual, nil
	}
	for _, candidate := range validBillingCycles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing cycle %q", value)
}
