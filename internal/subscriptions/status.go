package subscriptions

import (
	"strings"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// StatusFromProvider collapses Stripe's subscription statuses into the four
// local states. An empty status is what checkout sessions carry before the
// subscription is fetched and counts as active.
func StatusFromProvider(status string) enums.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "active", "trialing":
		return enums.SubscriptionStatusActive
	case "past_due", "unpaid":
		return enums.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return enums.SubscriptionStatusCanceled
	default:
		return enums.SubscriptionStatusInactive
	}
}
