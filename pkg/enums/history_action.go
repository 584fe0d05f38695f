package enums

import "fmt"

// HistoryAction tags a subscription_history row.
type HistoryAction string

const (
	HistoryActionCreated       HistoryAction = "created"
	HistoryActionRenewed       HistoryAction = "renewed"
	HistoryActionTierChanged   HistoryAction = "tier_changed"
	HistoryActionUpdated       HistoryAction = "updated"
	HistoryActionCanceled      HistoryAction = "canceled"
	HistoryActionPaymentFailed HistoryAction = "payment_failed"
)

var validHistoryActions = []HistoryAction{
	HistoryActionCreated,
	HistoryActionRenewed,
	HistoryActionTierChanged,
	HistoryActionUpdated,
	HistoryActionCanceled,
	HistoryActionPaymentFailed,
}

func (h HistoryAction) String() string {
	return string(h)
}

func (h HistoryAction) IsValid() bool {
	for _, candidate := range validHistoryActions {
		if candidate == h {
			return true
		}
	}
	return false
}

func ParseHistoryAction(value string) (HistoryAction, error) {
	for _, candidate := range validHistoryActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid history action %q", value)
}
