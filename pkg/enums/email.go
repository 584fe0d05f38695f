package enums

import "fmt"

// EmailKind identifies a transactional email template.
type EmailKind string

const (
	EmailKindPaymentSucceeded      EmailKind = "payment_succeeded"
	EmailKindPaymentFailed         EmailKind = "payment_failed"
	EmailKindSubscriptionActivated EmailKind = "subscription_activated"
)

var validEmailKinds = []EmailKind{
	EmailKindPaymentSucceeded,
	EmailKindPaymentFailed,
	EmailKindSubscriptionActivated,
}

func (k EmailKind) String() string {
	return string(k)
}

func (k EmailKind) IsValid() bool {
	for _, candidate := range validEmailKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseEmailKind(value string) (EmailKind, error) {
	for _, candidate := range validEmailKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid email kind %q", value)
}

// EmailStatus is the send outcome recorded in email_logs.
type EmailStatus string

const (
	EmailStatusSent   EmailStatus = "sent"
	EmailStatusFailed EmailStatus = "failed"
)

func (s EmailStatus) String() string {
	return string(s)
}
