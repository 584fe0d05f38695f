package subscriptions

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountFromMinor converts Stripe minor units (cents) to currency units.
func AmountFromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// CurrencyOrDefault lowercases the provider currency and falls back when it is blank.
func CurrencyOrDefault(currency, fallback string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return strings.ToLower(strings.TrimSpace(fallback))
	}
	return c
}
