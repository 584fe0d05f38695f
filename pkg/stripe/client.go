package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/localpros/localpros-backend/pkg/config"
	"github.com/localpros/localpros-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// SubscriptionAPI is the slice of the Stripe subscription resource we call.
type SubscriptionAPI interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Update(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type packageSubscriptions struct{}

func (packageSubscriptions) Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.Get(id, params)
}

func (packageSubscriptions) Update(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.Update(id, params)
}

// Client bundles the Stripe credentials with the calls the billing code makes.
type Client struct {
	environment   string
	signingSecret string
	subscriptions SubscriptionAPI
}

// Option customizes a Client built by NewClient.
type Option func(*Client)

// WithSubscriptionAPI replaces the package-level subscription resource.
func WithSubscriptionAPI(api SubscriptionAPI) Option {
	return func(c *Client) {
		if api != nil {
			c.subscriptions = api
		}
	}
}

// NewClient validates the configured secrets and sets the process-wide API key.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}

	client := &Client{
		environment:   env,
		signingSecret: signingSecret,
		subscriptions: packageSubscriptions{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// ConstructEvent verifies the Stripe-Signature header against the raw payload
// and only then decodes the envelope.
func (c *Client) ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signatureHeader, c.SigningSecret(), webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// GetSubscription fetches the provider's current view of a subscription.
func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("stripe subscription id is required")
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price")
	sub, err := c.subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription %s: %w", id, err)
	}
	return sub, nil
}

// ScheduleCancellation asks Stripe to end the subscription at cancelAt.
func (c *Client) ScheduleCancellation(ctx context.Context, id string, cancelAt time.Time, reason string) (*stripe.Subscription, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("stripe subscription id is required")
	}
	params := &stripe.SubscriptionParams{
		CancelAt: stripe.Int64(cancelAt.Unix()),
	}
	params.Context = ctx
	if reason != "" {
		params.AddMetadata("cancel_reason", reason)
	}
	sub, err := c.subscriptions.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("schedule stripe cancellation %s: %w", id, err)
	}
	return sub, nil
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	prefixes := map[string][]string{
		testEnv: {"sk_test", "rk_test"},
		liveEnv: {"sk_live", "rk_live"},
	}
	allowed, ok := prefixes[env]
	if !ok {
		return errInvalidStripeEnv
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe environment %q requires a %s secret key (%s)", env, env, strings.Join(allowed, "/"))
}
