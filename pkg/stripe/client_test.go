package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/localpros/localpros-backend/pkg/config"
)

type stubSubscriptions struct {
	getID     string
	getParams *stripe.SubscriptionParams
	updateID  string
	update    *stripe.SubscriptionParams
	result    *stripe.Subscription
	err       error
}

func (s *stubSubscriptions) Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.getID = id
	s.getParams = params
	return s.result, s.err
}

func (s *stubSubscriptions) Update(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.updateID = id
	s.update = params
	return s.result, s.err
}

func newStubClient(t *testing.T, secret string, subs SubscriptionAPI) *Client {
	t.Helper()
	cfg := config.StripeConfig{APIKey: "sk_test_stub", Secret: secret, Env: "test"}
	client, err := NewClient(context.Background(), cfg, nil, WithSubscriptionAPI(subs))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func signedHeader(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

func TestNewClientValidatesKeys(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{name: "test key in test env", cfg: config.StripeConfig{APIKey: "sk_test_1", Secret: "whsec_1", Env: "test"}},
		{name: "restricted live key", cfg: config.StripeConfig{APIKey: "rk_live_1", Secret: "whsec_1", Env: "live"}},
		{name: "live key in test env", cfg: config.StripeConfig{APIKey: "sk_live_1", Secret: "whsec_1", Env: "test"}, wantErr: true},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_1", Env: "test"}, wantErr: true},
		{name: "missing key", cfg: config.StripeConfig{Secret: "whsec_1"}, wantErr: true},
		{name: "unknown env", cfg: config.StripeConfig{APIKey: "sk_test_1", Secret: "whsec_1", Env: "staging"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.SigningSecret() != "whsec_1" {
				t.Fatalf("unexpected secret %q", client.SigningSecret())
			}
		})
	}
}

func TestConstructEventVerifiesSignature(t *testing.T) {
	client := newStubClient(t, "whsec_test", &stubSubscriptions{})
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "customer.subscription.updated",
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": map[string]any{"id": "sub_1"}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	event, err := client.ConstructEvent(payload, signedHeader(payload, "whsec_test"))
	if err != nil {
		t.Fatalf("ConstructEvent: %v", err)
	}
	if event.ID != "evt_1" || string(event.Type) != "customer.subscription.updated" {
		t.Fatalf("unexpected event %s %s", event.ID, event.Type)
	}

	if _, err := client.ConstructEvent(payload, signedHeader(payload, "whsec_other")); err == nil {
		t.Fatal("expected signature from another secret to fail")
	}
	if _, err := client.ConstructEvent(payload, ""); err == nil {
		t.Fatal("expected missing header to fail")
	}
}

func TestWithSubscriptionAPIIgnoresNil(t *testing.T) {
	client := newStubClient(t, "whsec", nil)
	if _, ok := client.subscriptions.(packageSubscriptions); !ok {
		t.Fatalf("expected package subscriptions, got %T", client.subscriptions)
	}

	stub := &stubSubscriptions{}
	client = newStubClient(t, "whsec", stub)
	if client.subscriptions != stub {
		t.Fatal("expected stubbed subscription api")
	}
}

func TestGetSubscriptionPassesContext(t *testing.T) {
	stub := &stubSubscriptions{result: &stripe.Subscription{ID: "sub_1"}}
	client := newStubClient(t, "whsec", stub)

	ctx := context.WithValue(context.Background(), struct{}{}, "marker")
	sub, err := client.GetSubscription(ctx, "sub_1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.ID != "sub_1" || stub.getID != "sub_1" {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if stub.getParams.Context != ctx {
		t.Fatal("expected request context to be forwarded")
	}

	if _, err := client.GetSubscription(ctx, " "); err == nil {
		t.Fatal("expected blank id to fail")
	}
}

func TestScheduleCancellation(t *testing.T) {
	stub := &stubSubscriptions{result: &stripe.Subscription{ID: "sub_1"}}
	client := newStubClient(t, "whsec", stub)
	cancelAt := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	if _, err := client.ScheduleCancellation(context.Background(), "sub_1", cancelAt, "closing business"); err != nil {
		t.Fatalf("ScheduleCancellation: %v", err)
	}
	if stub.updateID != "sub_1" {
		t.Fatalf("unexpected id %q", stub.updateID)
	}
	if stub.update.CancelAt == nil || *stub.update.CancelAt != cancelAt.Unix() {
		t.Fatalf("unexpected cancel_at %v", stub.update.CancelAt)
	}
	if stub.update.Metadata["cancel_reason"] != "closing business" {
		t.Fatalf("expected reason metadata, got %v", stub.update.Metadata)
	}

	stub.err = errors.New("stripe down")
	_, err := client.ScheduleCancellation(context.Background(), "sub_1", cancelAt, "")
	if err == nil || !strings.Contains(err.Error(), "stripe down") {
		t.Fatalf("expected wrapped stripe error, got %v", err)
	}
}
