package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	stripewebhook "github.com/localpros/localpros-backend/internal/webhooks/stripe"
	"github.com/localpros/localpros-backend/pkg/config"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/metrics"
	pkgstripe "github.com/localpros/localpros-backend/pkg/stripe"
)

const testSecret = "whsec_test"

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t, "customer.subscription.updated")
	service := &fakeStripeWebhookService{handled: true}
	store := newInMemoryStore()
	guard := newGuard(t, store)
	reg := prometheus.NewRegistry()
	handler := StripeWebhook(service, newStripeClient(t), guard, metrics.NewWebhookMetrics(reg), logger.Nop())

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"received":true}` {
		t.Fatalf("unexpected acknowledgement %s", got)
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	rec2 := serve(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}

	if got := counterValue(t, reg, "customer.subscription.updated", metrics.OutcomeProcessed); got != 1 {
		t.Fatalf("expected one processed delivery, got %v", got)
	}
	if got := counterValue(t, reg, "customer.subscription.updated", metrics.OutcomeDuplicate); got != 1 {
		t.Fatalf("expected one duplicate delivery, got %v", got)
	}
}

func TestStripeWebhook_UnknownEventIsAcknowledged(t *testing.T) {
	payload, header := buildSignedEvent(t, "customer.created")
	service := &fakeStripeWebhookService{handled: false}
	reg := prometheus.NewRegistry()
	handler := StripeWebhook(service, newStripeClient(t), newGuard(t, newInMemoryStore()), metrics.NewWebhookMetrics(reg), nil)

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := counterValue(t, reg, "customer.created", metrics.OutcomeIgnored); got != 1 {
		t.Fatalf("expected ignored outcome, got %v", got)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, "invoice.payment_succeeded")
	service := &fakeStripeWebhookService{}
	store := newInMemoryStore()
	handler := StripeWebhook(service, newStripeClient(t), newGuard(t, store), nil, nil)

	rec := serve(handler, payload, "t=1,v1=invalid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rec.Code)
	}
	assertErrorCode(t, rec, pkgerrors.CodeSignature)
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
	if len(store.data) != 0 {
		t.Fatalf("guard must not mark unverified deliveries")
	}
}

func TestStripeWebhook_WrongSecret(t *testing.T) {
	payload, _ := buildSignedEvent(t, "invoice.payment_succeeded")
	header := signedHeader(payload, "whsec_other")
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, newStripeClient(t), nil, nil, nil)

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked")
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, "invoice.payment_succeeded")
	handler := StripeWebhook(&fakeStripeWebhookService{}, newStripeClient(t), nil, nil, nil)

	rec := serve(handler, payload, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	assertErrorCode(t, rec, pkgerrors.CodeSignature)
}

func TestStripeWebhook_OversizedBody(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), maxWebhookBody+1)
	header := signedHeader(payload, testSecret)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, newStripeClient(t), nil, nil, nil)

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked")
	}
}

func TestStripeWebhook_HandlerFailureReleasesGuard(t *testing.T) {
	payload, header := buildSignedEvent(t, "invoice.payment_failed")
	service := &fakeStripeWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	store := newInMemoryStore()
	reg := prometheus.NewRegistry()
	handler := StripeWebhook(service, newStripeClient(t), newGuard(t, store), metrics.NewWebhookMetrics(reg), logger.Nop())

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	assertErrorCode(t, rec, pkgerrors.CodeInternal)
	if len(store.data) != 0 {
		t.Fatalf("expected guard key released, got %v", store.data)
	}

	service.err = nil
	service.handled = true
	rec = serve(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected retry to reach the service, got %d calls", service.calls)
	}
	if got := counterValue(t, reg, "invoice.payment_failed", metrics.OutcomeFailed); got != 1 {
		t.Fatalf("expected one failed delivery, got %v", got)
	}
}

func TestStripeWebhook_GuardOutageFailsOpen(t *testing.T) {
	payload, header := buildSignedEvent(t, "checkout.session.completed")
	service := &fakeStripeWebhookService{handled: true}
	store := newInMemoryStore()
	store.err = errors.New("connection refused")
	handler := StripeWebhook(service, newStripeClient(t), newGuard(t, store), nil, logger.Nop())

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with guard outage, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("expected event processed, got %d calls", service.calls)
	}
}

func serve(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set(signatureHeader, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, code pkgerrors.Code) {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != string(code) {
		t.Fatalf("expected %s, got %s", code, body.Error.Code)
	}
}

func buildSignedEvent(t *testing.T, eventType string) ([]byte, string) {
	t.Helper()
	event := map[string]any{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":     "sub_" + uuid.NewString(),
				"object": "subscription",
				"status": "active",
			},
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, signedHeader(payload, testSecret)
}

func newStripeClient(t *testing.T) *pkgstripe.Client {
	t.Helper()
	client, err := pkgstripe.NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_webhooks", Secret: testSecret, Env: "test"}, nil)
	if err != nil {
		t.Fatalf("stripe client: %v", err)
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

func newGuard(t *testing.T, store *inMemoryStore) *stripewebhook.IdempotencyGuard {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(store, time.Minute, stripewebhook.GuardScope)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func counterValue(t *testing.T, reg *prometheus.Registry, eventType, outcome string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "stripe_webhook_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["event_type"] == eventType && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

type fakeStripeWebhookService struct {
	calls   int
	handled bool
	err     error
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.handled, nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], s.err
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("lp:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
