package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/config"
	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/metrics"
	"github.com/localpros/localpros-backend/pkg/outbox"
)

const (
	consumerName       = "notifier"
	defaultBatchSize   = 25
	defaultPollMs      = 1000
	defaultMaxAttempts = 8
	defaultSendTimeout = 20 * time.Second
	maxBackoff         = 30 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

// Send outcomes recorded in metrics.
const (
	OutcomeSent      = "sent"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchPendingTx(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error) error
}

type emailLogWriter interface {
	CreateTx(tx *gorm.DB, entry *models.EmailLog) error
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// DispatcherParams groups the notifier's dependencies. Idempotency and
// Metrics are optional.
type DispatcherParams struct {
	Config       config.NotifierConfig
	DashboardURL string
	Logger       *logger.Logger
	DB           dbClient
	Outbox       outboxRepository
	EmailLogs    emailLogWriter
	Decoder      payloadDecoder
	Sender       Sender
	Idempotency  processedTracker
	Metrics      *metrics.NotificationMetrics
}

// Dispatcher drains email requests from the outbox.
type Dispatcher struct {
	logg         *logger.Logger
	db           dbClient
	outbox       outboxRepository
	emailLogs    emailLogWriter
	decoder      payloadDecoder
	sender       Sender
	idempotency  processedTracker
	metrics      *metrics.NotificationMetrics
	validate     *validator.Validate
	dashboardURL string
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.EmailLogs == nil {
		return nil, errors.New("email log repository is required")
	}
	if params.Decoder == nil {
		return nil, errors.New("payload decoder is required")
	}
	if params.Sender == nil {
		return nil, errors.New("sender is required")
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Dispatcher{
		logg:         params.Logger,
		db:           params.DB,
		outbox:       params.Outbox,
		emailLogs:    params.EmailLogs,
		decoder:      params.Decoder,
		sender:       params.Sender,
		idempotency:  params.Idempotency,
		metrics:      params.Metrics,
		validate:     validator.New(),
		dashboardURL: params.DashboardURL,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

// Run polls until ctx is canceled. Batch errors back off exponentially.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.db.Ping(ctx); err != nil {
		d.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}

	interval := d.pollInterval
	backoff := interval
	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "notifier context canceled")
			return ctx.Err()
		default:
		}

		processed, err := d.RunOnce(ctx)
		if err != nil {
			d.logg.Error(ctx, "notifier batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = interval

		if processed > 0 {
			continue
		}
		if err := sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// RunOnce handles one batch and reports how many rows it touched.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	processed := 0
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := d.outbox.FetchPendingTx(tx, d.batchSize, d.maxAttempts)
		if err != nil {
			return err
		}
		for _, event := range events {
			if err := d.handle(ctx, tx, event); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	return processed, err
}

// handle only returns errors from bookkeeping writes; send failures are
// recorded on the row.
func (d *Dispatcher) handle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	}
	logCtx := d.logg.WithFields(ctx, fields)

	req, err := d.decode(event)
	if err != nil {
		d.metrics.Inc("unknown", OutcomeInvalid)
		d.logg.Warn(d.logg.WithField(logCtx, "error", err.Error()), "email request will not be retried")
		if markErr := d.outbox.MarkTerminalTx(tx, event.ID, err); markErr != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
		}
		return nil
	}
	logCtx = d.logg.WithFields(logCtx, map[string]any{
		"kind":      req.Kind,
		"recipient": req.Recipient,
	})

	msg, err := Render(req, d.dashboardURL)
	if err != nil {
		d.metrics.Inc(string(req.Kind), OutcomeInvalid)
		d.logg.Warn(d.logg.WithField(logCtx, "error", err.Error()), "email render failed")
		if markErr := d.outbox.MarkTerminalTx(tx, event.ID, err); markErr != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
		}
		return nil
	}

	if d.idempotency != nil {
		seen, err := d.idempotency.CheckAndMarkProcessed(ctx, consumerName, event.ID)
		if err != nil {
			d.logg.Warn(d.logg.WithField(logCtx, "error", err.Error()), "idempotency check failed, sending anyway")
		} else if seen {
			d.metrics.Inc(string(req.Kind), OutcomeDuplicate)
			d.logg.Info(logCtx, "email already sent, marking published")
			if markErr := d.outbox.MarkPublishedTx(tx, event.ID); markErr != nil {
				return fmt.Errorf("mark published %s: %w", event.ID, markErr)
			}
			return nil
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	sendErr := d.sender.Send(sendCtx, req.Recipient, msg)
	cancel()

	if sendErr != nil {
		if d.idempotency != nil {
			sendErr = multierr.Append(sendErr, d.idempotency.Delete(ctx, consumerName, event.ID))
		}
		if err := d.log(tx, event, req, msg.Subject, sendErr); err != nil {
			return err
		}

		nextAttempt := event.AttemptCount + 1
		logCtx = d.logg.WithFields(logCtx, map[string]any{
			"attempt_count": nextAttempt,
			"error":         sendErr.Error(),
		})
		if nextAttempt >= d.maxAttempts {
			d.metrics.Inc(string(req.Kind), OutcomeFailed)
			d.logg.Warn(logCtx, "email send failed permanently")
			if markErr := d.outbox.MarkTerminalTx(tx, event.ID, fmt.Errorf("max send attempts reached: %w", sendErr)); markErr != nil {
				return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
			}
			return nil
		}
		d.metrics.Inc(string(req.Kind), OutcomeRetry)
		d.logg.Warn(logCtx, "email send failed")
		if markErr := d.outbox.MarkFailedTx(tx, event.ID, sendErr); markErr != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
		}
		return nil
	}

	if err := d.log(tx, event, req, msg.Subject, nil); err != nil {
		return err
	}
	if markErr := d.outbox.MarkPublishedTx(tx, event.ID); markErr != nil {
		return fmt.Errorf("mark published %s: %w", event.ID, markErr)
	}
	d.metrics.Inc(string(req.Kind), OutcomeSent)
	d.logg.Info(logCtx, "email sent")
	return nil
}

func (d *Dispatcher) decode(event models.OutboxEvent) (EmailRequest, error) {
	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return EmailRequest{}, err
	}
	decoded, err := d.decoder.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return EmailRequest{}, err
	}
	req, ok := decoded.(EmailRequest)
	if !ok {
		return EmailRequest{}, fmt.Errorf("unexpected payload type %T", decoded)
	}
	if err := req.Validate(d.validate); err != nil {
		return EmailRequest{}, fmt.Errorf("invalid email request: %w", err)
	}
	return req, nil
}

func (d *Dispatcher) log(tx *gorm.DB, event models.OutboxEvent, req EmailRequest, subject string, sendErr error) error {
	outboxID := event.ID
	companyID := req.CompanyID
	entry := &models.EmailLog{
		OutboxEventID: &outboxID,
		CompanyID:     &companyID,
		Kind:          req.Kind,
		Recipient:     req.Recipient,
		Subject:       subject,
		Status:        enums.EmailStatusSent,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Status = enums.EmailStatusFailed
		entry.Error = &msg
	}
	if err := d.emailLogs.CreateTx(tx, entry); err != nil {
		return fmt.Errorf("write email log %s: %w", event.ID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
