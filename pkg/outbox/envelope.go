package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload and rejects envelopes without data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode outbox envelope: %w", err)
	}
	if envelope.Version <= 0 {
		return PayloadEnvelope{}, errors.New("outbox envelope missing version")
	}
	if len(envelope.Data) == 0 {
		return PayloadEnvelope{}, errors.New("outbox envelope missing data")
	}
	return envelope, nil
}
