package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// ErrNoDecoder means no decoder matches the row's event type and version.
// Retrying such a row cannot succeed.
var ErrNoDecoder = errors.New("outbox: no decoder registered")

type DecoderFunc func(payload json.RawMessage) (any, error)

// JSONDecoder unmarshals a payload into a T value.
func JSONDecoder[T any]() DecoderFunc {
	return func(payload json.RawMessage) (any, error) {
		var out T
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("decode %T: %w", out, err)
		}
		return out, nil
	}
}

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, payload version) to a decoder.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]DecoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]DecoderFunc)}
}

// Register panics on a duplicate key; registration happens at startup.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecoderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := decoderKey{eventType: eventType, version: version}
	if _, exists := r.decoders[key]; exists {
		panic(fmt.Sprintf("outbox: decoder for %s@v%d registered twice", eventType, version))
	}
	r.decoders[key] = decoder
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	decoder, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s@v%d", ErrNoDecoder, eventType, version)
	}
	return decoder(payload)
}
