package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the payload layout Emit writes. Readers accept any
// version up to it.
const EnvelopeVersion = 1

// ErrEmptyPayload is returned when an envelope carries no data.
var ErrEmptyPayload = errors.New("envelope data is empty")

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID *uuid.UUID `json:"userId,omitempty"`
	Role   string     `json:"role"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// published verbatim as the pubsub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses raw and rejects versions newer than this build
// understands. A missing version is read as 1, the first layout.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version == 0 {
		envelope.Version = 1
	}
	if envelope.Version < 0 || envelope.Version > EnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d", envelope.Version)
	}
	return envelope, nil
}

// DecodeData unmarshals the event data into dest.
func (e PayloadEnvelope) DecodeData(dest any) error {
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyPayload
	}
	return json.Unmarshal(trimmed, dest)
}
