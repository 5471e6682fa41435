package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

// EnvelopeVersion is the schema version written by Emit.
const EnvelopeVersion = 2

var errNoData = errors.New("envelope carries no data")

// Actor identifies who produced an event. Exactly one of CustomerID or System
// is normally set; guest checkouts use System.
type Actor struct {
	CustomerID *uuid.UUID         `json:"customerId,omitempty"`
	Role       enums.CustomerRole `json:"role,omitempty"`
	System     string             `json:"system,omitempty"`
}

// Aggregate names the entity an event is about.
type Aggregate struct {
	Type enums.OutboxAggregateType `json:"type"`
	ID   uuid.UUID                 `json:"id"`
}

// Envelope is the JSON stored in outbox_events.payload and published as the
// message body. EventID equals the outbox row id so consumers can dedupe on
// it across publisher retries and dead-letter replays.
type Envelope struct {
	Version    int                   `json:"version"`
	EventID    uuid.UUID             `json:"eventId"`
	EventType  enums.OutboxEventType `json:"eventType"`
	Aggregate  Aggregate             `json:"aggregate"`
	OccurredAt time.Time             `json:"occurredAt"`
	Actor      *Actor                `json:"actor,omitempty"`
	Data       json.RawMessage       `json:"data"`
}

// DecodeEnvelope parses a stored payload. Version 1 rows predate the
// event id and aggregate fields; they are filled from fallback.
func DecodeEnvelope(raw []byte, fallback Aggregate, eventID uuid.UUID) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.Version < 1 || env.Version > EnvelopeVersion:
		return Envelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	case env.Version == 1:
		env.EventID = eventID
		env.Aggregate = fallback
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Envelope{}, errNoData
	}
	return env, nil
}
