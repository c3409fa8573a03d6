package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventEnvelope is the shared envelope for v1 contracts.
type EventEnvelope struct {
	EventName     string          `json:"eventName"`
	EventVersion  int             `json:"eventVersion"`
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Producer      string          `json:"producer"`
	PartitionKey  string          `json:"partitionKey"`
	Sequence      int64           `json:"sequence,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Schema        string          `json:"schema"`
	Payload       json.RawMessage `json:"payload"`
}

func (e EventEnvelope) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("unexpected eventName %q", e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("unexpected eventVersion %d", e.EventVersion)
	}
	if e.PartitionKey == "" {
		return fmt.Errorf("missing partitionKey")
	}
	if e.EventID == "" {
		return fmt.Errorf("missing eventId")
	}
	return nil
}

// EventMeta is the tracing context copied onto an outgoing envelope.
type EventMeta struct {
	CorrelationID string
	CausationID   string
	PartitionKey  string
}

func newEnvelope(name, schema string, meta EventMeta, seq int64, producer string, payload any, occurredAt time.Time) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return EventEnvelope{
		EventName:     name,
		EventVersion:  1,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      producer,
		PartitionKey:  meta.PartitionKey,
		Sequence:      seq,
		OccurredAt:    occurredAt,
		Schema:        schema,
		Payload:       raw,
	}, nil
}

// decodeEvent reads either an enveloped event or a bare legacy payload into
// out. The envelope is nil for legacy messages.
func decodeEvent(body []byte, expectedName string, out any) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", expectedName, err)
	}
	if env.EventName == "" {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("unmarshal legacy %s: %w", expectedName, err)
		}
		return nil, nil
	}
	if err := env.Validate(expectedName, 1); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", expectedName, err)
	}
	return &env, nil
}
