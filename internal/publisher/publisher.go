// Package publisher delivers onboarding lifecycle events to a message bus.
// Two interchangeable sinks exist (NATS JetStream and RabbitMQ); deployments
// pick one via configuration, and the run works fine with none at all.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/forgeline/sonar-onboarder/internal/metrics"
)

// Sink publishes lifecycle events.
type Sink interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close()
}

// Envelope is the wire form of a lifecycle event.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	RunID     string          `json:"run_id"`
	Service   string          `json:"service"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// newEnvelope wraps payload in an Envelope and returns its JSON encoding.
func newEnvelope(service, runID, subject string, payload any) (*Envelope, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return nil, nil, err
	}

	env := &Envelope{
		ID:        uuid.New(),
		RunID:     runID,
		Service:   service,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}

	data, err := json.Marshal(env)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return nil, nil, err
	}
	return env, data, nil
}
