package publisher

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/internal/metrics"
)

// NATSPublisher publishes envelopes to NATS JetStream.
type NATSPublisher struct {
	logger  *zap.Logger
	nc      *nats.Conn
	js      nats.JetStreamContext
	service string
	runID   string
}

// NewNATS creates a NATS-backed Sink with JetStream enabled.
func NewNATS(logger *zap.Logger, nc *nats.Conn, service, runID string) (*NATSPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{
		logger:  logger,
		nc:      nc,
		js:      js,
		service: service,
		runID:   runID,
	}, nil
}

// Publish wraps payload in an Envelope and publishes it to the subject.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	env, data, err := newEnvelope(p.service, p.runID, subject, payload)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.Error(err))
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_id":     []string{env.ID.String()},
			"run_id":       []string{p.runID},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.EventPublishLatency, start, subject)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.Error(err))
		metrics.IncEvent(subject, "error")
		return err
	}

	metrics.IncEvent(subject, "ok")
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("publisher.nats_drain_failed", zap.Error(err))
		}
	}
}
