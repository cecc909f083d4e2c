package publisher

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/internal/metrics"
)

// RabbitPublisher publishes envelopes to RabbitMQ on the default exchange,
// using the event subject as the routing key.
type RabbitPublisher struct {
	logger  *zap.Logger
	conn    *amqp.Connection
	channel *amqp.Channel
	service string
	runID   string
}

// NewRabbit dials the broker and opens a channel.
func NewRabbit(logger *zap.Logger, url, service, runID string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &RabbitPublisher{
		logger:  logger,
		conn:    conn,
		channel: channel,
		service: service,
		runID:   runID,
	}, nil
}

// Publish wraps payload in an Envelope and publishes it with the subject as
// the routing key.
func (p *RabbitPublisher) Publish(ctx context.Context, subject string, payload any) error {
	env, data, err := newEnvelope(p.service, p.runID, subject, payload)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.Error(err))
		return err
	}

	start := time.Now()
	err = p.channel.PublishWithContext(
		ctx,
		"",      // exchange
		subject, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   env.ID.String(),
			Timestamp:   env.Timestamp,
			AppId:       p.service,
			Body:        data,
		},
	)
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

func (p *RabbitPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Warn("publisher.rabbit_close_failed", zap.Error(err))
		}
	}
}
