// Package events publishes fulfillment outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/config"
)

// OutcomeEventType identifies the payload schema of outcome messages
const OutcomeEventType = "fulfillment.outcome.v1"

// DefaultTopic receives outcome events when none is configured
const DefaultTopic = "vipm.fulfillment.outcomes"

// OutcomeEvent is the JSON value of an outcome message
type OutcomeEvent struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	OccurredAt    time.Time `json:"occurredAt"`
	OrderID       string    `json:"orderId"`
	OrderType     string    `json:"orderType"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	VendorOrderID string    `json:"vendorOrderId,omitempty"`
}

// MessageWriter is the subset of kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is an outcome observer that can be closed on shutdown
type Publisher interface {
	app.OutcomeObserver
	Close() error
}

// KafkaPublisher writes completed, failed and queried outcomes keyed by
// order id, so every order's events land on one partition.
type KafkaPublisher struct {
	writer       MessageWriter
	writeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaWriter builds a hash-balanced writer for the configured topic
func NewKafkaWriter(cfg config.EventsConfig) *kafka.Writer {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaPublisher creates a publisher over writer
func NewKafkaPublisher(writer MessageWriter, writeTimeout time.Duration, logger *zap.Logger) *KafkaPublisher {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer:       writer,
		writeTimeout: writeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// New returns a Kafka publisher when events are enabled, a no-op otherwise
func New(cfg config.EventsConfig, logger *zap.Logger) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(NewKafkaWriter(cfg), cfg.WriteTimeout, logger)
}

// Publishes reports whether an outcome is published
func Publishes(o app.Outcome) bool {
	switch o {
	case app.OutcomeCompleted, app.OutcomeFailed, app.OutcomeQueried:
		return true
	default:
		return false
	}
}

// ObserveOutcome publishes the result. Failures are logged, never returned.
func (p *KafkaPublisher) ObserveOutcome(ctx context.Context, result app.Result) {
	if !Publishes(result.Outcome) {
		return
	}

	value, err := json.Marshal(OutcomeEvent{
		EventID:       uuid.NewString(),
		EventType:     OutcomeEventType,
		OccurredAt:    p.now().UTC(),
		OrderID:       result.OrderID,
		OrderType:     string(result.OrderType),
		Outcome:       string(result.Outcome),
		Reason:        result.Reason,
		VendorOrderID: result.VendorOrderID,
	})
	if err != nil {
		p.logger.Error("Failed to encode outcome event", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(result.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(OutcomeEventType)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(&msg.Headers))

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		p.logger.Error("Failed to publish outcome event",
			zap.String("order_id", result.OrderID),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("Outcome event published",
		zap.String("order_id", result.OrderID),
		zap.String("outcome", string(result.Outcome)),
	)
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every outcome
type NopPublisher struct{}

// ObserveOutcome does nothing
func (NopPublisher) ObserveOutcome(context.Context, app.Result) {}

// Close does nothing
func (NopPublisher) Close() error { return nil }
