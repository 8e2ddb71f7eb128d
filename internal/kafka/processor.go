// Package kafka carries the engine's transport: a consumer that feeds
// incoming activities into the evaluation pipeline and a producer that
// publishes lifecycle events.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"sentinelops/internal/config"
	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/lifecycle"
)

// ActivityMessage is the wire form of an incoming activity.
type ActivityMessage struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Priority    string          `json:"priority"`
	Description string          `json:"description"`
	Location    domain.Location `json:"location"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Confidence  *float64        `json:"confidence,omitempty"`
	ReportedBy  string          `json:"reported_by"`
	Tags        []string        `json:"tags,omitempty"`
	Attributes  map[string]any  `json:"attributes,omitempty"`
	Actor       *ActorMessage   `json:"actor,omitempty"`
}

// ActorMessage identifies who submitted the activity.
type ActorMessage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Consumer reads activity messages and runs each through the evaluation
// pipeline.
type Consumer struct {
	cfg           *config.Config
	logger        *slog.Logger
	reader        *kafka.Reader
	service       *lifecycle.Service
	shutdownChan  chan struct{}
	wg            sync.WaitGroup
	messageCount  atomic.Int64
	errorCount    atomic.Int64
	lastProcessed atomic.Int64
}

// NewConsumer creates a Kafka consumer for the activities topic.
func NewConsumer(cfg *config.Config, logger *slog.Logger, service *lifecycle.Service) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		Topic:          cfg.Kafka.Topics.Activities,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		Logger:         &kafkaLogger{logger: logger},
		ErrorLogger:    &kafkaErrorLogger{logger: logger},
	})

	return &Consumer{
		cfg:          cfg,
		logger:       logger,
		reader:       reader,
		service:      service,
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the consumer loop.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("starting Kafka consumer",
		"topic", c.cfg.Kafka.Topics.Activities,
		"group_id", c.cfg.Kafka.GroupID)
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop closes the reader and waits for the loop to drain.
func (c *Consumer) Stop() {
	c.logger.Info("stopping Kafka consumer")
	close(c.shutdownChan)
	if c.reader != nil {
		c.reader.Close()
	}
	c.wg.Wait()
	c.logger.Info("Kafka consumer stopped",
		"messages_processed", c.messageCount.Load(),
		"errors", c.errorCount.Load())
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdownChan:
			return
		default:
			readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			message, err := c.reader.ReadMessage(readCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				select {
				case <-c.shutdownChan:
					return
				default:
				}
				c.logger.Error("failed to read Kafka message", "error", err)
				c.errorCount.Add(1)
				time.Sleep(time.Second)
				continue
			}

			if err := c.processMessage(ctx, &message); err != nil {
				c.logger.Error("failed to process activity message",
					"partition", message.Partition,
					"offset", message.Offset,
					"error", err)
				c.errorCount.Add(1)
			} else {
				c.messageCount.Add(1)
				c.lastProcessed.Store(time.Now().UnixNano())
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, message *kafka.Message) error {
	var msg ActivityMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal activity message: %w", err)
	}

	activity := &domain.Activity{
		ID:          msg.ID,
		Type:        domain.ActivityType(msg.Type),
		Priority:    domain.Priority(msg.Priority),
		Description: msg.Description,
		Location:    msg.Location,
		OccurredAt:  msg.OccurredAt,
		Confidence:  msg.Confidence,
		CreatedBy:   msg.ReportedBy,
		Tags:        msg.Tags,
		Attributes:  msg.Attributes,
	}

	actor := lifecycle.SystemActor
	if msg.Actor != nil {
		actor = domain.ActorContext{
			UserID:   msg.Actor.ID,
			UserName: msg.Actor.Name,
			UserRole: domain.Role(msg.Actor.Role),
		}
	}

	_, err := c.service.EvaluateActivity(ctx, activity, actor)
	if errs.IsValidation(err) {
		// A malformed activity is this message's defect, not a transport
		// failure; log it and commit past it.
		c.logger.Warn("activity rejected by validation",
			"activity_id", msg.ID,
			"error", err)
		return nil
	}
	return err
}

// Stats reports consumer counters for the status endpoint.
func (c *Consumer) Stats() map[string]any {
	var last time.Time
	if nanos := c.lastProcessed.Load(); nanos != 0 {
		last = time.Unix(0, nanos).UTC()
	}
	return map[string]any{
		"messages_processed": c.messageCount.Load(),
		"errors":             c.errorCount.Load(),
		"last_processed":     last,
	}
}

// Producer publishes lifecycle events to the events topic. It satisfies the
// lifecycle Publisher contract: publish failures are logged, never returned.
type Producer struct {
	cfg        *config.Config
	logger     *slog.Logger
	writer     *kafka.Writer
	eventCount atomic.Int64
	errorCount atomic.Int64
}

// NewProducer creates a Kafka producer for the events topic.
func NewProducer(cfg *config.Config, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.Events,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  compress.Snappy,
		Logger:       &kafkaLogger{logger: logger},
		ErrorLogger:  &kafkaErrorLogger{logger: logger},
	}
	return &Producer{cfg: cfg, logger: logger, writer: writer}
}

// Publish writes one lifecycle event, keyed by entity id so per-entity
// ordering survives partitioning.
func (p *Producer) Publish(ctx context.Context, eventType, entityType, entityID string, payload any) {
	envelope := map[string]any{
		"type":        eventType,
		"entity_type": entityType,
		"entity_id":   entityID,
		"timestamp":   time.Now().UTC(),
		"payload":     payload,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		p.errorCount.Add(1)
		p.logger.Error("failed to marshal event", "event_type", eventType, "error", err)
		return
	}

	message := kafka.Message{
		Key:   []byte(entityID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "entity_type", Value: []byte(entityType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.errorCount.Add(1)
		p.logger.Error("failed to publish event",
			"event_type", eventType,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err)
		return
	}

	p.eventCount.Add(1)
	p.logger.Debug("event published",
		"event_type", eventType,
		"entity_type", entityType,
		"entity_id", entityID)
}

// Stop closes the writer.
func (p *Producer) Stop() {
	if p.writer != nil {
		p.writer.Close()
	}
	p.logger.Info("Kafka producer stopped",
		"events_published", p.eventCount.Load(),
		"errors", p.errorCount.Load())
}

// Stats reports producer counters for the status endpoint.
func (p *Producer) Stats() map[string]any {
	return map[string]any{
		"events_published": p.eventCount.Load(),
		"errors":           p.errorCount.Load(),
	}
}

type kafkaLogger struct {
	logger *slog.Logger
}

func (l *kafkaLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

type kafkaErrorLogger struct {
	logger *slog.Logger
}

func (l *kafkaErrorLogger) Printf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
