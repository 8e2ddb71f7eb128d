// Package notify delivers lifecycle events to an external webhook. Delivery
// is fire-and-forget: a failed or dropped delivery is logged and counted but
// never surfaces to the caller.
package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"sentinelops/internal/config"
)

// Event is the webhook payload envelope.
type Event struct {
	ID         string    `json:"id,omitempty"`
	Type       string    `json:"type"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// Notifier posts events to the configured webhook, rate-limited and with
// retries. It satisfies the lifecycle Publisher contract.
type Notifier struct {
	cfg          config.NotifyConfig
	logger       *slog.Logger
	client       *resty.Client
	limiter      *rate.Limiter
	queue        chan Event
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	sentCount    atomic.Int64
	errorCount   atomic.Int64
	droppedCount atomic.Int64
}

// New creates a notifier. Delivery is disabled when no webhook URL is
// configured or DisableDeliver is set; events are then logged and discarded.
func New(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "sentinelops-correlation-engine/1.0")

	return &Notifier{
		cfg:          cfg,
		logger:       logger,
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		queue:        make(chan Event, 256),
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the delivery worker.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go n.worker(ctx)
	n.logger.Info("notifier started",
		"webhook_configured", n.deliveryEnabled(),
		"rate_per_second", n.cfg.RatePerSecond)
}

// Stop drains the queue and stops the worker.
func (n *Notifier) Stop() {
	close(n.shutdownChan)
	n.wg.Wait()
	n.logger.Info("notifier stopped",
		"sent", n.sentCount.Load(),
		"errors", n.errorCount.Load(),
		"dropped", n.droppedCount.Load())
}

// Publish enqueues an event for delivery. It never blocks: when the queue is
// full the event is dropped and counted.
func (n *Notifier) Publish(ctx context.Context, eventType, entityType, entityID string, payload any) {
	event := Event{
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
	select {
	case n.queue <- event:
	default:
		n.droppedCount.Add(1)
		n.logger.Warn("notification queue full, event dropped",
			"event_type", eventType,
			"entity_type", entityType,
			"entity_id", entityID)
	}
}

func (n *Notifier) deliveryEnabled() bool {
	return n.cfg.WebhookURL != "" && !n.cfg.DisableDeliver
}

func (n *Notifier) worker(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.shutdownChan:
			// Drain what is already queued before stopping.
			for {
				select {
				case event := <-n.queue:
					n.deliver(context.Background(), event)
				default:
					return
				}
			}
		case event := <-n.queue:
			n.deliver(ctx, event)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, event Event) {
	if !n.deliveryEnabled() {
		n.logger.Debug("notification delivery disabled",
			"event_type", event.Type,
			"entity_id", event.EntityID)
		return
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.errorCount.Add(1)
		n.logger.Error("failed to marshal notification event",
			"event_type", event.Type,
			"error", err)
		return
	}

	req := n.client.R().SetContext(ctx).SetBody(body)
	if n.cfg.SigningSecret != "" {
		req.SetHeader("X-Signature", sign(body, n.cfg.SigningSecret))
	}

	resp, err := req.Post(n.cfg.WebhookURL)
	if err != nil {
		n.errorCount.Add(1)
		n.logger.Error("webhook delivery failed",
			"event_type", event.Type,
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"error", err)
		return
	}
	if resp.IsError() {
		n.errorCount.Add(1)
		n.logger.Error("webhook returned error status",
			"event_type", event.Type,
			"entity_id", event.EntityID,
			"status", resp.StatusCode())
		return
	}

	n.sentCount.Add(1)
	n.logger.Debug("notification delivered",
		"event_type", event.Type,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"status", resp.StatusCode())
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Stats reports delivery counters for the status endpoint.
func (n *Notifier) Stats() map[string]any {
	return map[string]any{
		"sent":    n.sentCount.Load(),
		"errors":  n.errorCount.Load(),
		"dropped": n.droppedCount.Load(),
		"enabled": n.deliveryEnabled(),
	}
}
