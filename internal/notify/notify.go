// Package notify publishes note status changes made by the workers.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
)

// Event describes one note status change
type Event struct {
	NoteID    string            `json:"note_id"`
	OwnerID   string            `json:"owner_id"`
	Status    domain.NoteStatus `json:"status"`
	JobID     string            `json:"job_id"`
	Queue     domain.QueueName  `json:"queue"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// RoutingKey is the topic an event is published under
func (e Event) RoutingKey() string {
	return "note.status." + string(e.Status)
}

// Notifier delivers events. Implementations log failures instead of returning
// them to the caller, so a broken sink never fails a job.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Publisher is the subset of the RabbitMQ client used by BrokerNotifier
type Publisher interface {
	PublishWithRetry(ctx context.Context, exchange, routingKey string, body []byte, contentType string) error
}

// BrokerNotifier publishes events to a topic exchange
type BrokerNotifier struct {
	publisher Publisher
	exchange  string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewBrokerNotifier creates a BrokerNotifier publishing to exchange
func NewBrokerNotifier(publisher Publisher, exchange string, timeout time.Duration, logger *slog.Logger) *BrokerNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BrokerNotifier{
		publisher: publisher,
		exchange:  exchange,
		timeout:   timeout,
		logger:    logger,
	}
}

func (n *BrokerNotifier) Notify(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to encode note event",
			slog.String("note_id", event.NoteID),
			slog.Any("error", err),
		)
		return
	}

	// detached from job cancellation so terminal events still go out on shutdown
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.publisher.PublishWithRetry(pubCtx, n.exchange, event.RoutingKey(), body, "application/json"); err != nil {
		n.logger.Error("Failed to publish note event",
			slog.String("note_id", event.NoteID),
			slog.String("status", string(event.Status)),
			slog.Any("error", err),
		)
	}
}

// LogNotifier writes events to the log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) {
	attrs := []any{
		slog.String("note_id", event.NoteID),
		slog.String("owner_id", event.OwnerID),
		slog.String("status", string(event.Status)),
		slog.String("job_id", event.JobID),
		slog.String("queue", string(event.Queue)),
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	n.logger.Info("Note status changed", attrs...)
}

// NewNoop returns a notifier that discards events
func NewNoop() Notifier {
	return noopNotifier{}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Event) {}

// Multi fans an event out to several notifiers
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
