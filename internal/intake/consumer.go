package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource is the subset of the RabbitMQ client used by the consumer
type DeliverySource interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Consumer reads upload messages from RabbitMQ and submits them
type Consumer struct {
	source   DeliverySource
	service  *Service
	tag      string
	prefetch int
	logger   *slog.Logger
}

// NewConsumer creates a Consumer
func NewConsumer(source DeliverySource, service *Service, tag string, prefetch int, logger *slog.Logger) *Consumer {
	return &Consumer{
		source:   source,
		service:  service,
		tag:      tag,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Run consumes until ctx is canceled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.tag, c.prefetch)
	if err != nil {
		return err
	}

	c.logger.Info("Intake consumer started",
		slog.String("consumer_tag", c.tag),
		slog.Int("prefetch", c.prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Intake consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

// handle acks, rejects or requeues one delivery
func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var req Request
	if err := json.Unmarshal(delivery.Body, &req); err != nil {
		c.logger.Error("Failed to parse intake message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// malformed messages go to the dead letter exchange, if any
		c.nack(delivery, false)
		return
	}

	jobID, err := c.service.Submit(ctx, req)
	switch {
	case err == nil:
		c.logger.Debug("Intake message accepted",
			slog.String("note_id", req.NoteID),
			slog.String("job_id", jobID),
		)
		c.ack(delivery)

	case errors.Is(err, domain.ErrDuplicateActiveJob):
		// redelivery of a message already turned into a job
		c.logger.Info("Note already queued, dropping duplicate intake message",
			slog.String("note_id", req.NoteID),
		)
		c.ack(delivery)

	case domain.IsValidation(err),
		errors.Is(err, domain.ErrNoteNotFound),
		errors.Is(err, domain.ErrInvalidTransition):
		c.logger.Error("Rejecting intake message",
			slog.String("note_id", req.NoteID),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, false)

	default:
		c.logger.Error("Failed to submit note, requeueing intake message",
			slog.String("note_id", req.NoteID),
			slog.Any("error", err),
		)
		c.nack(delivery, true)
	}
}

func (c *Consumer) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK intake message",
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK intake message",
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
	}
}
