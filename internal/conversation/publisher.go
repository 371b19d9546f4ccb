package conversation

import (
	"context"
	"fmt"

	"github.com/endovel/clinic-platform/pkg/logging"
)

// Publisher hands inbound WhatsApp messages to the worker pool.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueInbound publishes one inbound message. The message ID doubles as the job ID.
func (p *Publisher) EnqueueInbound(ctx context.Context, msg InboundMessage) error {
	payload, body, err := encodePayload(queuePayload{
		ID:      msg.ID,
		Kind:    jobTypeInbound,
		Inbound: msg,
	})
	if err != nil {
		return err
	}

	job := QueueJob{ID: payload.ID, GroupKey: msg.Tenant + ":" + msg.From, Body: body}
	if err := p.queue.Send(ctx, job); err != nil {
		return fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	p.logger.Debug("conversation job enqueued", "job_id", payload.ID, "kind", payload.Kind, "tenant", msg.Tenant)
	return nil
}
