package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue for single-instance deployments and tests.
type MemoryQueue struct {
	ch chan QueueMessage
}

// NewMemoryQueue creates a MemoryQueue holding up to buffer pending jobs.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{ch: make(chan QueueMessage, buffer)}
}

// Send enqueues a job or blocks until ctx is done. The channel is FIFO for
// every group at once.
func (q *MemoryQueue) Send(ctx context.Context, job QueueJob) error {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	msg := QueueMessage{
		ID:            id,
		Body:          job.Body,
		ReceiptHandle: uuid.NewString(),
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to waitSeconds for the first job, then drains whatever else
// is ready without blocking. A zero wait blocks until a job or ctx is done.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var first QueueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first = <-q.ch:
	}

	out := []QueueMessage{first}
	for len(out) < maxMessages {
		select {
		case msg := <-q.ch:
			out = append(out, msg)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Delete is a no-op; received jobs are already gone from the channel.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}

// Len reports the number of pending jobs.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
