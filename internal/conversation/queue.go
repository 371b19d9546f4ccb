package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Queue carries encoded conversation jobs between the webhook and the worker.
type Queue interface {
	Send(ctx context.Context, job QueueJob) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueJob is one job to send. Jobs sharing a GroupKey are delivered in order
// by queues that support it; ID deduplicates redeliveries of the same job.
type QueueJob struct {
	ID       string
	GroupKey string
	Body     string
}

// QueueMessage is one received job; ReceiptHandle acknowledges it on Delete.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const jobTypeInbound jobType = "whatsapp.inbound.v1"

type queuePayload struct {
	ID      string         `json:"id"`
	Kind    jobType        `json:"kind"`
	Inbound InboundMessage `json:"inbound"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}
