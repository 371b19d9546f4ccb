package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const fifoSuffix = ".fifo"

// SQSQueue carries conversation jobs over SQS so webhook and worker can run in
// separate processes. A FIFO queue (URL ending in .fifo) keeps the messages of
// one phone in order and drops webhook retries within the SQS dedupe window.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	fifo     bool
}

// NewSQSQueue creates a queue wrapper around the provided SQS client.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	if client == nil {
		panic("conversation: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("conversation: SQS queueURL cannot be empty")
	}
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, fifoSuffix),
	}
}

func (q *SQSQueue) Send(ctx context.Context, job QueueJob) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(job.Body),
	}
	if q.fifo {
		group := job.GroupKey
		if group == "" {
			group = "default"
		}
		input.MessageGroupId = aws.String(group)
		if job.ID != "" {
			input.MessageDeduplicationId = aws.String(dedupeID(job.ID))
		}
	}
	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("conversation: send sqs job: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 || maxMessages > 10 {
		maxMessages = 10
	}
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	}

	output, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("conversation: receive sqs jobs: %w", err)
	}

	messages := make([]QueueMessage, 0, len(output.Messages))
	for _, msg := range output.Messages {
		messages = append(messages, QueueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}

	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}

	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("conversation: delete sqs job: %w", err)
	}
	return nil
}

// dedupeID keeps the ID within the 128 characters SQS accepts.
func dedupeID(id string) string {
	if len(id) <= 128 {
		return id
	}
	return id[len(id)-128:]
}
