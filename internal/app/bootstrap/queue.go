package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/endovel/clinic-platform/internal/config"
	"github.com/endovel/clinic-platform/internal/conversation"
	"github.com/endovel/clinic-platform/pkg/logging"
)

const memoryQueueBuffer = 256

// SQSClientFactory builds the SQS client for the process.
type SQSClientFactory func(ctx context.Context, cfg *appconfig.Config) (*sqs.Client, error)

// BuildQueue returns the conversation job queue: in-process when
// USE_MEMORY_QUEUE is set, SQS otherwise.
func BuildQueue(ctx context.Context, cfg *appconfig.Config, newSQS SQSClientFactory, logger *logging.Logger) (conversation.Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue {
		logger.Info("conversation jobs use the in-memory queue")
		return conversation.NewMemoryQueue(memoryQueueBuffer), nil
	}

	queueURL := strings.TrimSpace(cfg.ConversationQueueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("bootstrap: CONVERSATION_QUEUE_URL is required when USE_MEMORY_QUEUE is false")
	}
	if newSQS == nil {
		return nil, fmt.Errorf("bootstrap: sqs client factory is required")
	}
	client, err := newSQS(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sqs client: %w", err)
	}
	logger.Info("conversation jobs use sqs", "queue_url", queueURL)
	return conversation.NewSQSQueue(client, queueURL), nil
}
