package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/endovel/clinic-platform/internal/conversation"
	"github.com/endovel/clinic-platform/internal/observability/metrics"
	"github.com/endovel/clinic-platform/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.whatsapp")

const (
	defaultGraphAPIBase = "https://graph.facebook.com"
	defaultAPIVersion   = "v21.0"
	defaultHTTPTimeout  = 10 * time.Second
	maxSendAttempts     = 3
)

// ClientConfig holds the Cloud API credentials. PhoneNumberID is the default
// business number; SendText may address another number of the same account.
type ClientConfig struct {
	PhoneNumberID string
	AccessToken   string
	APIVersion    string
}

// Client sends text messages through the WhatsApp Cloud API.
type Client struct {
	cfg        ClientConfig
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.MessagingMetrics
	retryDelay func() time.Duration
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the Graph API host, e.g. for tests.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMessagingMetrics counts sends by outcome.
func WithMessagingMetrics(m *metrics.MessagingMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds a Cloud API client.
func NewClient(cfg ClientConfig, logger *logging.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    defaultGraphAPIBase,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
		retryDelay: func() time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ conversation.Sender = (*Client)(nil)

// SendText delivers one text message from the business number from (the
// configured one when empty), retrying network errors, 429 and 5xx.
func (c *Client) SendText(ctx context.Context, from, to, body string) error {
	if from == "" {
		from = c.cfg.PhoneNumberID
	}
	if from == "" || c.cfg.AccessToken == "" {
		return errors.New("whatsapp: credentials missing")
	}
	if to == "" {
		return errors.New("whatsapp: recipient required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("whatsapp: body required")
	}

	ctx, span := tracer.Start(ctx, "whatsapp.send_text")
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.phone_number_id", from))

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: body},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal send request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.cfg.APIVersion, from)

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		messageID, retry, err := c.post(ctx, endpoint, payload)
		if err == nil {
			c.metrics.ObserveOutbound("sent")
			c.logger.Debug("whatsapp message sent", "from", from, "to", to, "message_id", messageID, "attempt", attempt)
			return nil
		}
		lastErr = err
		if !retry || attempt == maxSendAttempts {
			break
		}
		if waitErr := sleepCtx(ctx, c.retryDelay()); waitErr != nil {
			lastErr = errors.Join(lastErr, waitErr)
			break
		}
	}

	c.metrics.ObserveOutbound("failed")
	span.RecordError(lastErr)
	return lastErr
}

// post performs one attempt and reports whether a failure is worth retrying.
func (c *Client) post(ctx context.Context, endpoint string, payload []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	var parsed sendResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var id string
		if len(parsed.Messages) > 0 {
			id = parsed.Messages[0].ID
		}
		return id, false, nil
	}

	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", retry, fmt.Errorf("whatsapp: status %d code %d: %s", resp.StatusCode, parsed.Error.Code, parsed.Error.Message)
	}
	return "", retry, fmt.Errorf("whatsapp: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
