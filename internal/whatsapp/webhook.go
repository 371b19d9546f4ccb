package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/endovel/clinic-platform/internal/conversation"
	"github.com/endovel/clinic-platform/internal/observability/metrics"
	"github.com/endovel/clinic-platform/pkg/logging"
)

const maxWebhookBody = 1 << 20

// Enqueuer hands inbound messages to asynchronous processing.
type Enqueuer interface {
	EnqueueInbound(ctx context.Context, msg conversation.InboundMessage) error
}

// WebhookHandler serves the Meta verification handshake and inbound deliveries.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	tenants     *TenantRouter
	queue       Enqueuer
	logger      *logging.Logger
	metrics     *metrics.MessagingMetrics
}

// NewWebhookHandler creates a webhook handler. An empty appSecret disables
// signature verification.
func NewWebhookHandler(verifyToken, appSecret string, tenants *TenantRouter, queue Enqueuer, logger *logging.Logger, m *metrics.MessagingMetrics) *WebhookHandler {
	if tenants == nil {
		panic("whatsapp: tenant router required")
	}
	if queue == nil {
		panic("whatsapp: queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		tenants:     tenants,
		queue:       queue,
		logger:      logger,
		metrics:     m,
	}
}

// Verify handles GET /webhook.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken != "" && q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		h.logger.Info("whatsapp webhook verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// Receive handles POST /webhook. Text messages are queued and acknowledged;
// every other message type is ignored.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveWebhookLatency(r.Method, time.Since(start).Seconds())
	}()

	ctx, span := tracer.Start(r.Context(), "whatsapp.webhook.receive")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if h.appSecret != "" && !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("whatsapp webhook signature rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("invalid whatsapp webhook payload", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	messages := h.parse(event)
	span.SetAttributes(attribute.Int("whatsapp.messages", len(messages)))
	for _, msg := range messages {
		if err := h.queue.EnqueueInbound(ctx, msg); err != nil {
			span.RecordError(err)
			h.logger.Error("failed to enqueue whatsapp message", "error", err, "message_id", msg.ID, "tenant", msg.Tenant)
			h.metrics.ObserveInbound("text", "enqueue_failed")
			http.Error(w, "Temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		h.metrics.ObserveInbound("text", "queued")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "received"})
}

func (h *WebhookHandler) parse(event WebhookEvent) []conversation.InboundMessage {
	var out []conversation.InboundMessage
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			for _, m := range value.Messages {
				if m.Type != "text" || m.Text == nil {
					h.metrics.ObserveInbound(messageType(m.Type), "ignored")
					h.logger.Debug("ignoring non-text whatsapp message", "type", m.Type, "message_id", m.ID)
					continue
				}
				tenant, ok := h.tenants.Tenant(value.Metadata.PhoneNumberID)
				if !ok {
					h.metrics.ObserveInbound("text", "unrouted")
					h.logger.Warn("no tenant for whatsapp number", "phone_number_id", value.Metadata.PhoneNumberID)
					continue
				}
				out = append(out, conversation.InboundMessage{
					ID:            m.ID,
					Tenant:        tenant,
					From:          m.From,
					Text:          m.Text.Body,
					PhoneNumberID: value.Metadata.PhoneNumberID,
					ReceivedAt:    parseTimestamp(m.Timestamp),
				})
			}
		}
	}
	return out
}

func messageType(t string) string {
	switch t {
	case "text", "image", "audio", "video", "document", "sticker", "location", "contacts", "interactive", "button", "reaction":
		return t
	}
	return "other"
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

// VerifySignature checks the X-Hub-Signature-256 header against the app secret.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if appSecret == "" || !strings.HasPrefix(signature, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}
