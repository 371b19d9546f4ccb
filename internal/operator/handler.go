package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/endovel/clinic-platform/internal/clinic"
	"github.com/endovel/clinic-platform/internal/conversation"
	httpmiddleware "github.com/endovel/clinic-platform/internal/http/middleware"
	"github.com/endovel/clinic-platform/internal/tenancy"
	"github.com/endovel/clinic-platform/pkg/logging"
)

const replyTimeout = 15 * time.Second

var errInvalidReply = errors.New("operator: phone and message are required")

// replyError carries the HTTP status of a failed reply.
type replyError struct {
	status int
	err    error
}

func (e *replyError) Error() string { return e.err.Error() }
func (e *replyError) Unwrap() error { return e.err }

// ReplyRequest is the body of POST /operator/replies.
type ReplyRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Handler serves the staff side of the operator branch.
type Handler struct {
	hub      *Hub
	repos    conversation.RepositoryProvider
	sender   conversation.Sender
	settings conversation.SettingsSource
	upgrader websocket.Upgrader
	logger   *logging.Logger
	now      func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSettings resolves the WhatsApp number staff replies are sent from.
func WithSettings(s conversation.SettingsSource) HandlerOption {
	return func(h *Handler) { h.settings = s }
}

// WithAllowedOrigins lets the dashboard origins open the feed, using the same
// patterns as the CORS policy. Same-host requests always pass.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) { h.upgrader.CheckOrigin = originChecker(origins) }
}

// NewHandler creates the operator console handler.
func NewHandler(hub *Hub, repos conversation.RepositoryProvider, sender conversation.Sender, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if hub == nil {
		panic("operator: hub cannot be nil")
	}
	if repos == nil {
		panic("operator: repository provider cannot be nil")
	}
	if sender == nil {
		panic("operator: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		hub:    hub,
		repos:  repos,
		sender: sender,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListInteractions handles GET /operator/interactions.
func (h *Handler) ListInteractions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenancy.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "Tenant not resolved", http.StatusBadRequest)
		return
	}
	filter := clinic.InteractionFilter{
		Kinds: []string{
			clinic.InteractionOperatorRequest,
			clinic.InteractionOperatorMessage,
			clinic.InteractionOperatorReply,
		},
		Phone: normalizePhone(r.URL.Query().Get("phone")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	repo, err := h.repos.ForTenant(r.Context(), tenant.Code)
	if err != nil {
		h.logger.Error("failed to open tenant database", "error", err, "tenant", tenant.Code)
		http.Error(w, "Clinic database unavailable", http.StatusServiceUnavailable)
		return
	}
	items, err := repo.ListInteractions(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list operator interactions", "error", err, "tenant", tenant.Code)
		http.Error(w, "Failed to list interactions", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []clinic.Interaction{}
	}
	h.writeJSON(w, http.StatusOK, items)
}

// Reply handles POST /operator/replies.
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenancy.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "Tenant not resolved", http.StatusBadRequest)
		return
	}
	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ev, err := h.reply(r.Context(), tenant.Code, staffSubject(r.Context()), req)
	if err != nil {
		var re *replyError
		if errors.As(err, &re) {
			http.Error(w, re.err.Error(), re.status)
			return
		}
		http.Error(w, "Failed to send reply", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, ev)
}

// Feed handles GET /operator/feed, upgrading to a websocket that streams
// operator events and accepts reply frames.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenancy.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "Tenant not resolved", http.StatusBadRequest)
		return
	}
	staff := staffSubject(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("operator feed upgrade failed", "error", err, "tenant", tenant.Code)
		return
	}
	client := newClient(conn, tenant.Code, staff)
	if !h.hub.Register(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()

	client.readPump(func(f frame) {
		if f.Type != "reply" {
			h.hub.sendTo(client, conversation.OperatorEvent{
				Type: EventError, Tenant: tenant.Code, Message: "unknown frame type", At: h.now().UTC(),
			})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), replyTimeout)
		defer cancel()
		if _, err := h.reply(ctx, tenant.Code, staff, ReplyRequest{Phone: f.Phone, Message: f.Message}); err != nil {
			h.hub.sendTo(client, conversation.OperatorEvent{
				Type: EventError, Tenant: tenant.Code, Phone: f.Phone, Message: err.Error(), At: h.now().UTC(),
			})
		}
	})
	h.hub.Unregister(client)
}

// reply sends a staff message to the patient, records it and tells the other
// consoles of the clinic.
func (h *Handler) reply(ctx context.Context, tenant, staff string, req ReplyRequest) (conversation.OperatorEvent, error) {
	phone := normalizePhone(req.Phone)
	message := strings.TrimSpace(req.Message)
	if phone == "" || message == "" {
		return conversation.OperatorEvent{}, &replyError{status: http.StatusBadRequest, err: errInvalidReply}
	}

	repo, err := h.repos.ForTenant(ctx, tenant)
	if err != nil {
		h.logger.Error("failed to open tenant database", "error", err, "tenant", tenant)
		return conversation.OperatorEvent{}, &replyError{status: http.StatusServiceUnavailable, err: errors.New("clinic database unavailable")}
	}
	var from string
	if h.settings != nil {
		settings, err := h.settings.SettingsFor(ctx, tenant)
		if err != nil {
			h.logger.Error("failed to resolve tenant settings", "error", err, "tenant", tenant)
			return conversation.OperatorEvent{}, &replyError{status: http.StatusServiceUnavailable, err: errors.New("clinic settings unavailable")}
		}
		from = settings.PhoneNumberID
	}

	if err := h.sender.SendText(ctx, from, phone, message); err != nil {
		h.logger.Error("failed to send operator reply", "error", err, "tenant", tenant, "staff", staff)
		return conversation.OperatorEvent{}, &replyError{status: http.StatusBadGateway, err: errors.New("whatsapp send failed")}
	}

	at := h.now().UTC()
	if err := repo.RecordInteraction(ctx, clinic.Interaction{
		Phone:     phone,
		Message:   message,
		Kind:      clinic.InteractionOperatorReply,
		CreatedAt: at,
	}); err != nil {
		h.logger.Error("failed to record operator reply", "error", err, "tenant", tenant)
	}

	ev := conversation.OperatorEvent{
		Type:    EventReply,
		Tenant:  tenant,
		Phone:   phone,
		Message: message,
		Staff:   staff,
		At:      at,
	}
	h.hub.Publish(ev)
	h.logger.Info("operator reply sent", "tenant", tenant, "staff", staff)
	return ev, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func staffSubject(ctx context.Context) string {
	if claims, ok := httpmiddleware.StaffClaimsFromContext(ctx); ok {
		return claims.Subject
	}
	return ""
}

func normalizePhone(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "+")
}

func originChecker(origins []string) func(*http.Request) bool {
	policy := httpmiddleware.CORSPolicy{AllowedOrigins: origins}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || policy.AllowsOrigin(origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
