package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/endovel/clinic-platform/internal/tenancy"
	"github.com/endovel/clinic-platform/pkg/logging"
)

type sessionAdmin interface {
	Session(ctx context.Context, key SessionKey) (*Session, bool, error)
	Reset(ctx context.Context, key SessionKey) error
}

// Handler exposes session inspection and reset for clinic staff.
type Handler struct {
	sessions sessionAdmin
	logger   *logging.Logger
}

// NewHandler creates a conversation admin handler.
func NewHandler(sessions sessionAdmin, logger *logging.Logger) *Handler {
	if sessions == nil {
		panic("conversation: session admin cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		sessions: sessions,
		logger:   logger,
	}
}

// Get handles GET /conversations/{phone}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	sess, found, err := h.sessions.Session(r.Context(), key)
	if err != nil {
		h.logger.Error("failed to load session", "error", err, "tenant", key.Tenant)
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

// Reset handles DELETE /conversations/{phone}.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Reset(r.Context(), key); err != nil {
		h.logger.Error("failed to reset session", "error", err, "tenant", key.Tenant)
		http.Error(w, "Failed to reset session", http.StatusInternalServerError)
		return
	}
	h.logger.Info("conversation reset by staff", "tenant", key.Tenant, "phone", key.Phone)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) key(w http.ResponseWriter, r *http.Request) (SessionKey, bool) {
	tenant, ok := tenancy.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "Tenant not resolved", http.StatusBadRequest)
		return SessionKey{}, false
	}
	phone := strings.TrimPrefix(strings.TrimSpace(chi.URLParam(r, "phone")), "+")
	if phone == "" {
		http.Error(w, "Phone required", http.StatusBadRequest)
		return SessionKey{}, false
	}
	return SessionKey{Tenant: tenant.Code, Phone: phone}, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
