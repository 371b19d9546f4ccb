package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/endovel/clinic-platform/internal/tenantdb"
	"github.com/endovel/clinic-platform/pkg/logging"
)

// Pinger checks a database connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CacheStatser exposes the tenant connection cache state.
type CacheStatser interface {
	Stats() tenantdb.Stats
}

const healthPingTimeout = 2 * time.Second

func healthHandler(db Pinger, logger *logging.Logger) http.HandlerFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logger.Warn("health check: master database unreachable", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func tenantCacheHandler(cache CacheStatser, logger *logging.Logger) http.HandlerFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		stats := cache.Stats()
		logger.Debug("tenant cache stats requested", "resident", stats.Resident)
		writeJSON(w, http.StatusOK, stats)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
