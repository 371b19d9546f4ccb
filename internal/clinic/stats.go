package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/endovel/clinic-platform/internal/tenancy"
	"github.com/endovel/clinic-platform/pkg/logging"
)

const defaultStatsWindow = 30 * 24 * time.Hour

// BookingStats summarizes WhatsApp bookings of one clinic over a period.
type BookingStats struct {
	Tenant           string `json:"tenant"`
	Booked           int64  `json:"booked"`
	Pending          int64  `json:"pending"`
	Confirmed        int64  `json:"confirmed"`
	Cancelled        int64  `json:"cancelled"`
	ReservationCents int64  `json:"reservation_cents"`
	OperatorRequests int64  `json:"operator_requests"`
	PeriodStart      string `json:"period_start"`
	PeriodEnd        string `json:"period_end"`
}

type statsDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StatsRepository aggregates booking metrics from a tenant database.
type StatsRepository struct {
	db statsDB
}

// NewStatsRepository creates a stats repository over a tenant pool.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	if pool == nil {
		panic("clinic: pgx pool required for stats")
	}
	return &StatsRepository{db: pool}
}

// NewStatsRepositoryWithDB allows injecting a mock database for testing.
func NewStatsRepositoryWithDB(db statsDB) *StatsRepository {
	return &StatsRepository{db: db}
}

// BookingStats counts appointments created by the WhatsApp flow in [start, end).
func (r *StatsRepository) BookingStats(ctx context.Context, start, end time.Time) (*BookingStats, error) {
	stats := &BookingStats{
		PeriodStart: start.Format(time.RFC3339),
		PeriodEnd:   end.Format(time.RFC3339),
	}

	appointmentsQuery := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'confirmed'),
		       COUNT(*) FILTER (WHERE status = 'cancelled'),
		       COALESCE(SUM(reservation_cents), 0)
		FROM appointments
		WHERE source = $1 AND created_at >= $2 AND created_at < $3`
	if err := r.db.QueryRow(ctx, appointmentsQuery, SourceWhatsAppBot, start, end).Scan(
		&stats.Booked, &stats.Pending, &stats.Confirmed, &stats.Cancelled, &stats.ReservationCents,
	); err != nil {
		return nil, fmt.Errorf("clinic stats: count appointments: %w", err)
	}

	operatorQuery := `SELECT COUNT(*) FROM chatbot_interactions WHERE kind = 'operator_request' AND created_at >= $1 AND created_at < $2`
	if err := r.db.QueryRow(ctx, operatorQuery, start, end).Scan(&stats.OperatorRequests); err != nil {
		return nil, fmt.Errorf("clinic stats: count operator requests: %w", err)
	}

	return stats, nil
}

// StatsSource opens the stats repository of a tenant.
type StatsSource interface {
	StatsForTenant(ctx context.Context, tenant string) (*StatsRepository, error)
}

// StatsHandler provides HTTP endpoints for clinic statistics.
type StatsHandler struct {
	source StatsSource
	logger *logging.Logger
	now    func() time.Time
}

// NewStatsHandler creates a new stats HTTP handler.
func NewStatsHandler(source StatsSource, logger *logging.Logger) *StatsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatsHandler{
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// GetStats returns WhatsApp booking metrics for the resolved tenant.
// GET /api/v1/stats
// Query params:
//   - start: RFC3339 timestamp for period start (optional)
//   - end: RFC3339 timestamp for period end (optional)
//
// Without both, the last 30 days are reported.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenancy.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error": "tenant required"}`, http.StatusBadRequest)
		return
	}

	end := h.now()
	start := end.Add(-defaultStatsWindow)
	qs, qe := r.URL.Query().Get("start"), r.URL.Query().Get("end")
	if (qs == "") != (qe == "") {
		http.Error(w, `{"error": "both start and end must be provided, or neither"}`, http.StatusBadRequest)
		return
	}
	if qs != "" {
		var err error
		if start, err = time.Parse(time.RFC3339, qs); err != nil {
			http.Error(w, `{"error": "invalid start time, use RFC3339 format"}`, http.StatusBadRequest)
			return
		}
		if end, err = time.Parse(time.RFC3339, qe); err != nil {
			http.Error(w, `{"error": "invalid end time, use RFC3339 format"}`, http.StatusBadRequest)
			return
		}
		if !end.After(start) {
			http.Error(w, `{"error": "end must be after start"}`, http.StatusBadRequest)
			return
		}
	}

	repo, err := h.source.StatsForTenant(r.Context(), tenant.Code)
	if err != nil {
		h.logger.Error("failed to open tenant stats", "tenant", tenant.Code, "error", err)
		http.Error(w, `{"error": "tenant database unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	stats, err := repo.BookingStats(r.Context(), start, end)
	if err != nil {
		h.logger.Error("failed to get booking stats", "tenant", tenant.Code, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	stats.Tenant = tenant.Code

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to encode booking stats", "tenant", tenant.Code, "error", err)
	}
}
