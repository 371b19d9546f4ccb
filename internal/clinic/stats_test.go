package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/endovel/clinic-platform/internal/tenancy"
	"github.com/endovel/clinic-platform/pkg/logging"
)

func expectStatsQueries(mock pgxmock.PgxPoolIface, start, end time.Time) {
	mock.ExpectQuery(`FROM appointments\s+WHERE source = \$1 AND created_at >= \$2 AND created_at < \$3`).
		WithArgs(SourceWhatsAppBot, start, end).
		WillReturnRows(pgxmock.NewRows([]string{"count", "pending", "confirmed", "cancelled", "sum"}).
			AddRow(int64(12), int64(5), int64(6), int64(1), int64(180000)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM chatbot_interactions WHERE kind = 'operator_request'`).
		WithArgs(start, end).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
}

func TestStatsRepository_BookingStats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	start := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expectStatsQueries(mock, start, end)

	stats, err := NewStatsRepositoryWithDB(mock).BookingStats(context.Background(), start, end)
	if err != nil {
		t.Fatalf("BookingStats failed: %v", err)
	}
	if stats.Booked != 12 || stats.Pending != 5 || stats.Confirmed != 6 || stats.Cancelled != 1 {
		t.Errorf("unexpected counts %#v", stats)
	}
	if stats.ReservationCents != 180000 {
		t.Errorf("ReservationCents = %d, want 180000", stats.ReservationCents)
	}
	if stats.OperatorRequests != 3 {
		t.Errorf("OperatorRequests = %d, want 3", stats.OperatorRequests)
	}
	if stats.PeriodStart != "2024-12-01T00:00:00Z" {
		t.Errorf("PeriodStart = %q", stats.PeriodStart)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepository_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM appointments`).WillReturnError(errors.New("connection refused"))

	if _, err := NewStatsRepositoryWithDB(mock).BookingStats(context.Background(), time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

type stubStatsSource struct {
	repo *StatsRepository
	err  error
	got  string
}

func (s *stubStatsSource) StatsForTenant(_ context.Context, tenant string) (*StatsRepository, error) {
	s.got = tenant
	return s.repo, s.err
}

func statsRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return req.WithContext(tenancy.WithTenant(req.Context(), tenancy.Tenant{ID: "t-1", Code: "velasco"}))
}

func TestStatsHandler_GetStats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	start := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	expectStatsQueries(mock, start, end)

	source := &stubStatsSource{repo: NewStatsRepositoryWithDB(mock)}
	handler := NewStatsHandler(source, logging.Default())

	w := httptest.NewRecorder()
	handler.GetStats(w, statsRequest("/api/v1/stats?start=2024-12-01T00:00:00Z&end=2024-12-31T00:00:00Z"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var got BookingStats
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tenant != "velasco" || got.Booked != 12 {
		t.Errorf("unexpected stats %#v", got)
	}
	if source.got != "velasco" {
		t.Errorf("stats opened for %q", source.got)
	}
}

func TestStatsHandler_DefaultWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	now := time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC)
	expectStatsQueries(mock, now.Add(-30*24*time.Hour), now)

	handler := NewStatsHandler(&stubStatsSource{repo: NewStatsRepositoryWithDB(mock)}, logging.Default())
	handler.now = func() time.Time { return now }

	w := httptest.NewRecorder()
	handler.GetStats(w, statsRequest("/api/v1/stats"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestStatsHandler_BadRequests(t *testing.T) {
	handler := NewStatsHandler(&stubStatsSource{}, logging.Default())

	tests := []struct {
		name   string
		target string
	}{
		{"only start", "/api/v1/stats?start=2024-12-01T00:00:00Z"},
		{"bad start", "/api/v1/stats?start=yesterday&end=2024-12-31T00:00:00Z"},
		{"bad end", "/api/v1/stats?start=2024-12-01T00:00:00Z&end=today"},
		{"inverted", "/api/v1/stats?start=2024-12-31T00:00:00Z&end=2024-12-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.GetStats(w, statsRequest(tt.target))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}

	w := httptest.NewRecorder()
	handler.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing tenant: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStatsHandler_TenantUnavailable(t *testing.T) {
	handler := NewStatsHandler(&stubStatsSource{err: errors.New("pool closed")}, logging.Default())

	w := httptest.NewRecorder()
	handler.GetStats(w, statsRequest("/api/v1/stats"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
