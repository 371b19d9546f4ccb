package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records inbound webhook message IDs in the master database so
// redeliveries are handled once across every tenant and instance.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("tenancy: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("tenancy: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed reports whether the provider event was seen before.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`, provider, eventID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tenancy: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed claims the event and returns false when another delivery already did.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("tenancy: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Purge removes records older than the retention window and returns how many were deleted.
func (s *ProcessedStore) Purge(ctx context.Context, olderThanDays int) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < now() - make_interval(days => $1)`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("tenancy: purge processed: %w", err)
	}
	return ct.RowsAffected(), nil
}
