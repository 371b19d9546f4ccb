package tenancy

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	ctx := context.Background()

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("whatsapp", "wamid.1").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	seen, err := store.AlreadyProcessed(ctx, "whatsapp", "wamid.1")
	if err != nil || !seen {
		t.Fatalf("expected existing row, got seen=%v err=%v", seen, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("whatsapp", "wamid.2").WillReturnError(pgx.ErrNoRows)
	seen, err = store.AlreadyProcessed(ctx, "whatsapp", "wamid.2")
	if err != nil || seen {
		t.Fatalf("expected missing row, got seen=%v err=%v", seen, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("whatsapp", "wamid.3").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	fresh, err := store.MarkProcessed(ctx, "whatsapp", "wamid.3")
	if err != nil || !fresh {
		t.Fatalf("expected first mark to claim the event, got %v %v", fresh, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("whatsapp", "wamid.3").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	fresh, err = store.MarkProcessed(ctx, "whatsapp", "wamid.3")
	if err != nil || fresh {
		t.Fatalf("expected duplicate to be rejected, got %v %v", fresh, err)
	}

	mock.ExpectExec("DELETE FROM processed_events").WithArgs(30).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	n, err := store.Purge(ctx, 30)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 purged rows, got %d err=%v", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreMarkError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO processed_events").WillReturnError(errors.New("boom"))
	if _, err := newProcessedStoreWithExec(mock).MarkProcessed(context.Background(), "whatsapp", "x"); err == nil {
		t.Fatalf("expected error")
	}
}
