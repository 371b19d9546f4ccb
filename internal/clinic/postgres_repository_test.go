package clinic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
)

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return newPostgresRepositoryWithDB(mock), mock
}

func TestListSpecialtiesMapsInitialFee(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM specialties s`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "has_fee", "amount_cents", "currency"}).
			AddRow("sp-1", "Cardiología", true, int64(15000), "BOB").
			AddRow("sp-2", "Pediatría", false, int64(0), ""))

	got, err := repo.ListSpecialties(context.Background())
	if err != nil {
		t.Fatalf("ListSpecialties: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 specialties, got %d", len(got))
	}
	if got[0].InitialFee == nil || got[0].InitialFee.String() != "150.00 BOB" {
		t.Fatalf("unexpected fee %+v", got[0].InitialFee)
	}
	if got[1].InitialFee != nil {
		t.Fatalf("expected no fee for %s", got[1].Name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListSchedules(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM schedules sc`).
		WithArgs("sp-1", 1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "specialty_id", "doctor_id", "doctor", "dow", "start", "end"}).
			AddRow("sc-1", "sp-1", "doc-1", "Ana Rojas", 1, "08:00", "12:00").
			AddRow("sc-2", "sp-1", "doc-2", "Luis Paz", 1, "14:00", "18:00"))

	got, err := repo.ListSchedules(context.Background(), "sp-1", 1)
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(got) != 2 || got[1].TimeRange() != "14:00 a 18:00" || got[0].DoctorName != "Ana Rojas" {
		t.Fatalf("unexpected schedules %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListBookedScheduleIDs(t *testing.T) {
	repo, mock := newMockRepo(t)
	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	mock.ExpectQuery(`SELECT DISTINCT schedule_id`).
		WithArgs("sp-1", from, to, []string{"pending", "confirmed"}).
		WillReturnRows(pgxmock.NewRows([]string{"schedule_id"}).AddRow("sc-1"))

	got, err := repo.ListBookedScheduleIDs(context.Background(), "sp-1", from, to, ActiveStatuses)
	if err != nil {
		t.Fatalf("ListBookedScheduleIDs: %v", err)
	}
	if len(got) != 1 || got[0] != "sc-1" {
		t.Fatalf("unexpected booked ids %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindPatientByIdentity(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM patients WHERE identity_number`).
		WithArgs("1234567LP").
		WillReturnRows(pgxmock.NewRows([]string{"id", "identity", "first", "last", "phone", "created_at"}).
			AddRow("pt-1", "1234567LP", "Juan", "Pérez", "59170000000", created))
	mock.ExpectQuery(`FROM patients WHERE identity_number`).
		WithArgs("MISSING").
		WillReturnError(pgx.ErrNoRows)

	p, err := repo.FindPatientByIdentity(context.Background(), "1234567LP")
	if err != nil {
		t.Fatalf("FindPatientByIdentity: %v", err)
	}
	if p.FullName() != "Juan Pérez" {
		t.Fatalf("unexpected patient %+v", p)
	}

	_, err = repo.FindPatientByIdentity(context.Background(), "MISSING")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePatient(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO patients`).
		WithArgs(pgxmock.AnyArg(), "7654321", "María", "López Vargas", "59171111111").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))

	p, err := repo.CreatePatient(context.Background(), NewPatient{
		Identity: "7654321", FirstName: "María", LastName: "López Vargas", Phone: "59171111111",
	})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if p.ID == "" || !p.CreatedAt.Equal(created) {
		t.Fatalf("unexpected patient %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func sampleAppointment() NewAppointment {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	return NewAppointment{
		PatientID:        "pt-1",
		ScheduleID:       "sc-1",
		SpecialtyID:      "sp-1",
		DoctorID:         "doc-1",
		Start:            start,
		End:              start.Add(4 * time.Hour),
		Source:           SourceWhatsAppBot,
		Notes:            "Cita agendada vía WhatsApp. Paciente: Juan Pérez",
		ReservationCents: 15000,
		TotalCents:       15000,
		Currency:         "BOB",
	}
}

func TestCreateAppointmentCommits(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM schedules WHERE id`).
		WithArgs("sc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("sc-1"))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("sc-1", a.Start, []string{"pending", "confirmed"}).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO appointments`).
		WithArgs(pgxmock.AnyArg(), "pt-1", "sc-1", "sp-1", "doc-1", a.Start, a.End, "pending", SourceWhatsAppBot, a.Notes, int64(15000), int64(15000), "BOB").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	appt, err := repo.CreateAppointment(context.Background(), a)
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if appt.Status != StatusPending || appt.ID == "" {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAppointmentSlotTaken(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM schedules WHERE id`).
		WithArgs("sc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("sc-1"))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("sc-1", a.Start, []string{"pending", "confirmed"}).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.CreateAppointment(context.Background(), a)
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAppointmentUniqueViolationMapsToSlotTaken(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM schedules WHERE id`).
		WithArgs("sc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("sc-1"))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("sc-1", a.Start, []string{"pending", "confirmed"}).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO appointments`).
		WithArgs(pgxmock.AnyArg(), "pt-1", "sc-1", "sp-1", "doc-1", a.Start, a.End, "pending", SourceWhatsAppBot, a.Notes, int64(15000), int64(15000), "BOB").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.CreateAppointment(context.Background(), a)
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAppointmentWithCashMovement(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	a.CashMovement = &CashMovement{RegisterID: "cr-1", UserID: "u-1", Type: MovementIncome, AmountCents: 15000, Description: "Reserva"}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM schedules WHERE id`).
		WithArgs("sc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("sc-1"))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("sc-1", a.Start, []string{"pending", "confirmed"}).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO appointments`).
		WithArgs(pgxmock.AnyArg(), "pt-1", "sc-1", "sp-1", "doc-1", a.Start, a.End, "pending", SourceWhatsAppBot, a.Notes, int64(15000), int64(15000), "BOB").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(`SELECT status FROM cash_registers`).
		WithArgs("cr-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("OPEN"))
	mock.ExpectExec(`INSERT INTO cash_movements`).
		WithArgs(pgxmock.AnyArg(), "cr-1", pgxmock.AnyArg(), "u-1", "INCOME", int64(15000), "Reserva").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE cash_registers`).
		WithArgs("cr-1", int64(15000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if _, err := repo.CreateAppointment(context.Background(), a); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAppointmentClosedRegisterRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	a.CashMovement = &CashMovement{RegisterID: "cr-1", UserID: "u-1", Type: MovementExpense, AmountCents: 500}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM schedules WHERE id`).
		WithArgs("sc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("sc-1"))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("sc-1", a.Start, []string{"pending", "confirmed"}).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO appointments`).
		WithArgs(pgxmock.AnyArg(), "pt-1", "sc-1", "sp-1", "doc-1", a.Start, a.End, "pending", SourceWhatsAppBot, a.Notes, int64(15000), int64(15000), "BOB").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(`SELECT status FROM cash_registers`).
		WithArgs("cr-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("CLOSED"))
	mock.ExpectRollback()

	_, err := repo.CreateAppointment(context.Background(), a)
	if !errors.Is(err, ErrRegisterClosed) {
		t.Fatalf("expected ErrRegisterClosed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAppointmentValidates(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	a.PatientID = ""

	_, err := repo.CreateAppointment(context.Background(), a)
	if !errors.Is(err, ErrInvalidAppointment) {
		t.Fatalf("expected ErrInvalidAppointment, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database calls: %v", err)
	}
}

func TestRecordInteraction(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO chatbot_interactions`).
		WithArgs(pgxmock.AnyArg(), nil, "59170000000", "hola", "operator").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.RecordInteraction(context.Background(), Interaction{Phone: "59170000000", Message: "hola", Kind: "operator"})
	if err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListInteractions(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2024, 12, 16, 9, 30, 0, 0, time.UTC)

	kinds := []string{InteractionOperatorRequest, InteractionOperatorMessage}
	mock.ExpectQuery(`FROM chatbot_interactions`).
		WithArgs(kinds, "59170000000", 200).
		WillReturnRows(pgxmock.NewRows([]string{"id", "patient_id", "phone", "message", "kind", "created_at"}).
			AddRow("ci-2", "p-1", "59170000000", "sigo esperando", InteractionOperatorMessage, at.Add(time.Minute)).
			AddRow("ci-1", "p-1", "59170000000", "Usuario solicitó hablar con un operador", InteractionOperatorRequest, at))

	got, err := repo.ListInteractions(context.Background(), InteractionFilter{Kinds: kinds, Phone: "59170000000", Limit: 1000})
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(got) != 2 || got[0].ID != "ci-2" || got[1].Kind != InteractionOperatorRequest {
		t.Fatalf("unexpected interactions: %+v", got)
	}
	if !got[1].CreatedAt.Equal(at) {
		t.Fatalf("created_at = %v", got[1].CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryListInteractionsNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	for _, i := range []Interaction{
		{Phone: "591", Message: "a", Kind: InteractionOperatorRequest},
		{Phone: "592", Message: "b", Kind: InteractionOperatorMessage},
		{Phone: "591", Message: "c", Kind: InteractionOperatorMessage},
		{Phone: "591", Message: "d", Kind: "other"},
	} {
		if err := repo.RecordInteraction(ctx, i); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.ListInteractions(ctx, InteractionFilter{
		Kinds: []string{InteractionOperatorRequest, InteractionOperatorMessage},
		Phone: "591",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Message != "c" || got[1].Message != "a" {
		t.Fatalf("unexpected interactions: %+v", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned: %+v", got[0])
	}
}
