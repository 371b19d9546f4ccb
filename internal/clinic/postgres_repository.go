package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("clinic.internal.clinic")

const uniqueViolation = "23505"

type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads and writes one tenant database.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository initializes a repo backed by a tenant pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("clinic: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db querier) *PostgresRepository {
	if db == nil {
		panic("clinic: db required")
	}
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) ListSpecialties(ctx context.Context) ([]Specialty, error) {
	query := `
		SELECT s.id, s.name, f.id IS NOT NULL, COALESCE(f.amount_cents, 0), COALESCE(f.currency, '')
		FROM specialties s
		LEFT JOIN specialty_fees f ON f.specialty_id = s.id AND f.fee_type = 'INITIAL'
		WHERE s.active
		ORDER BY s.name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("clinic: list specialties: %w", err)
	}
	defer rows.Close()

	var out []Specialty
	for rows.Next() {
		var (
			s      Specialty
			hasFee bool
			fee    Fee
		)
		if err := rows.Scan(&s.ID, &s.Name, &hasFee, &fee.AmountCents, &fee.Currency); err != nil {
			return nil, fmt.Errorf("clinic: scan specialty: %w", err)
		}
		if hasFee {
			s.InitialFee = &fee
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: list specialties: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListSchedules(ctx context.Context, specialtyID string, dayOfWeek int) ([]Schedule, error) {
	query := `
		SELECT sc.id, sc.specialty_id, sc.doctor_id, d.first_name || ' ' || d.last_name,
		       sc.day_of_week, to_char(sc.start_time, 'HH24:MI'), to_char(sc.end_time, 'HH24:MI')
		FROM schedules sc
		JOIN doctors d ON d.id = sc.doctor_id
		WHERE sc.specialty_id = $1 AND sc.day_of_week = $2 AND sc.active
		ORDER BY sc.start_time
	`
	rows, err := r.db.Query(ctx, query, specialtyID, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("clinic: list schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.SpecialtyID, &s.DoctorID, &s.DoctorName, &s.DayOfWeek, &s.StartTime, &s.EndTime); err != nil {
			return nil, fmt.Errorf("clinic: scan schedule: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: list schedules: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListBookedScheduleIDs(ctx context.Context, specialtyID string, from, to time.Time, statuses []Status) ([]string, error) {
	query := `
		SELECT DISTINCT schedule_id
		FROM appointments
		WHERE specialty_id = $1
		  AND scheduled_start >= $2 AND scheduled_start < $3
		  AND status = ANY($4)
	`
	rows, err := r.db.Query(ctx, query, specialtyID, from, to, statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("clinic: list booked schedules: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("clinic: scan booked schedule: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: list booked schedules: %w", err)
	}
	return out, nil
}

const patientColumns = `id, identity_number, first_name, last_name, phone, created_at`

func (r *PostgresRepository) FindPatientByIdentity(ctx context.Context, identity string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE identity_number = $1`, identity)
	return scanPatient(row)
}

func (r *PostgresRepository) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone = $1 ORDER BY created_at LIMIT 1`, phone)
	return scanPatient(row)
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.Identity, &p.FirstName, &p.LastName, &p.Phone, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("clinic: select patient: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) CreatePatient(ctx context.Context, p NewPatient) (*Patient, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO patients (id, identity_number, first_name, last_name, phone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.db.QueryRow(ctx, query, id, p.Identity, p.FirstName, p.LastName, p.Phone).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("clinic: insert patient: %w", err)
	}
	return &Patient{
		ID:        id,
		Identity:  p.Identity,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Phone:     p.Phone,
		CreatedAt: createdAt,
	}, nil
}

// CreateAppointment locks the schedule row, rejects an occupied slot, inserts the
// appointment and, when present, the cash movement, all in one transaction.
func (r *PostgresRepository) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.Status == "" {
		a.Status = StatusPending
	}

	ctx, span := tracer.Start(ctx, "clinic.appointments.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.schedule_id", a.ScheduleID),
		attribute.Bool("clinic.cash_movement", a.CashMovement != nil),
	)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("clinic: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var scheduleID string
	if err := tx.QueryRow(ctx, `SELECT id FROM schedules WHERE id = $1 FOR UPDATE`, a.ScheduleID).Scan(&scheduleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("clinic: schedule %s: %w", a.ScheduleID, ErrNotFound)
		}
		return nil, fmt.Errorf("clinic: lock schedule: %w", err)
	}

	var taken bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE schedule_id = $1 AND scheduled_start = $2 AND status = ANY($3)
		)`, a.ScheduleID, a.Start, statusStrings(ActiveStatuses)).Scan(&taken); err != nil {
		return nil, fmt.Errorf("clinic: check slot: %w", err)
	}
	if taken {
		return nil, ErrSlotTaken
	}

	appt := &Appointment{
		ID:          uuid.NewString(),
		PatientID:   a.PatientID,
		ScheduleID:  a.ScheduleID,
		SpecialtyID: a.SpecialtyID,
		DoctorID:    a.DoctorID,
		Start:       a.Start,
		End:         a.End,
		Status:      a.Status,
		Source:      a.Source,
		Notes:       a.Notes,
	}
	insert := `
		INSERT INTO appointments (id, patient_id, schedule_id, specialty_id, doctor_id,
			scheduled_start, scheduled_end, status, source, notes,
			reservation_cents, total_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, insert,
		appt.ID, a.PatientID, a.ScheduleID, a.SpecialtyID, a.DoctorID,
		a.Start, a.End, string(a.Status), a.Source, a.Notes,
		a.ReservationCents, a.TotalCents, a.Currency,
	).Scan(&appt.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSlotTaken
		}
		span.RecordError(err)
		return nil, fmt.Errorf("clinic: insert appointment: %w", err)
	}

	if m := a.CashMovement; m != nil {
		if err := recordCashMovement(ctx, tx, appt.ID, *m); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("clinic: commit appointment: %w", err)
	}
	return appt, nil
}

func recordCashMovement(ctx context.Context, tx pgx.Tx, appointmentID string, m CashMovement) error {
	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM cash_registers WHERE id = $1 FOR UPDATE`, m.RegisterID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("clinic: cash register %s: %w", m.RegisterID, ErrNotFound)
		}
		return fmt.Errorf("clinic: lock cash register: %w", err)
	}
	if status != "OPEN" {
		return ErrRegisterClosed
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO cash_movements (id, register_id, appointment_id, user_id, type, amount_cents, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), m.RegisterID, appointmentID, m.UserID, string(m.Type), m.AmountCents, m.Description,
	); err != nil {
		return fmt.Errorf("clinic: insert cash movement: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE cash_registers SET actual_amount_cents = actual_amount_cents + $2, updated_at = now()
		WHERE id = $1`, m.RegisterID, m.delta(),
	); err != nil {
		return fmt.Errorf("clinic: update cash register: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecordInteraction(ctx context.Context, i Interaction) error {
	query := `
		INSERT INTO chatbot_interactions (id, patient_id, phone, message, kind)
		VALUES ($1, $2, $3, $4, $5)
	`
	var patientID any
	if i.PatientID != "" {
		patientID = i.PatientID
	}
	if _, err := r.db.Exec(ctx, query, uuid.NewString(), patientID, i.Phone, i.Message, i.Kind); err != nil {
		return fmt.Errorf("clinic: insert interaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListInteractions(ctx context.Context, f InteractionFilter) ([]Interaction, error) {
	query := `
		SELECT id, COALESCE(patient_id, ''), phone, message, kind, created_at
		FROM chatbot_interactions
		WHERE (cardinality($1::text[]) = 0 OR kind = ANY($1))
		  AND ($2 = '' OR phone = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	kinds := f.Kinds
	if kinds == nil {
		kinds = []string{}
	}
	rows, err := r.db.Query(ctx, query, kinds, f.Phone, f.limit())
	if err != nil {
		return nil, fmt.Errorf("clinic: list interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var i Interaction
		if err := rows.Scan(&i.ID, &i.PatientID, &i.Phone, &i.Message, &i.Kind, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("clinic: scan interaction: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: list interactions: %w", err)
	}
	return out, nil
}
