package clinic

import (
	"fmt"
	"strings"
	"time"
)

// Status is an appointment lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// ActiveStatuses occupy a slot.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

// SourceWhatsAppBot marks appointments created by the WhatsApp flow.
const SourceWhatsAppBot = "whatsapp_bot"

// Fee is a price in minor units.
type Fee struct {
	AmountCents int64
	Currency    string
}

// String renders "150.00 BOB".
func (f Fee) String() string {
	return fmt.Sprintf("%d.%02d %s", f.AmountCents/100, f.AmountCents%100, f.Currency)
}

type Specialty struct {
	ID   string
	Name string
	// InitialFee is the first-consultation fee, nil when not configured.
	InitialFee *Fee
}

// Schedule is a recurring weekly slot for a doctor. DayOfWeek runs 1 (Monday) to 7 (Sunday).
type Schedule struct {
	ID          string
	SpecialtyID string
	DoctorID    string
	DoctorName  string
	DayOfWeek   int
	StartTime   string // HH:MM
	EndTime     string // HH:MM
}

// TimeRange renders "08:00 a 12:00".
func (s Schedule) TimeRange() string {
	return s.StartTime + " a " + s.EndTime
}

// On returns the concrete start and end instants of the schedule on the given date.
func (s Schedule) On(date time.Time) (time.Time, time.Time, error) {
	start, err := atClock(date, s.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := atClock(date, s.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func atClock(date time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("clinic: invalid clock %q: %w", clock, err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

// ISODayOfWeek maps time.Weekday to 1..7 with Sunday as 7.
func ISODayOfWeek(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}

type Patient struct {
	ID        string
	Identity  string
	FirstName string
	LastName  string
	Phone     string
	CreatedAt time.Time
}

// FullName joins first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type NewPatient struct {
	Identity  string
	FirstName string
	LastName  string
	Phone     string
}

// MovementType is the direction of a cash movement.
type MovementType string

const (
	MovementIncome  MovementType = "INCOME"
	MovementExpense MovementType = "EXPENSE"
)

// CashMovement is recorded in the same transaction as an appointment when a
// payment is taken at booking time.
type CashMovement struct {
	RegisterID  string
	UserID      string
	Type        MovementType
	AmountCents int64
	Description string
}

func (m CashMovement) delta() int64 {
	if m.Type == MovementExpense {
		return -m.AmountCents
	}
	return m.AmountCents
}

type NewAppointment struct {
	PatientID        string
	ScheduleID       string
	SpecialtyID      string
	DoctorID         string
	Start            time.Time
	End              time.Time
	Status           Status
	Source           string
	Notes            string
	ReservationCents int64
	TotalCents       int64
	Currency         string
	CashMovement     *CashMovement
}

// Validate checks required fields.
func (a NewAppointment) Validate() error {
	switch {
	case a.PatientID == "":
		return fmt.Errorf("%w: patient required", ErrInvalidAppointment)
	case a.ScheduleID == "":
		return fmt.Errorf("%w: schedule required", ErrInvalidAppointment)
	case a.SpecialtyID == "":
		return fmt.Errorf("%w: specialty required", ErrInvalidAppointment)
	case a.Start.IsZero() || !a.End.After(a.Start):
		return fmt.Errorf("%w: invalid time range", ErrInvalidAppointment)
	}
	if m := a.CashMovement; m != nil {
		if m.RegisterID == "" || m.UserID == "" || m.AmountCents <= 0 {
			return fmt.Errorf("%w: incomplete cash movement", ErrInvalidAppointment)
		}
		if m.Type != MovementIncome && m.Type != MovementExpense {
			return fmt.Errorf("%w: unknown movement type %q", ErrInvalidAppointment, m.Type)
		}
	}
	return nil
}

type Appointment struct {
	ID          string
	PatientID   string
	ScheduleID  string
	SpecialtyID string
	DoctorID    string
	Start       time.Time
	End         time.Time
	Status      Status
	Source      string
	Notes       string
	CreatedAt   time.Time
}

// Interaction kinds of the operator branch.
const (
	InteractionOperatorRequest = "operator_request"
	InteractionOperatorMessage = "operator_message"
	InteractionOperatorReply   = "operator_reply"
)

// Interaction is a chatbot message kept for human follow-up.
type Interaction struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id,omitempty"`
	Phone     string    `json:"phone"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// InteractionFilter narrows ListInteractions. Empty Kinds matches every kind
// and an empty Phone every patient.
type InteractionFilter struct {
	Kinds []string
	Phone string
	Limit int
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
