package conversation

import (
	"time"
)

// SessionTimeout is the default inactivity window after which a session starts over.
const SessionTimeout = 10 * time.Minute

// State is a step of the WhatsApp booking flow.
type State string

const (
	StateStart        State = "start"
	StateMenu         State = "menu"
	StateOperator     State = "operator"
	StateSpecialty    State = "specialty"
	StateDate         State = "date"
	StateSlot         State = "slot"
	StateIdentity     State = "identity"
	StateRegistration State = "registration"
	StateConfirmation State = "confirmation"
	StateFinal        State = "final"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateStart, StateMenu, StateOperator, StateSpecialty, StateDate, StateSlot,
		StateIdentity, StateRegistration, StateConfirmation, StateFinal:
		return true
	}
	return false
}

// SessionKey identifies a conversation: one phone talking to one clinic.
type SessionKey struct {
	Tenant string `json:"tenant"`
	Phone  string `json:"phone"`
}

func (k SessionKey) String() string {
	return k.Tenant + ":" + k.Phone
}

// Choice is one numbered option offered in the previous outbound message.
type Choice struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	DoctorID   string `json:"doctor_id,omitempty"`
	DoctorName string `json:"doctor_name,omitempty"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
	FeeCents   int64  `json:"fee_cents,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

// Session is the per-phone state of an in-progress booking.
type Session struct {
	Tenant string `json:"tenant"`
	Phone  string `json:"phone"`
	State  State  `json:"state"`

	SpecialtyID   string `json:"specialty_id,omitempty"`
	SpecialtyName string `json:"specialty_name,omitempty"`
	FeeCents      int64  `json:"fee_cents,omitempty"`
	FeeCurrency   string `json:"fee_currency,omitempty"`

	DateText string    `json:"date_text,omitempty"`
	Date     time.Time `json:"date,omitempty"`

	ScheduleID     string    `json:"schedule_id,omitempty"`
	DoctorID       string    `json:"doctor_id,omitempty"`
	DoctorName     string    `json:"doctor_name,omitempty"`
	TimeRange      string    `json:"time_range,omitempty"`
	ScheduledStart time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   time.Time `json:"scheduled_end,omitempty"`

	PatientID        string `json:"patient_id,omitempty"`
	PatientIdentity  string `json:"patient_identity,omitempty"`
	PatientFirstName string `json:"patient_first_name,omitempty"`
	PatientLastName  string `json:"patient_last_name,omitempty"`

	ReservationCents int64  `json:"reservation_cents,omitempty"`
	TotalCents       int64  `json:"total_cents,omitempty"`
	RemainingCents   int64  `json:"remaining_cents,omitempty"`
	Currency         string `json:"currency,omitempty"`

	LastInteraction time.Time `json:"last_interaction"`

	// Choices holds the list rendered in the last reply; it is cleared once a selection consumes it.
	Choices []Choice `json:"choices,omitempty"`
}

// NewSession returns a session in the start state.
func NewSession(key SessionKey, now time.Time) *Session {
	return &Session{
		Tenant:          key.Tenant,
		Phone:           key.Phone,
		State:           StateStart,
		LastInteraction: now,
	}
}

// Key returns the store key of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{Tenant: s.Tenant, Phone: s.Phone}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Choices != nil {
		cp.Choices = append([]Choice(nil), s.Choices...)
	}
	return &cp
}

// IsExpired reports whether more than timeout has elapsed since the last interaction.
func IsExpired(s *Session, now time.Time, timeout time.Duration) bool {
	if s == nil {
		return true
	}
	if timeout <= 0 {
		timeout = SessionTimeout
	}
	return now.Sub(s.LastInteraction) > timeout
}

func (s *Session) clearSlot() {
	s.ScheduleID = ""
	s.DoctorID = ""
	s.DoctorName = ""
	s.TimeRange = ""
	s.ScheduledStart = time.Time{}
	s.ScheduledEnd = time.Time{}
}

func (s *Session) hasBookingData() bool {
	return s.PatientID != "" &&
		s.SpecialtyID != "" &&
		s.ScheduleID != "" &&
		s.DoctorID != "" &&
		!s.ScheduledStart.IsZero() &&
		s.ScheduledEnd.After(s.ScheduledStart)
}
