package clinic

import (
	"context"
	"time"
)

// Repository is the per-tenant data access used by the WhatsApp booking flow.
type Repository interface {
	// ListSpecialties returns active specialties ordered by name.
	ListSpecialties(ctx context.Context) ([]Specialty, error)
	// ListSchedules returns active schedules of a specialty on an ISO day of week, ordered by start time.
	ListSchedules(ctx context.Context, specialtyID string, dayOfWeek int) ([]Schedule, error)
	// ListBookedScheduleIDs returns schedule ids holding an appointment in [from, to) with one of statuses.
	ListBookedScheduleIDs(ctx context.Context, specialtyID string, from, to time.Time, statuses []Status) ([]string, error)
	FindPatientByIdentity(ctx context.Context, identity string) (*Patient, error)
	FindPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	CreatePatient(ctx context.Context, p NewPatient) (*Patient, error)
	// CreateAppointment atomically books the slot and records the optional cash movement.
	CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error)
	RecordInteraction(ctx context.Context, i Interaction) error
	// ListInteractions returns matching interactions, newest first.
	ListInteractions(ctx context.Context, f InteractionFilter) ([]Interaction, error)
}

const (
	defaultInteractionLimit = 50
	maxInteractionLimit     = 200
)

func (f InteractionFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultInteractionLimit
	case f.Limit > maxInteractionLimit:
		return maxInteractionLimit
	}
	return f.Limit
}
