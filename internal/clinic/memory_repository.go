package clinic

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used for local development and tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	specialties  []Specialty
	schedules    []Schedule
	patients     map[string]*Patient
	appointments []Appointment
	interactions []Interaction
	registers    map[string]*CashRegister
	movements    []CashMovement
}

// CashRegister is the in-memory view of a register.
type CashRegister struct {
	ID                string
	Open              bool
	ActualAmountCents int64
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:  make(map[string]*Patient),
		registers: make(map[string]*CashRegister),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// AddSpecialty seeds a specialty.
func (r *MemoryRepository) AddSpecialty(s Specialty) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specialties = append(r.specialties, s)
}

// AddSchedule seeds a schedule.
func (r *MemoryRepository) AddSchedule(s Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules = append(r.schedules, s)
}

// AddPatient seeds a patient and returns it with an id.
func (r *MemoryRepository) AddPatient(p Patient) *Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	r.patients[p.ID] = &p
	return &p
}

// AddAppointment seeds an existing booking.
func (r *MemoryRepository) AddAppointment(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.appointments = append(r.appointments, a)
}

// AddRegister seeds a cash register.
func (r *MemoryRepository) AddRegister(reg CashRegister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registers[reg.ID] = &reg
}

// Appointments returns a copy of stored appointments.
func (r *MemoryRepository) Appointments() []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Appointment(nil), r.appointments...)
}

// Patients returns a copy of stored patients.
func (r *MemoryRepository) Patients() []Patient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Patient, 0, len(r.patients))
	for _, p := range r.patients {
		out = append(out, *p)
	}
	return out
}

// Interactions returns a copy of recorded interactions.
func (r *MemoryRepository) Interactions() []Interaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Interaction(nil), r.interactions...)
}

// Register returns a copy of a cash register.
func (r *MemoryRepository) Register(id string) (CashRegister, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registers[id]
	if !ok {
		return CashRegister{}, false
	}
	return *reg, true
}

func (r *MemoryRepository) ListSpecialties(_ context.Context) ([]Specialty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Specialty(nil), r.specialties...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) ListSchedules(_ context.Context, specialtyID string, dayOfWeek int) ([]Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Schedule
	for _, s := range r.schedules {
		if s.SpecialtyID == specialtyID && s.DayOfWeek == dayOfWeek {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (r *MemoryRepository) ListBookedScheduleIDs(_ context.Context, specialtyID string, from, to time.Time, statuses []Status) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.appointments {
		if a.SpecialtyID != specialtyID || a.Start.Before(from) || !a.Start.Before(to) {
			continue
		}
		if !hasStatus(statuses, a.Status) || seen[a.ScheduleID] {
			continue
		}
		seen[a.ScheduleID] = true
		out = append(out, a.ScheduleID)
	}
	return out, nil
}

func (r *MemoryRepository) FindPatientByIdentity(_ context.Context, identity string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patients {
		if p.Identity == identity {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) FindPatientByPhone(_ context.Context, phone string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patients {
		if p.Phone == phone {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) CreatePatient(_ context.Context, np NewPatient) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &Patient{
		ID:        uuid.NewString(),
		Identity:  np.Identity,
		FirstName: np.FirstName,
		LastName:  np.LastName,
		Phone:     np.Phone,
		CreatedAt: time.Now().UTC(),
	}
	r.patients[p.ID] = p
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a NewAppointment) (*Appointment, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.Status == "" {
		a.Status = StatusPending
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for _, s := range r.schedules {
		if s.ID == a.ScheduleID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	for _, existing := range r.appointments {
		if existing.ScheduleID == a.ScheduleID && existing.Start.Equal(a.Start) && hasStatus(ActiveStatuses, existing.Status) {
			return nil, ErrSlotTaken
		}
	}

	var reg *CashRegister
	if m := a.CashMovement; m != nil {
		var ok bool
		if reg, ok = r.registers[m.RegisterID]; !ok {
			return nil, ErrNotFound
		}
		if !reg.Open {
			return nil, ErrRegisterClosed
		}
	}

	appt := Appointment{
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
		CreatedAt:   time.Now().UTC(),
	}
	r.appointments = append(r.appointments, appt)
	if reg != nil {
		reg.ActualAmountCents += a.CashMovement.delta()
		r.movements = append(r.movements, *a.CashMovement)
	}
	return &appt, nil
}

func (r *MemoryRepository) RecordInteraction(_ context.Context, i Interaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	r.interactions = append(r.interactions, i)
	return nil
}

func (r *MemoryRepository) ListInteractions(_ context.Context, f InteractionFilter) ([]Interaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	limit := f.limit()
	var out []Interaction
	for i := len(r.interactions) - 1; i >= 0 && len(out) < limit; i-- {
		it := r.interactions[i]
		if len(f.Kinds) > 0 && !containsString(f.Kinds, it.Kind) {
			continue
		}
		if f.Phone != "" && it.Phone != f.Phone {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func hasStatus(statuses []Status, s Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
