package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/endovel/clinic-platform/internal/clinic"
)

const (
	interactionOperatorRequest = clinic.InteractionOperatorRequest
	interactionOperatorMessage = clinic.InteractionOperatorMessage
)

func (d *Dispatcher) handleStart(t *turn) error {
	if d.opts.OperatorMenu {
		t.sess.State = StateMenu
		t.say(menuText(t.opts.ClinicName))
		return nil
	}
	return d.enterSpecialties(t, greeting(t.opts.ClinicName)+"\n\n")
}

func (d *Dispatcher) handleMenu(t *turn) error {
	switch t.text {
	case "1":
		return d.enterSpecialties(t, "")
	case "2":
		return d.enterOperator(t)
	default:
		t.say(msgInvalidOption)
		return nil
	}
}

func (d *Dispatcher) enterOperator(t *turn) error {
	phone := digitsOnly(t.sess.Phone)
	patient, err := t.repo.FindPatientByPhone(t.ctx, phone)
	if errors.Is(err, clinic.ErrNotFound) {
		patient, err = t.repo.CreatePatient(t.ctx, clinic.NewPatient{
			Identity:  phone,
			FirstName: phone,
			LastName:  phone,
			Phone:     phone,
		})
	}
	if err != nil {
		return fmt.Errorf("conversation: operator patient: %w", err)
	}
	t.sess.PatientID = patient.ID

	if err := t.repo.RecordInteraction(t.ctx, clinic.Interaction{
		PatientID: patient.ID,
		Phone:     phone,
		Message:   "Usuario solicitó hablar con un operador",
		Kind:      interactionOperatorRequest,
	}); err != nil {
		return fmt.Errorf("conversation: record operator request: %w", err)
	}
	t.sess.State = StateOperator
	t.outcome = "operator"
	t.notify(OperatorEvent{Type: OperatorNewClient, PatientID: patient.ID})
	t.say(msgOperatorWelcome)
	return nil
}

func (d *Dispatcher) handleOperator(t *turn) error {
	if t.text == "" {
		return nil
	}
	if err := t.repo.RecordInteraction(t.ctx, clinic.Interaction{
		PatientID: t.sess.PatientID,
		Phone:     digitsOnly(t.sess.Phone),
		Message:   t.text,
		Kind:      interactionOperatorMessage,
	}); err != nil {
		return fmt.Errorf("conversation: record operator message: %w", err)
	}
	t.notify(OperatorEvent{Type: OperatorClientMessage, PatientID: t.sess.PatientID, Message: t.text})
	t.say(msgOperatorAck)
	return nil
}

// enterSpecialties lists specialties and waits for a selection.
func (d *Dispatcher) enterSpecialties(t *turn, prefix string) error {
	specialties, err := t.repo.ListSpecialties(t.ctx)
	if err != nil {
		return fmt.Errorf("conversation: list specialties: %w", err)
	}
	if len(specialties) == 0 {
		t.outcome = "unavailable"
		t.finish(prefix + noSpecialties(t.opts.ReceptionPhone))
		return nil
	}

	choices := make([]Choice, 0, len(specialties))
	for _, s := range specialties {
		c := Choice{ID: s.ID, Label: s.Name}
		if s.InitialFee != nil {
			c.FeeCents = s.InitialFee.AmountCents
			c.Currency = s.InitialFee.Currency
		}
		choices = append(choices, c)
	}
	t.sess.Choices = choices
	t.sess.State = StateSpecialty
	t.say(prefix + specialtyList(choices))
	return nil
}

func (d *Dispatcher) handleSpecialty(t *turn) error {
	if len(t.sess.Choices) == 0 {
		return d.enterSpecialties(t, "")
	}
	idx, ok := pick(t.text, len(t.sess.Choices))
	if !ok {
		t.say(invalidSpecialty(t.sess.Choices))
		return nil
	}

	c := t.sess.Choices[idx]
	t.sess.SpecialtyID = c.ID
	t.sess.SpecialtyName = c.Label
	t.sess.FeeCents = c.FeeCents
	t.sess.FeeCurrency = c.Currency
	t.sess.Choices = nil
	t.sess.State = StateDate
	t.say(specialtySelected(c.Label))
	return nil
}

func (d *Dispatcher) handleDate(t *turn) error {
	date, problem := parseDate(t.text, t.now, d.opts.Location)
	if problem != "" {
		t.say(problem)
		return nil
	}
	t.sess.DateText = t.text
	t.sess.Date = date
	t.sess.clearSlot()
	t.sess.State = StateSlot
	return d.loadSlots(t)
}

func (d *Dispatcher) handleSlot(t *turn) error {
	if isRestart(t.text) {
		t.sess.Choices = nil
		t.sess.clearSlot()
		t.sess.State = StateDate
		t.say(msgRestartDate)
		return nil
	}
	if len(t.sess.Choices) == 0 {
		return d.loadSlots(t)
	}
	idx, ok := pick(t.text, len(t.sess.Choices))
	if !ok {
		t.say(invalidSlot(t.sess.Choices))
		return nil
	}

	c := t.sess.Choices[idx]
	start, end, err := clinic.Schedule{StartTime: c.Start, EndTime: c.End}.On(d.day(t.sess))
	if err != nil {
		return fmt.Errorf("conversation: slot %s: %w", c.ID, err)
	}
	t.sess.ScheduleID = c.ID
	t.sess.DoctorID = c.DoctorID
	t.sess.DoctorName = c.DoctorName
	t.sess.TimeRange = c.Start + " - " + c.End
	t.sess.ScheduledStart = start
	t.sess.ScheduledEnd = end
	t.sess.Choices = nil
	t.sess.State = StateIdentity
	t.say(slotSelected(c.Start, c.End))
	return nil
}

func (d *Dispatcher) handleIdentity(t *turn) error {
	identity := strings.ToUpper(t.text)
	if identity == "" {
		t.say(msgIdentityPrompt)
		return nil
	}

	patient, err := t.repo.FindPatientByIdentity(t.ctx, identity)
	if errors.Is(err, clinic.ErrNotFound) {
		t.sess.PatientIdentity = identity
		t.sess.State = StateRegistration
		t.say(msgRegistration)
		return nil
	}
	if err != nil {
		return fmt.Errorf("conversation: find patient: %w", err)
	}

	t.sess.PatientID = patient.ID
	t.sess.PatientIdentity = patient.Identity
	t.sess.PatientFirstName = patient.FirstName
	t.sess.PatientLastName = patient.LastName
	d.presentSummary(t)
	return nil
}

func (d *Dispatcher) handleRegistration(t *turn) error {
	parts := strings.Fields(t.text)
	if len(parts) < 2 {
		t.say(msgNameFormat)
		return nil
	}

	patient, err := t.repo.CreatePatient(t.ctx, clinic.NewPatient{
		Identity:  t.sess.PatientIdentity,
		FirstName: parts[0],
		LastName:  strings.Join(parts[1:], " "),
		Phone:     digitsOnly(t.sess.Phone),
	})
	if err != nil {
		return fmt.Errorf("conversation: create patient: %w", err)
	}
	t.log.Info("patient registered from whatsapp", "patient_id", patient.ID)

	t.sess.PatientID = patient.ID
	t.sess.PatientFirstName = patient.FirstName
	t.sess.PatientLastName = patient.LastName
	d.presentSummary(t)
	return nil
}

func (d *Dispatcher) presentSummary(t *turn) {
	fee := d.opts.ConsultationFee
	if t.sess.FeeCents > 0 {
		fee = clinic.Fee{AmountCents: t.sess.FeeCents, Currency: t.sess.FeeCurrency}
		if fee.Currency == "" {
			fee.Currency = d.opts.ConsultationFee.Currency
		}
	}
	t.sess.ReservationCents = fee.AmountCents
	t.sess.TotalCents = fee.AmountCents
	t.sess.RemainingCents = 0
	t.sess.Currency = fee.Currency
	t.sess.State = StateConfirmation
	t.say(summary(t.sess))
}

func (d *Dispatcher) handleConfirmation(t *turn) error {
	if !isAffirmative(t.text) {
		t.outcome = "declined"
		t.finish(msgNotConfirmed)
		return nil
	}
	d.commit(t)
	return nil
}

// commit books the appointment. Every failure ends the conversation with a
// pointer to reception; nothing is retried.
func (d *Dispatcher) commit(t *turn) {
	s := t.sess
	if !s.hasBookingData() {
		t.log.Error("booking data incomplete", "state", s.State)
		t.outcome = "booking_failed"
		t.finish(msgBookingFailed)
		return
	}

	appt := clinic.NewAppointment{
		PatientID:        s.PatientID,
		ScheduleID:       s.ScheduleID,
		SpecialtyID:      s.SpecialtyID,
		DoctorID:         s.DoctorID,
		Start:            s.ScheduledStart,
		End:              s.ScheduledEnd,
		Status:           clinic.StatusPending,
		Source:           clinic.SourceWhatsAppBot,
		Notes:            bookingNote(s),
		ReservationCents: s.ReservationCents,
		TotalCents:       s.TotalCents,
		Currency:         s.Currency,
	}
	if t.opts.CashRegisterID != "" && t.opts.CashUserID != "" && s.ReservationCents > 0 {
		appt.CashMovement = &clinic.CashMovement{
			RegisterID:  t.opts.CashRegisterID,
			UserID:      t.opts.CashUserID,
			Type:        clinic.MovementIncome,
			AmountCents: s.ReservationCents,
			Description: "Consulta " + s.SpecialtyName,
		}
	}

	created, err := t.repo.CreateAppointment(t.ctx, appt)
	if err != nil {
		t.log.Error("booking commit failed",
			"error", err,
			"schedule_id", s.ScheduleID,
			"slot_taken", errors.Is(err, clinic.ErrSlotTaken),
		)
		t.outcome = "booking_failed"
		t.finish(msgBookingFailed)
		return
	}

	t.log.Info("appointment booked from whatsapp",
		"appointment_id", created.ID,
		"schedule_id", s.ScheduleID,
		"start", s.ScheduledStart,
	)
	s.State = StateFinal
	t.outcome = "booked"
	t.say(msgBooked)
}

// pick parses a 1-based selection into an index.
func pick(text string, n int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}

func digitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
