package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/endovel/clinic-platform/internal/clinic"
)

var datePattern = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)

// parseDate validates a DD/MM/YYYY date. On rejection it returns the message to send.
// Checks run in order: format, calendar validity, past date, Sunday.
func parseDate(text string, now time.Time, loc *time.Location) (time.Time, string) {
	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, msgDateFormat
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if date.Day() != day || int(date.Month()) != month || date.Year() != year {
		return time.Time{}, msgDateInvalid
	}

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if date.Before(today) {
		return time.Time{}, msgDatePast
	}
	if date.Weekday() == time.Sunday {
		return time.Time{}, msgDateSunday
	}
	return date, ""
}

// day returns the selected date as midnight in the clinic time zone.
func (d *Dispatcher) day(s *Session) time.Time {
	local := s.Date.In(d.opts.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.opts.Location)
}

// loadSlots lists the free schedules of the selected specialty on the selected
// day. With nothing free the conversation goes back to date input.
func (d *Dispatcher) loadSlots(t *turn) error {
	s := t.sess
	day := d.day(s)
	dow := clinic.ISODayOfWeek(day)

	schedules, err := t.repo.ListSchedules(t.ctx, s.SpecialtyID, dow)
	if err != nil {
		return fmt.Errorf("conversation: list schedules: %w", err)
	}
	booked, err := t.repo.ListBookedScheduleIDs(t.ctx, s.SpecialtyID, day, day.AddDate(0, 0, 1), clinic.ActiveStatuses)
	if err != nil {
		return fmt.Errorf("conversation: list booked schedules: %w", err)
	}
	taken := make(map[string]struct{}, len(booked))
	for _, id := range booked {
		taken[id] = struct{}{}
	}

	var free []Choice
	for _, sc := range schedules {
		if _, ok := taken[sc.ID]; ok {
			continue
		}
		free = append(free, Choice{
			ID:         sc.ID,
			Label:      sc.TimeRange(),
			DoctorID:   sc.DoctorID,
			DoctorName: sc.DoctorName,
			Start:      sc.StartTime,
			End:        sc.EndTime,
		})
	}
	t.log.Debug("slots loaded", "day_of_week", dow, "schedules", len(schedules), "booked", len(booked), "free", len(free))

	if len(free) == 0 {
		s.Choices = nil
		s.State = StateDate
		t.say(noSlots(s.SpecialtyName, s.DateText))
		return nil
	}
	s.Choices = free
	s.State = StateSlot
	t.say(slotList(s.DateText, free))
	return nil
}
