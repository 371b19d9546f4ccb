package clinic

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("clinic: not found")

	// ErrSlotTaken is returned when a pending or confirmed appointment already holds the slot.
	ErrSlotTaken = errors.New("clinic: slot already booked")

	// ErrRegisterClosed is returned when a cash movement targets a register that is not open.
	ErrRegisterClosed = errors.New("clinic: cash register is not open")

	// ErrInvalidAppointment is returned when required appointment fields are missing.
	ErrInvalidAppointment = errors.New("clinic: invalid appointment")
)
