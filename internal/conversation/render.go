package conversation

import (
	"fmt"
	"strings"

	"github.com/endovel/clinic-platform/internal/clinic"
)

const (
	msgCancelled       = "❌ Proceso cancelado. Escribe cualquier mensaje para comenzar de nuevo."
	msgGenericError    = "❌ Ocurrió un error inesperado. Por favor intenta nuevamente más tarde."
	msgInvalidOption   = "❌ Opción no válida. Por favor escribe *1* para agendar una cita o *2* para hablar con un operador."
	msgOperatorWelcome = "📞 *Comunicación con Operador*\n\nUn operador se pondrá en contacto contigo pronto.\nMientras tanto, puedes describir tu consulta y te ayudaremos.\n\nEscribe tu mensaje:"
	msgOperatorAck     = "✅ Mensaje recibido. Un operador te responderá pronto."
	msgDateFormat      = "❌ Formato de fecha incorrecto.\n\nPor favor ingresa la fecha en formato *DD/MM/AAAA*\nEjemplo: *15/12/2024*"
	msgDateInvalid     = "❌ Fecha inválida. Intenta nuevamente."
	msgDatePast        = "❌ No puedes agendar citas en fechas pasadas."
	msgDateSunday      = "❌ No atendemos los domingos. Por favor elige otro día."
	msgRestartDate     = "Reiniciando selección de fecha.\n\nPor favor, ingresa una nueva fecha en formato *DD/MM/AAAA*\n\nEjemplo: *15/12/2024*"
	msgIdentityPrompt  = "Por favor, ingresa tu *número de carnet (CI)*:\n\nEjemplo: *1234567*"
	msgRegistration    = "📝 *Registro de nuevo paciente*\n\nNo encontramos tu CI en nuestro sistema.\n\nPor favor, ingresa tu *nombre completo* (nombre y apellido):\n\nEjemplo: *Juan Pérez García*"
	msgNameFormat      = "❌ Formato incorrecto.\n\nPor favor ingresa tu nombre completo con al menos un nombre y un apellido.\n\nEjemplo: *Juan Pérez García*"
	msgNotConfirmed    = "❌ Cita cancelada. ¡Hasta luego!"
	msgBooked          = "🎉 *¡CITA AGENDADA CON ÉXITO!*\n\n¡Gracias por confiar en nosotros! 👨‍⚕️👩‍⚕️"
	msgBookingFailed   = "❌ Error al crear la cita. Por favor contacta a recepción."
)

func greeting(clinicName string) string {
	return fmt.Sprintf("¡Hola! 👋 Bienvenido/a a *%s*.\n\nSoy tu asistente virtual para agendar citas médicas.", clinicName)
}

func menuText(clinicName string) string {
	var b strings.Builder
	b.WriteString(greeting(clinicName))
	b.WriteString("\n\n¿Qué deseas hacer?\n\n")
	b.WriteString("*1* – Agendar una nueva cita médica\n")
	b.WriteString("*2* – Comunicarme con un operador\n\n")
	b.WriteString("En cualquier momento puedes escribir *cancelar* para detener el proceso.\n\n")
	b.WriteString("¡Estoy aquí para asistirte! 💙")
	return b.String()
}

func specialtyLines(choices []Choice) string {
	var b strings.Builder
	for i, c := range choices {
		price := "Consultar precio"
		if c.FeeCents > 0 {
			price = "*" + clinic.Fee{AmountCents: c.FeeCents, Currency: c.Currency}.String() + "*"
		}
		fmt.Fprintf(&b, "*%d* - %s - %s\n", i+1, c.Label, price)
	}
	return b.String()
}

func specialtyList(choices []Choice) string {
	var b strings.Builder
	b.WriteString("🏥 *Especialidades Médicas Disponibles*\n\n")
	b.WriteString("A continuación, selecciona la especialidad que necesitas consultar:\n\n")
	b.WriteString(specialtyLines(choices))
	b.WriteString("\n---\n*¿Cómo proceder?*\n\n")
	b.WriteString("*Escribe el número de la especialidad de tu interés.*\n")
	b.WriteString("O escribe *cancelar* para detener el proceso.")
	return b.String()
}

func invalidSpecialty(choices []Choice) string {
	return "❌ Número inválido. Especialidades disponibles:\n\n" +
		specialtyLines(choices) +
		"\n*Escribe el número de la especialidad que deseas.*"
}

func noSpecialties(contact string) string {
	msg := "❌ Actualmente no hay especialidades disponibles para agendar citas."
	if contact != "" {
		msg += "\n\nPor favor comunícate con recepción al " + contact + "."
	}
	return msg
}

func specialtySelected(name string) string {
	return fmt.Sprintf("✅ Especialidad: *%s*\n\nAhora ingresa la fecha para tu cita en formato *DD/MM/AAAA*\n\nEjemplo: *05/09/2024*", name)
}

func noSlots(specialty, date string) string {
	return fmt.Sprintf("❌ No hay horarios disponibles para *%s* el *%s*.\n\nPor favor, escribe una nueva fecha en formato *DD/MM/AAAA* o escribe *cancelar* para salir.", specialty, date)
}

func slotLines(choices []Choice) string {
	var b strings.Builder
	for i, c := range choices {
		fmt.Fprintf(&b, "*%d* - %s a %s (Dr. %s)\n", i+1, c.Start, c.End, c.DoctorName)
	}
	return b.String()
}

const slotFooter = "\n*Escribe el número del horario que prefieres.*"

func slotList(date string, choices []Choice) string {
	return fmt.Sprintf("⏰ *Horarios disponibles para %s:*\n\n", date) + slotLines(choices) + slotFooter
}

func invalidSlot(choices []Choice) string {
	return "❌ Número inválido. Horarios disponibles:\n\n" + slotLines(choices) + slotFooter
}

func slotSelected(start, end string) string {
	return fmt.Sprintf("✅ Horario seleccionado: *%s - %s*\n\nAhora necesitamos verificar tus datos.\n\n", start, end) + msgIdentityPrompt
}

func summary(s *Session) string {
	var b strings.Builder
	b.WriteString("📋 *RESUMEN DE LA CITA*\n\n")
	fmt.Fprintf(&b, "• *Especialidad:* %s\n", s.SpecialtyName)
	fmt.Fprintf(&b, "• *Fecha:* %s\n", s.DateText)
	fmt.Fprintf(&b, "• *Horario:* %s\n", s.TimeRange)
	fmt.Fprintf(&b, "• *Doctor:* %s\n", s.DoctorName)
	fmt.Fprintf(&b, "• *Paciente:* %s %s\n", s.PatientFirstName, s.PatientLastName)
	fmt.Fprintf(&b, "• *CI:* %s\n", s.PatientIdentity)
	fmt.Fprintf(&b, "• *Monto a pagar:* %s\n\n", clinic.Fee{AmountCents: s.TotalCents, Currency: s.Currency})
	b.WriteString("¿Confirmas la reserva de esta cita?\n\n")
	b.WriteString("Responde *SI* para confirmar o *NO* para cancelar.")
	return b.String()
}

func bookingNote(s *Session) string {
	return fmt.Sprintf("Cita agendada vía WhatsApp. Paciente: %s %s", s.PatientFirstName, s.PatientLastName)
}
