package notification

import (
	"fmt"
	"html"
	"time"
)

const messageDateLayout = "January 2, 2006"

// Message renders the text for one audience. An empty result means that
// audience is not notified for this type.
func Message(t Type, audience UserType, date time.Time, timeSlot string) string {
	d := date.Format(messageDateLayout)
	patient := audience == UserPatient

	switch t {
	case TypeAppointmentRequested:
		if patient {
			return fmt.Sprintf("Your appointment request for %s at %s has been submitted successfully. We'll notify you once it's scheduled.", d, timeSlot)
		}
	case TypeAppointmentScheduled:
		if patient {
			return fmt.Sprintf("Your appointment has been scheduled for %s at %s. Please confirm this appointment.", d, timeSlot)
		}
		return fmt.Sprintf("New appointment scheduled with patient for %s at %s.", d, timeSlot)
	case TypeAppointmentConfirmed:
		if patient {
			return fmt.Sprintf("Your appointment for %s at %s has been confirmed. We look forward to seeing you.", d, timeSlot)
		}
		return fmt.Sprintf("Appointment with patient for %s at %s has been confirmed by the patient.", d, timeSlot)
	case TypeAppointmentCancelled:
		if patient {
			return fmt.Sprintf("Your appointment for %s at %s has been cancelled.", d, timeSlot)
		}
		return fmt.Sprintf("Appointment with patient for %s at %s has been cancelled.", d, timeSlot)
	case TypeAppointmentCompleted:
		if patient {
			return fmt.Sprintf("Your appointment on %s at %s has been marked as completed. Thank you for your visit.", d, timeSlot)
		}
	case TypeAppointmentReminder:
		if patient {
			return fmt.Sprintf("Reminder: You have an appointment scheduled tomorrow on %s at %s.", d, timeSlot)
		}
		return fmt.Sprintf("Reminder: You have an appointment with patient tomorrow on %s at %s.", d, timeSlot)
	case TypeAppointmentRescheduled:
		if patient {
			return fmt.Sprintf("Your appointment has been rescheduled to %s at %s. Please confirm the new time.", d, timeSlot)
		}
		return fmt.Sprintf("Appointment with patient has been rescheduled to %s at %s.", d, timeSlot)
	}
	return ""
}

func Subject(t Type) string {
	switch t {
	case TypeAppointmentRequested:
		return "Appointment Request Submitted"
	case TypeAppointmentScheduled:
		return "Appointment Scheduled"
	case TypeAppointmentConfirmed:
		return "Appointment Confirmed"
	case TypeAppointmentCancelled:
		return "Appointment Cancelled"
	case TypeAppointmentCompleted:
		return "Appointment Completed"
	case TypeAppointmentReminder:
		return "Appointment Reminder"
	case TypeAppointmentRescheduled:
		return "Appointment Rescheduled"
	default:
		return "Healthcare Notification"
	}
}

const emailTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>%[1]s</title>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background: #007bff; color: white; padding: 20px; text-align: center; }
.content { padding: 20px; background: #f9f9f9; }
.footer { text-align: center; padding: 10px; font-size: 12px; color: #666; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h1>Healthcare Notification</h1></div>
<div class="content"><h2>%[1]s</h2><p>%[2]s</p></div>
<div class="footer"><p>This is an automated message. Please do not reply.</p></div>
</div>
</body>
</html>`

// EmailHTML wraps a plain message in the branded email layout.
func EmailHTML(subject, text string) string {
	return fmt.Sprintf(emailTemplate, html.EscapeString(subject), html.EscapeString(text))
}
