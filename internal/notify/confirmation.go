package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/booking-wizard/internal/events"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// ConsumerConfirmationEmail identifies this consumer in processed_events.
const ConsumerConfirmationEmail = "confirmation-email"

// ProcessedStore de-duplicates redelivered events.
type ProcessedStore interface {
	AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

// ConfirmationMailer e-mails the patient when an appointment is booked. It
// is an outbox delivery handler; entries of other types are ignored.
type ConfirmationMailer struct {
	sender    EmailSender
	processed ProcessedStore
	loc       *time.Location
	clinic    string
	logger    *logging.Logger
}

// NewConfirmationMailer creates a mailer. processed may be nil, in which case
// a redelivered event sends a second e-mail.
func NewConfirmationMailer(sender EmailSender, processed ProcessedStore, loc *time.Location, clinicName string, logger *logging.Logger) *ConfirmationMailer {
	if sender == nil {
		panic("notify: email sender required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConfirmationMailer{sender: sender, processed: processed, loc: loc, clinic: clinicName, logger: logger}
}

func (m *ConfirmationMailer) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.EventTypeAppointmentBooked {
		return nil
	}
	env, err := entry.Envelope()
	if err != nil {
		return err
	}
	var evt events.AppointmentBookedV1
	if err := env.Decode(&evt); err != nil {
		return err
	}
	if strings.TrimSpace(evt.PatientEmail) == "" {
		m.logger.Debug("notify: patient has no email, skipping confirmation", "appointment_id", evt.AppointmentID)
		return nil
	}

	eventID := env.EventID.String()
	if m.processed != nil {
		done, err := m.processed.AlreadyProcessed(ctx, ConsumerConfirmationEmail, eventID)
		if err != nil {
			return fmt.Errorf("notify: check processed: %w", err)
		}
		if done {
			return nil
		}
	}

	if err := m.sender.Send(ctx, m.render(evt)); err != nil {
		return err
	}

	if m.processed != nil {
		if _, err := m.processed.MarkProcessed(ctx, ConsumerConfirmationEmail, eventID); err != nil {
			m.logger.Error("notify: failed to mark confirmation sent", "error", err, "event_id", eventID)
		}
	}
	return nil
}

func (m *ConfirmationMailer) render(evt events.AppointmentBookedV1) EmailMessage {
	start := evt.StartsAt.In(m.loc)
	end := evt.EndsAt.In(m.loc)
	when := fmt.Sprintf("%s, %s-%s", start.Format("Monday 2 January 2006"), start.Format("15:04"), end.Format("15:04"))
	doctor := evt.DoctorName
	if doctor == "" {
		doctor = fmt.Sprintf("doctor #%d", evt.DoctorID)
	}
	clinic := m.clinic
	if clinic == "" {
		clinic = "the clinic"
	}
	name := evt.PatientName
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf("Hi %s,\n\nYour appointment with %s (%s) at %s is booked for %s.\nConfirmation code: %s\n",
		name, doctor, evt.DepartmentID, clinic, when, evt.ConfirmationCode)
	body := fmt.Sprintf(`<p>Hi %s,</p><p>Your appointment with <strong>%s</strong> (%s) at %s is booked for <strong>%s</strong>.</p><p>Confirmation code: <code>%s</code></p>`,
		html.EscapeString(name), html.EscapeString(doctor), html.EscapeString(evt.DepartmentID),
		html.EscapeString(clinic), html.EscapeString(when), html.EscapeString(evt.ConfirmationCode))

	return EmailMessage{
		To:      evt.PatientEmail,
		ToName:  evt.PatientName,
		Subject: "Appointment confirmed: " + evt.ConfirmationCode,
		Body:    text,
		HTML:    body,
	}
}
