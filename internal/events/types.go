package events

import "time"

// AppointmentBookedV1 is recorded when the directory accepts a booking.
type AppointmentBookedV1 struct {
	AppointmentID    string    `json:"appointment_id"`
	ConfirmationCode string    `json:"confirmation_code"`
	PatientID        int64     `json:"patient_id"`
	PatientName      string    `json:"patient_name,omitempty"`
	PatientEmail     string    `json:"patient_email,omitempty"`
	DepartmentID     string    `json:"department_id"`
	DoctorID         int64     `json:"doctor_id"`
	DoctorName       string    `json:"doctor_name,omitempty"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	BookedAt         time.Time `json:"booked_at"`
}

// EventTypeAppointmentBooked identifies AppointmentBookedV1 envelopes.
const EventTypeAppointmentBooked = "booking.appointment.booked.v1"

func (AppointmentBookedV1) EventType() string { return EventTypeAppointmentBooked }

// AppointmentAggregate names the aggregate an appointment event belongs to.
func AppointmentAggregate(appointmentID string) string {
	return "appointment:" + appointmentID
}
