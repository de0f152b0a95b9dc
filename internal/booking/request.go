package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/booking-wizard/internal/wizard"
)

// AppointmentRequest is a decoded booking payload.
type AppointmentRequest struct {
	PatientID  int64
	Department string
	DoctorID   int64
	Date       time.Time
	Slot       string
	StartsAt   time.Time
	EndsAt     time.Time
}

// ParseAppointmentRequest decodes a submission payload. Times are
// interpreted in loc; nil means UTC. Bad fields are reported together in a
// *wizard.ValidationError.
func ParseAppointmentRequest(p wizard.Payload, loc *time.Location) (AppointmentRequest, error) {
	if loc == nil {
		loc = time.UTC
	}
	var req AppointmentRequest
	verr := &wizard.ValidationError{}

	if id, err := parseID(p[FieldPatient]); err != nil {
		verr.Add(FieldPatient, err.Error())
	} else {
		req.PatientID = id
	}

	req.Department = strings.TrimSpace(p[FieldDepartment])
	if req.Department == "" {
		verr.Add(FieldDepartment, "required")
	}

	if id, err := parseID(p[FieldDoctor]); err != nil {
		verr.Add(FieldDoctor, err.Error())
	} else {
		req.DoctorID = id
	}

	date, err := ParseDate(p[FieldDate], loc)
	if err != nil {
		verr.Add(FieldDate, err.Error())
	} else {
		req.Date = date
		req.Slot = strings.TrimSpace(p[FieldSlot])
		start, end, err := ParseSlot(date, req.Slot)
		if err != nil {
			verr.Add(FieldSlot, err.Error())
		} else {
			req.StartsAt, req.EndsAt = start, end
		}
	}

	if !verr.Empty() {
		return AppointmentRequest{}, verr
	}
	return req, nil
}

// Payload encodes the request back into submission fields.
func (r AppointmentRequest) Payload() wizard.Payload {
	slot := r.Slot
	if slot == "" && !r.StartsAt.IsZero() {
		slot = FormatSlot(r.StartsAt, r.EndsAt)
	}
	return wizard.Payload{
		FieldPatient:    strconv.FormatInt(r.PatientID, 10),
		FieldDepartment: r.Department,
		FieldDoctor:     strconv.FormatInt(r.DoctorID, 10),
		FieldDate:       r.Date.Format(DateLayout),
		FieldSlot:       slot,
	}
}

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("required")
	}
	d, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD")
	}
	return d, nil
}

// ParseSlot turns "HH:MM-HH:MM" into start and end times on date.
func ParseSlot(date time.Time, slot string) (time.Time, time.Time, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(slot), "-")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("must be HH:MM-HH:MM")
	}
	start, err := clockOn(date, from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := clockOn(date, to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	return start, end, nil
}

// FormatSlot renders a slot value.
func FormatSlot(start, end time.Time) string {
	return start.Format("15:04") + "-" + end.Format("15:04")
}

func clockOn(date time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("must be HH:MM-HH:MM")
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

func parseID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("required")
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}
