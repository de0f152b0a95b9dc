package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/booking-wizard/internal/booking"
	"github.com/wolfman30/booking-wizard/internal/events"
	"github.com/wolfman30/booking-wizard/internal/wizard"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const uniqueViolation = "23505"

// CreateRecord books the appointment a completed wizard describes. The
// doctor row is locked for the transaction so concurrent bookings of the
// same slot see each other's inserts before the capacity check. An
// appointment.booked event is written to the outbox in the same
// transaction.
func (d *Directory) CreateRecord(ctx context.Context, payload wizard.Payload) (*wizard.Confirmation, error) {
	req, err := booking.ParseAppointmentRequest(payload, d.loc)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "directory.create_appointment")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("booking.doctor_id", req.DoctorID),
		attribute.String("booking.slot", req.Slot),
	)

	if !req.StartsAt.After(d.now()) {
		return nil, wizard.NewValidationError(booking.FieldSlot, "already started")
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory: begin booking: %w", err)
	}
	defer tx.Rollback(ctx)

	var patientName, patientEmail string
	err = tx.QueryRow(ctx, `SELECT full_name, email FROM patients WHERE id = $1`, req.PatientID).
		Scan(&patientName, &patientEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wizard.NewValidationError(booking.FieldPatient, "unknown patient")
	}
	if err != nil {
		return nil, fmt.Errorf("directory: load patient: %w", err)
	}

	var doctorName string
	err = tx.QueryRow(ctx, `
		SELECT full_name
		FROM doctors
		WHERE id = $1 AND department_id = $2 AND active
		FOR UPDATE
	`, req.DoctorID, req.Department).Scan(&doctorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wizard.NewValidationError(booking.FieldDoctor, "not available in this department")
	}
	if err != nil {
		return nil, fmt.Errorf("directory: lock doctor: %w", err)
	}

	shifts, err := d.shifts(ctx, tx, req.DoctorID, req.Date.Weekday())
	if err != nil {
		return nil, err
	}
	startMinute := minuteOfDay(req.StartsAt)
	endMinute := minuteOfDay(req.EndsAt)
	capacity := 0
	for _, s := range shifts {
		if s.contains(startMinute, endMinute) {
			capacity = s.capacity
			break
		}
	}
	if capacity == 0 {
		return nil, wizard.NewValidationError(booking.FieldSlot, "outside the doctor's schedule")
	}

	var booked int64
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1 AND starts_at = $2 AND status = 'booked'
	`, req.DoctorID, req.StartsAt).Scan(&booked)
	if err != nil {
		return nil, fmt.Errorf("directory: count slot bookings: %w", err)
	}
	if int(booked) >= capacity {
		return nil, wizard.NewValidationError(booking.FieldSlot, "fully booked")
	}

	id := uuid.New()
	code := confirmationCode(id)
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, confirmation_code, patient_id, department_id, doctor_id, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, code, req.PatientID, req.Department, req.DoctorID, req.StartsAt, req.EndsAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, wizard.NewValidationError(booking.FieldSlot, "patient already has an appointment at this time")
		}
		return nil, fmt.Errorf("directory: insert appointment: %w", err)
	}

	_, err = events.AppendCanonicalEvent(ctx, tx, events.AppointmentAggregate(id.String()), "", events.AppointmentBookedV1{
		AppointmentID:    id.String(),
		ConfirmationCode: code,
		PatientID:        req.PatientID,
		PatientName:      patientName,
		PatientEmail:     patientEmail,
		DepartmentID:     req.Department,
		DoctorID:         req.DoctorID,
		DoctorName:       doctorName,
		StartsAt:         req.StartsAt,
		EndsAt:           req.EndsAt,
		BookedAt:         d.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("directory: record booking event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("directory: commit booking: %w", err)
	}

	d.logger.Info("appointment booked",
		"appointment_id", id.String(),
		"doctor_id", req.DoctorID,
		"starts_at", req.StartsAt,
	)
	return &wizard.Confirmation{
		ID:               id.String(),
		ConfirmationCode: code,
		Summary:          fmt.Sprintf("%s, %s %s", doctorName, req.StartsAt.Format("Mon 2 Jan 2006"), req.Slot),
	}, nil
}

func confirmationCode(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return "BK-" + strings.ToUpper(hex[:8])
}
