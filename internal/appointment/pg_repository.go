package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	constraintDoctorSlot       = "appointments_doctor_slot_active_uq"
	constraintPatientDoctorDay = "appointments_patient_doctor_day_active_uq"
	constraintApptPatientFK    = "appointments_patient_id_fkey"
	constraintApptDoctorFK     = "appointments_doctor_id_fkey"
	constraintAvailDoctorFK    = "doctor_availability_doctor_id_fkey"
)

const availabilityColumns = `
	id, doctor_id,
	to_char(date, 'YYYY-MM-DD'),
	to_char(start_time, 'HH24:MI'),
	to_char(end_time, 'HH24:MI'),
	slot_duration, created_at`

const appointmentColumns = `
	id, patient_id, doctor_id,
	to_char(scheduled_at, 'YYYY-MM-DD HH24:MI'),
	status, diagnosis, recommendations, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Pesel,
		&p.Contact,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.FirstName,
		&d.LastName,
		&d.Specialization,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanAvailability(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var date, start, end string

	err := row.Scan(
		&w.ID,
		&w.DoctorID,
		&date,
		&start,
		&end,
		&w.SlotDuration,
		&w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	if w.Date, err = ParseDate(date); err != nil {
		return nil, fmt.Errorf("availability %d: %w", w.ID, err)
	}
	if w.StartTime, err = ParseClock(start); err != nil {
		return nil, fmt.Errorf("availability %d: %w", w.ID, err)
	}
	if w.EndTime, err = ParseClock(end); err != nil {
		return nil, fmt.Errorf("availability %d: %w", w.ID, err)
	}

	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var scheduledAt, status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&scheduledAt,
		&status,
		&a.Diagnosis,
		&a.Recommendations,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.ScheduledAt, err = ParseInstant(scheduledAt); err != nil {
		return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
	}
	if a.Status, err = ParseStatus(status); err != nil {
		return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
	}

	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// mapConstraintError turns constraint violations the ledger relies on into
// business errors.
func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintDoctorSlot:
		return ErrSlotUnavailable
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintPatientDoctorDay:
		return ErrDuplicateBookingSameDay
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == constraintApptPatientFK:
		return ErrPatientNotFound
	case pgErr.Code == pgForeignKeyViolation &&
		(pgErr.ConstraintName == constraintApptDoctorFK || pgErr.ConstraintName == constraintAvailDoctorFK):
		return ErrDoctorNotFound
	}
	return err
}

// Directory

func (r *PgRepository) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, pesel, contact, created_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id int64) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, specialization, created_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

// Availability

func (r *PgRepository) InsertAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_availability (doctor_id, date, start_time, end_time, slot_duration)
		VALUES ($1, $2::date, $3::time, $4::time, $5)
		RETURNING `+availabilityColumns,
		w.DoctorID, w.Date.String(), w.StartTime.String(), w.EndTime.String(), w.SlotDuration)

	created, err := scanAvailability(row)
	if err != nil {
		return nil, mapConstraintError(err)
	}
	return created, nil
}

func (r *PgRepository) GetAvailabilityByID(ctx context.Context, id int64) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM doctor_availability
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) ListAvailability(ctx context.Context, doctorID int64, from, to Date) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1
		  AND date BETWEEN $2::date AND $3::date
		ORDER BY date, start_time, id
	`, doctorID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAvailability)
}

func (r *PgRepository) DeleteAvailability(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctor_availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

func (r *PgRepository) PurgeAvailabilityBefore(ctx context.Context, day Date) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctor_availability WHERE date < $1::date`, day.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ledger

func (r *PgRepository) CreateAppointment(ctx context.Context, n NewAppointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, scheduled_at, status)
		VALUES ($1, $2, $3::timestamp, 'scheduled')
		RETURNING `+appointmentColumns,
		n.PatientID, n.DoctorID, n.ScheduledAt.String())

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapConstraintError(err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByDoctorDay(ctx context.Context, doctorID int64, day Date) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_at >= $2::date
		  AND scheduled_at < $2::date + 1
		ORDER BY scheduled_at, id
	`, doctorID, day.String())
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY scheduled_at ASC, id
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID int64) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC, id
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id int64, from, to Status, notes *ClinicalNotes) (*Appointment, error) {
	var diagnosis, recommendations *string
	if notes != nil {
		diagnosis = &notes.Diagnosis
		recommendations = &notes.Recommendations
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    diagnosis = COALESCE($4, diagnosis),
		    recommendations = COALESCE($5, recommendations),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), diagnosis, recommendations)

	return scanAppointment(row)
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
