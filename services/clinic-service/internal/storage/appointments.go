package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/services/clinic-service/internal/availability"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const appointmentColumns = `
	a.id, a.patient_id, a.doctor_id, a.appointment_date, a.duration_minutes,
	a.type, a.status, COALESCE(a.notes, ''), COALESCE(a.symptoms, ''),
	COALESCE(a.diagnosis, ''), COALESCE(a.prescription, ''),
	a.cancelled_at, COALESCE(a.cancellation_reason, ''), a.created_at`

// Create inserts the appointment and fills its ID and CreatedAt from the
// row so the create response matches a later read.
func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(patient_id, doctor_id, appointment_date, duration_minutes, type, status, notes, symptoms, during)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			tstzrange($3, $3 + make_interval(mins => $4), '[)'))
		RETURNING id, created_at
	`, appt.PatientID, appt.DoctorID, appt.AppointmentDate, appt.DurationMinutes,
		appt.Type, appt.Status, appt.Notes, appt.Symptoms).Scan(&appt.ID, &appt.CreatedAt)
	if err != nil {
		return "", err
	}
	return appt.ID, nil
}

// CountOverlapping reports active appointments for the doctor intersecting
// [start, end), excluding excludeID when rechecking a reschedule. Cancelled
// and no-show rows do not block the slot.
func (r *AppointmentRepository) CountOverlapping(ctx context.Context, tx pgx.Tx, doctorID string, start, end time.Time, excludeID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
			AND ($4 = '' OR id <> $4::uuid)
			AND status NOT IN ('cancelled', 'no_show')
			AND appointment_date < $3
			AND appointment_date + make_interval(mins => duration_minutes) > $2
	`, doctorID, start, end, excludeID).Scan(&n)
	return n, err
}

// BookedIntervals returns the doctor's active appointment intervals
// intersecting [from, to), for slot computation.
func (r *AppointmentRepository) BookedIntervals(ctx context.Context, doctorID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_date, appointment_date + make_interval(mins => duration_minutes)
		FROM appointments
		WHERE doctor_id = $1
			AND status NOT IN ('cancelled', 'no_show')
			AND appointment_date < $3
			AND appointment_date + make_interval(mins => duration_minutes) > $2
		ORDER BY appointment_date
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var booked []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		booked = append(booked, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return booked, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

// Update rewrites the mutable appointment fields. Cancelled and no-show
// rows keep a NULL during range so they never block the doctor's slot.
func (r *AppointmentRepository) Update(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
			duration_minutes = $3,
			type = $4,
			status = $5,
			notes = $6,
			symptoms = $7,
			diagnosis = $8,
			prescription = $9,
			during = CASE WHEN $5 IN ('cancelled', 'no_show')
				THEN NULL
				ELSE tstzrange($2, $2 + make_interval(mins => $3), '[)') END
		WHERE id = $1
	`, appt.ID, appt.AppointmentDate, appt.DurationMinutes, appt.Type, appt.Status,
		appt.Notes, appt.Symptoms, appt.Diagnosis, appt.Prescription)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoRows
	}
	return nil
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, id, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2,
			during = NULL
		WHERE id = $1
		RETURNING cancelled_at
	`, id, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

type AppointmentFilter struct {
	PatientID string
	DoctorID  string
	Status    string
	Search    string
	From      *time.Time
	To        *time.Time
	Limit     int
}

func (r *AppointmentRepository) List(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`,
			p.first_name || ' ' || p.last_name,
			d.first_name || ' ' || d.last_name
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d ON d.id = a.doctor_id
		WHERE ($1 = '' OR a.patient_id = $1::uuid)
			AND ($2 = '' OR a.doctor_id = $2::uuid)
			AND ($3 = '' OR a.status = $3)
			AND ($4 = '' OR p.first_name || ' ' || p.last_name ILIKE '%' || $4 || '%'
				OR d.first_name || ' ' || d.last_name ILIKE '%' || $4 || '%')
			AND ($5::timestamptz IS NULL OR a.appointment_date >= $5)
			AND ($6::timestamptz IS NULL OR a.appointment_date < $6)
		ORDER BY a.appointment_date DESC
		LIMIT $7
	`, f.PatientID, f.DoctorID, f.Status, f.Search, f.From, f.To, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		var cancelledAt *time.Time
		if err := rows.Scan(
			&appt.ID,
			&appt.PatientID,
			&appt.DoctorID,
			&appt.AppointmentDate,
			&appt.DurationMinutes,
			&appt.Type,
			&appt.Status,
			&appt.Notes,
			&appt.Symptoms,
			&appt.Diagnosis,
			&appt.Prescription,
			&cancelledAt,
			&appt.CancelReason,
			&appt.CreatedAt,
			&appt.PatientName,
			&appt.DoctorName,
		); err != nil {
			return nil, err
		}
		appt.CancelledAt = cancelledAt
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.DoctorID,
		&appt.AppointmentDate,
		&appt.DurationMinutes,
		&appt.Type,
		&appt.Status,
		&appt.Notes,
		&appt.Symptoms,
		&appt.Diagnosis,
		&appt.Prescription,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}
