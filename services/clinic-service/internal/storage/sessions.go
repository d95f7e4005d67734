package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
)

type SessionRepository struct {
	pool *db.Pool
}

func NewSessionRepository(pool *db.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const sessionColumns = `
	s.id, s.appointment_id, s.patient_id, s.doctor_id, s.room_id, s.status,
	s.started_at, s.ended_at, COALESCE(s.duration_minutes, 0),
	COALESCE(s.recording_url, ''), COALESCE(s.notes, ''), s.created_at`

func (r *SessionRepository) Create(ctx context.Context, tx pgx.Tx, s *model.TelemedicineSession) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO telemedicine_sessions
			(appointment_id, patient_id, doctor_id, room_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.AppointmentID, s.PatientID, s.DoctorID, s.RoomID, s.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (model.TelemedicineSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM telemedicine_sessions s
		WHERE s.id = $1
	`, id)
	return scanSession(row)
}

func (r *SessionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.TelemedicineSession, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM telemedicine_sessions s
		WHERE s.id = $1
		FOR UPDATE
	`, id)
	return scanSession(row)
}

// MarkActive flips a scheduled session to active on first join.
func (r *SessionRepository) MarkActive(ctx context.Context, tx pgx.Tx, id string) (time.Time, error) {
	var startedAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE telemedicine_sessions
		SET status = 'active',
			started_at = COALESCE(started_at, now())
		WHERE id = $1
		RETURNING started_at
	`, id).Scan(&startedAt)
	return startedAt, err
}

// MarkEnded completes a session and derives its duration from the recorded
// start. Sessions ended before any join get a zero duration.
func (r *SessionRepository) MarkEnded(ctx context.Context, tx pgx.Tx, id, notes, recordingURL string) (model.TelemedicineSession, error) {
	row := tx.QueryRow(ctx, `
		UPDATE telemedicine_sessions s
		SET status = 'completed',
			ended_at = now(),
			duration_minutes = CASE
				WHEN started_at IS NULL THEN 0
				ELSE GREATEST(0, EXTRACT(EPOCH FROM (now() - started_at))::int / 60)
			END,
			notes = $2,
			recording_url = COALESCE($3, recording_url)
		WHERE id = $1
		RETURNING `+sessionColumns+`
	`, id, notes, nullIfEmpty(recordingURL))
	return scanSession(row)
}

func (r *SessionRepository) Cancel(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE telemedicine_sessions
		SET status = 'cancelled'
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoRows
	}
	return nil
}

type SessionFilter struct {
	PatientID string
	DoctorID  string
	Status    string
	Limit     int
}

func (r *SessionRepository) List(ctx context.Context, f SessionFilter) ([]model.TelemedicineSession, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM telemedicine_sessions s
		WHERE ($1 = '' OR s.patient_id = $1::uuid)
			AND ($2 = '' OR s.doctor_id = $2::uuid)
			AND ($3 = '' OR s.status = $3)
		ORDER BY s.created_at DESC
		LIMIT $4
	`, f.PatientID, f.DoctorID, f.Status, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.TelemedicineSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (model.TelemedicineSession, error) {
	var s model.TelemedicineSession
	var startedAt, endedAt *time.Time
	err := row.Scan(
		&s.ID,
		&s.AppointmentID,
		&s.PatientID,
		&s.DoctorID,
		&s.RoomID,
		&s.Status,
		&startedAt,
		&endedAt,
		&s.DurationMinutes,
		&s.RecordingURL,
		&s.Notes,
		&s.CreatedAt,
	)
	if err != nil {
		return model.TelemedicineSession{}, err
	}
	s.StartedAt = startedAt
	s.EndedAt = endedAt
	return s, nil
}
