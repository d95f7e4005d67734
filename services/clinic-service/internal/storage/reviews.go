package storage

import (
	"context"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
)

type ReviewRepository struct {
	pool *db.Pool
}

func NewReviewRepository(pool *db.Pool) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

const reviewColumns = `
	r.id, r.appointment_id, r.patient_id, r.doctor_id,
	r.overall_rating, r.service_quality, r.communication, r.wait_time, r.cleanliness,
	COALESCE(r.comment, ''), r.recommend, r.anonymous, r.created_at`

// Create inserts a review. The unique index on appointment_id makes a second
// review for the same appointment fail with a duplicate error.
func (r *ReviewRepository) Create(ctx context.Context, rev *model.Review) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO reviews
			(appointment_id, patient_id, doctor_id, overall_rating, service_quality,
			 communication, wait_time, cleanliness, comment, recommend, anonymous)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, rev.AppointmentID, rev.PatientID, rev.DoctorID, rev.Overall, rev.ServiceQuality,
		rev.Communication, rev.WaitTime, rev.Cleanliness, nullIfEmpty(rev.Comment),
		rev.Recommend, rev.Anonymous).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ReviewRepository) Get(ctx context.Context, id string) (model.Review, error) {
	var rev model.Review
	err := r.pool.QueryRow(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews r
		WHERE r.id = $1
	`, id).Scan(
		&rev.ID, &rev.AppointmentID, &rev.PatientID, &rev.DoctorID,
		&rev.Overall, &rev.ServiceQuality, &rev.Communication, &rev.WaitTime,
		&rev.Cleanliness, &rev.Comment, &rev.Recommend, &rev.Anonymous, &rev.CreatedAt,
	)
	if err != nil {
		return model.Review{}, err
	}
	return rev, nil
}

func (r *ReviewRepository) ListByDoctor(ctx context.Context, doctorID string, limit int) ([]model.Review, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews r
		WHERE r.doctor_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2
	`, doctorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		var rev model.Review
		if err := rows.Scan(
			&rev.ID, &rev.AppointmentID, &rev.PatientID, &rev.DoctorID,
			&rev.Overall, &rev.ServiceQuality, &rev.Communication, &rev.WaitTime,
			&rev.Cleanliness, &rev.Comment, &rev.Recommend, &rev.Anonymous, &rev.CreatedAt,
		); err != nil {
			return nil, err
		}
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}

type DoctorRatingSummary struct {
	DoctorID       string
	ReviewCount    int
	AverageOverall float64
	RecommendPct   float64
}

func (r *ReviewRepository) SummaryByDoctor(ctx context.Context, doctorID string) (DoctorRatingSummary, error) {
	var s DoctorRatingSummary
	err := r.pool.QueryRow(ctx, `
		SELECT $1::text,
			count(*),
			COALESCE(round(avg(overall_rating)::numeric, 2), 0),
			COALESCE(round(100.0 * count(*) FILTER (WHERE recommend) / NULLIF(count(*), 0), 1), 0)
		FROM reviews
		WHERE doctor_id = $1
	`, doctorID).Scan(&s.DoctorID, &s.ReviewCount, &s.AverageOverall, &s.RecommendPct)
	return s, err
}
