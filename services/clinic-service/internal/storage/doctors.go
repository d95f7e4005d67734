package storage

import (
	"context"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/libs/money"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
)

type DoctorRepository struct {
	pool *db.Pool
}

func NewDoctorRepository(pool *db.Pool) *DoctorRepository {
	return &DoctorRepository{pool: pool}
}

const doctorColumns = `
	id, first_name, last_name, email, phone, specialization, license_number,
	fee_cents, COALESCE(availability, ''), active, created_at, updated_at`

func (r *DoctorRepository) Create(ctx context.Context, d *model.Doctor) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO doctors
			(first_name, last_name, email, phone, specialization, license_number, fee_cents, availability, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
		RETURNING id
	`, d.FirstName, d.LastName, d.Email, d.Phone, d.Specialization, d.LicenseNumber,
		int64(d.FeeCents), d.Availability).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *DoctorRepository) Get(ctx context.Context, id string) (model.Doctor, error) {
	var d model.Doctor
	var fee int64
	err := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id).Scan(
		&d.ID, &d.FirstName, &d.LastName, &d.Email, &d.Phone, &d.Specialization,
		&d.LicenseNumber, &fee, &d.Availability, &d.Active, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return model.Doctor{}, err
	}
	d.FeeCents = money.Cents(fee)
	return d, nil
}

func (r *DoctorRepository) Update(ctx context.Context, d *model.Doctor) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET first_name = $2,
			last_name = $3,
			email = $4,
			phone = $5,
			specialization = $6,
			license_number = $7,
			fee_cents = $8,
			availability = $9,
			active = $10,
			updated_at = now()
		WHERE id = $1
	`, d.ID, d.FirstName, d.LastName, d.Email, d.Phone, d.Specialization,
		d.LicenseNumber, int64(d.FeeCents), d.Availability, d.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoRows
	}
	return nil
}

func (r *DoctorRepository) List(ctx context.Context, specialization string, limit int) ([]model.Doctor, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE $1 = '' OR specialization ILIKE '%' || $1 || '%'
		ORDER BY last_name, first_name
		LIMIT $2
	`, specialization, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []model.Doctor
	for rows.Next() {
		var d model.Doctor
		var fee int64
		if err := rows.Scan(
			&d.ID, &d.FirstName, &d.LastName, &d.Email, &d.Phone, &d.Specialization,
			&d.LicenseNumber, &fee, &d.Availability, &d.Active, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		d.FeeCents = money.Cents(fee)
		doctors = append(doctors, d)
	}
	return doctors, rows.Err()
}
