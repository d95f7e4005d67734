package storage

import (
	"context"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
)

type PatientRepository struct {
	pool *db.Pool
}

func NewPatientRepository(pool *db.Pool) *PatientRepository {
	return &PatientRepository{pool: pool}
}

const patientColumns = `
	id, first_name, last_name, email, phone, date_of_birth,
	COALESCE(gender, ''), COALESCE(address, ''), COALESCE(medical_history, ''),
	COALESCE(allergies, ''), COALESCE(medications, ''), created_at, updated_at`

func (r *PatientRepository) Create(ctx context.Context, p *model.Patient) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patients
			(first_name, last_name, email, phone, date_of_birth, gender, address, medical_history, allergies, medications)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, p.FirstName, p.LastName, p.Email, p.Phone, p.DateOfBirth, p.Gender, p.Address,
		p.MedicalHistory, p.Allergies, p.Medications).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *PatientRepository) Get(ctx context.Context, id string) (model.Patient, error) {
	var p model.Patient
	err := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.DateOfBirth,
		&p.Gender, &p.Address, &p.MedicalHistory, &p.Allergies, &p.Medications,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Patient{}, err
	}
	return p, nil
}

func (r *PatientRepository) Update(ctx context.Context, p *model.Patient) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients
		SET first_name = $2,
			last_name = $3,
			email = $4,
			phone = $5,
			date_of_birth = $6,
			gender = $7,
			address = $8,
			medical_history = $9,
			allergies = $10,
			medications = $11,
			updated_at = now()
		WHERE id = $1
	`, p.ID, p.FirstName, p.LastName, p.Email, p.Phone, p.DateOfBirth, p.Gender,
		p.Address, p.MedicalHistory, p.Allergies, p.Medications)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoRows
	}
	return nil
}

func (r *PatientRepository) List(ctx context.Context, search string, limit int) ([]model.Patient, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE $1 = '' OR (first_name || ' ' || last_name) ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []model.Patient
	for rows.Next() {
		var p model.Patient
		if err := rows.Scan(
			&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.DateOfBirth,
			&p.Gender, &p.Address, &p.MedicalHistory, &p.Allergies, &p.Medications,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}
