package storage

import (
	"context"
	"encoding/json"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
)

type SubAdminRepository struct {
	pool *db.Pool
}

func NewSubAdminRepository(pool *db.Pool) *SubAdminRepository {
	return &SubAdminRepository{pool: pool}
}

func (r *SubAdminRepository) Create(ctx context.Context, sa *model.SubAdmin) (string, error) {
	perms, err := json.Marshal(sa.Permissions)
	if err != nil {
		return "", err
	}
	var id string
	err = r.pool.QueryRow(ctx, `
		INSERT INTO sub_admins
			(user_id, first_name, last_name, email, department, sub_admin_type, permissions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, sa.UserID, sa.FirstName, sa.LastName, sa.Email, sa.Department, sa.SubAdminType, perms).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *SubAdminRepository) Get(ctx context.Context, id string) (model.SubAdmin, error) {
	return r.get(ctx, "id", id)
}

// GetByUser resolves the sub-admin profile behind an authenticated user id.
// Permission checks on subadmin requests go through here.
func (r *SubAdminRepository) GetByUser(ctx context.Context, userID string) (model.SubAdmin, error) {
	return r.get(ctx, "user_id", userID)
}

func (r *SubAdminRepository) get(ctx context.Context, column, value string) (model.SubAdmin, error) {
	var sa model.SubAdmin
	var perms []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, first_name, last_name, email,
			COALESCE(department, ''), sub_admin_type, permissions, created_at
		FROM sub_admins
		WHERE `+column+` = $1
	`, value).Scan(
		&sa.ID, &sa.UserID, &sa.FirstName, &sa.LastName, &sa.Email,
		&sa.Department, &sa.SubAdminType, &perms, &sa.CreatedAt,
	)
	if err != nil {
		return model.SubAdmin{}, err
	}
	if err := json.Unmarshal(perms, &sa.Permissions); err != nil {
		return model.SubAdmin{}, err
	}
	return sa, nil
}

func (r *SubAdminRepository) UpdatePermissions(ctx context.Context, id string, p model.Permissions) error {
	perms, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sub_admins
		SET permissions = $2
		WHERE id = $1
	`, id, perms)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoRows
	}
	return nil
}

func (r *SubAdminRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sub_admins
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

func (r *SubAdminRepository) List(ctx context.Context, limit int) ([]model.SubAdmin, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, first_name, last_name, email,
			COALESCE(department, ''), sub_admin_type, permissions, created_at
		FROM sub_admins
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []model.SubAdmin
	for rows.Next() {
		var sa model.SubAdmin
		var perms []byte
		if err := rows.Scan(
			&sa.ID, &sa.UserID, &sa.FirstName, &sa.LastName, &sa.Email,
			&sa.Department, &sa.SubAdminType, &perms, &sa.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(perms, &sa.Permissions); err != nil {
			return nil, err
		}
		admins = append(admins, sa)
	}
	return admins, rows.Err()
}
