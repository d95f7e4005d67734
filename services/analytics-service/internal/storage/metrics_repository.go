// Package storage runs the on-demand aggregation queries behind the
// analytics endpoints. All figures are computed from the entity tables at
// read time; the Kafka-fed metrics tables are operational only.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/libs/money"
	"github.com/jackc/pgx/v5"
)

var ErrInvalidPeriod = errors.New("invalid period")

// truncUnit maps an API period to a date_trunc unit.
func truncUnit(period string) (string, error) {
	switch period {
	case "day", "week", "month", "year":
		return period, nil
	}
	return "", ErrInvalidPeriod
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type DashboardStats struct {
	TotalPatients     int64
	TotalDoctors      int64
	TotalAppointments int64
	TotalRevenue      money.Cents
}

func (r *Repository) DashboardStats(ctx context.Context) (DashboardStats, error) {
	var stats DashboardStats
	var revenue int64
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM patients),
			(SELECT count(*) FROM doctors),
			(SELECT count(*) FROM appointments),
			(SELECT COALESCE(sum(total_cents), 0) FROM bills)
	`).Scan(&stats.TotalPatients, &stats.TotalDoctors, &stats.TotalAppointments, &revenue)
	if err != nil {
		return DashboardStats{}, err
	}
	stats.TotalRevenue = money.Cents(revenue)
	return stats, nil
}

type TrendPoint struct {
	Date  time.Time
	Value int64
}

// RevenueTrend buckets paid bills by paid_at into the given period.
func (r *Repository) RevenueTrend(ctx context.Context, period string) ([]TrendPoint, error) {
	unit, err := truncUnit(period)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc($1, paid_at) AS bucket, sum(total_cents)
		FROM bills
		WHERE status = 'paid' AND paid_at IS NOT NULL
		GROUP BY bucket
		ORDER BY bucket
	`, unit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrend(rows)
}

// AppointmentTrend buckets appointments by appointment_date.
func (r *Repository) AppointmentTrend(ctx context.Context, period string) ([]TrendPoint, error) {
	unit, err := truncUnit(period)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc($1, appointment_date) AS bucket, count(*)
		FROM appointments
		GROUP BY bucket
		ORDER BY bucket
	`, unit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrend(rows)
}

func scanTrend(rows pgx.Rows) ([]TrendPoint, error) {
	points := []TrendPoint{}
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

type DoctorPerformance struct {
	DoctorID         string
	DoctorName       string
	AppointmentCount int64
	RevenueSum       money.Cents
}

// DoctorPerformanceRanking ranks doctors by appointment volume, with paid
// revenue attributed through the appointment's bills.
func (r *Repository) DoctorPerformanceRanking(ctx context.Context) ([]DoctorPerformance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id,
		       d.first_name || ' ' || d.last_name,
		       count(DISTINCT a.id),
		       COALESCE(sum(b.total_cents) FILTER (WHERE b.status = 'paid'), 0)
		FROM doctors d
		LEFT JOIN appointments a ON a.doctor_id = d.id
		LEFT JOIN bills b ON b.appointment_id = a.id
		GROUP BY d.id, d.first_name, d.last_name
		ORDER BY count(DISTINCT a.id) DESC, d.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranking []DoctorPerformance
	for rows.Next() {
		var p DoctorPerformance
		var revenue int64
		if err := rows.Scan(&p.DoctorID, &p.DoctorName, &p.AppointmentCount, &revenue); err != nil {
			return nil, err
		}
		p.RevenueSum = money.Cents(revenue)
		ranking = append(ranking, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ranking, nil
}
