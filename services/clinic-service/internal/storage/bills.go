package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/libs/money"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
)

type BillRepository struct {
	pool *db.Pool
}

func NewBillRepository(pool *db.Pool) *BillRepository {
	return &BillRepository{pool: pool}
}

func (r *BillRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const billColumns = `
	b.id, b.appointment_id, b.patient_id, b.amount_cents, b.tax_cents, b.total_cents,
	b.status, b.due_date, COALESCE(b.payment_method, ''), COALESCE(b.payment_reference, ''),
	b.paid_at, b.created_at`

// Create inserts the bill and fills its ID and CreatedAt from the row so
// the create response matches a later read.
func (r *BillRepository) Create(ctx context.Context, tx pgx.Tx, bill *model.Bill) (string, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO bills
			(appointment_id, patient_id, amount_cents, tax_cents, total_cents, status, due_date, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, bill.AppointmentID, bill.PatientID, int64(bill.AmountCents), int64(bill.TaxCents),
		int64(bill.TotalCents), bill.Status, bill.DueDate, nullIfEmpty(bill.PaymentMethod)).Scan(&bill.ID, &bill.CreatedAt)
	if err != nil {
		return "", err
	}
	return bill.ID, nil
}

func (r *BillRepository) Get(ctx context.Context, id string) (model.Bill, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+billColumns+`
		FROM bills b
		WHERE b.id = $1
	`, id)
	return scanBill(row)
}

func (r *BillRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Bill, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+billColumns+`
		FROM bills b
		WHERE b.id = $1
		FOR UPDATE
	`, id)
	return scanBill(row)
}

// GetByReferenceForUpdate resolves a bill by its provider payment reference.
// Stripe webhooks look bills up this way.
func (r *BillRepository) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (model.Bill, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+billColumns+`
		FROM bills b
		WHERE b.payment_reference = $1
		FOR UPDATE
	`, reference)
	return scanBill(row)
}

// MarkStatus transitions a bill and stamps paid_at exactly once when the new
// status is paid. A non-nil dueDate replaces the stored due date.
func (r *BillRepository) MarkStatus(ctx context.Context, tx pgx.Tx, id, status, method, reference string, dueDate *time.Time) (*time.Time, error) {
	var paidAt *time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bills
		SET status = $2,
			payment_method = COALESCE($3, payment_method),
			payment_reference = COALESCE($4, payment_reference),
			due_date = COALESCE($5, due_date),
			paid_at = CASE WHEN $2 = 'paid' THEN COALESCE(paid_at, now()) ELSE paid_at END
		WHERE id = $1
		RETURNING paid_at
	`, id, status, nullIfEmpty(method), nullIfEmpty(reference), dueDate).Scan(&paidAt)
	return paidAt, err
}

type BillFilter struct {
	PatientID     string
	AppointmentID string
	Status        string
	Limit         int
}

func (r *BillRepository) List(ctx context.Context, f BillFilter) ([]model.Bill, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+billColumns+`
		FROM bills b
		WHERE ($1 = '' OR b.patient_id = $1::uuid)
			AND ($2 = '' OR b.appointment_id = $2::uuid)
			AND ($3 = '' OR b.status = $3)
		ORDER BY b.created_at DESC
		LIMIT $4
	`, f.PatientID, f.AppointmentID, f.Status, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []model.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func (r *BillRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM bills
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

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

// InsertProviderEvent records an external payment-provider event once.
// A second delivery of the same event id returns ErrDuplicateProviderEvent.
func (r *BillRepository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func scanBill(row pgx.Row) (model.Bill, error) {
	var b model.Bill
	var amount, tax, total int64
	var dueDate, paidAt *time.Time
	err := row.Scan(
		&b.ID,
		&b.AppointmentID,
		&b.PatientID,
		&amount,
		&tax,
		&total,
		&b.Status,
		&dueDate,
		&b.PaymentMethod,
		&b.PaymentReference,
		&paidAt,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Bill{}, err
	}
	b.AmountCents = money.Cents(amount)
	b.TaxCents = money.Cents(tax)
	b.TotalCents = money.Cents(total)
	b.DueDate = dueDate
	b.PaidAt = paidAt
	return b, nil
}
