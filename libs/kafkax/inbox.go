package kafkax

import (
	"context"

	"github.com/clinicore/clinicore/libs/db"
	"github.com/jackc/pgx/v5/pgconn"
)

// Inbox deduplicates consumed events by event id. Record returns false when
// the event was already processed.
type Inbox struct {
	pool *db.Pool
}

func NewInbox(pool *db.Pool) *Inbox {
	return &Inbox{pool: pool}
}

func (r *Inbox) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
		return false, nil
	}

	return false, err
}
