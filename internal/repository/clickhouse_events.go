package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmoiron/sqlx"
)

// EventsFilter narrows activation reports; zero values are ignored.
type EventsFilter struct {
	LicenseID int64
	Action    model.LicenseAction
	Since     time.Time
	Limit     int
	Offset    int
}

// CHEventsRepository appends and lists license events in ClickHouse.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, events []model.LicenseEvent) error
	List(ctx context.Context, f EventsFilter) ([]model.LicenseEvent, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

// InsertBatch writes events in one ClickHouse batch (prepare + exec per row
// inside a tx is how clickhouse-go's database/sql driver batches).
func (r *chEventsRepository) InsertBatch(ctx context.Context, events []model.LicenseEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dlm.license_events (event_id, license_id, action, activation_token, order_id, ip_address, created_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.LicenseID, ev.Action.String(), ev.Token, ev.OrderID, ev.IPAddress, ev.OccurredAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *chEventsRepository) List(ctx context.Context, f EventsFilter) ([]model.LicenseEvent, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT event_id, license_id, action, activation_token, order_id, ip_address, created_at
		FROM dlm.license_events
		WHERE 1 = 1
	`
	var args []any

	if f.LicenseID > 0 {
		q += " AND license_id = ?"
		args = append(args, f.LicenseID)
	}
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action.String())
	}
	if !f.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, f.Since)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.LicenseEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
