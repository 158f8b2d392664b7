package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence methods for the outbox table.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error
	// PublishLicenseEvents marshals and inserts license lifecycle events.
	PublishLicenseEvents(ctx context.Context, tx *sqlx.Tx, topic string, events ...model.LicenseEvent) error
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

// Insert adds an event row to outbox. Debezium Outbox SMT will pick it up and
// publish to Kafka based on the `topic` column (dlm.license.events).
func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error {
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, aggregate, aggregateID, topic, payload)

		return err
	})
}

func (r *OutboxRepositoryImpl) PublishLicenseEvents(ctx context.Context, tx *sqlx.Tx, topic string, events ...model.LicenseEvent) error {
	if len(events) == 0 {
		return nil
	}
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("marshal license event: %w", err)
			}
			if err := r.Insert(ctx, tx, "license", strconv.FormatInt(ev.LicenseID, 10), topic, payload); err != nil {
				return err
			}
		}
		return nil
	})
}
