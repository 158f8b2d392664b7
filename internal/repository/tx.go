package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Transactor runs fn inside a single transaction. Repositories accept the tx
// (or nil, in which case they use the pool directly).
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type SQLTransactor struct {
	db *sqlx.DB
}

func NewTransactor(db *sqlx.DB) *SQLTransactor {
	return &SQLTransactor{db: db}
}

var _ Transactor = (*SQLTransactor)(nil)

func (t *SQLTransactor) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return withTx(ctx, t.db, nil, fn)
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

// ext picks the tx when present, the pool otherwise.
func ext(db *sqlx.DB, tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return db
}
