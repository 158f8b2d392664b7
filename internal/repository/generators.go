package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmoiron/sqlx"
)

type GeneratorsRepository interface {
	Insert(ctx context.Context, g *model.Generator) (int64, error)
	Update(ctx context.Context, g *model.Generator) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Generator, error)
	List(ctx context.Context, limit, offset int) ([]model.Generator, error)
}

const generatorColumns = `id, name, charset, chunks, chunk_length, chunk_separator, prefix, suffix,
	expires_in, activations_limit, created_at, updated_at`

type GeneratorsRepositoryImpl struct {
	db *sqlx.DB
}

func NewGeneratorsRepository(db *sqlx.DB) *GeneratorsRepositoryImpl {
	return &GeneratorsRepositoryImpl{db: db}
}

var _ GeneratorsRepository = (*GeneratorsRepositoryImpl)(nil)

func (r *GeneratorsRepositoryImpl) Insert(ctx context.Context, g *model.Generator) (int64, error) {
	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO generators
		    (name, charset, chunks, chunk_length, chunk_separator, prefix, suffix, expires_in, activations_limit, created_at)
		VALUES
		    (:name, :charset, :chunks, :chunk_length, :chunk_separator, :prefix, :suffix, :expires_in, :activations_limit, NOW())
	`, g)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *GeneratorsRepositoryImpl) Update(ctx context.Context, g *model.Generator) error {
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE generators
		   SET name = :name, charset = :charset, chunks = :chunks, chunk_length = :chunk_length,
		       chunk_separator = :chunk_separator, prefix = :prefix, suffix = :suffix,
		       expires_in = :expires_in, activations_limit = :activations_limit, updated_at = NOW()
		 WHERE id = :id
	`, g)
	return err
}

func (r *GeneratorsRepositoryImpl) Delete(ctx context.Context, id int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM generators WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *GeneratorsRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Generator, error) {
	var g model.Generator
	err := r.db.GetContext(ctx, &g, `SELECT `+generatorColumns+` FROM generators WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GeneratorsRepositoryImpl) List(ctx context.Context, limit, offset int) ([]model.Generator, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []model.Generator
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+generatorColumns+` FROM generators ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
