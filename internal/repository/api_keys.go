package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmoiron/sqlx"
)

type APIKeysRepository interface {
	Insert(ctx context.Context, k *model.APIKey) (int64, error)
	GetByConsumerKey(ctx context.Context, hashedKey string) (*model.APIKey, error)
	TouchLastAccess(ctx context.Context, id int64) error
	ListByUser(ctx context.Context, userID int64) ([]model.APIKey, error)
	Delete(ctx context.Context, id int64) (int64, error)
}

const apiKeyColumns = `id, user_id, description, permissions, consumer_key, consumer_secret,
	truncated_key, endpoints, last_access, created_at, updated_at`

type APIKeysRepositoryImpl struct {
	db *sqlx.DB
}

func NewAPIKeysRepository(db *sqlx.DB) *APIKeysRepositoryImpl {
	return &APIKeysRepositoryImpl{db: db}
}

var _ APIKeysRepository = (*APIKeysRepositoryImpl)(nil)

func (r *APIKeysRepositoryImpl) Insert(ctx context.Context, k *model.APIKey) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys
		    (user_id, description, permissions, consumer_key, consumer_secret, truncated_key, endpoints, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, NOW())
	`, k.UserID, k.Description, string(k.Permissions), k.ConsumerKey, k.ConsumerSecret, k.TruncatedKey, k.Endpoints)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetByConsumerKey looks a key up by its hashed consumer key.
func (r *APIKeysRepositoryImpl) GetByConsumerKey(ctx context.Context, hashedKey string) (*model.APIKey, error) {
	var k model.APIKey
	err := r.db.GetContext(ctx, &k, `SELECT `+apiKeyColumns+` FROM api_keys WHERE consumer_key = ? LIMIT 1`, hashedKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *APIKeysRepositoryImpl) TouchLastAccess(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_access = NOW() WHERE id = ?`, id)
	return err
}

func (r *APIKeysRepositoryImpl) ListByUser(ctx context.Context, userID int64) ([]model.APIKey, error) {
	var rows []model.APIKey
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = ? ORDER BY id`, userID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *APIKeysRepositoryImpl) Delete(ctx context.Context, id int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
