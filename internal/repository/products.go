package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmoiron/sqlx"
)

// ProductsRepository stores per-product licensing settings.
type ProductsRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, productID int64) (*model.ProductSettings, error)
	Upsert(ctx context.Context, p *model.ProductSettings) error
}

type ProductsRepositoryImpl struct {
	db *sqlx.DB
}

func NewProductsRepository(db *sqlx.DB) *ProductsRepositoryImpl {
	return &ProductsRepositoryImpl{db: db}
}

var _ ProductsRepository = (*ProductsRepositoryImpl)(nil)

func (r *ProductsRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, productID int64) (*model.ProductSettings, error) {
	var p model.ProductSettings
	err := sqlx.GetContext(ctx, ext(r.db, tx), &p, `
		SELECT product_id, licensed, delivered_quantity, use_stock, use_generator, generator_id
		  FROM product_settings
		 WHERE product_id = ? LIMIT 1
	`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert is idempotent on product_id (PRIMARY KEY).
func (r *ProductsRepositoryImpl) Upsert(ctx context.Context, p *model.ProductSettings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO product_settings
		    (product_id, licensed, delivered_quantity, use_stock, use_generator, generator_id, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
		    licensed           = VALUES(licensed),
		    delivered_quantity = VALUES(delivered_quantity),
		    use_stock          = VALUES(use_stock),
		    use_generator      = VALUES(use_generator),
		    generator_id       = VALUES(generator_id),
		    updated_at         = VALUES(updated_at)
	`, p.ProductID, p.Licensed, p.DeliveredQuantity, p.UseStock, p.UseGenerator, p.GeneratorID)
	return err
}
