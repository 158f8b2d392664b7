package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmoiron/sqlx"
)

// LicensesRepository defines persistence for the licenses table.
type LicensesRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, l *model.License) (int64, error)
	BulkInsert(ctx context.Context, tx *sqlx.Tx, ls []model.License) (int64, error)
	Update(ctx context.Context, tx *sqlx.Tx, l *model.License) error
	Delete(ctx context.Context, tx *sqlx.Tx, ids []int64) (int64, error)

	GetByID(ctx context.Context, tx *sqlx.Tx, id int64) (*model.License, error)
	GetByHash(ctx context.Context, tx *sqlx.Tx, hash string) (*model.License, error)
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.License, error)
	ExistsByHash(ctx context.Context, tx *sqlx.Tx, hash string) (bool, error)
	List(ctx context.Context, f model.LicenseFilter) ([]model.License, error)
	ListByIDs(ctx context.Context, ids []int64) ([]model.License, error)
	ListByOrder(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]model.License, error)

	CountStock(ctx context.Context, productID int64) (int64, error)
	CountByOrderProduct(ctx context.Context, tx *sqlx.Tx, orderID, productID int64) (int, error)
	PickStockForUpdate(ctx context.Context, tx *sqlx.Tx, productID int64, n int) ([]model.License, error)
	AssignToOrder(ctx context.Context, tx *sqlx.Tx, ids []int64, a Assignment) error
	BatchUpdateStatus(ctx context.Context, tx *sqlx.Tx, ids []int64, status model.LicenseStatus) error
}

// Assignment binds stock licenses to an order line.
type Assignment struct {
	OrderID   int64
	ProductID int64
	UserID    *int64
	Status    model.LicenseStatus
	SoldAt    time.Time
}

const licenseColumns = `id, license_key, hash, order_id, product_id, user_id, expires_at, valid_for,
	source, status, activations_limit, created_at, created_by, updated_at, updated_by`

type LicensesRepositoryImpl struct {
	db *sqlx.DB
}

func NewLicensesRepository(db *sqlx.DB) *LicensesRepositoryImpl {
	return &LicensesRepositoryImpl{db: db}
}

var _ LicensesRepository = (*LicensesRepositoryImpl)(nil)

func (r *LicensesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, l *model.License) (int64, error) {
	const q = `
		INSERT INTO licenses
		    (license_key, hash, order_id, product_id, user_id, expires_at, valid_for,
		     source, status, activations_limit, created_at, created_by)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), ?)
	`
	res, err := ext(r.db, tx).ExecContext(ctx, q,
		l.LicenseKey, l.Hash, l.OrderID, l.ProductID, l.UserID, l.ExpiresAt, l.ValidFor,
		l.Source.String(), l.Status.String(), l.ActivationsLimit, l.CreatedBy,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// BulkInsert writes many licenses using a single multi-row statement.
func (r *LicensesRepositoryImpl) BulkInsert(ctx context.Context, tx *sqlx.Tx, ls []model.License) (int64, error) {
	if len(ls) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(ls)*11)

	sb.WriteString(`INSERT INTO licenses (license_key, hash, order_id, product_id, user_id, expires_at,
		valid_for, source, status, activations_limit, created_at, created_by) VALUES `)
	for i, l := range ls {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), ?)")
		args = append(args, l.LicenseKey, l.Hash, l.OrderID, l.ProductID, l.UserID, l.ExpiresAt,
			l.ValidFor, l.Source.String(), l.Status.String(), l.ActivationsLimit, l.CreatedBy)
	}

	res, err := ext(r.db, tx).ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *LicensesRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, l *model.License) error {
	const q = `
		UPDATE licenses
		   SET license_key = ?, hash = ?, order_id = ?, product_id = ?, user_id = ?,
		       expires_at = ?, valid_for = ?, source = ?, status = ?, activations_limit = ?,
		       updated_at = NOW(), updated_by = ?
		 WHERE id = ?
	`
	_, err := ext(r.db, tx).ExecContext(ctx, q,
		l.LicenseKey, l.Hash, l.OrderID, l.ProductID, l.UserID, l.ExpiresAt, l.ValidFor,
		l.Source.String(), l.Status.String(), l.ActivationsLimit, l.UpdatedBy, l.ID,
	)
	return err
}

func (r *LicensesRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM licenses WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := ext(r.db, tx).ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *LicensesRepositoryImpl) getOne(ctx context.Context, tx *sqlx.Tx, q string, args ...any) (*model.License, error) {
	var l model.License
	err := sqlx.GetContext(ctx, ext(r.db, tx), &l, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LicensesRepositoryImpl) GetByID(ctx context.Context, tx *sqlx.Tx, id int64) (*model.License, error) {
	return r.getOne(ctx, tx, `SELECT `+licenseColumns+` FROM licenses WHERE id = ? LIMIT 1`, id)
}

// GetByHash returns the oldest license with the given hash; with duplicates
// allowed there may be several.
func (r *LicensesRepositoryImpl) GetByHash(ctx context.Context, tx *sqlx.Tx, hash string) (*model.License, error) {
	return r.getOne(ctx, tx, `SELECT `+licenseColumns+` FROM licenses WHERE hash = ? ORDER BY id LIMIT 1`, hash)
}

// GetForUpdate locks the license row until tx ends. tx must not be nil.
func (r *LicensesRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.License, error) {
	return r.getOne(ctx, tx, `SELECT `+licenseColumns+` FROM licenses WHERE id = ? FOR UPDATE`, id)
}

func (r *LicensesRepositoryImpl) ExistsByHash(ctx context.Context, tx *sqlx.Tx, hash string) (bool, error) {
	var one int
	err := ext(r.db, tx).QueryRowxContext(ctx, `SELECT 1 FROM licenses WHERE hash = ? LIMIT 1`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *LicensesRepositoryImpl) List(ctx context.Context, f model.LicenseFilter) ([]model.License, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT ` + licenseColumns + ` FROM licenses WHERE 1 = 1`
	var args []any

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}
	if f.Source != "" {
		q += " AND source = ?"
		args = append(args, f.Source.String())
	}
	if f.OrderID > 0 {
		q += " AND order_id = ?"
		args = append(args, f.OrderID)
	}
	if f.ProductID > 0 {
		q += " AND product_id = ?"
		args = append(args, f.ProductID)
	}
	if f.UserID > 0 {
		q += " AND user_id = ?"
		args = append(args, f.UserID)
	}

	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.License
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *LicensesRepositoryImpl) ListByIDs(ctx context.Context, ids []int64) ([]model.License, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+licenseColumns+` FROM licenses WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var rows []model.License
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *LicensesRepositoryImpl) ListByOrder(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]model.License, error) {
	var rows []model.License
	err := sqlx.SelectContext(ctx, ext(r.db, tx), &rows,
		`SELECT `+licenseColumns+` FROM licenses WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountStock counts licenses available for sale: active and not bound to an order.
func (r *LicensesRepositoryImpl) CountStock(ctx context.Context, productID int64) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*)
		  FROM licenses
		 WHERE product_id = ? AND status = 'active' AND order_id IS NULL
	`, productID)
	return n, err
}

func (r *LicensesRepositoryImpl) CountByOrderProduct(ctx context.Context, tx *sqlx.Tx, orderID, productID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, ext(r.db, tx), &n,
		`SELECT COUNT(*) FROM licenses WHERE order_id = ? AND product_id = ?`, orderID, productID)
	return n, err
}

// PickStockForUpdate locks up to n stock licenses, skipping rows locked by
// concurrent fulfillments.
func (r *LicensesRepositoryImpl) PickStockForUpdate(ctx context.Context, tx *sqlx.Tx, productID int64, n int) ([]model.License, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []model.License
	err := sqlx.SelectContext(ctx, ext(r.db, tx), &rows, `
		SELECT `+licenseColumns+`
		  FROM licenses
		 WHERE product_id = ? AND status = 'active' AND order_id IS NULL
		 ORDER BY id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`, productID, n)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AssignToOrder binds licenses to an order and starts their validity window.
func (r *LicensesRepositoryImpl) AssignToOrder(ctx context.Context, tx *sqlx.Tx, ids []int64, a Assignment) error {
	if len(ids) == 0 {
		return nil
	}
	const base = `
		UPDATE licenses
		   SET order_id = ?, product_id = ?, user_id = ?, status = ?,
		       expires_at = CASE WHEN valid_for IS NOT NULL AND valid_for > 0
		                         THEN DATE_ADD(?, INTERVAL valid_for DAY)
		                         ELSE expires_at END,
		       updated_at = NOW()
		 WHERE id IN (?)
	`
	query, args, err := sqlx.In(base, a.OrderID, a.ProductID, a.UserID, a.Status.String(), a.SoldAt, ids)
	if err != nil {
		return err
	}
	_, err = ext(r.db, tx).ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}

// BatchUpdateStatus updates status for many licenses using a single statement.
func (r *LicensesRepositoryImpl) BatchUpdateStatus(ctx context.Context, tx *sqlx.Tx, ids []int64, status model.LicenseStatus) error {
	if len(ids) == 0 {
		return nil
	}
	const base = `UPDATE licenses SET status = ?, updated_at = NOW() WHERE id IN (?)`
	query, args, err := sqlx.In(base, status.String(), ids)
	if err != nil {
		return err
	}
	_, err = ext(r.db, tx).ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}
