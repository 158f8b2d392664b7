package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmoiron/sqlx"
)

// ActivationsRepository defines persistence for license_activations.
type ActivationsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, a *model.LicenseActivation) (int64, error)
	GetByToken(ctx context.Context, tx *sqlx.Tx, token string) (*model.LicenseActivation, error)
	TokenExists(ctx context.Context, tx *sqlx.Tx, token string) (bool, error)
	CountActive(ctx context.Context, tx *sqlx.Tx, licenseID int64) (int, error)
	SetDeactivatedAt(ctx context.Context, tx *sqlx.Tx, id int64, at *time.Time) error
	ListByLicense(ctx context.Context, licenseID int64) ([]model.LicenseActivation, error)
	DeleteByLicenses(ctx context.Context, tx *sqlx.Tx, licenseIDs []int64) error
}

const activationColumns = `id, license_id, token, label, source, ip_address, user_agent, meta_data,
	created_at, updated_at, deactivated_at`

type ActivationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewActivationsRepository(db *sqlx.DB) *ActivationsRepositoryImpl {
	return &ActivationsRepositoryImpl{db: db}
}

var _ ActivationsRepository = (*ActivationsRepositoryImpl)(nil)

func (r *ActivationsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, a *model.LicenseActivation) (int64, error) {
	const q = `
		INSERT INTO license_activations
		    (license_id, token, label, source, ip_address, user_agent, meta_data, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, NOW())
	`
	res, err := ext(r.db, tx).ExecContext(ctx, q,
		a.LicenseID, a.Token, a.Label, string(a.Source), a.IPAddress, a.UserAgent, a.MetaData,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *ActivationsRepositoryImpl) GetByToken(ctx context.Context, tx *sqlx.Tx, token string) (*model.LicenseActivation, error) {
	var a model.LicenseActivation
	err := sqlx.GetContext(ctx, ext(r.db, tx), &a,
		`SELECT `+activationColumns+` FROM license_activations WHERE token = ? LIMIT 1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ActivationsRepositoryImpl) TokenExists(ctx context.Context, tx *sqlx.Tx, token string) (bool, error) {
	var one int
	err := ext(r.db, tx).QueryRowxContext(ctx,
		`SELECT 1 FROM license_activations WHERE token = ? LIMIT 1`, token).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountActive counts activations with deactivated_at IS NULL.
func (r *ActivationsRepositoryImpl) CountActive(ctx context.Context, tx *sqlx.Tx, licenseID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, ext(r.db, tx), &n, `
		SELECT COUNT(*)
		  FROM license_activations
		 WHERE license_id = ? AND deactivated_at IS NULL
	`, licenseID)
	return n, err
}

// SetDeactivatedAt deactivates (at != nil) or reactivates (at == nil) an activation.
func (r *ActivationsRepositoryImpl) SetDeactivatedAt(ctx context.Context, tx *sqlx.Tx, id int64, at *time.Time) error {
	_, err := ext(r.db, tx).ExecContext(ctx,
		`UPDATE license_activations SET deactivated_at = ?, updated_at = NOW() WHERE id = ?`, at, id)
	return err
}

func (r *ActivationsRepositoryImpl) ListByLicense(ctx context.Context, licenseID int64) ([]model.LicenseActivation, error) {
	var rows []model.LicenseActivation
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+activationColumns+` FROM license_activations WHERE license_id = ? ORDER BY id`, licenseID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ActivationsRepositoryImpl) DeleteByLicenses(ctx context.Context, tx *sqlx.Tx, licenseIDs []int64) error {
	if len(licenseIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM license_activations WHERE license_id IN (?)`, licenseIDs)
	if err != nil {
		return err
	}
	_, err = ext(r.db, tx).ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}
