package repository

import (
	"context"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmoiron/sqlx"
)

type LicenseMetaRepository interface {
	Add(ctx context.Context, m *model.LicenseMeta) (int64, error)
	Get(ctx context.Context, licenseID int64, key string) ([]model.LicenseMeta, error)
	Update(ctx context.Context, licenseID int64, key, value string) (int64, error)
	Delete(ctx context.Context, licenseID int64, key string) (int64, error)
	DeleteByLicenses(ctx context.Context, tx *sqlx.Tx, licenseIDs []int64) error
}

type LicenseMetaRepositoryImpl struct {
	db *sqlx.DB
}

func NewLicenseMetaRepository(db *sqlx.DB) *LicenseMetaRepositoryImpl {
	return &LicenseMetaRepositoryImpl{db: db}
}

var _ LicenseMetaRepository = (*LicenseMetaRepositoryImpl)(nil)

func (r *LicenseMetaRepositoryImpl) Add(ctx context.Context, m *model.LicenseMeta) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO license_meta (license_id, meta_key, meta_value) VALUES (?, ?, ?)`,
		m.LicenseID, m.MetaKey, m.MetaValue)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *LicenseMetaRepositoryImpl) Get(ctx context.Context, licenseID int64, key string) ([]model.LicenseMeta, error) {
	var rows []model.LicenseMeta
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT meta_id, license_id, meta_key, meta_value
		  FROM license_meta
		 WHERE license_id = ? AND meta_key = ?
		 ORDER BY meta_id
	`, licenseID, key); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *LicenseMetaRepositoryImpl) Update(ctx context.Context, licenseID int64, key, value string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE license_meta SET meta_value = ? WHERE license_id = ? AND meta_key = ?`, value, licenseID, key)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *LicenseMetaRepositoryImpl) Delete(ctx context.Context, licenseID int64, key string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM license_meta WHERE license_id = ? AND meta_key = ?`, licenseID, key)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *LicenseMetaRepositoryImpl) DeleteByLicenses(ctx context.Context, tx *sqlx.Tx, licenseIDs []int64) error {
	if len(licenseIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM license_meta WHERE license_id IN (?)`, licenseIDs)
	if err != nil {
		return err
	}
	_, err = ext(r.db, tx).ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}
