package model

// LicenseMeta is a free-form key/value row attached to a license.
type LicenseMeta struct {
	ID        int64  `db:"meta_id"`
	LicenseID int64  `db:"license_id"`
	MetaKey   string `db:"meta_key"`
	MetaValue string `db:"meta_value"`
}
