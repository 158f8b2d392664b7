package model

import "time"

type ActivationSource string

const (
	ActivationWeb       ActivationSource = "web"
	ActivationAPI       ActivationSource = "api"
	ActivationMigration ActivationSource = "migration"
)

func (s ActivationSource) Valid() bool {
	return s == ActivationWeb || s == ActivationAPI || s == ActivationMigration
}

// LicenseActivation records one usage of a license on a client. A nil
// DeactivatedAt means the activation is active.
type LicenseActivation struct {
	ID            int64            `db:"id"`
	LicenseID     int64            `db:"license_id"`
	Token         string           `db:"token"`
	Label         *string          `db:"label"`
	Source        ActivationSource `db:"source"`
	IPAddress     *string          `db:"ip_address"`
	UserAgent     *string          `db:"user_agent"`
	MetaData      *string          `db:"meta_data"` // JSON
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     *time.Time       `db:"updated_at"`
	DeactivatedAt *time.Time       `db:"deactivated_at"`
}

func (a *LicenseActivation) IsActive() bool { return a.DeactivatedAt == nil }
