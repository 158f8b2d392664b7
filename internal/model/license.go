package model

import (
	"strings"
	"time"
)

type LicenseStatus string

const (
	LicenseSold      LicenseStatus = "sold"
	LicenseDelivered LicenseStatus = "delivered"
	LicenseActive    LicenseStatus = "active"
	LicenseInactive  LicenseStatus = "inactive"
	LicenseDisabled  LicenseStatus = "disabled"
)

func (s LicenseStatus) String() string { return string(s) }

func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseSold, LicenseDelivered, LicenseActive, LicenseInactive, LicenseDisabled:
		return true
	}
	return false
}

// ParseLicenseStatus normalizes input; empty => active (in stock).
// Returns (value, true) if valid; otherwise (active, false).
func ParseLicenseStatus(s string) (LicenseStatus, bool) {
	st := LicenseStatus(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return LicenseActive, true
	}
	if !st.Valid() {
		return LicenseActive, false
	}
	return st, true
}

type LicenseSource string

const (
	SourceGenerator LicenseSource = "generator"
	SourceImport    LicenseSource = "import"
	SourceAPI       LicenseSource = "api"
)

func (s LicenseSource) String() string { return string(s) }

func (s LicenseSource) Valid() bool {
	return s == SourceGenerator || s == SourceImport || s == SourceAPI
}

// License is the DB entity persisted in licenses table.
// LicenseKey holds the encrypted key; Hash is the keyed lookup hash.
type License struct {
	ID               int64         `db:"id"`
	LicenseKey       string        `db:"license_key"`
	Hash             string        `db:"hash"`
	OrderID          *int64        `db:"order_id"`
	ProductID        *int64        `db:"product_id"`
	UserID           *int64        `db:"user_id"`
	ExpiresAt        *time.Time    `db:"expires_at"`
	ValidFor         *int          `db:"valid_for"` // days, applied when sold
	Source           LicenseSource `db:"source"`
	Status           LicenseStatus `db:"status"`
	ActivationsLimit *int          `db:"activations_limit"` // nil|0 = unlimited
	CreatedAt        time.Time     `db:"created_at"`
	CreatedBy        *int64        `db:"created_by"`
	UpdatedAt        *time.Time    `db:"updated_at"`
	UpdatedBy        *int64        `db:"updated_by"`
}

// IsExpired reports whether expires_at is set and lies before now.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

func (l *License) IsDisabled() bool { return l.Status == LicenseDisabled }

// Limit returns the activation limit, 0 meaning unlimited.
func (l *License) Limit() int {
	if l.ActivationsLimit == nil || *l.ActivationsLimit < 0 {
		return 0
	}
	return *l.ActivationsLimit
}

// ExpiryFrom computes expires_at for a license sold at t. Licenses without
// valid_for keep their current expiry.
func (l *License) ExpiryFrom(t time.Time) *time.Time {
	if l.ValidFor == nil || *l.ValidFor <= 0 {
		return l.ExpiresAt
	}
	exp := t.AddDate(0, 0, *l.ValidFor)
	return &exp
}

// LicenseFilter narrows List queries; zero values are ignored.
type LicenseFilter struct {
	Status    LicenseStatus
	Source    LicenseSource
	OrderID   int64
	ProductID int64
	UserID    int64
	Limit     int
	Offset    int
}
