package licenses

import (
	"time"

	"github.com/jmehdipour/license-manager/internal/model"
)

// View is the API representation of a license with its plain key.
type View struct {
	ID                   int64               `json:"id"`
	LicenseKey           string              `json:"license_key"`
	OrderID              *int64              `json:"order_id"`
	ProductID            *int64              `json:"product_id"`
	UserID               *int64              `json:"user_id"`
	ExpiresAt            *time.Time          `json:"expires_at"`
	ValidFor             *int                `json:"valid_for"`
	Source               model.LicenseSource `json:"source"`
	Status               model.LicenseStatus `json:"status"`
	ActivationsLimit     *int                `json:"activations_limit"`
	TimesActivated       *int                `json:"times_activated,omitempty"`
	RemainingActivations *int                `json:"remaining_activations,omitempty"` // nil = unlimited
	Expired              bool                `json:"expired"`
	CreatedAt            time.Time           `json:"created_at"`
	CreatedBy            *int64              `json:"created_by"`
	UpdatedAt            *time.Time          `json:"updated_at"`
	UpdatedBy            *int64              `json:"updated_by"`
}

// NewView builds the API representation of l with the given plain key.
func NewView(l *model.License, plain string) *View {
	return &View{
		ID:               l.ID,
		LicenseKey:       plain,
		OrderID:          l.OrderID,
		ProductID:        l.ProductID,
		UserID:           l.UserID,
		ExpiresAt:        l.ExpiresAt,
		ValidFor:         l.ValidFor,
		Source:           l.Source,
		Status:           l.Status,
		ActivationsLimit: l.ActivationsLimit,
		CreatedAt:        l.CreatedAt,
		CreatedBy:        l.CreatedBy,
		UpdatedAt:        l.UpdatedAt,
		UpdatedBy:        l.UpdatedBy,
	}
}

func (v *View) withActivations(active int, now time.Time) {
	v.TimesActivated = &active
	if v.ActivationsLimit != nil && *v.ActivationsLimit > 0 {
		remaining := *v.ActivationsLimit - active
		if remaining < 0 {
			remaining = 0
		}
		v.RemainingActivations = &remaining
	}
	v.Expired = v.ExpiresAt != nil && v.ExpiresAt.Before(now)
}

// Validation is the answer of Validate: the license plus whether it can be
// activated right now.
type Validation struct {
	*View
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"` // error code when not valid
}
