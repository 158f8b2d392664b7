package licenses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/keycrypt"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/metrics"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	tokenBytes         = 20 // 40 hex chars
	maxTokenAttempts   = 5
	maxLabelLength     = 255
	maxUserAgentLength = 1024
	maxIPAddressLength = 64
)

var errTokenCollision = errors.New("could not allocate a unique activation token")

// ActivateParams describes the client activating a license.
type ActivateParams struct {
	Label     string
	Source    model.ActivationSource
	IPAddress string
	UserAgent string
	Meta      map[string]any
}

// Activate records a new activation of the license identified by key. The
// license row is locked so concurrent activations cannot exceed the limit.
func (s *Service) Activate(ctx context.Context, key string, p ActivateParams) (*model.LicenseActivation, error) {
	key = util.NormalizeKey(key)
	if p.Source == "" {
		p.Source = model.ActivationAPI
	}
	if !p.Source.Valid() {
		return nil, apperr.Invalid("invalid activation source %q", p.Source)
	}

	var meta *string
	if len(p.Meta) > 0 {
		b, err := json.Marshal(p.Meta)
		if err != nil {
			return nil, apperr.Invalid("activation meta is not valid JSON")
		}
		m := string(b)
		meta = &m
	}

	var act *model.LicenseActivation
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		l, err := s.lockByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := s.checkActivatable(ctx, tx, l, key); err != nil {
			return err
		}

		token, err := s.newToken(ctx, tx)
		if err != nil {
			return err
		}

		act = &model.LicenseActivation{
			LicenseID: l.ID,
			Token:     token,
			Label:     util.StrPtr(util.Truncate(p.Label, maxLabelLength)),
			Source:    p.Source,
			IPAddress: util.StrPtr(util.Truncate(p.IPAddress, maxIPAddressLength)),
			UserAgent: util.StrPtr(util.Truncate(p.UserAgent, maxUserAgentLength)),
			MetaData:  meta,
			CreatedAt: s.now(),
		}
		id, err := s.activations.Insert(ctx, tx, act)
		if err != nil {
			return fmt.Errorf("insert activation: %w", err)
		}
		act.ID = id

		return s.publish(ctx, tx, model.LicenseEvent{
			LicenseID: l.ID,
			Action:    model.ActionActivated,
			Token:     token,
			IPAddress: p.IPAddress,
		})
	})
	observe("activate", err)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("license activated",
		zap.Int64("license_id", act.LicenseID),
		zap.String("token", act.Token),
		zap.String("source", string(act.Source)),
	)
	return act, nil
}

// Deactivate marks the activation identified by token as deactivated.
func (s *Service) Deactivate(ctx context.Context, token string) (*model.LicenseActivation, error) {
	var act *model.LicenseActivation
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		act, err = s.activationByToken(ctx, tx, token)
		if err != nil {
			return err
		}
		if !act.IsActive() {
			return apperr.New(apperr.CodeActivationInactive, http.StatusConflict,
				"activation with token %s is already deactivated", token)
		}

		now := s.now()
		if err := s.activations.SetDeactivatedAt(ctx, tx, act.ID, &now); err != nil {
			return fmt.Errorf("deactivate: %w", err)
		}
		act.DeactivatedAt = &now
		act.UpdatedAt = &now

		return s.publish(ctx, tx, model.LicenseEvent{
			LicenseID: act.LicenseID,
			Action:    model.ActionDeactivated,
			Token:     act.Token,
		})
	})
	observe("deactivate", err)
	if err != nil {
		return nil, err
	}
	return act, nil
}

// Reactivate clears deactivated_at after re-checking expiry, disabled state
// and the activation limit. When key is not empty it must belong to the
// activation's license.
func (s *Service) Reactivate(ctx context.Context, token, key string) (*model.LicenseActivation, error) {
	key = util.NormalizeKey(key)

	var act *model.LicenseActivation
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		act, err = s.activationByToken(ctx, tx, token)
		if err != nil {
			return err
		}
		if act.IsActive() {
			return apperr.New(apperr.CodeActivationActive, http.StatusConflict,
				"activation with token %s is already active", token)
		}

		l, err := s.licenses.GetForUpdate(ctx, tx, act.LicenseID)
		if err != nil {
			return fmt.Errorf("lock license: %w", err)
		}
		if l == nil {
			return apperr.NotFound("license of activation %s could not be found", token)
		}
		if key != "" && s.crypt.Hash(key) != l.Hash {
			return apperr.NotFound("activation %s does not belong to license key %s", token, key)
		}

		plain := key
		if plain == "" {
			if plain, err = s.Decrypt(l); err != nil {
				return fmt.Errorf("decrypt license %d: %w", l.ID, err)
			}
		}
		if err := s.checkActivatable(ctx, tx, l, plain); err != nil {
			return err
		}

		if err := s.activations.SetDeactivatedAt(ctx, tx, act.ID, nil); err != nil {
			return fmt.Errorf("reactivate: %w", err)
		}
		now := s.now()
		act.DeactivatedAt = nil
		act.UpdatedAt = &now

		return s.publish(ctx, tx, model.LicenseEvent{
			LicenseID: l.ID,
			Action:    model.ActionReactivated,
			Token:     act.Token,
		})
	})
	observe("reactivate", err)
	if err != nil {
		return nil, err
	}
	return act, nil
}

// Validate reports whether the license identified by key can be activated
// now, together with its activation counters. Only a missing key is an error.
func (s *Service) Validate(ctx context.Context, key string) (*Validation, error) {
	v, err := s.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	res := &Validation{View: v, Valid: true}
	switch {
	case v.Expired:
		res.Valid, res.Reason = false, apperr.CodeLicenseExpired
	case v.Status == model.LicenseDisabled:
		res.Valid, res.Reason = false, apperr.CodeLicenseDisabled
	case v.RemainingActivations != nil && *v.RemainingActivations == 0:
		res.Valid, res.Reason = false, apperr.CodeActivationLimit
	}
	return res, nil
}

// Activations lists all activations of the license identified by key.
func (s *Service) Activations(ctx context.Context, key string) ([]model.LicenseActivation, error) {
	l, err := s.findByKey(ctx, nil, util.NormalizeKey(key))
	if err != nil {
		return nil, err
	}
	return s.activations.ListByLicense(ctx, l.ID)
}

// checkActivatable enforces expiry, disabled status and the activation limit.
// tx must hold the license row lock.
func (s *Service) checkActivatable(ctx context.Context, tx *sqlx.Tx, l *model.License, key string) error {
	if l.IsExpired(s.now()) {
		return apperr.New(apperr.CodeLicenseExpired, http.StatusForbidden,
			"the license key: %s expired on %s", key, l.ExpiresAt.Format("2006-01-02 15:04:05"))
	}
	if l.IsDisabled() {
		return apperr.New(apperr.CodeLicenseDisabled, http.StatusForbidden,
			"the license key: %s is disabled", key)
	}

	limit := l.Limit()
	if limit == 0 {
		return nil
	}
	active, err := s.activations.CountActive(ctx, tx, l.ID)
	if err != nil {
		return fmt.Errorf("count activations: %w", err)
	}
	if active >= limit {
		return apperr.New(apperr.CodeActivationLimit, http.StatusForbidden,
			"the license key: %s reached maximum activation count", key)
	}
	return nil
}

func (s *Service) activationByToken(ctx context.Context, tx *sqlx.Tx, token string) (*model.LicenseActivation, error) {
	if token == "" {
		return nil, apperr.Invalid("activation token is required")
	}
	act, err := s.activations.GetByToken(ctx, tx, token)
	if err != nil {
		return nil, fmt.Errorf("get activation: %w", err)
	}
	if act == nil {
		return nil, apperr.NotFound("activation with token %s could not be found", token)
	}
	return act, nil
}

func (s *Service) newToken(ctx context.Context, tx *sqlx.Tx) (string, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		token, err := keycrypt.RandomHex(tokenBytes)
		if err != nil {
			return "", fmt.Errorf("token: %w", err)
		}
		taken, err := s.activations.TokenExists(ctx, tx, token)
		if err != nil {
			return "", fmt.Errorf("check token: %w", err)
		}
		if !taken {
			return token, nil
		}
	}
	return "", errTokenCollision
}

func observe(action string, err error) {
	result := "ok"
	if err != nil {
		result = apperr.CodeOf(err)
	}
	metrics.Activations.WithLabelValues(action, result).Inc()
}
