package licenses

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/model"
)

const maxMetaKeyLength = 255

func (s *Service) ensureLicense(ctx context.Context, licenseID int64) error {
	l, err := s.licenses.GetByID(ctx, nil, licenseID)
	if err != nil {
		return fmt.Errorf("get license: %w", err)
	}
	if l == nil {
		return apperr.NotFound("license #%d could not be found", licenseID)
	}
	return nil
}

func validateMetaKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", apperr.Invalid("meta key is required")
	}
	if len(key) > maxMetaKeyLength {
		return "", apperr.Invalid("meta key is longer than %d characters", maxMetaKeyLength)
	}
	return key, nil
}

// AddMeta attaches a key/value pair to a license. Keys may repeat.
func (s *Service) AddMeta(ctx context.Context, licenseID int64, key, value string) (*model.LicenseMeta, error) {
	key, err := validateMetaKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.ensureLicense(ctx, licenseID); err != nil {
		return nil, err
	}

	m := &model.LicenseMeta{LicenseID: licenseID, MetaKey: key, MetaValue: value}
	id, err := s.meta.Add(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("add meta: %w", err)
	}
	m.ID = id
	return m, nil
}

// GetMeta returns all values stored under key for a license.
func (s *Service) GetMeta(ctx context.Context, licenseID int64, key string) ([]model.LicenseMeta, error) {
	key, err := validateMetaKey(key)
	if err != nil {
		return nil, err
	}
	return s.meta.Get(ctx, licenseID, key)
}

// UpdateMeta overwrites every value under key; a missing key is added.
func (s *Service) UpdateMeta(ctx context.Context, licenseID int64, key, value string) error {
	key, err := validateMetaKey(key)
	if err != nil {
		return err
	}
	n, err := s.meta.Update(ctx, licenseID, key, value)
	if err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	if n > 0 {
		return nil
	}
	existing, err := s.meta.Get(ctx, licenseID, key)
	if err != nil {
		return fmt.Errorf("get meta: %w", err)
	}
	if len(existing) > 0 {
		return nil // same value already stored
	}
	_, err = s.AddMeta(ctx, licenseID, key, value)
	return err
}

func (s *Service) DeleteMeta(ctx context.Context, licenseID int64, key string) (int64, error) {
	key, err := validateMetaKey(key)
	if err != nil {
		return 0, err
	}
	return s.meta.Delete(ctx, licenseID, key)
}
