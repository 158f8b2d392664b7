package licenses

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/keycrypt"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const DefaultEventsTopic = "dlm.license.events"

const maxKeyLength = 255

type Options struct {
	AllowDuplicates bool
	EventsTopic     string
}

// Service orchestrates license CRUD and the activation lifecycle.
type Service struct {
	tx          repository.Transactor
	licenses    repository.LicensesRepository
	activations repository.ActivationsRepository
	meta        repository.LicenseMetaRepository
	outbox      repository.OutboxRepository
	crypt       *keycrypt.Crypter

	allowDuplicates bool
	eventsTopic     string
	now             func() time.Time
}

// New constructs the licenses service.
func New(
	tx repository.Transactor,
	licensesRepo repository.LicensesRepository,
	activationsRepo repository.ActivationsRepository,
	metaRepo repository.LicenseMetaRepository,
	outboxRepo repository.OutboxRepository,
	crypt *keycrypt.Crypter,
	opts Options,
) *Service {
	if opts.EventsTopic == "" {
		opts.EventsTopic = DefaultEventsTopic
	}
	return &Service{
		tx:              tx,
		licenses:        licensesRepo,
		activations:     activationsRepo,
		meta:            metaRepo,
		outbox:          outboxRepo,
		crypt:           crypt,
		allowDuplicates: opts.AllowDuplicates,
		eventsTopic:     opts.EventsTopic,
		now:             time.Now,
	}
}

// CreateInput carries the fields of a new license.
type CreateInput struct {
	Key              string
	OrderID          *int64
	ProductID        *int64
	UserID           *int64
	ExpiresAt        *time.Time
	ValidFor         *int
	Status           model.LicenseStatus
	Source           model.LicenseSource
	ActivationsLimit *int
	CreatedBy        *int64
}

// UpdateInput is a patch: nil fields are left untouched.
type UpdateInput struct {
	Key              *string
	OrderID          *int64
	ProductID        *int64
	UserID           *int64
	ExpiresAt        *time.Time
	ValidFor         *int
	Status           *model.LicenseStatus
	ActivationsLimit *int
	UpdatedBy        *int64
}

// Seal encrypts and hashes a plain key.
func (s *Service) Seal(key string) (encrypted, hash string, err error) {
	encrypted, err = s.crypt.Encrypt(key)
	if err != nil {
		return "", "", fmt.Errorf("encrypt key: %w", err)
	}
	return encrypted, s.crypt.Hash(key), nil
}

// Decrypt returns the plain key of a stored license.
func (s *Service) Decrypt(l *model.License) (string, error) {
	return s.crypt.Decrypt(l.LicenseKey)
}

// KeyTaken reports whether key may not be stored again. Always false when
// duplicates are allowed.
func (s *Service) KeyTaken(ctx context.Context, key string) (bool, error) {
	if s.allowDuplicates {
		return false, nil
	}
	return s.licenses.ExistsByHash(ctx, nil, s.crypt.Hash(key))
}

// AllowsDuplicates exposes the hash uniqueness policy.
func (s *Service) AllowsDuplicates() bool { return s.allowDuplicates }

func validateKey(key string) error {
	if key == "" {
		return apperr.Invalid("license key is required")
	}
	if len(key) > maxKeyLength {
		return apperr.Invalid("license key is longer than %d characters", maxKeyLength)
	}
	return nil
}

func validateNumbers(validFor, limit *int) error {
	if validFor != nil && *validFor < 0 {
		return apperr.Invalid("valid_for must not be negative")
	}
	if limit != nil && *limit < 0 {
		return apperr.Invalid("activations_limit must not be negative")
	}
	return nil
}

func isSold(st model.LicenseStatus) bool {
	return st == model.LicenseSold || st == model.LicenseDelivered
}

// Create validates, seals and persists a license.
func (s *Service) Create(ctx context.Context, in CreateInput) (*View, error) {
	in.Key = util.NormalizeKey(in.Key)
	if err := validateKey(in.Key); err != nil {
		return nil, err
	}
	if err := validateNumbers(in.ValidFor, in.ActivationsLimit); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = model.LicenseActive
	}
	if !in.Status.Valid() {
		return nil, apperr.Invalid("invalid status %q", in.Status)
	}
	if in.Source == "" {
		in.Source = model.SourceAPI
	}
	if !in.Source.Valid() {
		return nil, apperr.Invalid("invalid source %q", in.Source)
	}

	encrypted, hash, err := s.Seal(in.Key)
	if err != nil {
		return nil, err
	}

	l := &model.License{
		LicenseKey:       encrypted,
		Hash:             hash,
		OrderID:          in.OrderID,
		ProductID:        in.ProductID,
		UserID:           in.UserID,
		ExpiresAt:        in.ExpiresAt,
		ValidFor:         in.ValidFor,
		Source:           in.Source,
		Status:           in.Status,
		ActivationsLimit: in.ActivationsLimit,
		CreatedBy:        in.CreatedBy,
	}
	if isSold(l.Status) && l.ExpiresAt == nil {
		l.ExpiresAt = l.ExpiryFrom(s.now())
	}

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if !s.allowDuplicates {
			taken, err := s.licenses.ExistsByHash(ctx, tx, hash)
			if err != nil {
				return fmt.Errorf("check duplicate: %w", err)
			}
			if taken {
				return apperr.New(apperr.CodeLicenseExists, http.StatusConflict, "the license key already exists")
			}
		}

		id, err := s.licenses.Insert(ctx, tx, l)
		if err != nil {
			return fmt.Errorf("insert license: %w", err)
		}
		l.ID = id
		l.CreatedAt = s.now()

		return s.publish(ctx, tx, model.LicenseEvent{LicenseID: id, Action: model.ActionCreated})
	})
	if err != nil {
		return nil, err
	}

	return NewView(l, in.Key), nil
}

// Update applies a patch to the license identified by key.
func (s *Service) Update(ctx context.Context, key string, in UpdateInput) (*View, error) {
	if err := validateNumbers(in.ValidFor, in.ActivationsLimit); err != nil {
		return nil, err
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, apperr.Invalid("invalid status %q", *in.Status)
	}

	plain := util.NormalizeKey(key)
	var l *model.License

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		l, err = s.lockByKey(ctx, tx, plain)
		if err != nil {
			return err
		}

		if in.Key != nil {
			newKey := util.NormalizeKey(*in.Key)
			if err := validateKey(newKey); err != nil {
				return err
			}
			if newKey != plain {
				encrypted, hash, err := s.Seal(newKey)
				if err != nil {
					return err
				}
				if !s.allowDuplicates {
					other, err := s.licenses.GetByHash(ctx, tx, hash)
					if err != nil {
						return fmt.Errorf("check duplicate: %w", err)
					}
					if other != nil && other.ID != l.ID {
						return apperr.New(apperr.CodeLicenseExists, http.StatusConflict, "the license key already exists")
					}
				}
				l.LicenseKey, l.Hash = encrypted, hash
				plain = newKey
			}
		}
		if in.OrderID != nil {
			l.OrderID = in.OrderID
		}
		if in.ProductID != nil {
			l.ProductID = in.ProductID
		}
		if in.UserID != nil {
			l.UserID = in.UserID
		}
		if in.ExpiresAt != nil {
			l.ExpiresAt = in.ExpiresAt
		}
		if in.ValidFor != nil {
			l.ValidFor = in.ValidFor
		}
		if in.ActivationsLimit != nil {
			l.ActivationsLimit = in.ActivationsLimit
		}
		if in.Status != nil {
			l.Status = *in.Status
		}
		if isSold(l.Status) && l.ExpiresAt == nil {
			l.ExpiresAt = l.ExpiryFrom(s.now())
		}
		if in.UpdatedBy != nil {
			l.UpdatedBy = in.UpdatedBy
		}
		now := s.now()
		l.UpdatedAt = &now

		if err := s.licenses.Update(ctx, tx, l); err != nil {
			return fmt.Errorf("update license: %w", err)
		}
		return s.publish(ctx, tx, model.LicenseEvent{LicenseID: l.ID, Action: model.ActionUpdated})
	})
	if err != nil {
		return nil, err
	}

	return NewView(l, plain), nil
}

// Delete removes licenses together with their activations and meta.
func (s *Service) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var n int64
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.activations.DeleteByLicenses(ctx, tx, ids); err != nil {
			return fmt.Errorf("delete activations: %w", err)
		}
		if err := s.meta.DeleteByLicenses(ctx, tx, ids); err != nil {
			return fmt.Errorf("delete meta: %w", err)
		}
		var err error
		n, err = s.licenses.Delete(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("delete licenses: %w", err)
		}

		events := make([]model.LicenseEvent, 0, len(ids))
		for _, id := range ids {
			events = append(events, model.LicenseEvent{LicenseID: id, Action: model.ActionDeleted})
		}
		return s.publish(ctx, tx, events...)
	})
	return n, err
}

// DeleteByKey removes the license identified by key.
func (s *Service) DeleteByKey(ctx context.Context, key string) error {
	l, err := s.findByKey(ctx, nil, util.NormalizeKey(key))
	if err != nil {
		return err
	}
	_, err = s.Delete(ctx, []int64{l.ID})
	return err
}

func (s *Service) findByKey(ctx context.Context, tx *sqlx.Tx, key string) (*model.License, error) {
	if key == "" {
		return nil, apperr.Invalid("license key is required")
	}
	l, err := s.licenses.GetByHash(ctx, tx, s.crypt.Hash(key))
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	if l == nil {
		return nil, apperr.NotFound("license key: %s could not be found", key)
	}
	return l, nil
}

// lockByKey finds the license by key and locks its row for the rest of tx.
func (s *Service) lockByKey(ctx context.Context, tx *sqlx.Tx, key string) (*model.License, error) {
	l, err := s.findByKey(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	locked, err := s.licenses.GetForUpdate(ctx, tx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("lock license: %w", err)
	}
	if locked == nil {
		return nil, apperr.NotFound("license key: %s could not be found", key)
	}
	return locked, nil
}

// Find returns a license by id with its activation count.
func (s *Service) Find(ctx context.Context, id int64) (*View, error) {
	l, err := s.licenses.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	if l == nil {
		return nil, apperr.NotFound("license #%d could not be found", id)
	}
	return s.detailedView(ctx, l)
}

// FindByKey returns a license by its plain key with its activation count.
func (s *Service) FindByKey(ctx context.Context, key string) (*View, error) {
	l, err := s.findByKey(ctx, nil, util.NormalizeKey(key))
	if err != nil {
		return nil, err
	}
	return s.detailedView(ctx, l)
}

func (s *Service) detailedView(ctx context.Context, l *model.License) (*View, error) {
	plain, err := s.Decrypt(l)
	if err != nil {
		return nil, fmt.Errorf("decrypt license #%d: %w", l.ID, err)
	}
	v := NewView(l, plain)

	n, err := s.activations.CountActive(ctx, nil, l.ID)
	if err != nil {
		return nil, fmt.Errorf("count activations: %w", err)
	}
	v.withActivations(n, s.now())
	return v, nil
}

// List returns licenses matching f. Keys that fail to decrypt are logged and
// returned without the plain key.
func (s *Service) List(ctx context.Context, f model.LicenseFilter) ([]*View, error) {
	rows, err := s.licenses.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	out := make([]*View, 0, len(rows))
	for i := range rows {
		plain, err := s.Decrypt(&rows[i])
		if err != nil {
			logger.Log.Warn("decrypt license failed", zap.Int64("license_id", rows[i].ID), zap.Error(err))
		}
		out = append(out, NewView(&rows[i], plain))
	}
	return out, nil
}

// Stock counts licenses available for sale for a product.
func (s *Service) Stock(ctx context.Context, productID int64) (int64, error) {
	if productID <= 0 {
		return 0, apperr.Invalid("product id is required")
	}
	return s.licenses.CountStock(ctx, productID)
}

// publish stamps ids/timestamps and writes events into the outbox within tx.
func (s *Service) publish(ctx context.Context, tx *sqlx.Tx, events ...model.LicenseEvent) error {
	now := s.now().UTC()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = util.NewID()
		}
		if events[i].OccurredAt.IsZero() {
			events[i].OccurredAt = now
		}
	}
	if err := s.outbox.PublishLicenseEvents(ctx, tx, s.eventsTopic, events...); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	return nil
}

// Publish writes lifecycle events for callers outside this package (orders,
// generators) within their transaction.
func (s *Service) Publish(ctx context.Context, tx *sqlx.Tx, events ...model.LicenseEvent) error {
	return s.publish(ctx, tx, events...)
}
