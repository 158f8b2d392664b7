package generators

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/generator"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/metrics"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"go.uber.org/zap"
)

// Service manages generator templates and mints licenses from them.
type Service struct {
	generators   repository.GeneratorsRepository
	licensesRepo repository.LicensesRepository
	licenses     *licenses.Service
	gen          *generator.StandardGenerator
	maxAmount    int
	now          func() time.Time
}

// New constructs the generators service. maxAmount caps a single Generate call.
func New(
	generatorsRepo repository.GeneratorsRepository,
	licensesRepo repository.LicensesRepository,
	licensesSvc *licenses.Service,
	gen *generator.StandardGenerator,
	maxAmount int,
) *Service {
	if maxAmount <= 0 {
		maxAmount = 5000
	}
	return &Service{
		generators:   generatorsRepo,
		licensesRepo: licensesRepo,
		licenses:     licensesSvc,
		gen:          gen,
		maxAmount:    maxAmount,
		now:          time.Now,
	}
}

func (s *Service) Create(ctx context.Context, g model.Generator) (*model.Generator, error) {
	if err := generator.Validate(g); err != nil {
		return nil, err
	}
	id, err := s.generators.Insert(ctx, &g)
	if err != nil {
		return nil, fmt.Errorf("insert generator: %w", err)
	}
	g.ID = id
	g.CreatedAt = s.now()
	return &g, nil
}

func (s *Service) Update(ctx context.Context, id int64, g model.Generator) (*model.Generator, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	g.ID = id
	g.CreatedAt = existing.CreatedAt
	if err := generator.Validate(g); err != nil {
		return nil, err
	}
	if err := s.generators.Update(ctx, &g); err != nil {
		return nil, fmt.Errorf("update generator: %w", err)
	}
	now := s.now()
	g.UpdatedAt = &now
	return &g, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	n, err := s.generators.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete generator: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("generator #%d could not be found", id)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.Generator, error) {
	g, err := s.generators.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get generator: %w", err)
	}
	if g == nil {
		return nil, apperr.NotFound("generator #%d could not be found", id)
	}
	return g, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]model.Generator, error) {
	return s.generators.List(ctx, limit, offset)
}

// MintKeys produces amount plain keys that do not collide with stored ones
// (unless duplicates are allowed).
func (s *Service) MintKeys(ctx context.Context, g *model.Generator, amount int) ([]string, error) {
	var exists generator.ExistsFunc
	if !s.licenses.AllowsDuplicates() {
		exists = s.licenses.KeyTaken
	}
	return s.gen.Generate(ctx, amount, *g, exists)
}

// GenerateOptions controls what happens to minted keys.
type GenerateOptions struct {
	Amount    int
	Save      bool
	Status    model.LicenseStatus
	OrderID   *int64
	ProductID *int64
	UserID    *int64
	CreatedBy *int64
}

type GenerateResult struct {
	GeneratorID int64    `json:"generator_id"`
	Keys        []string `json:"keys"`
	Saved       int64    `json:"saved"`
}

// Generate mints opts.Amount keys from generator id and optionally stores
// them as licenses with the generator's expiry and activation limit.
func (s *Service) Generate(ctx context.Context, id int64, opts GenerateOptions) (*GenerateResult, error) {
	if opts.Amount < 1 || opts.Amount > s.maxAmount {
		return nil, apperr.Invalid("amount must be between 1 and %d", s.maxAmount)
	}
	if opts.Status == "" {
		opts.Status = model.LicenseActive
	}
	if !opts.Status.Valid() {
		return nil, apperr.Invalid("invalid status %q", opts.Status)
	}

	g, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	keys, err := s.MintKeys(ctx, g, opts.Amount)
	if err != nil {
		return nil, err
	}
	res := &GenerateResult{GeneratorID: id, Keys: keys}

	if opts.Save {
		rows, err := s.BuildLicenses(keys, g, opts)
		if err != nil {
			return nil, err
		}
		res.Saved, err = s.licensesRepo.BulkInsert(ctx, nil, rows)
		if err != nil {
			return nil, fmt.Errorf("save generated licenses: %w", err)
		}
	}

	metrics.LicensesGenerated.WithLabelValues(strconv.FormatBool(opts.Save)).Add(float64(len(keys)))
	logger.Log.Info("licenses generated",
		zap.Int64("generator_id", id),
		zap.Int("amount", len(keys)),
		zap.Int64("saved", res.Saved),
	)
	return res, nil
}

// BuildLicenses seals keys into license rows carrying the generator's
// validity and activation limit.
func (s *Service) BuildLicenses(keys []string, g *model.Generator, opts GenerateOptions) ([]model.License, error) {
	now := s.now()
	rows := make([]model.License, 0, len(keys))
	for _, k := range keys {
		encrypted, hash, err := s.licenses.Seal(k)
		if err != nil {
			return nil, err
		}
		l := model.License{
			LicenseKey:       encrypted,
			Hash:             hash,
			OrderID:          opts.OrderID,
			ProductID:        opts.ProductID,
			UserID:           opts.UserID,
			ValidFor:         g.ExpiresIn,
			Source:           model.SourceGenerator,
			Status:           opts.Status,
			ActivationsLimit: g.ActivationsLimit,
			CreatedBy:        opts.CreatedBy,
		}
		if opts.Status == model.LicenseSold || opts.Status == model.LicenseDelivered {
			l.ExpiresAt = l.ExpiryFrom(now)
		}
		rows = append(rows, l)
	}
	return rows, nil
}
