package orders

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeFulfilled Outcome = "fulfilled"
	OutcomeRevoked   Outcome = "revoked"
	OutcomeIgnored   Outcome = "ignored"
)

type Options struct {
	FulfillOn    []string
	RevokeOn     []string
	RevokeStatus model.LicenseStatus
}

// Service assigns licenses to orders (from stock or generators) and moves
// them through sold/delivered/revoked states.
type Service struct {
	tx           repository.Transactor
	licensesRepo repository.LicensesRepository
	products     repository.ProductsRepository
	licenses     *licenses.Service
	generators   *generators.Service

	fulfillOn    map[string]bool
	revokeOn     map[string]bool
	revokeStatus model.LicenseStatus
	now          func() time.Time
}

func New(
	tx repository.Transactor,
	licensesRepo repository.LicensesRepository,
	productsRepo repository.ProductsRepository,
	licensesSvc *licenses.Service,
	generatorsSvc *generators.Service,
	opts Options,
) *Service {
	if len(opts.FulfillOn) == 0 {
		opts.FulfillOn = []string{"processing", "completed"}
	}
	if len(opts.RevokeOn) == 0 {
		opts.RevokeOn = []string{"refunded", "cancelled"}
	}
	if !opts.RevokeStatus.Valid() {
		opts.RevokeStatus = model.LicenseDisabled
	}
	return &Service{
		tx:           tx,
		licensesRepo: licensesRepo,
		products:     productsRepo,
		licenses:     licensesSvc,
		generators:   generatorsSvc,
		fulfillOn:    toSet(opts.FulfillOn),
		revokeOn:     toSet(opts.RevokeOn),
		revokeStatus: opts.RevokeStatus,
		now:          time.Now,
	}
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return m
}

// Handle routes an order status event. For fulfilled orders it returns the
// licenses that still await delivery.
func (s *Service) Handle(ctx context.Context, ev model.OrderEvent) (Outcome, []model.License, error) {
	if ev.OrderID <= 0 {
		return OutcomeIgnored, nil, apperr.Invalid("order id is required")
	}
	status := strings.ToLower(strings.TrimSpace(ev.Status))

	switch {
	case s.fulfillOn[status]:
		pending, err := s.Fulfill(ctx, ev)
		if err != nil {
			return OutcomeIgnored, nil, err
		}
		return OutcomeFulfilled, pending, nil
	case s.revokeOn[status]:
		if _, err := s.Revoke(ctx, ev.OrderID); err != nil {
			return OutcomeIgnored, nil, err
		}
		return OutcomeRevoked, nil, nil
	default:
		return OutcomeIgnored, nil, nil
	}
}

// Fulfill assigns the licenses each licensed line item needs. It is
// idempotent per (order, product): already assigned licenses count towards
// the required quantity. Either every line is satisfied or nothing changes.
func (s *Service) Fulfill(ctx context.Context, ev model.OrderEvent) ([]model.License, error) {
	soldAt := s.now()

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var sold []model.LicenseEvent

		for _, item := range ev.Items {
			if item.ProductID <= 0 || item.Quantity <= 0 {
				continue
			}
			ps, err := s.products.Get(ctx, tx, item.ProductID)
			if err != nil {
				return fmt.Errorf("product settings %d: %w", item.ProductID, err)
			}
			if ps == nil || !ps.Licensed {
				continue
			}

			assigned, err := s.licensesRepo.CountByOrderProduct(ctx, tx, ev.OrderID, item.ProductID)
			if err != nil {
				return fmt.Errorf("count assigned: %w", err)
			}
			needed := item.Quantity*ps.PerUnit() - assigned
			if needed <= 0 {
				continue
			}

			ids, err := s.assign(ctx, tx, ev, ps, needed, soldAt)
			if err != nil {
				return err
			}
			for _, id := range ids {
				sold = append(sold, model.LicenseEvent{LicenseID: id, Action: model.ActionSold, OrderID: ev.OrderID})
			}
		}

		return s.licenses.Publish(ctx, tx, sold...)
	})
	if err != nil {
		return nil, err
	}

	return s.Pending(ctx, ev.OrderID)
}

// assign takes needed licenses from stock first, then from the product's
// generator. Returns the ids bound to the order.
func (s *Service) assign(ctx context.Context, tx *sqlx.Tx, ev model.OrderEvent, ps *model.ProductSettings, needed int, soldAt time.Time) ([]int64, error) {
	var ids []int64

	if ps.UseStock {
		picked, err := s.licensesRepo.PickStockForUpdate(ctx, tx, ps.ProductID, needed)
		if err != nil {
			return nil, fmt.Errorf("pick stock: %w", err)
		}
		stockIDs := make([]int64, 0, len(picked))
		for _, l := range picked {
			stockIDs = append(stockIDs, l.ID)
		}
		if err := s.licensesRepo.AssignToOrder(ctx, tx, stockIDs, repository.Assignment{
			OrderID:   ev.OrderID,
			ProductID: ps.ProductID,
			UserID:    ev.UserID,
			Status:    model.LicenseSold,
			SoldAt:    soldAt,
		}); err != nil {
			return nil, fmt.Errorf("assign stock: %w", err)
		}
		ids = append(ids, stockIDs...)
		needed -= len(stockIDs)
	}

	if needed > 0 && ps.UseGenerator && ps.GeneratorID != nil {
		g, err := s.generators.Get(ctx, *ps.GeneratorID)
		if err != nil {
			return nil, err
		}
		keys, err := s.generators.MintKeys(ctx, g, needed)
		if err != nil {
			return nil, err
		}
		orderID, productID := ev.OrderID, ps.ProductID
		rows, err := s.generators.BuildLicenses(keys, g, generators.GenerateOptions{
			Status:    model.LicenseSold,
			OrderID:   &orderID,
			ProductID: &productID,
			UserID:    ev.UserID,
		})
		if err != nil {
			return nil, err
		}
		for i := range rows {
			id, err := s.licensesRepo.Insert(ctx, tx, &rows[i])
			if err != nil {
				return nil, fmt.Errorf("insert generated license: %w", err)
			}
			ids = append(ids, id)
		}
		needed -= len(rows)
	}

	if needed > 0 {
		return nil, apperr.New(apperr.CodeOutOfStock, http.StatusConflict,
			"order #%d: %d license(s) missing for product #%d", ev.OrderID, needed, ps.ProductID)
	}
	return ids, nil
}

// Pending returns the order's licenses that are sold but not yet delivered.
func (s *Service) Pending(ctx context.Context, orderID int64) ([]model.License, error) {
	all, err := s.licensesRepo.ListByOrder(ctx, nil, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order licenses: %w", err)
	}
	pending := make([]model.License, 0, len(all))
	for _, l := range all {
		if l.Status == model.LicenseSold {
			pending = append(pending, l)
		}
	}
	return pending, nil
}

// MarkDelivered moves licenses to delivered.
func (s *Service) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.licensesRepo.BatchUpdateStatus(ctx, tx, ids, model.LicenseDelivered); err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		events := make([]model.LicenseEvent, 0, len(ids))
		for _, id := range ids {
			events = append(events, model.LicenseEvent{LicenseID: id, Action: model.ActionDelivered})
		}
		return s.licenses.Publish(ctx, tx, events...)
	})
}

// MarkOrderDelivered moves every sold license of the order to delivered and
// returns how many changed. Used when keys reached the customer out of band.
func (s *Service) MarkOrderDelivered(ctx context.Context, orderID int64) (int, error) {
	if orderID <= 0 {
		return 0, apperr.Invalid("order id is required")
	}
	pending, err := s.Pending(ctx, orderID)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, 0, len(pending))
	for _, l := range pending {
		ids = append(ids, l.ID)
	}
	if err := s.MarkDelivered(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Revoke sets every license of the order to the configured revoke status.
func (s *Service) Revoke(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		all, err := s.licensesRepo.ListByOrder(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("list order licenses: %w", err)
		}
		ids := make([]int64, 0, len(all))
		events := make([]model.LicenseEvent, 0, len(all))
		for _, l := range all {
			if l.Status == s.revokeStatus {
				continue
			}
			ids = append(ids, l.ID)
			events = append(events, model.LicenseEvent{LicenseID: l.ID, Action: model.ActionRevoked, OrderID: orderID})
		}
		if err := s.licensesRepo.BatchUpdateStatus(ctx, tx, ids, s.revokeStatus); err != nil {
			return fmt.Errorf("revoke: %w", err)
		}
		n = len(ids)
		return s.licenses.Publish(ctx, tx, events...)
	})
	if err != nil {
		return 0, err
	}

	logger.Log.Info("order licenses revoked",
		zap.Int64("order_id", orderID),
		zap.Int("count", n),
		zap.String("status", s.revokeStatus.String()),
	)
	return n, nil
}
