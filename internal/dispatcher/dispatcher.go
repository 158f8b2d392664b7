// Package dispatcher delivers license keys to HTTP providers with
// round-robin selection, per-provider circuit breakers and bounded retries.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/model"
	"go.uber.org/zap"
)

var (
	ErrNoHealthy = errors.New("no healthy providers")
	ErrNoAcquire = errors.New("provider not acquired")
)

type Dispatcher struct {
	providers   []Provider
	rr          atomic.Uint64
	maxAttempts int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

// Enabled reports whether any provider is configured.
func (d *Dispatcher) Enabled() bool { return len(d.providers) > 0 }

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}
	x := d.rr.Add(1)
	return healthy[int((x-1)%uint64(len(healthy)))], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, del model.Delivery) error {
	p, err := d.selectProvider()
	if err != nil {
		return err
	}
	if !p.Acquire() {
		return ErrNoAcquire
	}
	if err := p.Deliver(ctx, del); err != nil {
		logger.Log.Warn("delivery attempt failed",
			zap.String("provider", p.Name()),
			zap.Int64("order_id", del.OrderID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Deliver tries up to maxAttempts providers and returns the last error.
func (d *Dispatcher) Deliver(ctx context.Context, del model.Delivery) error {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := d.tryOnce(ctx, del)
		if err == nil {
			return nil
		}
		last = err
	}
	if last == nil {
		last = fmt.Errorf("deliver order %d failed", del.OrderID)
	}
	return last
}
