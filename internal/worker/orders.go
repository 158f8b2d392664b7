package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/kafka"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/metrics"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/jmehdipour/license-manager/internal/service/orders"
	"go.uber.org/zap"
)

// Deliverer sends license keys to the customer. *dispatcher.Dispatcher
// implements it.
type Deliverer interface {
	Enabled() bool
	Deliver(ctx context.Context, d model.Delivery) error
}

// OrdersWorker:
// - fetches order status events from Kafka,
// - assigns or revokes licenses,
// - posts sold keys to delivery providers,
// - batches the delivered status updates.
type OrdersWorker struct {
	Source   kafka.Source
	Orders   *orders.Service
	Licenses *licenses.Service
	Dispatch Deliverer

	Workers   int
	BatchSize int
	BatchWait time.Duration

	// RetryBackoff doubles per failed attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	commits *commitTracker
}

func NewOrdersWorker(src kafka.Source, ordersSvc *orders.Service, licensesSvc *licenses.Service, d Deliverer) *OrdersWorker {
	return &OrdersWorker{
		Source:    src,
		Orders:    ordersSvc,
		Licenses:  licensesSvc,
		Dispatch:  d,
		Workers:         8,
		BatchSize:       200,
		BatchWait:       300 * time.Millisecond,
		RetryBackoff:    500 * time.Millisecond,
		MaxRetryBackoff: 30 * time.Second,
	}
}

// Run starts the worker and blocks until ctx is cancelled. Pending
// delivered updates are flushed before it returns.
func (w *OrdersWorker) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}
	if w.RetryBackoff <= 0 {
		w.RetryBackoff = 500 * time.Millisecond
	}
	if w.MaxRetryBackoff < w.RetryBackoff {
		w.MaxRetryBackoff = w.RetryBackoff
	}

	delivered := make(chan []int64, w.BatchSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w.runBatchWriter(delivered)
	}()

	msgCh := make(chan kafka.Message, w.Workers*2)
	w.commits = newCommitTracker()
	go fetchLoop(ctx, w.Source, msgCh, "orders", w.commits.track)

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				w.processOne(ctx, m, delivered)
			}
		}()
	}

	wg.Wait()
	close(delivered)
	<-writerDone
	return nil
}

// fetchLoop feeds out until ctx is done, then closes it. onFetch, if set,
// sees every message before it is handed out.
func fetchLoop(ctx context.Context, src kafka.Source, out chan<- kafka.Message, name string, onFetch func(kafka.Message)) {
	defer close(out)
	for {
		m, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Warn("kafka fetch failed", zap.String("worker", name), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		if onFetch != nil {
			onFetch(m)
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

// processOne handles m until it is settled, then commits it. Poison
// payloads and domain errors settle immediately. Infrastructure and delivery
// failures are retried with backoff; if ctx ends first the offset is left
// uncommitted so the event is redelivered.
func (w *OrdersWorker) processOne(ctx context.Context, m kafka.Message, delivered chan<- []int64) {
	backoff := w.RetryBackoff
	for attempt := 1; ; attempt++ {
		if !w.handle(ctx, m, delivered) {
			break
		}
		logger.Log.Warn("order event will be retried",
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			logger.Log.Warn("order event left uncommitted", zap.Int64("offset", m.Offset))
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, w.MaxRetryBackoff)
	}

	w.commit(ctx, m)
}

// commit acknowledges m. Under Run, offsets only advance past messages whose
// predecessors on the same partition are settled too.
func (w *OrdersWorker) commit(ctx context.Context, m kafka.Message) {
	if w.commits != nil {
		var ok bool
		if m, ok = w.commits.settle(m); !ok {
			return
		}
	}
	if err := w.Source.Commit(ctx, m); err != nil {
		logger.Log.Warn("kafka commit failed", zap.Error(err))
	}
}

// handle reports whether m should be retried.
func (w *OrdersWorker) handle(ctx context.Context, m kafka.Message, delivered chan<- []int64) bool {
	var ev model.OrderEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		logger.Log.Warn("bad order event", zap.Error(err), zap.Int64("offset", m.Offset))
		metrics.OrdersProcessed.WithLabelValues("failed").Inc()
		return false
	}

	outcome, pending, err := w.Orders.Handle(ctx, ev)
	if err != nil {
		var domainErr *apperr.Error
		retry := !errors.As(err, &domainErr)
		logger.Log.Error("order event failed",
			zap.Int64("order_id", ev.OrderID),
			zap.String("status", ev.Status),
			zap.String("code", apperr.CodeOf(err)),
			zap.Bool("retry", retry),
			zap.Error(err),
		)
		metrics.OrdersProcessed.WithLabelValues("failed").Inc()
		return retry
	}
	metrics.OrdersProcessed.WithLabelValues(string(outcome)).Inc()

	if outcome != orders.OutcomeFulfilled || len(pending) == 0 || w.Dispatch == nil || !w.Dispatch.Enabled() {
		return false
	}

	d, ids, err := w.buildDelivery(ev, pending)
	if err != nil {
		// undecryptable keys will not improve on retry; settle with licenses mark-delivered
		logger.Log.Error("build delivery failed", zap.Int64("order_id", ev.OrderID), zap.Error(err))
		metrics.Deliveries.WithLabelValues("failed").Inc()
		return false
	}
	if err := w.Dispatch.Deliver(ctx, d); err != nil {
		logger.Log.Error("delivery failed", zap.Int64("order_id", ev.OrderID), zap.Error(err))
		metrics.Deliveries.WithLabelValues("failed").Inc()
		return true
	}
	metrics.Deliveries.WithLabelValues("delivered").Inc()
	delivered <- ids
	return false
}

func (w *OrdersWorker) buildDelivery(ev model.OrderEvent, pending []model.License) (model.Delivery, []int64, error) {
	d := model.Delivery{
		OrderID:  ev.OrderID,
		UserID:   ev.UserID,
		Email:    ev.Email,
		Licenses: make([]model.DeliveryLicense, 0, len(pending)),
	}
	ids := make([]int64, 0, len(pending))
	for i := range pending {
		l := &pending[i]
		key, err := w.Licenses.Decrypt(l)
		if err != nil {
			return model.Delivery{}, nil, err
		}
		dl := model.DeliveryLicense{ID: l.ID, Key: key, ExpiresAt: l.ExpiresAt}
		if l.ProductID != nil {
			dl.ProductID = *l.ProductID
		}
		d.Licenses = append(d.Licenses, dl)
		ids = append(ids, l.ID)
	}
	return d, ids, nil
}

// runBatchWriter does size/time-based flushes of delivered licenses until in
// is closed.
func (w *OrdersWorker) runBatchWriter(in <-chan []int64) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var buf []int64
	flush := func() {
		if len(buf) == 0 {
			return
		}
		// detached so shutdown still persists what was delivered
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.Orders.MarkDelivered(ctx, buf); err != nil {
			logger.Log.Error("mark delivered failed", zap.Int("count", len(buf)), zap.Error(err))
		} else {
			logger.Log.Debug("delivered flushed", zap.Int("count", len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case ids, ok := <-in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, ids...)
			if len(buf) >= w.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}
