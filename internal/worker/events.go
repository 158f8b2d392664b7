package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/license-manager/internal/kafka"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/metrics"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventsWorker copies license events published through the outbox into
// ClickHouse. Offsets are committed only after the batch is stored.
type EventsWorker struct {
	Source    kafka.Source
	Events    repository.CHEventsRepository
	BatchSize int
	BatchWait time.Duration
}

func NewEventsWorker(src kafka.Source, events repository.CHEventsRepository) *EventsWorker {
	return &EventsWorker{
		Source:    src,
		Events:    events,
		BatchSize: 500,
		BatchWait: time.Second,
	}
}

func (w *EventsWorker) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}

	msgCh := make(chan kafka.Message, w.BatchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fetchLoop(gctx, w.Source, msgCh, "events", nil)
		return nil
	})
	g.Go(func() error { return w.runBatcher(msgCh) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *EventsWorker) runBatcher(in <-chan kafka.Message) error {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var (
		msgs   []kafka.Message
		events []model.LicenseEvent
	)
	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.flush(ctx, msgs, events); err != nil {
			return err
		}
		msgs, events = msgs[:0], events[:0]
		return nil
	}

	for {
		select {
		case m, ok := <-in:
			if !ok {
				return flush()
			}
			msgs = append(msgs, m)
			ev, err := DecodeEvent(m.Value)
			if err != nil {
				logger.Log.Warn("skipping bad license event", zap.Int64("offset", m.Offset), zap.Error(err))
			} else {
				events = append(events, ev)
			}
			if len(msgs) >= w.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-tick.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func (w *EventsWorker) flush(ctx context.Context, msgs []kafka.Message, events []model.LicenseEvent) error {
	if len(events) > 0 {
		if err := w.Events.InsertBatch(ctx, events); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		metrics.EventsIngested.Add(float64(len(events)))
	}
	if err := w.Source.Commit(ctx, msgs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	logger.Log.Debug("events flushed", zap.Int("events", len(events)), zap.Int("messages", len(msgs)))
	return nil
}

// DecodeEvent parses an outbox payload. Debezium may deliver it either as a
// JSON object or as a JSON string holding the object.
func DecodeEvent(raw []byte) (model.LicenseEvent, error) {
	var ev model.LicenseEvent
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return ev, err
		}
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, err
	}
	if ev.LicenseID <= 0 || ev.Action == "" {
		return ev, fmt.Errorf("event %q missing license id or action", ev.ID)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev, nil
}
