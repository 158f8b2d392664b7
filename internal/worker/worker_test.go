package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/license-manager/internal/generator"
	"github.com/jmehdipour/license-manager/internal/kafka"
	"github.com/jmehdipour/license-manager/internal/keycrypt"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/repository/memory"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/jmehdipour/license-manager/internal/service/orders"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	onDrain   func()
}

func (s *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		m := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	if s.onDrain != nil {
		s.onDrain()
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *fakeSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msgs...)
	return nil
}

// fakeDeliverer fails the first failN calls, or every call when failN < 0.
type fakeDeliverer struct {
	failN int
	sent  []model.Delivery
}

func (f *fakeDeliverer) Enabled() bool { return true }
func (f *fakeDeliverer) Deliver(_ context.Context, d model.Delivery) error {
	f.sent = append(f.sent, d)
	if f.failN < 0 || len(f.sent) <= f.failN {
		return errors.New("relay down")
	}
	return nil
}

// flakyProducts fails Get like an unreachable database, the first failN
// calls or every call when failN < 0.
type flakyProducts struct {
	repository.ProductsRepository
	mu    sync.Mutex
	failN int
	calls int
}

func (p *flakyProducts) Get(ctx context.Context, tx *sqlx.Tx, productID int64) (*model.ProductSettings, error) {
	p.mu.Lock()
	p.calls++
	fail := p.failN < 0 || p.calls <= p.failN
	p.mu.Unlock()
	if fail {
		return nil, errors.New("mysql: connection refused")
	}
	return p.ProductsRepository.Get(ctx, tx, productID)
}

type ordersFixture struct {
	w        *OrdersWorker
	src      *fakeSource
	del      *fakeDeliverer
	products *flakyProducts
	st       *memory.Store
}

func newOrdersFixture(t *testing.T) *ordersFixture {
	t.Helper()
	crypt, err := keycrypt.New("enc-secret", "hash-secret")
	require.NoError(t, err)
	st := memory.NewStore()
	lic := licenses.New(memory.Tx{}, st.Licenses, st.Activations, st.Meta, st.Outbox, crypt, licenses.Options{})
	gens := generators.New(st.Generators, st.Licenses, lic, generator.NewStandard(10), 100)
	products := &flakyProducts{ProductsRepository: st.Products}
	ord := orders.New(memory.Tx{}, st.Licenses, products, lic, gens, orders.Options{})

	ctx := context.Background()
	require.NoError(t, st.Products.Upsert(ctx, &model.ProductSettings{ProductID: 1, Licensed: true, UseStock: true}))
	pid := int64(1)
	_, err = lic.Create(ctx, licenses.CreateInput{Key: "STOCK-KEY-1", ProductID: &pid})
	require.NoError(t, err)

	src := &fakeSource{}
	del := &fakeDeliverer{}
	w := NewOrdersWorker(src, ord, lic, del)
	w.RetryBackoff = time.Millisecond
	w.MaxRetryBackoff = 5 * time.Millisecond
	return &ordersFixture{w: w, src: src, del: del, products: products, st: st}
}

func orderMessage(t *testing.T, ev model.OrderEvent) kafka.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestOrdersWorkerDeliversAndMarks(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	delivered := make(chan []int64, 4)

	f.w.processOne(ctx, orderMessage(t, model.OrderEvent{
		OrderID: 100,
		Email:   "buyer@example.com",
		Status:  "completed",
		Items:   []model.OrderItem{{ProductID: 1, Quantity: 1}},
	}), delivered)

	require.Len(t, f.del.sent, 1)
	d := f.del.sent[0]
	assert.Equal(t, int64(100), d.OrderID)
	assert.Equal(t, "buyer@example.com", d.Email)
	require.Len(t, d.Licenses, 1)
	assert.Equal(t, "STOCK-KEY-1", d.Licenses[0].Key)
	assert.Equal(t, int64(1), d.Licenses[0].ProductID)
	assert.Len(t, f.src.committed, 1)

	close(delivered)
	f.w.runBatchWriter(delivered)

	rows, err := f.st.Licenses.ListByOrder(ctx, nil, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.LicenseDelivered, rows[0].Status)
	assert.Contains(t, f.st.Outbox.Actions(), model.ActionDelivered)
}

func TestOrdersWorkerRetriesDeliveryFailure(t *testing.T) {
	f := newOrdersFixture(t)
	f.del.failN = 1
	ctx := context.Background()
	delivered := make(chan []int64, 4)

	f.w.processOne(ctx, orderMessage(t, model.OrderEvent{
		OrderID: 101,
		Status:  "processing",
		Items:   []model.OrderItem{{ProductID: 1, Quantity: 1}},
	}), delivered)

	require.Len(t, f.del.sent, 2)
	assert.Equal(t, f.del.sent[0].Licenses, f.del.sent[1].Licenses)
	assert.Len(t, delivered, 1)
	assert.Len(t, f.src.committed, 1)
}

func TestOrdersWorkerDeliveryOutageLeavesEventUncommitted(t *testing.T) {
	f := newOrdersFixture(t)
	f.del.failN = -1
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	delivered := make(chan []int64, 4)

	f.w.processOne(ctx, orderMessage(t, model.OrderEvent{
		OrderID: 102,
		Status:  "completed",
		Items:   []model.OrderItem{{ProductID: 1, Quantity: 1}},
	}), delivered)

	assert.Greater(t, len(f.del.sent), 1)
	assert.Len(t, delivered, 0)
	assert.Empty(t, f.src.committed)
	rows, err := f.st.Licenses.ListByOrder(context.Background(), nil, 102)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.LicenseSold, rows[0].Status)
}

func TestOrdersWorkerStoreOutageLeavesEventUncommitted(t *testing.T) {
	f := newOrdersFixture(t)
	f.products.failN = -1
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	delivered := make(chan []int64, 1)

	f.w.processOne(ctx, orderMessage(t, model.OrderEvent{
		OrderID: 7,
		Status:  "completed",
		Items:   []model.OrderItem{{ProductID: 1, Quantity: 1}},
	}), delivered)

	assert.Greater(t, f.products.calls, 1)
	assert.Empty(t, f.src.committed)
	assert.Empty(t, f.del.sent)
	rows, err := f.st.Licenses.ListByOrder(context.Background(), nil, 7)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOrdersWorkerRetriesUntilStoreRecovers(t *testing.T) {
	f := newOrdersFixture(t)
	f.products.failN = 2
	delivered := make(chan []int64, 1)

	f.w.processOne(context.Background(), orderMessage(t, model.OrderEvent{
		OrderID: 8,
		Status:  "completed",
		Items:   []model.OrderItem{{ProductID: 1, Quantity: 1}},
	}), delivered)

	assert.Equal(t, 3, f.products.calls)
	assert.Len(t, f.del.sent, 1)
	assert.Len(t, delivered, 1)
	assert.Len(t, f.src.committed, 1)
}

func TestOrdersWorkerCommitsDomainErrors(t *testing.T) {
	f := newOrdersFixture(t)
	delivered := make(chan []int64, 1)

	// one key in stock, three needed
	f.w.processOne(context.Background(), orderMessage(t, model.OrderEvent{
		OrderID: 9,
		Status:  "completed",
		Items:   []model.OrderItem{{ProductID: 1, Quantity: 3}},
	}), delivered)

	assert.Equal(t, 1, f.products.calls)
	assert.Empty(t, f.del.sent)
	assert.Len(t, f.src.committed, 1)
}

func TestCommitTrackerWaitsForEarlierOffsets(t *testing.T) {
	tr := newCommitTracker()
	msgs := []kafka.Message{
		{Partition: 0, Offset: 10},
		{Partition: 0, Offset: 11},
		{Partition: 0, Offset: 12},
		{Partition: 1, Offset: 5},
	}
	for _, m := range msgs {
		tr.track(m)
	}

	_, ok := tr.settle(msgs[1])
	assert.False(t, ok, "offset 10 still in flight")

	m, ok := tr.settle(msgs[3])
	require.True(t, ok)
	assert.Equal(t, int64(5), m.Offset)

	m, ok = tr.settle(msgs[0])
	require.True(t, ok)
	assert.Equal(t, int64(11), m.Offset)

	m, ok = tr.settle(msgs[2])
	require.True(t, ok)
	assert.Equal(t, int64(12), m.Offset)

	_, ok = tr.settle(kafka.Message{Partition: 3, Offset: 1})
	assert.False(t, ok)
}

func TestOrdersWorkerSkipsPoisonMessages(t *testing.T) {
	f := newOrdersFixture(t)
	delivered := make(chan []int64, 1)

	f.w.processOne(context.Background(), kafka.Message{Value: []byte("{not json")}, delivered)
	f.w.processOne(context.Background(), orderMessage(t, model.OrderEvent{Status: "completed"}), delivered)

	assert.Empty(t, f.del.sent)
	assert.Len(t, f.src.committed, 2)
}

func TestOrdersWorkerIgnoresOtherStatuses(t *testing.T) {
	f := newOrdersFixture(t)
	delivered := make(chan []int64, 1)

	f.w.processOne(context.Background(), orderMessage(t, model.OrderEvent{
		OrderID: 5,
		Status:  "on-hold",
		Items:   []model.OrderItem{{ProductID: 1, Quantity: 1}},
	}), delivered)

	assert.Empty(t, f.del.sent)
	assert.Len(t, f.src.committed, 1)
}

type fakeCHEvents struct {
	mu     sync.Mutex
	stored []model.LicenseEvent
}

var _ repository.CHEventsRepository = (*fakeCHEvents)(nil)

func (r *fakeCHEvents) InsertBatch(_ context.Context, events []model.LicenseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, events...)
	return nil
}

func (r *fakeCHEvents) List(context.Context, repository.EventsFilter) ([]model.LicenseEvent, error) {
	return nil, nil
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"id":"01J","license_id":3,"action":"activated","token":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), ev.LicenseID)
	assert.Equal(t, model.ActionActivated, ev.Action)
	assert.False(t, ev.OccurredAt.IsZero())

	ev, err = DecodeEvent([]byte(`"{\"license_id\":4,\"action\":\"sold\",\"order_id\":9}"`))
	require.NoError(t, err)
	assert.Equal(t, int64(9), ev.OrderID)

	_, err = DecodeEvent([]byte(`{"action":"sold"}`))
	assert.Error(t, err)
	_, err = DecodeEvent([]byte(`nope`))
	assert.Error(t, err)
}

func TestEventsWorkerStoresAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		queue: []kafka.Message{
			{Offset: 1, Value: []byte(`{"license_id":1,"action":"created"}`)},
			{Offset: 2, Value: []byte(`garbage`)},
			{Offset: 3, Value: []byte(`"{\"license_id\":2,\"action\":\"activated\"}"`)},
		},
		onDrain: cancel,
	}
	ch := &fakeCHEvents{}

	require.NoError(t, NewEventsWorker(src, ch).Run(ctx))

	require.Len(t, ch.stored, 2)
	assert.Equal(t, int64(1), ch.stored[0].LicenseID)
	assert.Equal(t, model.ActionActivated, ch.stored[1].Action)
	assert.Len(t, src.committed, 3)
}
