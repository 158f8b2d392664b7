// Package memory holds in-memory repository implementations used by service
// and handler tests. Transactions are no-ops: fn always receives a nil tx.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmoiron/sqlx"
)

// Store bundles every repository over shared state.
type Store struct {
	Licenses    *Licenses
	Activations *Activations
	Meta        *LicenseMeta
	Generators  *Generators
	APIKeys     *APIKeys
	Products    *Products
	Outbox      *Outbox
}

func NewStore() *Store {
	return &Store{
		Licenses:    &Licenses{rows: map[int64]*model.License{}},
		Activations: &Activations{rows: map[int64]*model.LicenseActivation{}},
		Meta:        &LicenseMeta{},
		Generators:  &Generators{rows: map[int64]*model.Generator{}},
		APIKeys:     &APIKeys{rows: map[int64]*model.APIKey{}},
		Products:    &Products{rows: map[int64]*model.ProductSettings{}},
		Outbox:      &Outbox{},
	}
}

// Tx runs fn with a nil tx.
type Tx struct{}

func (Tx) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error { return fn(nil) }

var _ repository.Transactor = Tx{}

// ---- licenses ----

type Licenses struct {
	mu     sync.Mutex
	rows   map[int64]*model.License
	nextID int64
}

var _ repository.LicensesRepository = (*Licenses)(nil)

func (r *Licenses) Insert(_ context.Context, _ *sqlx.Tx, l *model.License) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *l
	cp.ID = r.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (r *Licenses) BulkInsert(ctx context.Context, tx *sqlx.Tx, ls []model.License) (int64, error) {
	for i := range ls {
		if _, err := r.Insert(ctx, tx, &ls[i]); err != nil {
			return 0, err
		}
	}
	return int64(len(ls)), nil
}

func (r *Licenses) Update(_ context.Context, _ *sqlx.Tx, l *model.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[l.ID]; ok {
		cp := *l
		r.rows[l.ID] = &cp
	}
	return nil
}

func (r *Licenses) Delete(_ context.Context, _ *sqlx.Tx, ids []int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.rows[id]; ok {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *Licenses) get(id int64) *model.License {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.rows[id]; ok {
		cp := *l
		return &cp
	}
	return nil
}

func (r *Licenses) GetByID(_ context.Context, _ *sqlx.Tx, id int64) (*model.License, error) {
	return r.get(id), nil
}

func (r *Licenses) GetForUpdate(_ context.Context, _ *sqlx.Tx, id int64) (*model.License, error) {
	return r.get(id), nil
}

func (r *Licenses) GetByHash(_ context.Context, _ *sqlx.Tx, hash string) (*model.License, error) {
	rows := r.sorted(func(l *model.License) bool { return l.Hash == hash })
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *Licenses) ExistsByHash(ctx context.Context, tx *sqlx.Tx, hash string) (bool, error) {
	l, err := r.GetByHash(ctx, tx, hash)
	return l != nil, err
}

// sorted returns copies of matching rows ordered by id.
func (r *Licenses) sorted(match func(*model.License) bool) []model.License {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.License, 0, len(r.rows))
	for _, l := range r.rows {
		if match(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Licenses) List(_ context.Context, f model.LicenseFilter) ([]model.License, error) {
	rows := r.sorted(func(l *model.License) bool {
		return (f.Status == "" || l.Status == f.Status) &&
			(f.Source == "" || l.Source == f.Source) &&
			(f.OrderID == 0 || eq(l.OrderID, f.OrderID)) &&
			(f.ProductID == 0 || eq(l.ProductID, f.ProductID)) &&
			(f.UserID == 0 || eq(l.UserID, f.UserID))
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(rows) {
			return nil, nil
		}
		rows = rows[f.Offset:]
	}
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (r *Licenses) ListByIDs(_ context.Context, ids []int64) ([]model.License, error) {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return r.sorted(func(l *model.License) bool { return set[l.ID] }), nil
}

func (r *Licenses) ListByOrder(_ context.Context, _ *sqlx.Tx, orderID int64) ([]model.License, error) {
	return r.sorted(func(l *model.License) bool { return eq(l.OrderID, orderID) }), nil
}

func isStock(l *model.License, productID int64) bool {
	return eq(l.ProductID, productID) && l.Status == model.LicenseActive && l.OrderID == nil
}

func (r *Licenses) CountStock(_ context.Context, productID int64) (int64, error) {
	return int64(len(r.sorted(func(l *model.License) bool { return isStock(l, productID) }))), nil
}

func (r *Licenses) CountByOrderProduct(_ context.Context, _ *sqlx.Tx, orderID, productID int64) (int, error) {
	return len(r.sorted(func(l *model.License) bool {
		return eq(l.OrderID, orderID) && eq(l.ProductID, productID)
	})), nil
}

func (r *Licenses) PickStockForUpdate(_ context.Context, _ *sqlx.Tx, productID int64, n int) ([]model.License, error) {
	rows := r.sorted(func(l *model.License) bool { return isStock(l, productID) })
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows, nil
}

func (r *Licenses) AssignToOrder(_ context.Context, _ *sqlx.Tx, ids []int64, a repository.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		l, ok := r.rows[id]
		if !ok {
			continue
		}
		orderID, productID := a.OrderID, a.ProductID
		l.OrderID, l.ProductID, l.UserID, l.Status = &orderID, &productID, a.UserID, a.Status
		l.ExpiresAt = l.ExpiryFrom(a.SoldAt)
	}
	return nil
}

func (r *Licenses) BatchUpdateStatus(_ context.Context, _ *sqlx.Tx, ids []int64, status model.LicenseStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if l, ok := r.rows[id]; ok {
			l.Status = status
		}
	}
	return nil
}

func eq(p *int64, v int64) bool { return p != nil && *p == v }

// ---- activations ----

type Activations struct {
	mu     sync.Mutex
	rows   map[int64]*model.LicenseActivation
	nextID int64
}

var _ repository.ActivationsRepository = (*Activations)(nil)

func (r *Activations) Insert(_ context.Context, _ *sqlx.Tx, a *model.LicenseActivation) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *a
	cp.ID = r.nextID
	r.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (r *Activations) GetByToken(_ context.Context, _ *sqlx.Tx, token string) (*model.LicenseActivation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.Token == token {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Activations) TokenExists(ctx context.Context, tx *sqlx.Tx, token string) (bool, error) {
	a, err := r.GetByToken(ctx, tx, token)
	return a != nil, err
}

func (r *Activations) CountActive(_ context.Context, _ *sqlx.Tx, licenseID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.rows {
		if a.LicenseID == licenseID && a.DeactivatedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *Activations) SetDeactivatedAt(_ context.Context, _ *sqlx.Tx, id int64, at *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[id]; ok {
		a.DeactivatedAt = at
	}
	return nil
}

func (r *Activations) ListByLicense(_ context.Context, licenseID int64) ([]model.LicenseActivation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.LicenseActivation
	for _, a := range r.rows {
		if a.LicenseID == licenseID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Activations) DeleteByLicenses(_ context.Context, _ *sqlx.Tx, licenseIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[int64]bool, len(licenseIDs))
	for _, id := range licenseIDs {
		set[id] = true
	}
	for id, a := range r.rows {
		if set[a.LicenseID] {
			delete(r.rows, id)
		}
	}
	return nil
}

// ---- license meta ----

type LicenseMeta struct {
	mu     sync.Mutex
	rows   []model.LicenseMeta
	nextID int64
}

var _ repository.LicenseMetaRepository = (*LicenseMeta)(nil)

func (r *LicenseMeta) Add(_ context.Context, m *model.LicenseMeta) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *m
	cp.ID = r.nextID
	r.rows = append(r.rows, cp)
	return cp.ID, nil
}

func (r *LicenseMeta) Get(_ context.Context, licenseID int64, key string) ([]model.LicenseMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.LicenseMeta
	for _, m := range r.rows {
		if m.LicenseID == licenseID && m.MetaKey == key {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *LicenseMeta) Update(_ context.Context, licenseID int64, key, value string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.rows {
		if r.rows[i].LicenseID == licenseID && r.rows[i].MetaKey == key {
			r.rows[i].MetaValue = value
			n++
		}
	}
	return n, nil
}

func (r *LicenseMeta) Delete(_ context.Context, licenseID int64, key string) (int64, error) {
	return r.filter(func(m model.LicenseMeta) bool { return m.LicenseID == licenseID && m.MetaKey == key }), nil
}

func (r *LicenseMeta) DeleteByLicenses(_ context.Context, _ *sqlx.Tx, licenseIDs []int64) error {
	set := make(map[int64]bool, len(licenseIDs))
	for _, id := range licenseIDs {
		set[id] = true
	}
	r.filter(func(m model.LicenseMeta) bool { return set[m.LicenseID] })
	return nil
}

// filter drops rows matching drop and returns how many were removed.
func (r *LicenseMeta) filter(drop func(model.LicenseMeta) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var n int64
	for _, m := range r.rows {
		if drop(m) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.rows = kept
	return n
}

// ---- generators ----

type Generators struct {
	mu     sync.Mutex
	rows   map[int64]*model.Generator
	nextID int64
}

var _ repository.GeneratorsRepository = (*Generators)(nil)

func (r *Generators) Insert(_ context.Context, g *model.Generator) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *g
	cp.ID = r.nextID
	r.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (r *Generators) Update(_ context.Context, g *model.Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[g.ID]; ok {
		cp := *g
		r.rows[g.ID] = &cp
	}
	return nil
}

func (r *Generators) Delete(_ context.Context, id int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return 0, nil
	}
	delete(r.rows, id)
	return 1, nil
}

func (r *Generators) GetByID(_ context.Context, id int64) (*model.Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.rows[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (r *Generators) List(_ context.Context, limit, offset int) ([]model.Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Generator, 0, len(r.rows))
	for _, g := range r.rows {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- api keys ----

type APIKeys struct {
	mu     sync.Mutex
	rows   map[int64]*model.APIKey
	nextID int64
}

var _ repository.APIKeysRepository = (*APIKeys)(nil)

func (r *APIKeys) Insert(_ context.Context, k *model.APIKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *k
	cp.ID = r.nextID
	r.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (r *APIKeys) GetByConsumerKey(_ context.Context, hashedKey string) (*model.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.rows {
		if k.ConsumerKey == hashedKey {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *APIKeys) TouchLastAccess(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.rows[id]; ok {
		now := time.Now()
		k.LastAccess = &now
	}
	return nil
}

func (r *APIKeys) ListByUser(_ context.Context, userID int64) ([]model.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.APIKey
	for _, k := range r.rows {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *APIKeys) Delete(_ context.Context, id int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return 0, nil
	}
	delete(r.rows, id)
	return 1, nil
}

// ---- products ----

type Products struct {
	mu   sync.Mutex
	rows map[int64]*model.ProductSettings
}

var _ repository.ProductsRepository = (*Products)(nil)

func (r *Products) Get(_ context.Context, _ *sqlx.Tx, productID int64) (*model.ProductSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[productID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *Products) Upsert(_ context.Context, p *model.ProductSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.rows[p.ProductID] = &cp
	return nil
}

// ---- outbox ----

// Outbox records published license events in order.
type Outbox struct {
	mu     sync.Mutex
	Events []model.LicenseEvent
	Topics []string
}

var _ repository.OutboxRepository = (*Outbox)(nil)

func (r *Outbox) Insert(_ context.Context, _ *sqlx.Tx, _, _, topic string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Topics = append(r.Topics, topic)
	return nil
}

func (r *Outbox) PublishLicenseEvents(_ context.Context, _ *sqlx.Tx, topic string, events ...model.LicenseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for range events {
		r.Topics = append(r.Topics, topic)
	}
	r.Events = append(r.Events, events...)
	return nil
}

// Actions returns the recorded event actions in publish order.
func (r *Outbox) Actions() []model.LicenseAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LicenseAction, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Action)
	}
	return out
}
