package licenses

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/keycrypt"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts Options) (*Service, *memory.Store) {
	t.Helper()
	crypt, err := keycrypt.New("enc-secret", "hash-secret")
	require.NoError(t, err)
	st := memory.NewStore()
	svc := New(memory.Tx{}, st.Licenses, st.Activations, st.Meta, st.Outbox, crypt, opts)
	return svc, st
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestCreateStoresEncryptedKey(t *testing.T) {
	svc, st := newTestService(t, Options{})
	ctx := context.Background()

	v, err := svc.Create(ctx, CreateInput{Key: "  ABC-123  ", ProductID: int64Ptr(7)})
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", v.LicenseKey)
	assert.Equal(t, model.LicenseActive, v.Status)
	assert.Equal(t, model.SourceAPI, v.Source)

	stored, err := st.Licenses.GetByID(ctx, nil, v.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, "ABC-123", stored.LicenseKey)
	assert.Len(t, stored.Hash, 64)

	assert.Equal(t, []model.LicenseAction{model.ActionCreated}, st.Outbox.Actions())
	assert.Equal(t, DefaultEventsTopic, st.Outbox.Topics[0])
}

func TestCreateRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Key: "DUP"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Key: "DUP"})
	assert.ErrorIs(t, err, apperr.ErrLicenseExists)
	assert.Equal(t, 409, apperr.StatusOf(err))
}

func TestCreateAllowsDuplicatesWhenConfigured(t *testing.T) {
	svc, _ := newTestService(t, Options{AllowDuplicates: true})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Key: "DUP"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Key: "DUP"})
	assert.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	cases := map[string]CreateInput{
		"empty key":      {Key: "   "},
		"negative limit": {Key: "A", ActivationsLimit: intPtr(-1)},
		"negative days":  {Key: "B", ValidFor: intPtr(-3)},
		"unknown status": {Key: "C", Status: "lost"},
		"unknown source": {Key: "D", Source: "fax"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestCreateSoldComputesExpiry(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	v, err := svc.Create(context.Background(), CreateInput{Key: "SOLD", Status: model.LicenseSold, ValidFor: intPtr(30)})
	require.NoError(t, err)
	require.NotNil(t, v.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *v.ExpiresAt)
}

func TestUpdatePatchesFieldsAndKey(t *testing.T) {
	svc, st := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Key: "OLD"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Key: "TAKEN"})
	require.NoError(t, err)

	taken := "TAKEN"
	_, err = svc.Update(ctx, "OLD", UpdateInput{Key: &taken})
	assert.ErrorIs(t, err, apperr.ErrLicenseExists)

	newKey := "NEW"
	disabled := model.LicenseDisabled
	v, err := svc.Update(ctx, "OLD", UpdateInput{Key: &newKey, Status: &disabled, ActivationsLimit: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, "NEW", v.LicenseKey)
	assert.Equal(t, model.LicenseDisabled, v.Status)
	assert.Equal(t, 3, *v.ActivationsLimit)

	_, err = svc.FindByKey(ctx, "OLD")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	found, err := svc.FindByKey(ctx, "NEW")
	require.NoError(t, err)
	assert.Equal(t, v.ID, found.ID)
	assert.Contains(t, st.Outbox.Actions(), model.ActionUpdated)
}

func TestUpdateKeepsUpdatedByWhenUnset(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Key: "AUDITED"})
	require.NoError(t, err)

	v, err := svc.Update(ctx, "AUDITED", UpdateInput{ActivationsLimit: intPtr(1), UpdatedBy: int64Ptr(42)})
	require.NoError(t, err)
	require.NotNil(t, v.UpdatedBy)

	v, err = svc.Update(ctx, "AUDITED", UpdateInput{ActivationsLimit: intPtr(2)})
	require.NoError(t, err)
	require.NotNil(t, v.UpdatedBy)
	assert.Equal(t, int64(42), *v.UpdatedBy)
	assert.Equal(t, 2, *v.ActivationsLimit)
}

func TestDeleteRemovesActivationsAndMeta(t *testing.T) {
	svc, st := newTestService(t, Options{})
	ctx := context.Background()

	v, err := svc.Create(ctx, CreateInput{Key: "GONE"})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, "GONE", ActivateParams{Label: "laptop"})
	require.NoError(t, err)
	_, err = svc.AddMeta(ctx, v.ID, "seat", "1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteByKey(ctx, "GONE"))

	acts, err := st.Activations.ListByLicense(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, acts)
	meta, err := st.Meta.Get(ctx, v.ID, "seat")
	require.NoError(t, err)
	assert.Empty(t, meta)

	_, err = svc.Find(ctx, v.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, st.Outbox.Actions(), model.ActionDeleted)
}

func TestListAndStock(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	for _, k := range []string{"S1", "S2", "S3"} {
		_, err := svc.Create(ctx, CreateInput{Key: k, ProductID: int64Ptr(5)})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, CreateInput{Key: "S4", ProductID: int64Ptr(5), OrderID: int64Ptr(1), Status: model.LicenseSold})
	require.NoError(t, err)

	n, err := svc.Stock(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = svc.Stock(ctx, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	views, err := svc.List(ctx, model.LicenseFilter{Status: model.LicenseSold})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "S4", views[0].LicenseKey)
}

func TestMeta(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.AddMeta(ctx, 99, "k", "v")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	v, err := svc.Create(ctx, CreateInput{Key: "META"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateMeta(ctx, v.ID, "plan", "pro"))
	got, err := svc.GetMeta(ctx, v.ID, "plan")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pro", got[0].MetaValue)

	require.NoError(t, svc.UpdateMeta(ctx, v.ID, "plan", "team"))
	got, err = svc.GetMeta(ctx, v.ID, "plan")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "team", got[0].MetaValue)

	n, err := svc.DeleteMeta(ctx, v.ID, "plan")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.GetMeta(ctx, v.ID, " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
