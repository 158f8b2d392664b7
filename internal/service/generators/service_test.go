package generators

import (
	"context"
	"strings"
	"testing"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/generator"
	"github.com/jmehdipour/license-manager/internal/keycrypt"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository/memory"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *licenses.Service, *memory.Store) {
	t.Helper()
	crypt, err := keycrypt.New("enc-secret", "hash-secret")
	require.NoError(t, err)
	st := memory.NewStore()
	lic := licenses.New(memory.Tx{}, st.Licenses, st.Activations, st.Meta, st.Outbox, crypt, licenses.Options{})
	return New(st.Generators, st.Licenses, lic, generator.NewStandard(10), 100), lic, st
}

func intPtr(v int) *int { return &v }

func validGenerator() model.Generator {
	return model.Generator{
		Name:             "pro",
		Charset:          "ABCDEF0123456789",
		Chunks:           3,
		ChunkLength:      4,
		Separator:        "-",
		Prefix:           "PRO-",
		ExpiresIn:        intPtr(365),
		ActivationsLimit: intPtr(3),
	}
}

func TestGeneratorCRUD(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, validGenerator())
	require.NoError(t, err)
	require.NotZero(t, g.ID)

	upd := validGenerator()
	upd.Name = "pro-v2"
	got, err := svc.Update(ctx, g.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, "pro-v2", got.Name)

	fetched, err := svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro-v2", fetched.Name)

	list, err := svc.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, g.ID))
	assert.ErrorIs(t, svc.Delete(ctx, g.ID), apperr.ErrNotFound)

	_, err = svc.Get(ctx, g.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateRejectsInvalidTemplate(t *testing.T) {
	svc, _, _ := newTestService(t)

	bad := validGenerator()
	bad.Chunks = 0
	_, err := svc.Create(context.Background(), bad)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGenerateWithoutSave(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, validGenerator())
	require.NoError(t, err)

	res, err := svc.Generate(ctx, g.ID, GenerateOptions{Amount: 5})
	require.NoError(t, err)
	assert.Len(t, res.Keys, 5)
	assert.Zero(t, res.Saved)
	for _, k := range res.Keys {
		assert.True(t, strings.HasPrefix(k, "PRO-"), k)
		assert.Len(t, k, len("PRO-")+3*4+2)
	}

	rows, err := st.Licenses.List(ctx, model.LicenseFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGenerateAndSave(t *testing.T) {
	svc, lic, st := newTestService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, validGenerator())
	require.NoError(t, err)

	product := int64(12)
	res, err := svc.Generate(ctx, g.ID, GenerateOptions{Amount: 4, Save: true, ProductID: &product})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Saved)

	rows, err := st.Licenses.List(ctx, model.LicenseFilter{ProductID: product})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, l := range rows {
		assert.Equal(t, model.SourceGenerator, l.Source)
		assert.Equal(t, model.LicenseActive, l.Status)
		assert.Equal(t, 365, *l.ValidFor)
		assert.Equal(t, 3, *l.ActivationsLimit)
		assert.Nil(t, l.ExpiresAt)
	}

	// saved keys resolve through the licenses service
	v, err := lic.FindByKey(ctx, res.Keys[0])
	require.NoError(t, err)
	assert.Equal(t, res.Keys[0], v.LicenseKey)
}

func TestGenerateSoldSetsExpiry(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, validGenerator())
	require.NoError(t, err)

	_, err = svc.Generate(ctx, g.ID, GenerateOptions{Amount: 1, Save: true, Status: model.LicenseSold})
	require.NoError(t, err)

	rows, err := st.Licenses.List(ctx, model.LicenseFilter{Status: model.LicenseSold})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].ExpiresAt)
}

func TestGenerateValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, 1, GenerateOptions{Amount: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Generate(ctx, 1, GenerateOptions{Amount: 101})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Generate(ctx, 1, GenerateOptions{Amount: 1, Status: "bogus"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Generate(ctx, 42, GenerateOptions{Amount: 1})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGenerateExhaustedTemplate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tiny := validGenerator()
	tiny.Charset = "AB"
	tiny.Chunks = 1
	tiny.ChunkLength = 1
	g, err := svc.Create(ctx, tiny)
	require.NoError(t, err)

	_, err = svc.Generate(ctx, g.ID, GenerateOptions{Amount: 3})
	assert.ErrorIs(t, err, apperr.ErrGeneratorExhausted)
}
