package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/jmehdipour/license-manager/internal/generator"
	"github.com/jmehdipour/license-manager/internal/keycrypt"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository/memory"
	"github.com/jmehdipour/license-manager/internal/service/apikeys"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/jmehdipour/license-manager/internal/service/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	h    http.Handler
	keys *apikeys.Service
	st   *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	crypt, err := keycrypt.New("enc-secret", "hash-secret")
	require.NoError(t, err)
	st := memory.NewStore()

	lic := licenses.New(memory.Tx{}, st.Licenses, st.Activations, st.Meta, st.Outbox, crypt, licenses.Options{})
	gens := generators.New(st.Generators, st.Licenses, lic, generator.NewStandard(0), 0)
	keys := apikeys.New(st.APIKeys, crypt)

	srv := NewServer(config.Config{}, Deps{
		Licenses:   lic,
		Generators: gens,
		APIKeys:    keys,
		Transfer:   transfer.New(lic, st.Licenses),
		Products:   st.Products,
	})
	return &testAPI{h: srv.Handler(), keys: keys, st: st}
}

func (a *testAPI) creds(t *testing.T, perm model.Permission, endpoints model.Endpoints) *apikeys.Credentials {
	t.Helper()
	c, err := a.keys.Create(context.Background(), 7, "test", perm, endpoints)
	require.NoError(t, err)
	return c
}

func (a *testAPI) do(method, path, body string, c *apikeys.Credentials) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if c != nil {
		req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

type successBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var body successBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.NoError(t, json.Unmarshal(body.Data, v))
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/v1/licenses", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperr.CodeUnauthorized, body.Code)
	assert.Equal(t, http.StatusUnauthorized, body.Data.Status)

	bad := &apikeys.Credentials{ConsumerKey: "ck_nope", ConsumerSecret: "cs_nope"}
	rec = api.do(http.MethodGet, "/v1/licenses", "", bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredentialsFromQuery(t *testing.T) {
	api := newTestAPI(t)
	c := api.creds(t, model.PermRead, nil)

	path := "/v1/licenses?consumer_key=" + c.ConsumerKey + "&consumer_secret=" + c.ConsumerSecret
	rec := api.do(http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPermissionsEnforced(t *testing.T) {
	api := newTestAPI(t)
	readOnly := api.creds(t, model.PermRead, nil)

	rec := api.do(http.MethodPost, "/v1/licenses", `{"license_key":"AAA-BBB"}`, readOnly)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeForbidden, decodeError(t, rec).Code)

	scoped := api.creds(t, model.PermReadWrite, model.Endpoints{"licenses.list": true})
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/licenses", "", scoped).Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/v1/generators", "", scoped).Code)
}

func TestUnknownRoute(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeNoRoute, decodeError(t, rec).Code)
}

func TestCreateValidation(t *testing.T) {
	api := newTestAPI(t)
	c := api.creds(t, model.PermReadWrite, nil)

	rec := api.do(http.MethodPost, "/v1/licenses", `{"license_key":""}`, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeValidation, decodeError(t, rec).Code)

	rec = api.do(http.MethodPost, "/v1/licenses", `{"license_key":"K","status":"bogus"}`, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListLicenseFilters(t *testing.T) {
	api := newTestAPI(t)
	c := api.creds(t, model.PermReadWrite, nil)

	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/v1/licenses", `{"license_key":"LIST-1"}`, c).Code)
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/v1/licenses", `{"license_key":"LIST-2","status":"inactive"}`, c).Code)

	rec := api.do(http.MethodGet, "/v1/licenses?status=inactive&source=api", "", c)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []licenses.View
	decodeData(t, rec, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "LIST-2", views[0].LicenseKey)

	for _, q := range []string{"status=bogus", "source=nowhere"} {
		rec = api.do(http.MethodGet, "/v1/licenses?"+q, "", c)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, apperr.CodeValidation, decodeError(t, rec).Code, q)
	}
}

func TestLicenseActivationFlow(t *testing.T) {
	api := newTestAPI(t)
	c := api.creds(t, model.PermReadWrite, nil)

	rec := api.do(http.MethodPost, "/v1/licenses",
		`{"license_key":"AAAA-BBBB-CCCC","status":"active","activations_limit":1}`, c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created licenses.View
	decodeData(t, rec, &created)
	assert.Equal(t, "AAAA-BBBB-CCCC", created.LicenseKey)
	assert.Equal(t, model.LicenseActive, created.Status)
	require.NotNil(t, created.CreatedBy)
	assert.Equal(t, int64(7), *created.CreatedBy)

	rec = api.do(http.MethodGet, "/v1/licenses/AAAA-BBBB-CCCC", "", c)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/v1/licenses/activate/AAAA-BBBB-CCCC?label=laptop", "", c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var activated struct {
		License    licenses.View  `json:"license"`
		Activation activationView `json:"activation"`
	}
	decodeData(t, rec, &activated)
	require.NotEmpty(t, activated.Activation.Token)
	require.NotNil(t, activated.Activation.Label)
	assert.Equal(t, "laptop", *activated.Activation.Label)

	rec = api.do(http.MethodGet, "/v1/licenses/activate/AAAA-BBBB-CCCC", "", c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeActivationLimit, decodeError(t, rec).Code)

	rec = api.do(http.MethodGet, "/v1/licenses/deactivate/"+activated.Activation.Token, "", c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/v1/licenses/validate/AAAA-BBBB-CCCC", "", c)
	require.Equal(t, http.StatusOK, rec.Code)
	var res licenses.Validation
	decodeData(t, rec, &res)
	assert.True(t, res.Valid)

	rec = api.do(http.MethodGet, "/v1/licenses/AAAA-BBBB-CCCC/activations", "", c)
	require.Equal(t, http.StatusOK, rec.Code)
	var acts []activationView
	decodeData(t, rec, &acts)
	require.Len(t, acts, 1)
	assert.NotNil(t, acts[0].DeactivatedAt)
}

func TestMissingLicense(t *testing.T) {
	api := newTestAPI(t)
	c := api.creds(t, model.PermRead, nil)

	rec := api.do(http.MethodGet, "/v1/licenses/NOPE", "", c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeDataError, decodeError(t, rec).Code)
}

func TestGeneratorRoutes(t *testing.T) {
	api := newTestAPI(t)
	c := api.creds(t, model.PermReadWrite, nil)

	rec := api.do(http.MethodPost, "/v1/generators",
		`{"name":"default","charset":"ABCDEF0123456789","chunks":3,"chunk_length":4,"separator":"-"}`, c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var g generatorView
	decodeData(t, rec, &g)
	assert.Positive(t, g.ID)

	rec = api.do(http.MethodPost, "/v1/generators", `{"name":"x","charset":"AB","chunks":0,"chunk_length":4}`, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/v1/generators",
		`{"name":"x","charset":"AB","chunks":1,"chunk_length":4,"separator":"`+strings.Repeat("=", 17)+`"}`, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeValidation, decodeError(t, rec).Code)

	rec = api.do(http.MethodGet, "/v1/generators/999", "", c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductSettings(t *testing.T) {
	api := newTestAPI(t)
	c := api.creds(t, model.PermReadWrite, nil)

	rec := api.do(http.MethodGet, "/v1/products/5/licensing", "", c)
	require.Equal(t, http.StatusOK, rec.Code)
	var p productSettingsView
	decodeData(t, rec, &p)
	assert.False(t, p.Licensed)
	assert.Equal(t, 1, p.DeliveredQuantity)

	rec = api.do(http.MethodPut, "/v1/products/5/licensing", `{"licensed":true,"use_generator":true}`, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPut, "/v1/products/5/licensing", `{"licensed":true,"use_stock":true,"delivered_quantity":2}`, c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &p)
	assert.True(t, p.UseStock)
	assert.Equal(t, 2, p.DeliveredQuantity)

	rec = api.do(http.MethodGet, "/v1/products/5/stock", "", c)
	assert.Equal(t, http.StatusOK, rec.Code)
}
