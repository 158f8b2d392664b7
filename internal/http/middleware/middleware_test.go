package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/model"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct {
	key      *model.APIKey
	gotCK    string
	gotCS    string
	allowErr error
}

func (s *stubAuth) Authenticate(_ context.Context, ck, cs string) (*model.APIKey, error) {
	s.gotCK, s.gotCS = ck, cs
	if s.key == nil {
		return nil, apperr.New(apperr.CodeUnauthorized, http.StatusUnauthorized, "bad credentials")
	}
	return s.key, nil
}

func (s *stubAuth) Allows(*model.APIKey, string, string) error { return s.allowErr }

func run(t *testing.T, req *http.Request, h echo.HandlerFunc, mws ...echo.MiddlewareFunc) error {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h(c)
}

func ok(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func TestAPIKeyMiddlewareBasicAuth(t *testing.T) {
	auth := &stubAuth{key: &model.APIKey{ID: 3}}
	req := httptest.NewRequest(http.MethodGet, "/v1/licenses", nil)
	req.SetBasicAuth(" ck_a ", "cs_b")

	var seen *model.APIKey
	err := run(t, req, func(c echo.Context) error {
		seen, _ = APIKeyFromCtx(c)
		return nil
	}, APIKeyMiddleware(auth))
	require.NoError(t, err)
	assert.Equal(t, "ck_a", auth.gotCK)
	assert.Equal(t, "cs_b", auth.gotCS)
	require.NotNil(t, seen)
	assert.Equal(t, int64(3), seen.ID)
}

func TestAPIKeyMiddlewareQueryAndMissing(t *testing.T) {
	auth := &stubAuth{key: &model.APIKey{ID: 1}}
	req := httptest.NewRequest(http.MethodGet, "/v1/licenses?consumer_key=ck_q&consumer_secret=cs_q", nil)
	require.NoError(t, run(t, req, ok, APIKeyMiddleware(auth)))
	assert.Equal(t, "ck_q", auth.gotCK)

	err := run(t, httptest.NewRequest(http.MethodGet, "/v1/licenses", nil), ok, APIKeyMiddleware(auth))
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))
}

func TestEndpointMiddleware(t *testing.T) {
	auth := &stubAuth{key: &model.APIKey{ID: 1}}
	req := httptest.NewRequest(http.MethodGet, "/v1/licenses", nil)
	req.SetBasicAuth("ck", "cs")

	var id string
	err := run(t, req, func(c echo.Context) error {
		id = EndpointIDFromCtx(c)
		return nil
	}, APIKeyMiddleware(auth), Endpoint(auth, "licenses.list"))
	require.NoError(t, err)
	assert.Equal(t, "licenses.list", id)

	auth.allowErr = apperr.New(apperr.CodeForbidden, http.StatusForbidden, "nope")
	err = run(t, req, ok, APIKeyMiddleware(auth), Endpoint(auth, "licenses.delete"))
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	err = run(t, httptest.NewRequest(http.MethodGet, "/", nil), ok, Endpoint(auth, "x"))
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))
}

func withKey(k *model.APIKey) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ctxAPIKey, k)
			return next(c)
		}
	}
}

func TestRateLimitPassThrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	// no redis configured
	mw := RateLimitMiddleware(RateLimitConfig{DefaultRPS: 1})
	for i := 0; i < 3; i++ {
		require.NoError(t, run(t, req, ok, withKey(&model.APIKey{ID: 1}), mw))
	}

	// redis unreachable: fail open
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	mw = RateLimitMiddleware(RateLimitConfig{Redis: rdb, DefaultRPS: 1})
	require.NoError(t, run(t, req, ok, withKey(&model.APIKey{ID: 1}), mw))
}
