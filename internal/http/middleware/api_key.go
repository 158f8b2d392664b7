package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/model"
	echo "github.com/labstack/echo/v4"
)

const (
	ctxAPIKey     = "api_key"
	ctxEndpointID = "endpoint_id"
)

// Authenticator resolves consumer credentials and checks per-endpoint access.
type Authenticator interface {
	Authenticate(ctx context.Context, ck, cs string) (*model.APIKey, error)
	Allows(k *model.APIKey, method, endpointID string) error
}

// APIKeyFromCtx extracts the API key set by APIKeyMiddleware.
func APIKeyFromCtx(c echo.Context) (*model.APIKey, bool) {
	k, ok := c.Get(ctxAPIKey).(*model.APIKey)
	return k, ok && k != nil
}

// EndpointIDFromCtx returns the endpoint id set by Endpoint.
func EndpointIDFromCtx(c echo.Context) string {
	id, _ := c.Get(ctxEndpointID).(string)
	return id
}

// credentials reads consumer key/secret from HTTP Basic auth, falling back to
// the consumer_key/consumer_secret query parameters.
func credentials(r *http.Request) (ck, cs string) {
	if u, p, ok := r.BasicAuth(); ok {
		return strings.TrimSpace(u), strings.TrimSpace(p)
	}
	q := r.URL.Query()
	return strings.TrimSpace(q.Get("consumer_key")), strings.TrimSpace(q.Get("consumer_secret"))
}

// APIKeyMiddleware authenticates requests with a consumer key/secret pair.
// On success it stores the API key in context.
func APIKeyMiddleware(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ck, cs := credentials(c.Request())
			if ck == "" || cs == "" {
				return apperr.New(apperr.CodeUnauthorized, http.StatusUnauthorized, "missing consumer key or secret")
			}
			k, err := auth.Authenticate(c.Request().Context(), ck, cs)
			if err != nil {
				return err
			}
			c.Set(ctxAPIKey, k)
			return next(c)
		}
	}
}

// Endpoint tags a route with its endpoint id and rejects API keys whose
// permissions or endpoint map do not cover it. Must run after
// APIKeyMiddleware.
func Endpoint(auth Authenticator, id string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ctxEndpointID, id)
			k, ok := APIKeyFromCtx(c)
			if !ok {
				return apperr.New(apperr.CodeUnauthorized, http.StatusUnauthorized, "unauthorized")
			}
			if err := auth.Allows(k, c.Request().Method, id); err != nil {
				return err
			}
			return next(c)
		}
	}
}
