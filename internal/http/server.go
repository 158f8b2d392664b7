package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/jmehdipour/license-manager/internal/http/middleware"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/metrics"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/service/apikeys"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/jmehdipour/license-manager/internal/service/transfer"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the services and stores the REST API is built on.
type Deps struct {
	Licenses   *licenses.Service
	Generators *generators.Service
	APIKeys    *apikeys.Service
	Transfer   *transfer.Service
	Products   repository.ProductsRepository
	Events     repository.CHEventsRepository // optional; reports disabled when nil
	Redis      *redis.Client                 // optional; rate limiting disabled when nil
}

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLogLevel(cfg.Log.Level))
	e.HTTPErrorHandler = errorHandler
	e.Validator = newRequestValidator()
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(d.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:key:",
		Window:         time.Second,
		RetryAfterHint: true,
	})
	ep := func(id string) echo.MiddlewareFunc { return middleware.Endpoint(d.APIKeys, id) }

	// routes
	v1 := e.Group("/v1", authMW, rlMW)

	v1.GET("/licenses", listLicensesHandler(d.Licenses), ep("licenses.list"))
	v1.POST("/licenses", createLicenseHandler(d.Licenses), ep("licenses.create"))
	v1.GET("/licenses/export", exportLicensesHandler(d.Transfer), ep("licenses.export"))
	v1.POST("/licenses/import", importLicensesHandler(d.Transfer), ep("licenses.import"))
	v1.GET("/licenses/activate/:key", activateLicenseHandler(d.Licenses), ep("licenses.activate"))
	v1.GET("/licenses/deactivate/:token", deactivateLicenseHandler(d.Licenses), ep("licenses.deactivate"))
	v1.GET("/licenses/reactivate/:token", reactivateLicenseHandler(d.Licenses), ep("licenses.reactivate"))
	v1.GET("/licenses/validate/:key", validateLicenseHandler(d.Licenses), ep("licenses.validate"))
	v1.GET("/licenses/:key", getLicenseHandler(d.Licenses), ep("licenses.get"))
	v1.PUT("/licenses/:key", updateLicenseHandler(d.Licenses), ep("licenses.update"))
	v1.DELETE("/licenses/:key", deleteLicenseHandler(d.Licenses), ep("licenses.delete"))
	v1.GET("/licenses/:key/activations", listActivationsHandler(d.Licenses), ep("licenses.activations"))
	v1.POST("/licenses/:key/meta", addMetaHandler(d.Licenses), ep("licenses.meta"))
	v1.GET("/licenses/:key/meta/:meta_key", getMetaHandler(d.Licenses), ep("licenses.meta"))
	v1.PUT("/licenses/:key/meta/:meta_key", updateMetaHandler(d.Licenses), ep("licenses.meta"))
	v1.DELETE("/licenses/:key/meta/:meta_key", deleteMetaHandler(d.Licenses), ep("licenses.meta"))

	v1.GET("/generators", listGeneratorsHandler(d.Generators), ep("generators.list"))
	v1.POST("/generators", createGeneratorHandler(d.Generators), ep("generators.create"))
	v1.GET("/generators/:id", getGeneratorHandler(d.Generators), ep("generators.get"))
	v1.PUT("/generators/:id", updateGeneratorHandler(d.Generators), ep("generators.update"))
	v1.DELETE("/generators/:id", deleteGeneratorHandler(d.Generators), ep("generators.delete"))
	v1.POST("/generators/:id/generate", generateLicensesHandler(d.Generators), ep("generators.generate"))

	v1.GET("/products/:id/licensing", getProductSettingsHandler(d.Products), ep("products.settings"))
	v1.PUT("/products/:id/licensing", putProductSettingsHandler(d.Products, d.Generators), ep("products.settings"))
	v1.GET("/products/:id/stock", productStockHandler(d.Licenses), ep("products.stock"))

	if d.Events != nil {
		v1.GET("/reports/activations", listEventsHandler(d.Events), ep("reports.activations"))
	}

	return &Server{e: e}
}

func echoLogLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
