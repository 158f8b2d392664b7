package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/license-manager/internal/db"
	httpSrv "github.com/jmehdipour/license-manager/internal/http"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, mysqlDB, svcs, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer mysqlDB.Close()

		deps := httpSrv.Deps{
			Licenses:   svcs.Licenses,
			Generators: svcs.Generators,
			APIKeys:    svcs.APIKeys,
			Transfer:   svcs.Transfer,
			Products:   svcs.Products,
		}

		// redis and clickhouse are optional: without them rate limiting and
		// reports are disabled
		redisClient, err := db.OpenRedis(cfg.Redis)
		if err != nil {
			logger.Log.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
		} else {
			defer func() { _ = redisClient.Close() }()
			deps.Redis = redisClient
		}

		chDB, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			logger.Log.Warn("clickhouse unavailable, reports disabled", zap.Error(err))
		} else {
			defer func() { _ = chDB.Close() }()
			deps.Events = repository.NewCHEventsRepository(chDB)
		}

		server := httpSrv.NewServer(cfg, deps)

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		timeout := cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return server.Shutdown(ctx)
	},
}
