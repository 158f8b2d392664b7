package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/license-manager/internal/app"
	"github.com/jmehdipour/license-manager/internal/db"
	"github.com/jmehdipour/license-manager/internal/dispatcher"
	"github.com/jmehdipour/license-manager/internal/kafka"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Assign, deliver and revoke licenses from order status events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		mysqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return err
		}
		defer mysqlDB.Close()

		svcs, err := app.Build(cfg, app.MySQLRepos(mysqlDB))
		if err != nil {
			return err
		}

		provs := dispatcher.ProvidersFromConfig(cfg.Providers)
		if len(provs) == 0 {
			logger.Log.Warn("no delivery providers enabled; licenses stay sold until delivered elsewhere")
		}
		disp := dispatcher.NewDispatcher(provs, cfg.Delivery.MaxRetryAttempts)

		kcfg := kafka.ConfigFor(cfg.Kafka, cfg.Kafka.OrdersTopic, "orders")
		consumer := kafka.NewConsumerFromConfig(kcfg)
		defer consumer.Close()

		w := worker.NewOrdersWorker(consumer, svcs.Orders, svcs.Licenses, disp)
		if cfg.Delivery.WorkerCount > 0 {
			w.Workers = cfg.Delivery.WorkerCount
		}
		if cfg.Delivery.BatchSize > 0 {
			w.BatchSize = cfg.Delivery.BatchSize
		}
		if cfg.Delivery.BatchWait > 0 {
			w.BatchWait = cfg.Delivery.BatchWait
		}
		if cfg.Delivery.RetryBackoff > 0 {
			w.RetryBackoff = cfg.Delivery.RetryBackoff
		}
		if cfg.Delivery.MaxRetryBackoff > 0 {
			w.MaxRetryBackoff = cfg.Delivery.MaxRetryBackoff
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("orders worker started",
			zap.String("topic", kcfg.Topic),
			zap.String("group", kcfg.GroupID),
			zap.Int("workers", w.Workers),
			zap.Int("providers", len(provs)),
		)
		return w.Run(ctx)
	},
}
