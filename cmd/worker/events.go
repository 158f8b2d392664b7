package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/license-manager/internal/db"
	"github.com/jmehdipour/license-manager/internal/kafka"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Copy license events from Kafka into ClickHouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		chDB, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			return err
		}
		defer chDB.Close()

		kcfg := kafka.ConfigFor(cfg.Kafka, cfg.Kafka.EventsTopic, "events")
		consumer := kafka.NewConsumerFromConfig(kcfg)
		defer consumer.Close()

		w := worker.NewEventsWorker(consumer, repository.NewCHEventsRepository(chDB))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("events worker started", zap.String("topic", kcfg.Topic), zap.String("group", kcfg.GroupID))
		return w.Run(ctx)
	},
}
