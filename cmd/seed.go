package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/license-manager/internal/app"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo generator, products, stock and an API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, mysqlDB, svcs, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer mysqlDB.Close()

		creds, err := seed(cmd.Context(), svcs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "consumer_key:    %s\nconsumer_secret: %s\n", creds.ConsumerKey, creds.ConsumerSecret)
		return nil
	},
}

type seedCreds struct{ ConsumerKey, ConsumerSecret string }

// seed creates:
// - product 1 served by a generator, two keys per unit,
// - product 2 served from 10 stocked keys,
// - a read_write API key for user 1.
func seed(ctx context.Context, svcs *app.Services) (*seedCreds, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	limit := 3
	expires := 365
	g, err := svcs.Generators.Create(ctx, model.Generator{
		Name:             "Demo generator",
		Charset:          "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
		Chunks:           4,
		ChunkLength:      5,
		Separator:        "-",
		Prefix:           "DEMO-",
		ExpiresIn:        &expires,
		ActivationsLimit: &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("seed generator: %w", err)
	}

	if err := svcs.Products.Upsert(ctx, &model.ProductSettings{
		ProductID: 1, Licensed: true, DeliveredQuantity: 2, UseGenerator: true, GeneratorID: &g.ID,
	}); err != nil {
		return nil, fmt.Errorf("seed product 1: %w", err)
	}
	if err := svcs.Products.Upsert(ctx, &model.ProductSettings{
		ProductID: 2, Licensed: true, DeliveredQuantity: 1, UseStock: true,
	}); err != nil {
		return nil, fmt.Errorf("seed product 2: %w", err)
	}

	stockProduct := int64(2)
	res, err := svcs.Generators.Generate(ctx, g.ID, generators.GenerateOptions{
		Amount:    10,
		Save:      true,
		ProductID: &stockProduct,
	})
	if err != nil {
		return nil, fmt.Errorf("seed stock: %w", err)
	}

	creds, err := svcs.APIKeys.Create(ctx, 1, "Demo key", model.PermReadWrite, nil)
	if err != nil {
		return nil, fmt.Errorf("seed api key: %w", err)
	}

	logger.Log.Info("seed completed",
		zap.Int64("generator_id", g.ID),
		zap.Int64("stock_saved", res.Saved),
	)
	return &seedCreds{ConsumerKey: creds.ConsumerKey, ConsumerSecret: creds.ConsumerSecret}, nil
}
