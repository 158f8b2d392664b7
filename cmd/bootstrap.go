package cmd

import (
	"fmt"

	"github.com/jmehdipour/license-manager/internal/app"
	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/jmehdipour/license-manager/internal/db"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmoiron/sqlx"
)

// bootstrap loads config, initializes logging and opens MySQL. The caller
// closes the returned DB.
func bootstrap() (config.Config, *sqlx.DB, *app.Services, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	mysqlDB, err := db.OpenMySQL(cfg.MySQL)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("mysql connect: %w", err)
	}
	svcs, err := app.Build(cfg, app.MySQLRepos(mysqlDB))
	if err != nil {
		_ = mysqlDB.Close()
		return cfg, nil, nil, err
	}
	return cfg, mysqlDB, svcs, nil
}
