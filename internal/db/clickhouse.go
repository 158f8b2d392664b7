package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/jmoiron/sqlx"
)

// OpenClickHouse connects to the analytics store used for license events,
// e.g. clickhouse://default:@localhost:9000/dlm?dial_timeout=5s&compress=true
func OpenClickHouse(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	return open("clickhouse", cfg.DSN, poolOpts(cfg), 3*time.Second)
}
