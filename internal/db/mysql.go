package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/jmoiron/sqlx"
)

// OpenMySQL connects to the primary store. parseTime is forced on since
// every repository scans DATETIME columns into time.Time.
func OpenMySQL(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn, err := mysqlDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	return open("mysql", dsn, poolOpts(cfg), 5*time.Second)
}

func mysqlDSN(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("mysql: empty DSN")
	}
	c, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("mysql: parse dsn: %w", err)
	}
	c.ParseTime = true
	if c.Loc == nil {
		c.Loc = time.UTC
	}
	return c.FormatDSN(), nil
}
