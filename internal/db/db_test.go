package db

import (
	"strings"
	"testing"

	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSNForcesParseTime(t *testing.T) {
	dsn, err := mysqlDSN("dlm:secret@tcp(127.0.0.1:3306)/dlm?multiStatements=true")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "multiStatements=true")
	assert.True(t, strings.HasPrefix(dsn, "dlm:secret@tcp(127.0.0.1:3306)/dlm"))
}

func TestMySQLDSNErrors(t *testing.T) {
	_, err := mysqlDSN("")
	assert.Error(t, err)
	_, err = mysqlDSN("not a dsn")
	assert.Error(t, err)
}

func TestOpenRequiresAddress(t *testing.T) {
	_, err := OpenClickHouse(config.DatabaseConfig{})
	assert.Error(t, err)
	_, err = OpenRedis(config.RedisConfig{})
	assert.Error(t, err)
}
