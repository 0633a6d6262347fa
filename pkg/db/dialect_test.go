package db

import (
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/smallbiznis/fieldbill/internal/config"
	"github.com/stretchr/testify/assert"
	trequire "github.com/stretchr/testify/require"
)

func TestPostgresDSN(t *testing.T) {
	dsn, err := DSN(config.Config{
		DBType:     "postgres",
		DBHost:     "db.internal",
		DBPort:     "5432",
		DBName:     "fieldbill",
		DBUser:     "billing",
		DBPassword: "it's secret",
		DBSSLMode:  "require",
	})
	trequire.NoError(t, err)
	assert.Equal(t,
		`host=db.internal port=5432 user=billing password='it\'s secret' dbname=fieldbill sslmode=require TimeZone=UTC`,
		dsn)
}

func TestMySQLDSNRoundTrips(t *testing.T) {
	dsn, err := DSN(config.Config{
		DBType:     "mysql",
		DBHost:     "db.internal",
		DBPort:     "3306",
		DBName:     "fieldbill",
		DBUser:     "billing",
		DBPassword: "p@ss:word",
	})
	trequire.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	trequire.NoError(t, err)
	assert.Equal(t, "billing", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "db.internal:3306", parsed.Addr)
	assert.Equal(t, "fieldbill", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, time.UTC, parsed.Loc)
}

func TestSQLiteDSNDefaultsFile(t *testing.T) {
	dsn, err := DSN(config.Config{DBType: "sqlite"})
	trequire.NoError(t, err)
	assert.Equal(t, defaultSQLiteFile, dsn)

	dsn, err = DSN(config.Config{DBType: "sqlite", DBName: ":memory:"})
	trequire.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)
}

func TestDSNRejectsMissingSettings(t *testing.T) {
	_, err := DSN(config.Config{DBType: "postgres", DBHost: "localhost"})
	trequire.ErrorIs(t, err, ErrIncompleteDSN)
	assert.Contains(t, err.Error(), "user, name")

	_, err = DSN(config.Config{DBType: "mysql", DBUser: "root", DBName: "fieldbill"})
	trequire.ErrorIs(t, err, ErrIncompleteDSN)
	assert.Contains(t, err.Error(), "host")

	_, err = Dialect(config.Config{DBType: "oracle"})
	assert.EqualError(t, err, `unsupported database type "oracle"`)
}
