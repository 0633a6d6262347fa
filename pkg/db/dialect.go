package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/smallbiznis/fieldbill/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteFile = "fieldbill.db"

var ErrIncompleteDSN = errors.New("db: incomplete connection settings")

// Dialect picks the gorm dialector for cfg.DBType.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.DBType {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// DSN renders the driver connection string for cfg. Timestamps are always
// read and written in UTC.
func DSN(cfg config.Config) (string, error) {
	switch cfg.DBType {
	case "postgres":
		if err := require(cfg, "host", cfg.DBHost, "user", cfg.DBUser, "name", cfg.DBName); err != nil {
			return "", err
		}
		return postgresDSN(cfg), nil
	case "mysql":
		if err := require(cfg, "host", cfg.DBHost, "user", cfg.DBUser, "name", cfg.DBName); err != nil {
			return "", err
		}
		return mysqlDSN(cfg), nil
	case "sqlite":
		if cfg.DBName == "" {
			return defaultSQLiteFile, nil
		}
		return cfg.DBName, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

func postgresDSN(cfg config.Config) string {
	pairs := [][2]string{
		{"host", cfg.DBHost},
		{"port", cfg.DBPort},
		{"user", cfg.DBUser},
		{"password", cfg.DBPassword},
		{"dbname", cfg.DBName},
		{"sslmode", cfg.DBSSLMode},
		{"TimeZone", "UTC"},
	}
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		parts = append(parts, kv[0]+"="+quotePostgres(kv[1]))
	}
	return strings.Join(parts, " ")
}

// quotePostgres single-quotes values that libpq would otherwise split.
func quotePostgres(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func mysqlDSN(cfg config.Config) string {
	mc := mysqldriver.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = cfg.DBHost
	if cfg.DBPort != "" {
		mc.Addr += ":" + cfg.DBPort
	}
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func require(cfg config.Config, kv ...string) error {
	var missing []string
	for i := 0; i+1 < len(kv); i += 2 {
		if strings.TrimSpace(kv[i+1]) == "" {
			missing = append(missing, kv[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s needs %s", ErrIncompleteDSN, cfg.DBType, strings.Join(missing, ", "))
}
