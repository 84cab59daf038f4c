package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Options struct {
	Driver      string
	DSN         string
	Path        string
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Open returns a sqlx handle whose bind type matches the dialect, so store
// queries written with ? placeholders can be rebound for postgres.
func Open(opts Options) (*sqlx.DB, error) {
	var (
		driverName string
		dsn        string
	)
	switch opts.Driver {
	case "", DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
		driverName = "sqlite"
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", opts.Path)
	case DriverPostgres:
		driverName = "pgx"
		dsn = opts.DSN
	case DriverMySQL:
		driverName = "mysql"
		mc, err := mysql.ParseDSN(opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		mc.ParseTime = true
		dsn = mc.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported db driver %q", opts.Driver)
	}

	sqdb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	sqdb.SetMaxOpenConns(opts.MaxOpen)
	sqdb.SetMaxIdleConns(opts.MaxIdle)
	sqdb.SetConnMaxLifetime(opts.MaxLifetime)
	if err := sqdb.Ping(); err != nil {
		_ = sqdb.Close()
		return nil, err
	}
	return sqlx.NewDb(sqdb, driverName), nil
}

func OpenSQLite(path string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sqlx.DB, error) {
	return Open(Options{Driver: DriverSQLite, Path: path, MaxOpen: maxOpen, MaxIdle: maxIdle, MaxLifetime: maxLifetime})
}

// Dialect maps a sqlx driver name back to the migration directory name.
func Dialect(x *sqlx.DB) string {
	switch x.DriverName() {
	case "pgx", "postgres":
		return DriverPostgres
	case "mysql":
		return DriverMySQL
	default:
		return DriverSQLite
	}
}
