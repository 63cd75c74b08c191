package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	migrationsDir = "data/sql/migrations"
)

// OpenDB opens a bun handle for the configured driver. SQLite is
// limited to one connection so writers serialize.
func OpenDB(driver, dsn string) (*bun.DB, error) {
	switch driver {
	case "", DriverSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case DriverPostgres:
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// goose keeps its base FS and dialect in package state
var gooseMu sync.Mutex

// Migrate applies the embedded migrations
func Migrate(ctx context.Context, db *bun.DB, logger Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(db, logger); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, migrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the latest migration
func MigrateDown(ctx context.Context, db *bun.DB, logger Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(db, logger); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db.DB, migrationsDir); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func configureGoose(db *bun.DB, logger Logger) error {
	if logger == nil {
		logger = defLogger{}
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{logger})

	gooseDialect := "sqlite3"
	if db.Dialect().Name() == dialect.PG {
		gooseDialect = "postgres"
	}
	return goose.SetDialect(gooseDialect)
}

type gooseLogger struct {
	Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.Info(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.Error(format, v...)
}
