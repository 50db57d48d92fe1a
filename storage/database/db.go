package database

import (
	"context"
	"embed"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/trezcool/masomo-portal/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// drivers and goose dialects by storage engine
var (
	drivers = map[string]string{
		core.StorageEngineSQLite:   "sqlite",
		core.StorageEnginePostgres: "postgres",
	}
	dialects = map[string]string{
		core.StorageEngineSQLite:   "sqlite3",
		core.StorageEnginePostgres: "postgres",
	}
)

// Open connects to the SQL engine of conf and waits for it to answer.
func Open(ctx context.Context, conf core.StorageConfig) (*sqlx.DB, error) {
	driver, ok := drivers[conf.Engine]
	if !ok {
		return nil, errors.Errorf("unsupported storage engine %q", conf.Engine)
	}
	db, err := sqlx.Open(driver, conf.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if conf.Engine == core.StorageEngineSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err = ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(ctx context.Context, db *sqlx.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "DB ping")
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, db *sqlx.DB, engine string) error {
	dialect, ok := dialects[engine]
	if !ok {
		return errors.Errorf("unsupported storage engine %q", engine)
	}
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sqlx.DB, engine string) (int64, error) {
	dialect, ok := dialects[engine]
	if !ok {
		return 0, errors.Errorf("unsupported storage engine %q", engine)
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersionContext(ctx, db.DB)
	return v, errors.Wrap(err, "reading schema version")
}
