package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Executor is the query surface shared by *sqlx.DB and *sqlx.Tx.
type Executor interface {
	DriverName() string
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

type DB interface {
	Executor
	PingContext(ctx context.Context) error
	Close() error
	// SQL exposes the underlying handle for migration drivers.
	SQL() *sql.DB
	// Flavor is the sqlbuilder dialect matching the driver.
	Flavor() sqlbuilder.Flavor
	// From returns the transaction carried by ctx, or the pool when there is none.
	From(ctx context.Context) Executor
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	WithTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context) error) error
}

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
	flavor sqlbuilder.Flavor
}

func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
		flavor: FlavorFor(db.DriverName()),
	}
}

// Open connects to the configured driver. The connection is verified lazily; call PingContext
// (the startup sequence does) to fail fast.
func Open(config Config, logger ectologger.Logger) (DB, error) {
	switch config.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.Driver, err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	return NewDatabaseInstance(db, logger), nil
}

func FlavorFor(driverName string) sqlbuilder.Flavor {
	if driverName == DriverSQLite {
		return sqlbuilder.SQLite
	}
	return sqlbuilder.PostgreSQL
}

func (db *DatabaseInstance) SQL() *sql.DB {
	return db.DB.DB
}

func (db *DatabaseInstance) Flavor() sqlbuilder.Flavor {
	return db.flavor
}

func (db *DatabaseInstance) From(ctx context.Context) Executor {
	if tx, ok := TxFromContext(ctx); ok && tx.IsOpen() {
		return tx
	}
	return db.DB
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db.DB, db.txOptions(opts))
}

// WithTx runs fn inside a transaction, committing when fn returns nil and rolling back otherwise.
// Nested calls join the outer transaction.
func (db *DatabaseInstance) WithTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context) error) error {
	ctxTx, tx, err := db.GetTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	if err := fn(ctxTx); err != nil {
		return err
	}
	return tx.Commit(ctxTx)
}

// sqlite transactions are always serializable and reject explicit isolation levels.
func (db *DatabaseInstance) txOptions(opts *sql.TxOptions) *sql.TxOptions {
	if opts == nil || db.DriverName() != DriverSQLite {
		return opts
	}
	return &sql.TxOptions{ReadOnly: opts.ReadOnly}
}

// ParseIsolation maps a config value such as "serializable" to a sql.IsolationLevel.
func ParseIsolation(level string) (sql.IsolationLevel, error) {
	switch level {
	case "", "default":
		return sql.LevelDefault, nil
	case "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("unsupported isolation level: %s", level)
	}
}
