package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
	msPerSecond     = 1000

	// connectionTimeout bounds the startup ping.
	connectionTimeout = 5 * time.Second
	connMaxIdleTime   = 30 * time.Minute
)

// ErrTxTimeout is returned by WithTx when the transaction deadline passes
// before commit. Callers should treat it as retryable.
var ErrTxTimeout = errors.New("database: transaction timed out")

// DB is the review store's SQLite handle. It adds migrations, a health
// check and deadline-bounded transactions to *sql.DB.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of config.yaml.
type Config struct {
	Path        string // created along with its directory on first Open
	WALMode     bool
	BusyTimeout int // seconds
}

// dsn renders cfg as a go-sqlite3 connection string.
func (cfg Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*msPerSecond))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open prepares cfg.Path, opens it and pings it once.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("preparing database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Path, err)
	}
	// A single connection gives SQLite its one writer and serialises review
	// transactions, so a latest-review check and its update never interleave.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging %s: %w", cfg.Path, err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) // absent until the first write in some modes
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close releases the connection. Closing twice is harmless.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path is the database file location.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the database answers a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// BeginTx wraps sql.DB.BeginTx with context on failure.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}

// WithTx runs fn inside a transaction bounded by timeout.
//
// The transaction commits only if fn returns nil; any error from fn, or a
// commit failure, rolls back every write made through tx. If the deadline
// passes the returned error wraps ErrTxTimeout. A zero timeout means no
// bound beyond ctx. fn receives the bounded context and must use it for
// every statement.
func (db *DB) WithTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return RunTx(ctx, db.DB, TxLimits{Timeout: timeout}, fn)
}

// ConnPool is satisfied by *sql.DB and *DB.
type ConnPool interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// TxLimits bounds a transaction. MaxWait caps the wait for a free pooled
// connection and Timeout caps the transaction once it has one. Zero leaves
// either unbounded beyond ctx.
type TxLimits struct {
	MaxWait time.Duration
	Timeout time.Duration
}

// RunTx is WithTx for any ConnPool, with a separate bound on the wait for
// a connection. Both deadlines surface as ErrTxTimeout.
func RunTx(ctx context.Context, db ConnPool, limits TxLimits, fn func(ctx context.Context, tx *sql.Tx) error) error {
	conn, err := acquire(ctx, db, limits.MaxWait)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck // returns the connection to the pool

	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return txError(ctx, fmt.Errorf("starting transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if err := fn(ctx, tx); err != nil {
		return txError(ctx, err)
	}

	if err := tx.Commit(); err != nil {
		return txError(ctx, fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// acquire takes a dedicated connection from the pool. The wait bound only
// covers acquisition; the connection stays valid after it expires.
func acquire(ctx context.Context, db ConnPool, maxWait time.Duration) (*sql.Conn, error) {
	if maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, txError(ctx, fmt.Errorf("waiting for connection: %w", err))
	}
	return conn, nil
}

func txError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTxTimeout, err)
	}
	return err
}
