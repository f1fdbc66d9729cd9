package db

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var migrationsSQL string

const (
	// DriverMattn is the cgo driver registered by github.com/mattn/go-sqlite3.
	DriverMattn = "sqlite3"
	// DriverModernc is the pure-Go driver registered by modernc.org/sqlite.
	DriverModernc = "sqlite"

	// DefaultBusyTimeout is how long a writer waits for the database lock.
	DefaultBusyTimeout = 5 * time.Second
)

// Options configures Open.
type Options struct {
	Driver          string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	BusyTimeout     time.Duration
}

// DSN builds a data source name for the given driver that enables foreign keys,
// a busy timeout and immediate write transactions on every pooled connection.
func DSN(driver, path string, busyTimeout time.Duration) (string, error) {
	if path == "" {
		return "", fmt.Errorf("database path must be non-empty")
	}
	ms := busyTimeout.Milliseconds()
	switch driver {
	case DriverMattn, "":
		q := url.Values{}
		q.Set("_foreign_keys", "on")
		q.Set("_busy_timeout", fmt.Sprint(ms))
		q.Set("_txlock", "immediate")
		return withQuery(path, q), nil
	case DriverModernc:
		q := url.Values{}
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", ms))
		q.Set("_txlock", "immediate")
		if !strings.HasPrefix(path, "file:") {
			path = "file:" + path
		}
		return withQuery(path, q), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func withQuery(path string, q url.Values) string {
	if strings.Contains(path, "?") {
		return path + "&" + q.Encode()
	}
	return path + "?" + q.Encode()
}

// Open opens the database, sizes the connection pool and creates the schema.
// An in-memory database is pinned to a single connection because every new
// SQLite connection to ":memory:" would otherwise see its own empty database.
func Open(opts Options) (*sql.DB, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverMattn
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	dsn, err := DSN(driver, opts.Path, busy)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if isMemory(opts.Path) {
		conn.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxIdleTime > 0 && !isMemory(opts.Path) {
		conn.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	if err := InitDB(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return conn, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory") || strings.HasPrefix(path, "file::memory:")
}

// InitDB creates the tables if they do not exist yet. There are no migrations
// beyond this.
func InitDB(db *sql.DB) error {
	stmts := strings.Split(migrationsSQL, ";")
	for _, s := range stmts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
