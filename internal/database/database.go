package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/domain"
	"mockpair/internal/models"

	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type DB struct {
	*sql.DB
	driver string
	logger *zerolog.Logger
}

func NewDB(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	var dsn string
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		busy := cfg.BusyTimeoutMS
		if busy <= 0 {
			busy = models.DefaultBusyTimeoutMS
		}
		// Immediate transactions take the write lock on BEGIN, so concurrent
		// pairing attempts queue on busy_timeout instead of failing on upgrade.
		dsn = fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", cfg.Path, busy)
	case DriverPostgres:
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch {
	case cfg.Driver == DriverSQLite && cfg.Path == ":memory:":
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, driver: cfg.Driver, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", cfg.Driver).Str("path", cfg.Path).Msg("Database initialized")
	return db, nil
}

// Driver reports the SQL dialect in use.
func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) createTables() error {
	queries := sqliteSchema
	if db.driver == DriverPostgres {
		queries = postgresSchema
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		reservation_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		mock_type TEXT NOT NULL,
		schedule_time TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'MATCHED')),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (user_id, mock_type, schedule_time)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		other_user_id TEXT NOT NULL,
		booking_time TEXT NOT NULL,
		mock_type TEXT NOT NULL,
		my_ticket_id TEXT NOT NULL,
		other_ticket_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (owner_user_id, my_ticket_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS intent_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		processed_at DATETIME,
		next_retry_at DATETIME,
		locked_until DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_slot ON reservations(mock_type, schedule_time, status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_records_owner ON booking_records(owner_user_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_records_time ON booking_records(booking_time)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_expires ON notifications(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_intent_queue_status ON intent_queue(status, next_retry_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		reservation_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		mock_type TEXT NOT NULL,
		schedule_time TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'MATCHED')),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, mock_type, schedule_time)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_records (
		id BIGSERIAL PRIMARY KEY,
		owner_user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		other_user_id TEXT NOT NULL,
		booking_time TEXT NOT NULL,
		mock_type TEXT NOT NULL,
		my_ticket_id TEXT NOT NULL,
		other_ticket_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (owner_user_id, my_ticket_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS intent_queue (
		id BIGSERIAL PRIMARY KEY,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ,
		locked_until TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_slot ON reservations(mock_type, schedule_time, status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_records_owner ON booking_records(owner_user_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_records_time ON booking_records(booking_time)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_expires ON notifications(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_intent_queue_status ON intent_queue(status, next_retry_at)`,
}

// WithTx runs fn inside one transaction and commits when fn returns nil.
// On postgres the transaction is serializable so two concurrent pairing
// attempts on one slot cannot both commit a stale view.
func (db *DB) WithTx(ctx context.Context, fn func(domain.Tx) error) error {
	var opts *sql.TxOptions
	if db.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&txStore{tx: tx, db: db}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// rebind rewrites '?' placeholders into the driver's native form.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// scanTime reads timestamp columns regardless of whether the driver hands
// back time.Time or its text form.
type scanTime struct {
	dst *time.Time
}

func (s scanTime) Scan(v interface{}) error {
	switch x := v.(type) {
	case nil:
		*s.dst = time.Time{}
		return nil
	case time.Time:
		*s.dst = x.UTC()
		return nil
	case []byte:
		return s.parse(string(x))
	case string:
		return s.parse(x)
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func (s scanTime) parse(raw string) error {
	raw = strings.TrimSuffix(raw, "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			*s.dst = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", raw)
}

// scanNullTime is scanTime for nullable columns.
type scanNullTime struct {
	dst **time.Time
}

func (s scanNullTime) Scan(v interface{}) error {
	if v == nil {
		*s.dst = nil
		return nil
	}
	var t time.Time
	if err := (scanTime{dst: &t}).Scan(v); err != nil {
		return err
	}
	*s.dst = &t
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
