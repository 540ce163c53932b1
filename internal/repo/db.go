// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and Postgres (Supabase), plus schema migrations.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/slack-agent/internal/domain"
)

var (
	// ErrNotFound aliases gorm.ErrRecordNotFound for callers outside this package.
	ErrNotFound = gorm.ErrRecordNotFound

	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// Options selects and tunes the database connection.
type Options struct {
	Driver  string // sqlite|postgres
	Path    string // sqlite file
	DSN     string // postgres connection string
	Tracing bool   // attach the OpenTelemetry GORM plugin
	Debug   bool   // log every statement
}

// Open connects using opts.Driver and optionally instruments the handle with
// OpenTelemetry spans.
func Open(opts Options) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		db, err = OpenSQLite(opts.Path)
	case "postgres":
		db, err = OpenPostgres(opts.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if opts.Debug {
		db = db.Session(&gorm.Session{Logger: logger.Default.LogMode(logger.Info)})
	}
	if opts.Tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("gorm tracing plugin: %w", err)
		}
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// OpenPostgres connects to a Postgres database such as a Supabase project.
// Prepared statements are disabled because Supabase's pooler runs in
// transaction mode.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates every table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(domain.All()...)
}

// IsDuplicate detects unique-constraint violations across drivers.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	// SQLite: "UNIQUE constraint failed: ..."
	// Postgres: "duplicate key value violates unique constraint ... (SQLSTATE 23505)"
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "23505")
}
