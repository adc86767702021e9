package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver for dev deployments

	"wabridge/platform/config"
	"wabridge/platform/logger"
)

// Database wraps sqlx.DB with connection pool setup and migrations.
type Database struct {
	*sqlx.DB
	config config.DatabaseConfig
	logger *logger.Logger
}

// New connects to the configured database and verifies the connection.
func New(cfg config.DatabaseConfig, log *logger.Logger) (*Database, error) {
	db, err := sqlx.Connect(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{
		DB:     db,
		config: cfg,
		logger: log,
	}, nil
}

// NewFromAppConfig connects using the application configuration.
func NewFromAppConfig(appConfig *config.Config, log *logger.Logger) (*Database, error) {
	return New(appConfig.Database, log)
}

func (d *Database) Close() error {
	d.logger.InfoWithFields("Closing database connection", map[string]interface{}{
		"driver": d.config.Driver,
	})
	return d.DB.Close()
}

// Health verifies the connection is still alive.
func (d *Database) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return d.PingContext(ctx)
}

// Migrate creates the instance document table. One row per account key,
// with the delivery config and the chat mirror stored as JSON documents.
func (d *Database) Migrate(ctx context.Context) error {
	var ddl string
	switch d.config.Driver {
	case "postgres":
		ddl = `
			CREATE TABLE IF NOT EXISTS "waInstances" (
				"key"       TEXT PRIMARY KEY,
				"deviceJid" TEXT NOT NULL DEFAULT '',
				"config"    JSONB NOT NULL DEFAULT '{}',
				"chats"     JSONB NOT NULL DEFAULT '[]',
				"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`
	case "sqlite3":
		ddl = `
			CREATE TABLE IF NOT EXISTS "waInstances" (
				"key"       TEXT PRIMARY KEY,
				"deviceJid" TEXT NOT NULL DEFAULT '',
				"config"    TEXT NOT NULL DEFAULT '{}',
				"chats"     TEXT NOT NULL DEFAULT '[]',
				"createdAt" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				"updatedAt" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`
	default:
		return fmt.Errorf("unsupported database driver: %s", d.config.Driver)
	}

	if _, err := d.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create waInstances table: %w", err)
	}

	d.logger.Info("Database migrations applied")
	return nil
}
