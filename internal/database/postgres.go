package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type Manager struct {
	DB     *sql.DB
	logger *zap.Logger
}

type Config struct {
	ConnectionString string
	Host             string
	Port             string
	User             string
	Password         string
	DBName           string
	SSLMode          string
}

func (c Config) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode,
	)
}

func NewManager(ctx context.Context, cfg Config, logger *zap.Logger) (*Manager, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to database", zap.String("host", cfg.Host), zap.String("db", cfg.DBName))

	manager := &Manager{DB: db, logger: logger}

	if err := manager.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return manager, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS otp_codes (
		id SERIAL PRIMARY KEY,
		email TEXT NOT NULL,
		purpose TEXT NOT NULL CHECK (purpose IN ('signup', 'forgot_password')),
		code_hash TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		consumed BOOLEAN NOT NULL DEFAULT FALSE,
		consumed_at TIMESTAMP WITH TIME ZONE,
		superseded BOOLEAN NOT NULL DEFAULT FALSE,
		attempt_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_otp_codes_active
		ON otp_codes(email, purpose) WHERE consumed = FALSE AND superseded = FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_otp_codes_lookup ON otp_codes(email, purpose, created_at DESC)`,
}

func (m *Manager) runMigrations(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := m.DB.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	m.logger.Info("database migrations completed", zap.Int("count", len(migrations)))
	return nil
}

func (m *Manager) Close() error {
	if m.DB != nil {
		return m.DB.Close()
	}
	return nil
}

func (m *Manager) GetDB() *sql.DB {
	return m.DB
}
