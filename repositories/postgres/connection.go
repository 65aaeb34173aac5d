package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/upb/grounded-chat/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return Wrap(db, logger), nil
}

// Wrap adapts an existing pool, used with sqlmock in tests
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// chatExchangesSchema creates the exchange table. Message text is never stored.
const chatExchangesSchema = `
	CREATE TABLE IF NOT EXISTS chat_exchanges (
		id UUID PRIMARY KEY,
		request_id VARCHAR(255),
		ip_address VARCHAR(45),
		user_agent TEXT,
		status VARCHAR(32) NOT NULL,
		history_turns INTEGER NOT NULL DEFAULT 0,
		documents_retrieved INTEGER NOT NULL DEFAULT 0,
		citation_count INTEGER NOT NULL DEFAULT 0,
		vector_used BOOLEAN NOT NULL DEFAULT false,
		evidence_truncated BOOLEAN NOT NULL DEFAULT false,
		prompt_tokens_est INTEGER NOT NULL DEFAULT 0,
		fallback BOOLEAN NOT NULL DEFAULT false,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		provider VARCHAR(100),
		model VARCHAR(100),
		tokens_used INTEGER,
		status_code INTEGER,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_chat_exchanges_request_id ON chat_exchanges(request_id);
	CREATE INDEX IF NOT EXISTS idx_chat_exchanges_status ON chat_exchanges(status);
	CREATE INDEX IF NOT EXISTS idx_chat_exchanges_timestamp ON chat_exchanges(timestamp);
`

// InitSchema creates the audit tables if they do not exist
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, chatExchangesSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
