package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/models"
	"github.com/upb/grounded-chat/repositories/postgres"
	"github.com/upb/grounded-chat/services/audit"
)

type memoryRepository struct {
	mu        sync.Mutex
	exchanges []*models.ChatExchange
}

func (r *memoryRepository) Insert(ctx context.Context, exchange *models.ChatExchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, exchange)
	return nil
}

func (r *memoryRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exchanges)
}

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization without database", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Verify infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.Logger)
		assert.NotNil(t, deps.Metrics)
		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Audit)

		// Verify services and handlers
		assert.NotNil(t, deps.Retrieval)
		assert.NotNil(t, deps.Chat)
		assert.NotNil(t, deps.Speech)
		assert.Equal(t, "azure-openai", deps.Provider.Name())
		assert.NotNil(t, deps.ChatHandler)
		assert.NotNil(t, deps.SpeechHandler)
		assert.NotNil(t, deps.HealthHandler)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("metrics disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Observability.MetricsEnabled = false

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Nil(t, deps.Metrics)
	})

	t.Run("vector search enabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Embedding.Enabled = true
		cfg.Embedding.Deployment = "text-embedding"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.NotNil(t, deps.Retrieval)
	})

	t.Run("database connection failure", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Database = &config.DatabaseConfig{
			ConnectionString: "postgres://chat@127.0.0.1:1/chat?sslmode=disable&connect_timeout=1",
			MaxOpenConns:     1,
			MaxIdleConns:     1,
			ConnMaxLifetime:  time.Minute,
		}
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize audit store")
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("flushes audit records before closing the database", func(t *testing.T) {
		logger := zaptest.NewLogger(t)

		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		mock.ExpectClose()

		repo := &memoryRepository{}
		auditService := audit.NewAuditService(repo, nil, logger, audit.DefaultConfig())
		require.NoError(t, auditService.Start())
		for i := 0; i < 5; i++ {
			require.NoError(t, auditService.Record(&models.ChatExchange{Status: models.ChatStatusOK}))
		}

		deps := &Dependencies{
			Config: testConfig(t),
			Logger: logger,
			DB:     postgres.Wrap(sqlDB, logger),
			Audit:  auditService,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		require.NoError(t, deps.Close(ctx))
		assert.Equal(t, 5, repo.count())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports audit stop failure", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		deps := &Dependencies{
			Config: testConfig(t),
			Logger: logger,
			// Never started, so Stop fails
			Audit: audit.NewAuditService(&memoryRepository{}, nil, logger, audit.DefaultConfig()),
		}

		err := deps.Close(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to stop audit service")
	})
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Search: config.SearchConfig{
			Endpoint:     "http://127.0.0.1:1",
			IndexName:    "docs",
			APIKey:       "search-key",
			APIVersion:   "2023-07-01-preview",
			URLField:     "url",
			ContentField: "content",
			Timeout:      time.Second,
		},
		Embedding: config.EmbeddingConfig{
			Endpoint:   "http://127.0.0.1:1",
			APIKey:     "key",
			APIVersion: "2023-05-15",
			Timeout:    time.Second,
		},
		Completion: config.CompletionConfig{
			Endpoint:    "http://127.0.0.1:1",
			Deployment:  "gpt",
			APIKey:      "key",
			APIVersion:  "2023-05-15",
			Temperature: 0.5,
			MaxTokens:   500,
			Timeout:     time.Second,
		},
		Grounding: config.GroundingConfig{
			MaxTurns:        3,
			TopK:            3,
			MaxDocChars:     1500,
			MaxPromptTokens: 3000,
			Instructions:    "Answer from the sources.",
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "error",
			LogFormat:      "json",
			MetricsEnabled: true,
		},
	}
}
