package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/handlers"
	"github.com/upb/grounded-chat/internal/observability"
	"github.com/upb/grounded-chat/repositories/postgres"
	"github.com/upb/grounded-chat/services/audit"
	"github.com/upb/grounded-chat/services/chat"
	"github.com/upb/grounded-chat/services/embedding"
	"github.com/upb/grounded-chat/services/grounding"
	"github.com/upb/grounded-chat/services/providers"
	"github.com/upb/grounded-chat/services/providers/azureopenai"
	"github.com/upb/grounded-chat/services/retrieval"
	"github.com/upb/grounded-chat/services/speech"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB // nil when DATABASE_URL is unset
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Services
	Retrieval *retrieval.Service
	Provider  providers.Provider
	Chat      *chat.ChatService
	Speech    *speech.Service
	Audit     *audit.AuditService // nil when auditing is disabled

	// Handlers
	ChatHandler   *handlers.ChatHandler
	SpeechHandler *handlers.SpeechHandler
	HealthHandler *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	// Exchange auditing is optional
	if cfg.Database != nil {
		if err := deps.initAudit(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
	} else {
		logger.Info("DATABASE_URL not set, exchange auditing disabled")
	}

	deps.initServices(cfg)
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully",
		zap.Bool("vector_search", cfg.Embedding.Enabled),
		zap.Bool("speech", cfg.Speech.Available()),
		zap.Bool("audit", deps.Audit != nil),
		zap.Bool("metrics", deps.Metrics != nil))
	return deps, nil
}

// initAudit opens the exchange store and starts the audit workers
func (d *Dependencies) initAudit(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(*cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	repo := postgres.NewChatExchangeRepository(db, d.Logger)
	auditService := audit.NewAuditService(repo, d.Metrics, d.Logger, audit.DefaultConfig())
	if err := auditService.Start(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	d.DB = db
	d.Audit = auditService
	return nil
}

// initServices builds the chat pipeline and the speech token issuer
func (d *Dependencies) initServices(cfg *config.Config) {
	var embedder embedding.Embedder
	if cfg.Embedding.Enabled {
		embedder = embedding.NewClient(cfg.Embedding, d.Logger)
	}
	d.Retrieval = retrieval.NewService(cfg.Search, embedder, cfg.Embedding.Timeout, d.Metrics, d.Logger)

	d.Provider = azureopenai.NewAzureOpenAIAdapter(providers.ProviderConfig{
		APIKey:     cfg.Completion.APIKey,
		BaseURL:    cfg.Completion.Endpoint,
		Deployment: cfg.Completion.Deployment,
		APIVersion: cfg.Completion.APIVersion,
		Timeout:    cfg.Completion.Timeout,
	})

	assembler := grounding.NewAssembler(grounding.OptionsFromConfig(cfg.Grounding))

	// A nil *AuditService must not be passed as a non-nil Recorder
	var recorder chat.Recorder
	if d.Audit != nil {
		recorder = d.Audit
	}

	d.Chat = chat.NewChatService(
		d.Retrieval,
		d.Provider,
		assembler,
		recorder,
		chat.OptionsFromConfig(cfg.Completion, cfg.Grounding),
		d.Metrics,
		d.Logger,
	)

	d.Speech = speech.NewService(cfg.Speech, d.Metrics, d.Logger)
}

func (d *Dependencies) initHandlers() {
	var checker handlers.DatabaseChecker
	var auditor handlers.AuditStatter
	if d.DB != nil {
		checker = d.DB
	}
	if d.Audit != nil {
		auditor = d.Audit
	}

	d.ChatHandler = handlers.NewChatHandler(d.Chat, d.Logger)
	d.SpeechHandler = handlers.NewSpeechHandler(d.Speech, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(checker, auditor, d.Logger)
}

// Close gracefully shuts down all dependencies.
// Queued audit records are flushed before the database is closed.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
