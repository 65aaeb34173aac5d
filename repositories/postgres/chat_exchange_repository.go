package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/grounded-chat/models"
	"github.com/upb/grounded-chat/repositories"
)

// ChatExchangeRepository implements repositories.ChatExchangeRepository
type ChatExchangeRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewChatExchangeRepository creates a new chat exchange repository
func NewChatExchangeRepository(db *DB, logger *zap.Logger) repositories.ChatExchangeRepository {
	return &ChatExchangeRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new exchange record
func (r *ChatExchangeRepository) Insert(ctx context.Context, e *models.ChatExchange) error {
	query := `
		INSERT INTO chat_exchanges (
			id, request_id, ip_address, user_agent, status,
			history_turns, documents_retrieved, citation_count, vector_used, evidence_truncated,
			prompt_tokens_est, fallback, latency_ms, timestamp,
			provider, model, tokens_used, status_code, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.RequestID,
		e.IPAddress,
		e.UserAgent,
		e.Status,
		e.HistoryTurns,
		e.DocumentsRetrieved,
		e.CitationCount,
		e.VectorUsed,
		e.EvidenceTruncated,
		e.PromptTokensEst,
		e.Fallback,
		e.LatencyMs,
		e.Timestamp,
		e.Provider,
		e.Model,
		e.TokensUsed,
		e.StatusCode,
		e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat exchange: %w", err)
	}

	r.logger.Debug("chat exchange inserted",
		zap.String("id", e.ID.String()),
		zap.String("status", string(e.Status)))
	return nil
}
