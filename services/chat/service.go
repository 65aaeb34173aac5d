// Package chat runs the retrieve, assemble, complete and render pipeline
// behind POST /chat.
package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/internal/observability"
	"github.com/upb/grounded-chat/models"
	"github.com/upb/grounded-chat/services"
	"github.com/upb/grounded-chat/services/grounding"
	"github.com/upb/grounded-chat/services/providers"
	"github.com/upb/grounded-chat/services/reply"
	"github.com/upb/grounded-chat/services/retrieval"
)

// User-facing replies for failed exchanges. Upstream detail is only logged.
const (
	ThrottledMessage      = "We're getting a lot of requests right now. Please wait a moment and try again."
	FailureMessage        = "Something went wrong while generating a response."
	InvalidRequestMessage = "Please provide a non-empty message."
)

// Retriever finds evidence documents for a query
type Retriever interface {
	Search(ctx context.Context, query string, topK int) (*retrieval.SearchResult, error)
}

// Recorder receives exchange audit records. Implementations must not block.
type Recorder interface {
	Record(exchange *models.ChatExchange) error
}

// RequestMeta carries transport metadata for the audit record
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// Options holds completion parameters and limits used per request
type Options struct {
	TopK              int
	Temperature       float64
	MaxTokens         int
	CompletionTimeout time.Duration
}

// OptionsFromConfig builds Options from the completion and grounding sections
func OptionsFromConfig(completion config.CompletionConfig, grounding config.GroundingConfig) Options {
	return Options{
		TopK:              grounding.TopK,
		Temperature:       completion.Temperature,
		MaxTokens:         completion.MaxTokens,
		CompletionTimeout: completion.Timeout,
	}
}

// ChatService orchestrates one grounded chat exchange
type ChatService struct {
	retriever Retriever
	provider  providers.Provider
	assembler *grounding.Assembler
	recorder  Recorder
	opts      Options
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewChatService creates a chat service. recorder and metrics may be nil.
func NewChatService(
	retriever Retriever,
	provider providers.Provider,
	assembler *grounding.Assembler,
	recorder Recorder,
	opts Options,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ChatService {
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}

	if assembler.PrefixExceedsBudget() {
		logger.Warn("instructions exceed the prompt budget, evidence will always be empty",
			zap.Int("budget_chars", assembler.BudgetChars()))
	}

	return &ChatService{
		retriever: retriever,
		provider:  provider,
		assembler: assembler,
		recorder:  recorder,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

// Chat answers req from retrieved evidence. The returned response is always
// well-formed; on failure it carries Error=true with a user-facing reply and
// the returned error classifies the failure (rate_limit, retrieval, completion).
func (s *ChatService) Chat(ctx context.Context, req *models.ChatRequest, meta RequestMeta) (*models.ChatResponse, error) {
	start := time.Now()
	log := observability.WithRequest(ctx, s.logger)
	exchange := models.NewChatExchange(models.ChatStatusOK).WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)

	if strings.TrimSpace(req.Message) == "" {
		return s.fail(exchange, start, models.ChatStatusInvalidRequest, InvalidRequestMessage, services.ErrEmptyMessage), services.ErrEmptyMessage
	}

	// Step 1: retrieve evidence
	result, err := s.retriever.Search(ctx, req.Message, s.opts.TopK)
	if err != nil {
		log.Error("evidence retrieval failed", zap.Error(err))
		return s.fail(exchange, start, models.ChatStatusFailed, FailureMessage, err), err
	}

	// Step 2: assemble prompt and citations from the same document list
	prompt := s.assembler.Assemble(req.Message, req.History, result.Documents)
	citations := grounding.ExtractCitations(result.Documents)

	s.metrics.RecordPrompt(prompt.EstimatedTokens, prompt.EvidenceTruncated)
	exchange.WithRetrieval(prompt.HistoryTurns, len(result.Documents), len(citations),
		prompt.EstimatedTokens, result.VectorUsed, prompt.EvidenceTruncated)

	log.Debug("prompt assembled",
		zap.Int("documents", len(result.Documents)),
		zap.Int("citations", len(citations)),
		zap.Int("history_turns", prompt.HistoryTurns),
		zap.Int("estimated_tokens", prompt.EstimatedTokens),
		zap.Int("truncated_documents", prompt.TruncatedDocuments),
		zap.Bool("evidence_truncated", prompt.EvidenceTruncated))

	// Step 3: complete
	completion, err := s.complete(ctx, prompt)
	if err != nil {
		if providers.IsRateLimited(err) {
			log.Warn("completion service is throttling", zap.Error(err))
			err = services.ErrUpstreamThrottled.Wrap(err)
			return s.fail(exchange, start, models.ChatStatusRateLimited, ThrottledMessage, err), err
		}

		log.Error("completion failed", zap.Error(err))
		err = services.ErrCompletionFailed.Wrap(err)
		return s.fail(exchange, start, models.ChatStatusFailed, FailureMessage, err), err
	}

	// Step 4: render
	text, ok := completion.Reply()
	if !ok {
		log.Error("completion returned no choices")
		s.metrics.RecordUpstreamError(observability.StageCompletion, "malformed")
		err = services.ErrCompletionFailed.Wrap(errors.New("completion returned no choices"))
		return s.fail(exchange, start, models.ChatStatusFailed, FailureMessage, err), err
	}
	fallback := reply.IsFallback(text)
	if fallback {
		s.metrics.RecordFallbackReply()
	}

	exchange.WithCompletion(completion.Provider, completion.Model, completion.Usage.TotalTokens, fallback)
	s.finish(exchange, start)

	log.Info("chat exchange completed",
		zap.Int("citations", len(citations)),
		zap.Bool("fallback", fallback),
		zap.Duration("latency", time.Since(start)))

	return &models.ChatResponse{
		Reply:            text,
		AssistantMessage: &models.ConversationTurn{Role: models.RoleAssistant, Content: text},
		Display:          reply.Render(text, citations),
		Citations:        citations,
		Status:           models.ChatStatusOK,
	}, nil
}

func (s *ChatService) complete(ctx context.Context, prompt *grounding.Prompt) (*providers.ChatResponse, error) {
	if s.opts.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CompletionTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.provider.ChatCompletion(ctx, &providers.ChatRequest{
		Messages:    prompt.Messages,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	s.metrics.ObserveStage(observability.StageCompletion, time.Since(start))

	if err != nil {
		status := strconv.Itoa(providers.StatusCode(err))
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		s.metrics.RecordUpstreamError(observability.StageCompletion, status)
		return nil, err
	}

	return resp, nil
}

// fail builds the failure response and records the exchange
func (s *ChatService) fail(exchange *models.ChatExchange, start time.Time, status models.ChatStatus, message string, err error) *models.ChatResponse {
	exchange.Status = status
	exchange.WithError(StatusCode(err), err.Error())
	s.finish(exchange, start)

	return &models.ChatResponse{
		Reply:     message,
		Citations: []models.Citation{},
		Error:     true,
		Status:    status,
	}
}

func (s *ChatService) finish(exchange *models.ChatExchange, start time.Time) {
	exchange.WithLatency(time.Since(start))
	s.metrics.RecordChat(string(exchange.Status))

	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(exchange); err != nil {
		s.logger.Debug("chat exchange not recorded", zap.Error(err))
	}
}
