package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatExchange is the audit record of one /chat call.
// It holds metadata only: message text, history and replies are never stored.
type ChatExchange struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	RequestID          string     `json:"request_id" db:"request_id"`
	IPAddress          string     `json:"ip_address" db:"ip_address"`
	UserAgent          string     `json:"user_agent" db:"user_agent"`
	Status             ChatStatus `json:"status" db:"status"`
	HistoryTurns       int        `json:"history_turns" db:"history_turns"`
	DocumentsRetrieved int        `json:"documents_retrieved" db:"documents_retrieved"`
	CitationCount      int        `json:"citation_count" db:"citation_count"`
	VectorUsed         bool       `json:"vector_used" db:"vector_used"`
	EvidenceTruncated  bool       `json:"evidence_truncated" db:"evidence_truncated"`
	PromptTokensEst    int        `json:"prompt_tokens_est" db:"prompt_tokens_est"`
	Fallback           bool       `json:"fallback" db:"fallback"`
	LatencyMs          int        `json:"latency_ms" db:"latency_ms"`
	Timestamp          time.Time  `json:"timestamp" db:"timestamp"`

	// Completion fields, set only when the model answered
	Provider   *string `json:"provider,omitempty" db:"provider"`
	Model      *string `json:"model,omitempty" db:"model"`
	TokensUsed *int    `json:"tokens_used,omitempty" db:"tokens_used"`

	// Failure fields
	StatusCode   *int    `json:"status_code,omitempty" db:"status_code"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
}

// TableName returns the table name for the ChatExchange model
func (ChatExchange) TableName() string {
	return "chat_exchanges"
}

// NewChatExchange creates a new ChatExchange instance
func NewChatExchange(status ChatStatus) *ChatExchange {
	return &ChatExchange{
		ID:        uuid.New(),
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// WithRequest sets request metadata
func (e *ChatExchange) WithRequest(requestID, ipAddress, userAgent string) *ChatExchange {
	e.RequestID = requestID
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	return e
}

// WithRetrieval sets retrieval and prompt assembly metrics
func (e *ChatExchange) WithRetrieval(historyTurns, documents, citations, promptTokens int, vectorUsed, truncated bool) *ChatExchange {
	e.HistoryTurns = historyTurns
	e.DocumentsRetrieved = documents
	e.CitationCount = citations
	e.PromptTokensEst = promptTokens
	e.VectorUsed = vectorUsed
	e.EvidenceTruncated = truncated
	return e
}

// WithCompletion sets completion metrics
func (e *ChatExchange) WithCompletion(provider, model string, tokensUsed int, fallback bool) *ChatExchange {
	e.Provider = &provider
	e.Model = &model
	e.TokensUsed = &tokensUsed
	e.Fallback = fallback
	return e
}

// WithLatency sets the end-to-end latency
func (e *ChatExchange) WithLatency(d time.Duration) *ChatExchange {
	e.LatencyMs = int(d.Milliseconds())
	return e
}

// WithError sets error information
func (e *ChatExchange) WithError(statusCode int, errorMessage string) *ChatExchange {
	e.StatusCode = &statusCode
	e.ErrorMessage = &errorMessage
	return e
}
