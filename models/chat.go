package models

// Role identifies the author of a conversation turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message of caller-owned history.
// The server never stores or mutates history.
type ConversationTurn struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Message string             `json:"message" validate:"notblank"`
	History []ConversationTurn `json:"history" validate:"dive"`
}

// ChatStatus classifies the outcome of a chat exchange
type ChatStatus string

const (
	ChatStatusOK             ChatStatus = "ok"
	ChatStatusRateLimited    ChatStatus = "rate_limited"
	ChatStatusFailed         ChatStatus = "failed"
	ChatStatusInvalidRequest ChatStatus = "invalid_request"
)

// Citation references a source document by URL
type Citation struct {
	URL string `json:"url"`
}

// ChatResponse is the body returned by POST /chat.
// On success AssistantMessage is the turn the caller appends to its history.
// On failure Error is true, Reply carries the user-facing message,
// AssistantMessage is omitted and Citations is empty.
type ChatResponse struct {
	Reply            string            `json:"reply"`
	AssistantMessage *ConversationTurn `json:"assistantMessage,omitempty"`
	Display          string            `json:"display"`
	Citations        []Citation        `json:"citations"`
	Error            bool              `json:"error"`
	Status           ChatStatus        `json:"status"`

	// Details lists invalid fields for invalid_request responses
	Details map[string]string `json:"details,omitempty"`
}

// Document is a single search hit. Content and URL are extracted from the
// index document; the ranking fields are carried but never interpreted.
type Document struct {
	URL           string   `json:"url"`
	Content       string   `json:"content"`
	Score         *float64 `json:"score,omitempty"`
	RerankerScore *float64 `json:"rerankerScore,omitempty"`
}
