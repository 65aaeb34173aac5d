// Package grounding builds the token-budgeted prompt sent to the completion
// model and the citation list returned to the caller. Both derive from the
// same retrieval result but are computed independently.
package grounding

import (
	"strings"
	"unicode/utf8"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/models"
	"github.com/upb/grounded-chat/services/providers"
)

const (
	// CharsPerToken is the fixed heuristic used for every budget in this package.
	CharsPerToken = 4

	// Ellipsis marks content cut by either truncation layer.
	Ellipsis = "..."

	// EvidenceSeparator joins rendered documents in the evidence block.
	EvidenceSeparator = "\n\n---\n\n"

	// Directive is appended to the instructions on every prompt.
	Directive = "Use only the information from the sources below to answer. If no answer is found, say you don’t know."

	DefaultMaxDocChars     = 1500
	DefaultMaxPromptTokens = 3000
	DefaultMaxTurns        = 3
)

// Options configures an Assembler
type Options struct {
	Instructions    string
	MaxDocChars     int
	MaxPromptTokens int
	MaxTurns        int
}

// OptionsFromConfig maps grounding configuration to assembler options
func OptionsFromConfig(cfg config.GroundingConfig) Options {
	return Options{
		Instructions:    cfg.Instructions,
		MaxDocChars:     cfg.MaxDocChars,
		MaxPromptTokens: cfg.MaxPromptTokens,
		MaxTurns:        cfg.MaxTurns,
	}
}

// Prompt is the result of assembling one chat request
type Prompt struct {
	// Messages is [system] ++ history window ++ [user]
	Messages []providers.Message

	// SystemPrompt is the content of Messages[0]
	SystemPrompt string

	// TruncatedDocuments counts documents cut to the per-document cap
	TruncatedDocuments int

	// EvidenceTruncated reports whether the whole-block budget cut the evidence
	EvidenceTruncated bool

	// EstimatedTokens is the system prompt length divided by CharsPerToken, rounded up
	EstimatedTokens int

	// HistoryTurns is the number of history turns kept in the window
	HistoryTurns int
}

// Assembler turns documents, history and the current message into an ordered,
// budgeted message sequence. It holds no per-request state.
type Assembler struct {
	opts      Options
	prefix    string
	prefixLen int
}

// NewAssembler creates an Assembler. Non-positive limits fall back to defaults.
func NewAssembler(opts Options) *Assembler {
	if opts.MaxDocChars <= 0 {
		opts.MaxDocChars = DefaultMaxDocChars
	}
	if opts.MaxPromptTokens <= 0 {
		opts.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}

	prefix := opts.Instructions + "\n\n" + Directive + "\n\n"

	return &Assembler{
		opts:      opts,
		prefix:    prefix,
		prefixLen: utf8.RuneCountInString(prefix),
	}
}

// Options returns the effective options
func (a *Assembler) Options() Options {
	return a.opts
}

// BudgetChars is the character budget of the whole system prompt
func (a *Assembler) BudgetChars() int {
	return a.opts.MaxPromptTokens * CharsPerToken
}

// PrefixExceedsBudget reports whether instructions and directive alone are
// over budget, in which case every prompt carries an empty evidence block.
func (a *Assembler) PrefixExceedsBudget() bool {
	return a.prefixLen >= a.BudgetChars()
}

// Assemble builds the prompt for message given history and the retrieved documents.
// history is never modified.
func (a *Assembler) Assemble(message string, history []models.ConversationTurn, docs []models.Document) *Prompt {
	evidence, truncatedDocs := a.EvidenceBlock(docs)
	evidence, budgetCut := a.fitBudget(evidence)

	system := a.prefix + evidence
	window := TrimHistory(history, a.opts.MaxTurns)

	messages := make([]providers.Message, 0, len(window)+2)
	messages = append(messages, providers.Message{Role: string(models.RoleSystem), Content: system})
	for _, turn := range window {
		messages = append(messages, providers.Message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, providers.Message{Role: string(models.RoleUser), Content: message})

	return &Prompt{
		Messages:           messages,
		SystemPrompt:       system,
		TruncatedDocuments: truncatedDocs,
		EvidenceTruncated:  budgetCut,
		EstimatedTokens:    estimateTokens(utf8.RuneCountInString(system)),
		HistoryTurns:       len(window),
	}
}

// EvidenceBlock renders docs in retrieval order, each cut to the per-document
// cap, and returns the block with the number of documents that were cut.
func (a *Assembler) EvidenceBlock(docs []models.Document) (string, int) {
	if len(docs) == 0 {
		return "", 0
	}

	truncated := 0
	parts := make([]string, len(docs))
	for i, doc := range docs {
		content, cut := TruncateRunes(doc.Content, a.opts.MaxDocChars)
		if cut {
			content += Ellipsis
			truncated++
		}
		parts[i] = "Source: " + doc.URL + "\n" + content
	}

	return strings.Join(parts, EvidenceSeparator), truncated
}

// fitBudget cuts evidence so prefix + evidence stays within BudgetChars,
// then appends Ellipsis. The result is prefix-relative: only evidence is cut.
func (a *Assembler) fitBudget(evidence string) (string, bool) {
	total := a.prefixLen + utf8.RuneCountInString(evidence)
	if total <= a.BudgetChars() {
		return evidence, false
	}

	remaining := a.BudgetChars() - a.prefixLen
	if remaining < 0 {
		remaining = 0
	}

	cut, _ := TruncateRunes(evidence, remaining)
	return cut + Ellipsis, true
}

// TrimHistory returns a copy of the last maxTurns*2 turns of history, in order.
func TrimHistory(history []models.ConversationTurn, maxTurns int) []models.ConversationTurn {
	if maxTurns <= 0 || len(history) == 0 {
		return []models.ConversationTurn{}
	}

	start := len(history) - maxTurns*2
	if start < 0 {
		start = 0
	}

	window := make([]models.ConversationTurn, len(history)-start)
	copy(window, history[start:])
	return window
}

// TruncateRunes returns the first n characters of s and whether anything was cut.
// Multi-byte characters are never split.
func TruncateRunes(s string, n int) (string, bool) {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		// byte length bounds rune count
		return s, false
	}

	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

func estimateTokens(chars int) int {
	return (chars + CharsPerToken - 1) / CharsPerToken
}
