package grounding

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/models"
)

func makeHistory(n int) []models.ConversationTurn {
	history := make([]models.ConversationTurn, n)
	for i := range history {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history[i] = models.ConversationTurn{Role: role, Content: fmt.Sprintf("turn-%d", i)}
	}
	return history
}

func TestNewAssembler_Defaults(t *testing.T) {
	a := NewAssembler(Options{Instructions: "Be helpful."})

	opts := a.Options()
	assert.Equal(t, DefaultMaxDocChars, opts.MaxDocChars)
	assert.Equal(t, DefaultMaxPromptTokens, opts.MaxPromptTokens)
	assert.Equal(t, DefaultMaxTurns, opts.MaxTurns)
	assert.Equal(t, 12000, a.BudgetChars())
	assert.False(t, a.PrefixExceedsBudget())
}

func TestDirective_Wording(t *testing.T) {
	assert.Equal(t,
		"Use only the information from the sources below to answer. If no answer is found, say you don’t know.",
		Directive)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.GroundingConfig{
		MaxTurns:        2,
		TopK:            5,
		MaxDocChars:     100,
		MaxPromptTokens: 400,
		Instructions:    "Answer in Spanish.",
	})

	assert.Equal(t, Options{Instructions: "Answer in Spanish.", MaxDocChars: 100, MaxPromptTokens: 400, MaxTurns: 2}, opts)
}

func TestEvidenceBlock(t *testing.T) {
	a := NewAssembler(Options{Instructions: "x", MaxDocChars: 1500})

	t.Run("no documents", func(t *testing.T) {
		block, cut := a.EvidenceBlock(nil)
		assert.Empty(t, block)
		assert.Zero(t, cut)
	})

	t.Run("short content is rendered unmodified", func(t *testing.T) {
		content := strings.Repeat("a", 1500)
		block, cut := a.EvidenceBlock([]models.Document{{URL: "https://a", Content: content}})

		assert.Equal(t, "Source: https://a\n"+content, block)
		assert.Zero(t, cut)
		assert.False(t, strings.HasSuffix(block, Ellipsis))
	})

	t.Run("long content is cut to the cap plus ellipsis", func(t *testing.T) {
		block, cut := a.EvidenceBlock([]models.Document{{URL: "https://a", Content: strings.Repeat("b", 2000)}})

		assert.Equal(t, "Source: https://a\n"+strings.Repeat("b", 1500)+Ellipsis, block)
		assert.Equal(t, 1, cut)
	})

	t.Run("documents joined in retrieval order", func(t *testing.T) {
		block, _ := a.EvidenceBlock([]models.Document{
			{URL: "https://b", Content: "second source"},
			{URL: "https://a", Content: "first source"},
		})

		assert.Equal(t, "Source: https://b\nsecond source\n\n---\n\nSource: https://a\nfirst source", block)
	})
}

func TestEvidenceBlock_MultiByte(t *testing.T) {
	a := NewAssembler(Options{MaxDocChars: 5})

	block, cut := a.EvidenceBlock([]models.Document{{URL: "u", Content: "héllo wörld 日本語"}})

	assert.Equal(t, 1, cut)
	assert.Equal(t, "Source: u\nhéllo"+Ellipsis, block)
	assert.True(t, utf8.ValidString(block))
}

func TestAssemble_BudgetTruncation(t *testing.T) {
	a := NewAssembler(Options{Instructions: "Be brief.", MaxDocChars: 1500, MaxPromptTokens: 100})
	budget := a.BudgetChars()
	require.Equal(t, 400, budget)

	docs := make([]models.Document, 10)
	for i := range docs {
		docs[i] = models.Document{URL: fmt.Sprintf("https://doc/%d", i), Content: strings.Repeat("z", 300)}
	}

	prompt := a.Assemble("question", nil, docs)

	assert.True(t, prompt.EvidenceTruncated)
	assert.True(t, strings.HasPrefix(prompt.SystemPrompt, "Be brief.\n\n"+Directive+"\n\n"))
	assert.True(t, strings.HasSuffix(prompt.SystemPrompt, Ellipsis))
	assert.Equal(t, budget+len(Ellipsis), utf8.RuneCountInString(prompt.SystemPrompt))
	assert.Equal(t, 101, prompt.EstimatedTokens)
}

func TestAssemble_WithinBudgetUntouched(t *testing.T) {
	a := NewAssembler(Options{Instructions: "Be brief.", MaxPromptTokens: 3000})

	docs := []models.Document{{URL: "https://a", Content: "Paris is the capital of France."}}
	prompt := a.Assemble("Capital of France?", nil, docs)

	assert.False(t, prompt.EvidenceTruncated)
	assert.Equal(t,
		"Be brief.\n\n"+Directive+"\n\nSource: https://a\nParis is the capital of France.",
		prompt.SystemPrompt)
}

func TestAssemble_BudgetBoundaryIsInclusive(t *testing.T) {
	a := NewAssembler(Options{Instructions: "i", MaxPromptTokens: 100})
	prefixLen := utf8.RuneCountInString("i\n\n" + Directive + "\n\n")
	header := "Source: u\n"

	// evidence that lands exactly on the budget
	content := strings.Repeat("k", a.BudgetChars()-prefixLen-len(header))
	prompt := a.Assemble("q", nil, []models.Document{{URL: "u", Content: content}})
	assert.False(t, prompt.EvidenceTruncated)
	assert.Equal(t, a.BudgetChars(), utf8.RuneCountInString(prompt.SystemPrompt))

	// one more character tips it over
	prompt = a.Assemble("q", nil, []models.Document{{URL: "u", Content: content + "k"}})
	assert.True(t, prompt.EvidenceTruncated)
	assert.Equal(t, a.BudgetChars()+len(Ellipsis), utf8.RuneCountInString(prompt.SystemPrompt))
}

func TestAssemble_PrefixOverBudget(t *testing.T) {
	a := NewAssembler(Options{Instructions: strings.Repeat("x", 50), MaxPromptTokens: 10})
	require.True(t, a.PrefixExceedsBudget())

	prompt := a.Assemble("q", nil, []models.Document{{URL: "u", Content: "evidence"}})

	assert.True(t, prompt.EvidenceTruncated)
	assert.NotContains(t, prompt.SystemPrompt, "evidence")
	assert.True(t, strings.HasSuffix(prompt.SystemPrompt, "\n\n"+Ellipsis))
}

func TestAssemble_ZeroDocuments(t *testing.T) {
	a := NewAssembler(Options{Instructions: "Be brief."})

	prompt := a.Assemble("anything?", nil, nil)

	assert.Equal(t, "Be brief.\n\n"+Directive+"\n\n", prompt.SystemPrompt)
	assert.False(t, prompt.EvidenceTruncated)
	require.Len(t, prompt.Messages, 2)
	assert.Equal(t, "system", prompt.Messages[0].Role)
	assert.Equal(t, "user", prompt.Messages[1].Role)
	assert.Equal(t, "anything?", prompt.Messages[1].Content)
}

func TestAssemble_MessageOrder(t *testing.T) {
	a := NewAssembler(Options{Instructions: "Be brief.", MaxTurns: 3})
	history := makeHistory(10)

	prompt := a.Assemble("current question", history, []models.Document{{URL: "u", Content: "c"}})

	require.Len(t, prompt.Messages, 1+6+1)
	assert.Equal(t, 6, prompt.HistoryTurns)

	assert.Equal(t, "system", prompt.Messages[0].Role)
	assert.Equal(t, prompt.SystemPrompt, prompt.Messages[0].Content)

	for i, msg := range prompt.Messages[1:7] {
		want := history[4+i]
		assert.Equal(t, string(want.Role), msg.Role)
		assert.Equal(t, want.Content, msg.Content)
	}

	last := prompt.Messages[len(prompt.Messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "current question", last.Content)
}

func TestTrimHistory(t *testing.T) {
	t.Run("keeps last maxTurns*2 in order", func(t *testing.T) {
		history := makeHistory(10)

		window := TrimHistory(history, 3)

		require.Len(t, window, 6)
		assert.Equal(t, history[4:], window)
	})

	t.Run("short history kept whole", func(t *testing.T) {
		history := makeHistory(3)
		assert.Equal(t, history, TrimHistory(history, 3))
	})

	t.Run("odd boundary keeps a leading assistant turn", func(t *testing.T) {
		history := makeHistory(7)
		window := TrimHistory(history, 3)

		require.Len(t, window, 6)
		assert.Equal(t, "turn-1", window[0].Content)
	})

	t.Run("input is never mutated", func(t *testing.T) {
		history := makeHistory(8)
		snapshot := append([]models.ConversationTurn(nil), history...)

		window := TrimHistory(history, 2)
		window[0].Content = "changed"
		_ = append(window, models.ConversationTurn{Role: models.RoleUser, Content: "extra"})

		assert.Equal(t, snapshot, history)
	})

	t.Run("nil history", func(t *testing.T) {
		window := TrimHistory(nil, 3)
		assert.NotNil(t, window)
		assert.Empty(t, window)
	})

	t.Run("non-positive maxTurns", func(t *testing.T) {
		assert.Empty(t, TrimHistory(makeHistory(4), 0))
	})
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		n       int
		want    string
		wantCut bool
	}{
		{"shorter", "abc", 5, "abc", false},
		{"exact", "abcde", 5, "abcde", false},
		{"longer", "abcdef", 5, "abcde", true},
		{"zero", "abc", 0, "", true},
		{"negative", "abc", -3, "", true},
		{"empty", "", 0, "", false},
		{"multi-byte fits in runes", "日本語", 3, "日本語", false},
		{"multi-byte cut", "日本語です", 3, "日本語", true},
		{"emoji", "a😀b😀c", 2, "a😀", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cut := TruncateRunes(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCut, cut)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
