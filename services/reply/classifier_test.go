package reply

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/upb/grounded-chat/models"
)

func TestIsFallback(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"I don't know based on the sources", true},
		{"I don’t know.", true},
		{"i dont know", true},
		{"Sorry, I do not have that information.", true},
		{"I couldn't find anything about refunds.", true},
		{"I could not find that in the documents.", true},
		{"I'm not able to answer from these sources.", true},
		{"I’m not able to help with that.", true},
		{"I am not able to determine that.", true},
		{"I DON'T FIND any mention of it.", true},
		{"I cannot answer that from the provided sources.", true},
		{"Paris is the capital of France.", false},
		{"The API returns 404 if the item is missing.", false},
		{"Wi-Fi don't know", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFallback(tt.text))
		})
	}
}

func TestCleanFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"html fence", "```html\n<p>Hello</p>\n```", "<p>Hello</p>"},
		{"bare fence", "```\ncode\n```", "code"},
		{"stray trailing", "Answer text ```", "Answer text"},
		{"nothing to clean", "  plain  ", "plain"},
		{"only fences", "``````", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanFences(tt.in))
		})
	}
}

func TestRender(t *testing.T) {
	citations := []models.Citation{
		{URL: "https://docs.example.com/france"},
		{URL: "https://docs.example.com/paris"},
		{URL: "https://docs.example.com/france"},
	}

	t.Run("answer with citations gets numbered links", func(t *testing.T) {
		got := Render("Paris is the capital of France.", citations)

		assert.Equal(t,
			"Paris is the capital of France."+LinksHeader+
				`<a href="https://docs.example.com/france" target="_blank">Citation 1</a> `+
				`<a href="https://docs.example.com/paris" target="_blank">Citation 2</a>`,
			got)
	})

	t.Run("fallback never gets links", func(t *testing.T) {
		got := Render("I don't know based on the sources", citations)

		assert.Equal(t, "I don't know based on the sources", got)
		assert.NotContains(t, got, "<a ")
	})

	t.Run("fallback detected after fence cleanup", func(t *testing.T) {
		got := Render("```html\nI couldn't find that.\n```", citations)
		assert.Equal(t, "I couldn't find that.", got)
	})

	t.Run("no citations", func(t *testing.T) {
		assert.Equal(t, "Paris.", Render("Paris.", nil))
	})

	t.Run("non-http citations are not linked", func(t *testing.T) {
		got := Render("Answer.", []models.Citation{{URL: "doc-42.pdf"}, {URL: "ftp://x"}})
		assert.Equal(t, "Answer.", got)
	})

	t.Run("urls are escaped", func(t *testing.T) {
		got := Render("Answer.", []models.Citation{{URL: `https://x/?a=1&b="2"`}})
		assert.Contains(t, got, `href="https://x/?a=1&amp;b=&#34;2&#34;"`)
		assert.Equal(t, 1, strings.Count(got, "<a "))
	})
}
