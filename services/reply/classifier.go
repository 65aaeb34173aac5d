// Package reply post-processes completion text for display.
package reply

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/upb/grounded-chat/models"
)

// LinksHeader precedes the rendered citation links
const LinksHeader = "<br/><br/>For more information:<br/>"

var (
	// fallbackPattern matches "no answer" phrasing in straight or curly apostrophes
	fallbackPattern = regexp.MustCompile(
		`(?i)\bi(?:\s+(?:don['’]?t|do\s+not|couldn['’]?t|could\s+not|can['’]?t|cannot)\s+(?:know|find|have|answer)|['’]m\s+not\s+able\s+to|\s+am\s+not\s+able\s+to)`)

	fencePattern = regexp.MustCompile("```[A-Za-z0-9_+-]*")
)

// IsFallback reports whether text says the sources held no answer
func IsFallback(text string) bool {
	return fallbackPattern.MatchString(text)
}

// CleanFences strips triple-backtick markers, with or without a language tag, and trims
func CleanFences(text string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
}

// Render returns the display form of a reply: cleaned text, followed by
// numbered citation links unless the reply is a fallback. Only http(s)
// URLs are linked; duplicates are rendered once.
func Render(text string, citations []models.Citation) string {
	cleaned := CleanFences(text)
	if IsFallback(cleaned) {
		return cleaned
	}

	links := make([]string, 0, len(citations))
	seen := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		if !strings.HasPrefix(c.URL, "http") {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		links = append(links, fmt.Sprintf(`<a href="%s" target="_blank">Citation %d</a>`,
			html.EscapeString(c.URL), len(links)+1))
	}

	if len(links) == 0 {
		return cleaned
	}

	return cleaned + LinksHeader + strings.Join(links, " ")
}
