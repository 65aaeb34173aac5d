package grounding

import "github.com/upb/grounded-chat/models"

// ExtractCitations returns one citation per distinct non-empty URL in docs,
// in first-occurrence order. It must be given the full retrieval result,
// never the budgeted evidence block.
func ExtractCitations(docs []models.Document) []models.Citation {
	citations := make([]models.Citation, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))

	for _, doc := range docs {
		if doc.URL == "" {
			continue
		}
		if _, dup := seen[doc.URL]; dup {
			continue
		}
		seen[doc.URL] = struct{}{}
		citations = append(citations, models.Citation{URL: doc.URL})
	}

	return citations
}
