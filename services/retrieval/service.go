// Package retrieval queries the document search index for evidence.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/internal/observability"
	"github.com/upb/grounded-chat/models"
	"github.com/upb/grounded-chat/services"
	"github.com/upb/grounded-chat/services/embedding"
)

// DefaultTopK is used when a non-positive topK is requested
const DefaultTopK = 3

// SearchResult is the ordered search outcome for one query
type SearchResult struct {
	Documents  []models.Document
	VectorUsed bool
}

// Service searches an Azure AI Search index, optionally with a vector clause
type Service struct {
	http         *resty.Client
	cfg          config.SearchConfig
	embedder     embedding.Embedder
	embedTimeout time.Duration
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewService creates a retrieval service. embedder may be nil, which disables
// vector search entirely.
func NewService(cfg config.SearchConfig, embedder embedding.Embedder, embedTimeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Service {
	httpClient := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("api-key", cfg.APIKey)

	return &Service{
		http:         httpClient,
		cfg:          cfg,
		embedder:     embedder,
		embedTimeout: embedTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Search returns up to topK documents for query in service order.
// Embedding failures degrade to text-only search; search failures are fatal.
func (s *Service) Search(ctx context.Context, query string, topK int) (*SearchResult, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	log := observability.WithRequest(ctx, s.logger)

	vector := s.embedQuery(ctx, query, log)

	body := s.buildRequest(query, topK, vector)

	searchCtx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.http.R().
		SetContext(searchCtx).
		SetQueryParam("api-version", s.cfg.APIVersion).
		SetBody(body).
		Post(fmt.Sprintf("/indexes/%s/docs/search", url.PathEscape(s.cfg.IndexName)))
	s.metrics.ObserveStage(observability.StageSearch, time.Since(start))

	if err != nil {
		s.metrics.RecordUpstreamError(observability.StageSearch, "0")
		return nil, services.WrapRetrieval("search request failed", err)
	}

	if resp.IsError() {
		s.metrics.RecordUpstreamError(observability.StageSearch, strconv.Itoa(resp.StatusCode()))
		log.Error("search service returned error",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", truncateBody(resp.Body())))
		return nil, services.ErrSearchFailed.Wrap(fmt.Errorf("search returned status %d", resp.StatusCode())).
			WithDetail("status", resp.StatusCode())
	}

	docs, err := s.parseDocuments(resp.Body())
	if err != nil {
		s.metrics.RecordUpstreamError(observability.StageSearch, "decode")
		return nil, services.WrapRetrieval("failed to decode search response", err)
	}

	s.metrics.RecordRetrieval(len(docs))
	log.Debug("search completed",
		zap.Int("documents", len(docs)),
		zap.Bool("vector", vector != nil))

	return &SearchResult{Documents: docs, VectorUsed: vector != nil}, nil
}

// embedQuery returns the query vector, or nil when vector search is off or
// the embedding failed.
func (s *Service) embedQuery(ctx context.Context, query string, log *zap.Logger) []float32 {
	if s.embedder == nil {
		return nil
	}

	embedCtx, cancel := withTimeout(ctx, s.embedTimeout)
	defer cancel()

	start := time.Now()
	vector, err := s.embedder.Embed(embedCtx, query)
	s.metrics.ObserveStage(observability.StageEmbedding, time.Since(start))

	var embErr *embedding.EmbeddingError
	switch {
	case err == nil:
		return vector
	case errors.As(err, &embErr):
		s.metrics.RecordEmbeddingFallback()
		s.metrics.RecordUpstreamError(observability.StageEmbedding, strconv.Itoa(embErr.StatusCode))
		log.Warn("embedding failed, continuing with text-only search", zap.Error(err))
		return nil
	default:
		s.metrics.RecordEmbeddingFallback()
		log.Warn("unexpected embedding error, continuing with text-only search", zap.Error(err))
		return nil
	}
}

// buildRequest builds the search body: text query always, semantic ranking
// when configured, vector clause when an embedding is available.
func (s *Service) buildRequest(query string, topK int, vector []float32) map[string]any {
	body := map[string]any{
		"search": query,
		"top":    topK,
	}

	if s.cfg.SemanticConfiguration != "" {
		body["queryType"] = "semantic"
		body["queryLanguage"] = s.cfg.QueryLanguage
		body["semanticConfiguration"] = s.cfg.SemanticConfiguration
	}

	if vector != nil {
		body["vectors"] = []map[string]any{{
			"value":  vector,
			"fields": s.cfg.VectorField,
			"k":      topK,
		}}
	}

	return body
}

// parseDocuments extracts url and content from each hit in .value, keeping
// the service's ranking scores opaque.
func (s *Service) parseDocuments(body []byte) ([]models.Document, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}

	value := gjson.GetBytes(body, "value")
	if !value.Exists() {
		return []models.Document{}, nil
	}
	if !value.IsArray() {
		return nil, errors.New(`"value" is not an array`)
	}

	hits := value.Array()
	docs := make([]models.Document, 0, len(hits))
	for _, hit := range hits {
		doc := models.Document{
			URL:     hit.Get(s.cfg.URLField).String(),
			Content: hit.Get(s.cfg.ContentField).String(),
		}

		// "@search.*" keys contain dots, so walk the object instead of using paths
		hit.ForEach(func(key, val gjson.Result) bool {
			switch key.String() {
			case "@search.score":
				score := val.Float()
				doc.Score = &score
			case "@search.rerankerScore":
				if val.Type == gjson.Number {
					reranker := val.Float()
					doc.RerankerScore = &reranker
				}
			}
			return true
		})

		docs = append(docs, doc)
	}

	return docs, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
