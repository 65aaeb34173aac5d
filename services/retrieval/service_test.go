package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/internal/observability"
	"github.com/upb/grounded-chat/services"
	"github.com/upb/grounded-chat/services/embedding"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func searchConfig(endpoint string) config.SearchConfig {
	return config.SearchConfig{
		Endpoint:              endpoint,
		IndexName:             "kb-index",
		APIKey:                "search-key",
		APIVersion:            "2023-07-01-preview",
		SemanticConfiguration: "default",
		QueryLanguage:         "en-us",
		VectorField:           "contentVector",
		URLField:              "url",
		ContentField:          "content",
		Timeout:               2 * time.Second,
	}
}

// captureServer records the decoded request body and replies with resp.
func captureServer(t *testing.T, status int, resp string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/indexes/kb-index/docs/search", r.URL.Path)
		assert.Equal(t, "2023-07-01-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "search-key", r.Header.Get("api-key"))

		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(resp))
	}))
}

const twoHits = `{
  "@odata.context": "ignored",
  "value": [
    {"@search.score": 12.5, "@search.rerankerScore": 2.75, "url": "https://kb/a", "content": "alpha", "title": "A"},
    {"@search.score": 3.1, "@search.rerankerScore": null, "url": "https://kb/b", "content": "beta"}
  ]
}`

func TestService_Search_TextOnly(t *testing.T) {
	var body map[string]any
	server := captureServer(t, http.StatusOK, twoHits, &body)
	defer server.Close()

	svc := NewService(searchConfig(server.URL), nil, 0, nil, zap.NewNop())

	result, err := svc.Search(context.Background(), "reset password", 2)
	require.NoError(t, err)

	assert.False(t, result.VectorUsed)
	require.Len(t, result.Documents, 2)

	first := result.Documents[0]
	assert.Equal(t, "https://kb/a", first.URL)
	assert.Equal(t, "alpha", first.Content)
	require.NotNil(t, first.Score)
	assert.InDelta(t, 12.5, *first.Score, 1e-9)
	require.NotNil(t, first.RerankerScore)
	assert.InDelta(t, 2.75, *first.RerankerScore, 1e-9)

	second := result.Documents[1]
	assert.Equal(t, "https://kb/b", second.URL)
	assert.Nil(t, second.RerankerScore)

	assert.Equal(t, "reset password", body["search"])
	assert.EqualValues(t, 2, body["top"])
	assert.Equal(t, "semantic", body["queryType"])
	assert.Equal(t, "en-us", body["queryLanguage"])
	assert.Equal(t, "default", body["semanticConfiguration"])
	assert.NotContains(t, body, "vectors")
}

func TestService_Search_WithVector(t *testing.T) {
	var body map[string]any
	server := captureServer(t, http.StatusOK, twoHits, &body)
	defer server.Close()

	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, "reset password").Return([]float32{0.5, -0.25}, nil)

	svc := NewService(searchConfig(server.URL), embedder, time.Second, nil, zap.NewNop())

	result, err := svc.Search(context.Background(), "reset password", 3)
	require.NoError(t, err)
	assert.True(t, result.VectorUsed)

	vectors, ok := body["vectors"].([]any)
	require.True(t, ok, "vectors clause missing")
	require.Len(t, vectors, 1)

	clause := vectors[0].(map[string]any)
	assert.Equal(t, []any{0.5, -0.25}, clause["value"])
	assert.Equal(t, "contentVector", clause["fields"])
	assert.EqualValues(t, 3, clause["k"])

	embedder.AssertExpectations(t)
}

func TestService_Search_EmbeddingFailureDegrades(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"embedding error", &embedding.EmbeddingError{StatusCode: 503, Message: "unexpected status"}},
		{"other error", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			server := captureServer(t, http.StatusOK, twoHits, &body)
			defer server.Close()

			embedder := new(MockEmbedder)
			embedder.On("Embed", mock.Anything, mock.Anything).Return(nil, tt.err)

			metrics := observability.NewMetrics()
			svc := NewService(searchConfig(server.URL), embedder, time.Second, metrics, zap.NewNop())

			result, err := svc.Search(context.Background(), "q", 3)
			require.NoError(t, err)
			assert.False(t, result.VectorUsed)
			assert.Len(t, result.Documents, 2)
			assert.NotContains(t, body, "vectors")

			expected := `
# HELP grounded_chat_embedding_fallbacks_total Searches that fell back to text-only after an embedding failure.
# TYPE grounded_chat_embedding_fallbacks_total counter
grounded_chat_embedding_fallbacks_total 1
`
			assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "grounded_chat_embedding_fallbacks_total"))
		})
	}
}

func TestService_Search_NoSemanticConfiguration(t *testing.T) {
	var body map[string]any
	server := captureServer(t, http.StatusOK, `{"value":[]}`, &body)
	defer server.Close()

	cfg := searchConfig(server.URL)
	cfg.SemanticConfiguration = ""
	svc := NewService(cfg, nil, 0, nil, zap.NewNop())

	_, err := svc.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.NotContains(t, body, "queryType")
	assert.NotContains(t, body, "semanticConfiguration")
}

func TestService_Search_DefaultTopK(t *testing.T) {
	var body map[string]any
	server := captureServer(t, http.StatusOK, `{"value":[]}`, &body)
	defer server.Close()

	svc := NewService(searchConfig(server.URL), nil, 0, nil, zap.NewNop())

	_, err := svc.Search(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.EqualValues(t, DefaultTopK, body["top"])
}

func TestService_Search_EmptyResults(t *testing.T) {
	for _, resp := range []string{`{"value":[]}`, `{}`} {
		server := captureServer(t, http.StatusOK, resp, nil)

		svc := NewService(searchConfig(server.URL), nil, 0, nil, zap.NewNop())
		result, err := svc.Search(context.Background(), "q", 3)
		server.Close()

		require.NoError(t, err, resp)
		require.NotNil(t, result.Documents, resp)
		assert.Empty(t, result.Documents, resp)
	}
}

func TestService_Search_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail any
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"index unavailable"}}`, http.StatusInternalServerError},
		{"forbidden", http.StatusForbidden, `{}`, http.StatusForbidden},
		{"malformed json", http.StatusOK, `{"value": [`, nil},
		{"value not an array", http.StatusOK, `{"value": "nope"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := captureServer(t, tt.status, tt.body, nil)
			defer server.Close()

			svc := NewService(searchConfig(server.URL), nil, 0, nil, zap.NewNop())

			result, err := svc.Search(context.Background(), "q", 3)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, services.IsRetrievalError(err))
			assert.ErrorIs(t, err, services.ErrSearchFailed)
			assert.Equal(t, tt.wantDetail, services.GetErrorDetails(err)["status"])
		})
	}

	assert.Empty(t, services.ErrSearchFailed.Details)
}

func TestService_Search_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	svc := NewService(searchConfig(url), nil, 0, nil, zap.NewNop())

	_, err := svc.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.True(t, services.IsRetrievalError(err))
}

func TestService_Search_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	cfg := searchConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	svc := NewService(cfg, nil, 0, nil, zap.NewNop())

	start := time.Now()
	_, err := svc.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.True(t, services.IsRetrievalError(err))
	assert.Less(t, time.Since(start), time.Second)
}
