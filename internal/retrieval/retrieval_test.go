package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct{ mock.Mock }

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

type mockQuerier struct{ mock.Mock }

func (m *mockQuerier) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	args := m.Called(ctx, req)
	points, _ := args.Get(0).([]*qdrant.ScoredPoint)
	return points, args.Error(1)
}

func TestGetContext(t *testing.T) {
	ctx := context.Background()
	embedder := new(mockEmbedder)
	querier := new(mockQuerier)

	embedder.On("Embed", ctx, "opening hours").Return([]float32{0.1, 0.2}, nil)
	querier.On("Query", ctx, mock.MatchedBy(func(req *qdrant.QueryPoints) bool {
		must := req.GetFilter().GetMust()
		return req.GetCollectionName() == "knowledge" &&
			req.GetLimit() == 3 &&
			len(must) == 2 &&
			must[0].GetField().GetKey() == "tenant_id" &&
			must[0].GetField().GetMatch().GetKeyword() == "tenant-1" &&
			must[1].GetField().GetKey() == "assistant_id"
	})).Return([]*qdrant.ScoredPoint{
		{Score: 0.91, Payload: qdrant.NewValueMap(map[string]any{"text": "Open 9-18", "source_id": "doc-1"})},
		{Score: 0.40, Payload: qdrant.NewValueMap(map[string]any{"source_id": "doc-2"})},
	}, nil)

	r := NewQdrantRetriever(querier, embedder, "knowledge", 3)
	chunks, err := r.GetContext(ctx, "tenant-1", "assistant-1", "opening hours")
	require.NoError(t, err)

	require.Len(t, chunks, 1, "points without text are skipped")
	assert.Equal(t, "Open 9-18", chunks[0].Text)
	assert.Equal(t, "doc-1", chunks[0].SourceID)
	assert.InDelta(t, 0.91, chunks[0].Score, 1e-6)

	embedder.AssertExpectations(t)
	querier.AssertExpectations(t)
}

func TestGetContext_EmbedError(t *testing.T) {
	ctx := context.Background()
	embedder := new(mockEmbedder)
	embedder.On("Embed", ctx, "q").Return(nil, errors.New("quota"))

	r := NewQdrantRetriever(new(mockQuerier), embedder, "knowledge", 3)
	_, err := r.GetContext(ctx, "t", "a", "q")
	assert.Error(t, err)
}

func TestParseQdrantURL(t *testing.T) {
	host, port, tls, err := parseQdrantURL("https://qdrant.internal:6334")
	require.NoError(t, err)
	assert.Equal(t, "qdrant.internal", host)
	assert.Equal(t, 6334, port)
	assert.True(t, tls)

	host, port, tls, err = parseQdrantURL("localhost:7000")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 7000, port)
	assert.False(t, tls)

	host, port, _, err = parseQdrantURL("qdrant")
	require.NoError(t, err)
	assert.Equal(t, "qdrant", host)
	assert.Equal(t, 6334, port)
}
