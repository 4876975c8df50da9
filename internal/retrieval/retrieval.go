// Package retrieval fetches scored knowledge chunks for an assistant.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/capitalize-ai/chat-relay/internal/llm"
)

// Chunk is one retrieved piece of context.
type Chunk struct {
	Text     string
	Score    float64
	SourceID string
}

// Retriever returns chunks relevant to query, best first.
type Retriever interface {
	GetContext(ctx context.Context, tenantID, assistantID, query string) ([]Chunk, error)
}

// pointQuerier is the subset of *qdrant.Client used here.
type pointQuerier interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// QdrantRetriever embeds the query and searches a Qdrant collection
// partitioned by tenant and assistant payload fields.
type QdrantRetriever struct {
	points     pointQuerier
	embedder   llm.Embedder
	collection string
	topK       int
}

// QdrantConfig configures the Qdrant connection.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	TopK       int
}

// NewQdrantClient dials Qdrant over gRPC. URL may be host:port or a URL;
// an https scheme enables TLS.
func NewQdrantClient(cfg QdrantConfig) (*qdrant.Client, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

// NewQdrantRetriever creates a retriever over an existing client.
func NewQdrantRetriever(points pointQuerier, embedder llm.Embedder, collection string, topK int) *QdrantRetriever {
	if topK <= 0 {
		topK = 8
	}
	return &QdrantRetriever{
		points:     points,
		embedder:   embedder,
		collection: collection,
		topK:       topK,
	}
}

func (r *QdrantRetriever) GetContext(ctx context.Context, tenantID, assistantID, query string) ([]Chunk, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	points, err := r.points.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
				qdrant.NewMatch("assistant_id", assistantID),
			},
		},
		Limit:       qdrant.PtrOf(uint64(r.topK)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	chunks := make([]Chunk, 0, len(points))
	for _, p := range points {
		text := p.GetPayload()["text"].GetStringValue()
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Text:     text,
			Score:    float64(p.GetScore()),
			SourceID: p.GetPayload()["source_id"].GetStringValue(),
		})
	}
	return chunks, nil
}

func parseQdrantURL(raw string) (string, int, bool, error) {
	if raw == "" {
		return "", 0, false, errors.New("qdrant url is empty")
	}

	useTLS := false
	hostport := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		hostport = u.Host
		useTLS = u.Scheme == "https"
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 6334, useTLS, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, useTLS, nil
}
