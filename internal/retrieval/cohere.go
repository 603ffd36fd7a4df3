package retrieval

import (
	"context"
	"fmt"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/option"
)

// CohereReranker implements Reranker with the Cohere rerank API.
type CohereReranker struct {
	client *cohereclient.Client
	model  string
}

// NewCohereReranker creates a reranker using the given API key and model.
func NewCohereReranker(apiKey, model string) *CohereReranker {
	return &CohereReranker{
		client: cohereclient.NewClient(option.WithToken(apiKey)),
		model:  model,
	}
}

// Rerank reorders docs by relevance to query, ranked jointly on the title
// and snippet fields, returning at most topN documents (topN <= 0 returns
// the full reordered set).
func (r *CohereReranker) Rerank(ctx context.Context, query string, docs []PromptDoc, topN int) ([]PromptDoc, error) {
	serialized := make([]string, len(docs))
	for i, d := range docs {
		// The v2 rerank endpoint ranks plain strings; the recommended
		// encoding for structured documents is "field: value" lines.
		serialized[i] = fmt.Sprintf("title: %s\nsnippet: %s", d.Title, d.Snippet)
	}

	req := &cohere.V2RerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: serialized,
	}
	if topN > 0 {
		req.TopN = &topN
	}

	resp, err := r.client.V2.Rerank(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cohere rerank: %w", err)
	}

	out := make([]PromptDoc, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res == nil || res.Index < 0 || int(res.Index) >= len(docs) {
			continue
		}
		out = append(out, docs[res.Index])
	}
	return out, nil
}
