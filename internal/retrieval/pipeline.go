// Package retrieval turns a user query into grounding documents and source
// citations for one topic: similarity search for candidates, optional
// relevance reranking, and citation grouping by source document.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/luna-chat/luna/internal/topic"
)

// DefaultCandidateK is the fixed similarity-search candidate count.
const DefaultCandidateK = 20

// Mode selects the rerank cut-off policy.
type Mode int

const (
	// ModeStreaming restricts reranking to the configured top-N.
	ModeStreaming Mode = iota

	// ModeBatch reranks the full candidate set.
	ModeBatch
)

// PromptDoc is one grounding document handed to the chat backend.
type PromptDoc struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Citation groups the retrieved passages of one source document.
type Citation struct {
	// Pages is the sorted set of page numbers seen for this source.
	// Passages without a page number contribute no entry but do not
	// remove the group.
	Pages []int `json:"pages"`

	// FilePath is one representative path for the source.
	FilePath string `json:"file_path"`
}

// Citations maps source name to its grouped provenance. Recomputed per
// query; never persisted.
type Citations map[string]Citation

// Searcher is the slice of the topic store the pipeline needs.
type Searcher interface {
	Search(ctx context.Context, t topic.ID, query string, opts ...topic.SearchOption) ([]topic.Result, error)
}

// Reranker reorders candidate documents by relevance to a query. Rerank
// must return a permutation of a subset of its input, at most topN long
// (topN <= 0 means unrestricted).
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []PromptDoc, topN int) ([]PromptDoc, error)
}

// Pipeline executes retrieve-and-rerank for queries.
type Pipeline struct {
	store      Searcher
	reranker   Reranker // nil disables reranking
	candidateK int
	topN       int
	logger     *slog.Logger
}

// Config holds Pipeline construction parameters.
type Config struct {
	Store      Searcher
	Reranker   Reranker // optional
	CandidateK int      // default DefaultCandidateK
	RerankTopN int      // streaming-mode cut-off, default 5
	Logger     *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = DefaultCandidateK
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		store:      cfg.Store,
		reranker:   cfg.Reranker,
		candidateK: cfg.CandidateK,
		topN:       cfg.RerankTopN,
		logger:     cfg.Logger,
	}
}

// Retrieve fetches candidate passages for the query within the topic and
// builds grounding documents plus grouped citations.
//
// Retrieval degrades gracefully: a store or rerank failure is logged and
// yields empty (or unreranked) results rather than an error, so response
// generation is never blocked by the retrieval path.
func (p *Pipeline) Retrieve(ctx context.Context, t topic.ID, query string, mode Mode) ([]PromptDoc, Citations) {
	results, err := p.store.Search(ctx, t, query, topic.WithTopK(p.candidateK))
	if err != nil {
		p.logger.Warn("retrieval unavailable, continuing ungrounded",
			"topic", t, "error", err)
		return nil, Citations{}
	}

	docs := make([]PromptDoc, 0, len(results))
	for _, r := range results {
		docs = append(docs, PromptDoc{
			Title:   r.Passage.Metadata.Source,
			Snippet: CleanText(r.Passage.Text),
		})
	}

	citations := groupCitations(results)

	if p.reranker != nil && len(docs) > 0 {
		topN := p.topN
		if mode == ModeBatch {
			topN = 0 // unrestricted
		}
		reranked, err := p.reranker.Rerank(ctx, query, docs, topN)
		if err != nil {
			p.logger.Warn("rerank failed, keeping similarity order", "error", err)
		} else {
			docs = reranked
		}
	}

	return docs, citations
}

// groupCitations groups results by source, collecting the sorted set of
// page numbers per group. Passages without pages keep the group alive with
// an empty page list.
func groupCitations(results []topic.Result) Citations {
	citations := Citations{}
	pageSets := map[string]map[int]bool{}

	for _, r := range results {
		src := r.Passage.Metadata.Source
		if _, ok := citations[src]; !ok {
			citations[src] = Citation{
				Pages:    []int{},
				FilePath: r.Passage.Metadata.FilePath,
			}
			pageSets[src] = map[int]bool{}
		}
		if r.Passage.Metadata.Page != nil {
			pageSets[src][*r.Passage.Metadata.Page] = true
		}
	}

	for src, set := range pageSets {
		pages := make([]int, 0, len(set))
		for page := range set {
			pages = append(pages, page)
		}
		sort.Ints(pages)

		c := citations[src]
		c.Pages = pages
		citations[src] = c
	}

	return citations
}

// CleanText strips line breaks and non-ASCII symbols from passage text so
// snippets are single-line and printable.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
