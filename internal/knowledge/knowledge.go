// Package knowledge maintains the agent's memory: confirmed prompt/SQL
// pairs and syntax reference snippets, retrieved by embedding similarity
// into prompts as few-shot context.
package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/querywright/querywright/internal/llm"
)

type Context struct {
	Learned []LearnedQuery `json:"learned"`
	Docs    []DocSnippet   `json:"docs"`
}

func (c Context) Empty() bool {
	return len(c.Learned) == 0 && len(c.Docs) == 0
}

// Base combines the store with the embedding backend.
type Base struct {
	store      *Store
	embedder   llm.Embedder
	embedModel string
}

func NewBase(store *Store, embedder llm.Embedder, embedModel string) *Base {
	return &Base{store: store, embedder: embedder, embedModel: embedModel}
}

func (b *Base) Store() *Store {
	return b.store
}

func (b *Base) AddLearnedQuery(ctx context.Context, prompt, sqlText string) (LearnedQuery, error) {
	vector, err := b.embedder.Embed(ctx, b.embedModel, prompt)
	if err != nil {
		return LearnedQuery{}, fmt.Errorf("embed prompt: %w", err)
	}
	return b.store.InsertLearnedQuery(ctx, prompt, sqlText, vector)
}

func (b *Base) AddDocSnippet(ctx context.Context, content, source string) (DocSnippet, error) {
	vector, err := b.embedder.Embed(ctx, b.embedModel, content)
	if err != nil {
		return DocSnippet{}, fmt.Errorf("embed snippet: %w", err)
	}
	return b.store.InsertDocSnippet(ctx, content, source, vector)
}

// Search returns the top-k nearest learned queries and doc snippets for
// the prompt. Vectors with mismatched dimensions are skipped rather
// than failing the search; the embedding model may have changed.
func (b *Base) Search(ctx context.Context, prompt string, k int) (Context, error) {
	if k <= 0 {
		k = 3
	}
	queryVec, err := b.embedder.Embed(ctx, b.embedModel, prompt)
	if err != nil {
		return Context{}, fmt.Errorf("embed prompt: %w", err)
	}

	learned, err := b.store.allLearnedQueries(ctx)
	if err != nil {
		return Context{}, err
	}
	docs, err := b.store.allDocSnippets(ctx)
	if err != nil {
		return Context{}, err
	}

	result := Context{}
	for _, entry := range learned {
		score, ok := cosineSimilarity(queryVec, entry.embedding)
		if !ok {
			continue
		}
		entry.Score = score
		result.Learned = append(result.Learned, entry)
	}
	sort.Slice(result.Learned, func(i, j int) bool {
		return result.Learned[i].Score > result.Learned[j].Score
	})
	if len(result.Learned) > k {
		result.Learned = result.Learned[:k]
	}

	for _, entry := range docs {
		score, ok := cosineSimilarity(queryVec, entry.embedding)
		if !ok {
			continue
		}
		entry.Score = score
		result.Docs = append(result.Docs, entry)
	}
	sort.Slice(result.Docs, func(i, j int) bool {
		return result.Docs[i].Score > result.Docs[j].Score
	})
	if len(result.Docs) > k {
		result.Docs = result.Docs[:k]
	}

	return result, nil
}

func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
