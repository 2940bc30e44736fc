package service

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/parleydev/parley/internal/adapter/otel"
	"github.com/parleydev/parley/internal/domain/conversation"
)

// RankCandidate is a conversation with its messages, ready for scoring.
type RankCandidate struct {
	Conversation conversation.Conversation
	Messages     []conversation.Message
}

// RankedConversation is a candidate with its relevance score.
type RankedConversation struct {
	Conversation conversation.Conversation
	Messages     []conversation.Message
	Score        float64
}

// SimilarityScorer assigns a relevance score per candidate for a query.
// Implementations return one score per candidate, in candidate order.
type SimilarityScorer interface {
	Score(ctx context.Context, query string, candidates []RankCandidate) ([]float64, error)
	Name() string
}

// Ranker orders conversations by relevance to a query. Scoring failures
// never surface to the caller: the keyword scorer is the fallback.
type Ranker struct {
	scorer   SimilarityScorer
	fallback SimilarityScorer
	metrics  *otel.Metrics // may be nil in tests
}

// NewRanker creates a ranker around the given primary scorer. The keyword
// scorer always backs it.
func NewRanker(scorer SimilarityScorer, metrics *otel.Metrics) *Ranker {
	fallback := KeywordScorer{}
	if scorer == nil {
		scorer = fallback
	}
	return &Ranker{scorer: scorer, fallback: fallback, metrics: metrics}
}

// ScorerName returns the active primary scorer's name.
func (r *Ranker) ScorerName() string {
	return r.scorer.Name()
}

// Rank scores the candidates and returns at most limit of them ordered by
// descending score. Zero-score candidates are retained so downstream
// analysis can still see the full history.
func (r *Ranker) Rank(ctx context.Context, query string, candidates []RankCandidate, limit int) []RankedConversation {
	if len(candidates) == 0 {
		return nil
	}

	scores, err := r.scorer.Score(ctx, query, candidates)
	if err != nil || len(scores) != len(candidates) {
		slog.Warn("primary scorer failed, falling back to keyword matching",
			"scorer", r.scorer.Name(), "error", err)
		scores, _ = r.fallback.Score(ctx, query, candidates)
	}

	ranked := make([]RankedConversation, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedConversation{
			Conversation: c.Conversation,
			Messages:     c.Messages,
			Score:        scores[i],
		}
		if r.metrics != nil {
			r.metrics.RankerScores.Record(ctx, scores[i])
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// KeywordScorer scores by substring and token matching:
// 10 points for a title match, 1 per message containing the full query,
// 0.5 per query token found in a message.
type KeywordScorer struct{}

// Name implements SimilarityScorer.
func (KeywordScorer) Name() string { return "keyword" }

// Score implements SimilarityScorer. It never fails.
func (KeywordScorer) Score(_ context.Context, query string, candidates []RankCandidate) ([]float64, error) {
	queryLower := strings.ToLower(query)
	tokens := strings.Fields(queryLower)

	scores := make([]float64, len(candidates))
	for i, cand := range candidates {
		var score float64
		if queryLower != "" && strings.Contains(strings.ToLower(cand.Conversation.Title), queryLower) {
			score += 10
		}
		for _, m := range cand.Messages {
			content := strings.ToLower(m.Content)
			if queryLower != "" && strings.Contains(content, queryLower) {
				score++
			}
			for _, tok := range tokens {
				if strings.Contains(content, tok) {
					score += 0.5
				}
			}
		}
		scores[i] = score
	}
	return scores, nil
}

// Embedder produces one embedding vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// embeddingDocMaxRunes caps the conversation document sent for embedding.
const embeddingDocMaxRunes = 8000

// EmbeddingScorer scores by cosine similarity between the query embedding
// and a document embedding built from title plus message contents.
type EmbeddingScorer struct {
	embedder Embedder
}

// NewEmbeddingScorer creates a scorer backed by the given embedder.
func NewEmbeddingScorer(embedder Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: embedder}
}

// Name implements SimilarityScorer.
func (*EmbeddingScorer) Name() string { return "embedding" }

// Score implements SimilarityScorer. The query and all candidate documents
// go out in a single Embeddings call.
func (s *EmbeddingScorer) Score(ctx context.Context, query string, candidates []RankCandidate) ([]float64, error) {
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		texts = append(texts, candidateDocument(c))
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	queryVec := vectors[0]
	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = cosineSimilarity(queryVec, vectors[i+1])
	}
	return scores, nil
}

func candidateDocument(c RankCandidate) string {
	var b strings.Builder
	b.WriteString(c.Conversation.Title)
	for _, m := range c.Messages {
		b.WriteString(" ")
		b.WriteString(m.Content)
	}
	doc := b.String()
	runes := []rune(doc)
	if len(runes) > embeddingDocMaxRunes {
		return string(runes[:embeddingDocMaxRunes])
	}
	return doc
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
