// Package categorize implements the Categorizer pipeline stage (spec.md
// §4.4): a hybrid keyword-rule + semantic-embedding classifier over the
// fixed category set.
package categorize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/repository"
)

const (
	// climateRelevanceFloor is the rule-confidence floor below which, absent
	// any generic climate term, an article gets no categories at all.
	climateRelevanceFloor = 0.15

	// persistFloor is the minimum combined confidence a category needs to
	// be written to article_categories.
	persistFloor = 0.2

	// ruleWeight/semanticWeight are the fusion weights (spec §4.4 step 4).
	ruleWeight     = 0.6
	semanticWeight = 0.4

	// bodyRunesConsidered is how much of the leading extracted content
	// counts toward the rule phase's "body" weight tier.
	bodyRunesConsidered = 2000

	// embeddingInputRunes bounds how much of title+summary is embedded for
	// the semantic phase (spec §4.4 step 3).
	embeddingInputRunes = 1200

	titleWeight = 2.0
	dekWeight   = 1.5
	bodyWeight  = 1.0
)

// genericClimateTerms are words that mark an article as climate-adjacent
// even when no single category's keyword list crosses the rule floor
// (spec §4.4 step 2's "no climate-term appears" check).
var genericClimateTerms = []string{
	"climate", "climate change", "global warming", "greenhouse gas",
	"greenhouse gases", "emissions", "net zero", "net-zero",
	"decarbonization", "decarbonisation", "paris agreement", "ipcc",
	"cop28", "cop29", "fossil fuel", "fossil fuels",
}

// Embedder produces an embedding vector for a piece of text. Implemented
// by infra/embed.OpenAI.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service implements the Categorizer.
type Service struct {
	Categories repository.CategoryRepository
	Embedder   Embedder

	anchorsOnce sync.Once
	anchorErr   error
	anchors     map[string][]float32 // category slug -> anchor embedding
	categories  []*entity.Category
}

// NewService constructs a Categorizer service.
func NewService(categories repository.CategoryRepository, embedder Embedder) *Service {
	return &Service{Categories: categories, Embedder: embedder}
}

// Categorize scores title+summary(+leading content) against the fixed
// category set and persists the result (spec §4.4). summary is the
// article's dek; content is the leading extracted body text, which may be
// empty if prefetch hasn't run yet.
func (s *Service) Categorize(ctx context.Context, articleID int64, title, summary, content string) error {
	categories, err := s.loadCategories(ctx)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	if len(categories) == 0 {
		return nil
	}

	ruleScores := scoreByKeywords(categories, title, summary, content)

	if !crossesRelevanceGate(ruleScores, title, summary, content) {
		return s.Categories.ReplaceForArticle(ctx, articleID, nil)
	}

	semanticScores, err := s.scoreBySemantic(ctx, categories, title, summary)
	if err != nil {
		// Embedding failure falls back to rule-only; the run continues
		// (spec §4.4, final paragraph).
		slog.Warn("categorizer embedding failed, falling back to rule-only",
			slog.Int64("article_id", articleID), slog.Any("error", err))
		semanticScores = nil
	}

	rows := fuse(articleID, categories, ruleScores, semanticScores)
	return s.Categories.ReplaceForArticle(ctx, articleID, rows)
}

func (s *Service) loadCategories(ctx context.Context) ([]*entity.Category, error) {
	if s.categories != nil {
		return s.categories, nil
	}
	categories, err := s.Categories.List(ctx)
	if err != nil {
		return nil, err
	}
	s.categories = categories
	return categories, nil
}

// scoreByKeywords implements the rule phase (spec §4.4 step 1): weighted
// keyword hit counts, normalized to [0,1] per category.
func scoreByKeywords(categories []*entity.Category, title, summary, content string) map[string]float64 {
	titleTokens := tokenize(title)
	dekTokens := tokenize(summary)
	bodyTokens := tokenize(truncateRunes(content, bodyRunesConsidered))

	scores := make(map[string]float64, len(categories))
	for _, cat := range categories {
		if len(cat.Keywords) == 0 {
			continue
		}
		var weighted float64
		for _, kw := range cat.Keywords {
			kw = strings.ToLower(kw)
			weighted += titleWeight * countPhrase(titleTokens, title, kw)
			weighted += dekWeight * countPhrase(dekTokens, summary, kw)
			weighted += bodyWeight * countPhrase(bodyTokens, content, kw)
		}
		// Normalize against a soft cap so a handful of hits saturates
		// toward 1.0 without an unbounded article drowning out others.
		normalized := weighted / (weighted + 3.0)
		scores[cat.Slug] = normalized
	}
	return scores
}

// countPhrase counts case-insensitive occurrences of kw in text. Single
// words are matched against the pre-tokenized set for speed; multi-word
// phrases fall back to a substring search since tokenizing loses spacing.
func countPhrase(tokens map[string]int, text, kw string) float64 {
	if !strings.Contains(kw, " ") {
		return float64(tokens[kw])
	}
	return float64(strings.Count(strings.ToLower(text), kw))
}

// tokenize lowercases and splits text on non-letter/digit boundaries,
// returning a count per distinct token.
func tokenize(text string) map[string]int {
	counts := make(map[string]int)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if word != "" {
			counts[word]++
		}
	}
	return counts
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// crossesRelevanceGate reports whether categorization should proceed at
// all (spec §4.4 step 2).
func crossesRelevanceGate(ruleScores map[string]float64, title, summary, content string) bool {
	for _, score := range ruleScores {
		if score >= climateRelevanceFloor {
			return true
		}
	}
	haystack := strings.ToLower(title + " " + summary + " " + truncateRunes(content, bodyRunesConsidered))
	for _, term := range genericClimateTerms {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

// scoreBySemantic implements the semantic phase (spec §4.4 step 3):
// cosine similarity of the article's embedding against each category's
// cached anchor embedding, rescaled so only similarities above 0.5
// contribute.
func (s *Service) scoreBySemantic(ctx context.Context, categories []*entity.Category, title, summary string) (map[string]float64, error) {
	if s.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	anchors, err := s.loadAnchors(ctx, categories)
	if err != nil {
		return nil, err
	}

	input := truncateRunes(title+" "+summary, embeddingInputRunes)
	vec, err := s.Embedder.Embed(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("embed article text: %w", err)
	}

	scores := make(map[string]float64, len(categories))
	for _, cat := range categories {
		anchor, ok := anchors[cat.Slug]
		if !ok {
			continue
		}
		sim := cosineSimilarity(vec, anchor)
		scores[cat.Slug] = math.Max(0, 2*(sim-0.5))
	}
	return scores, nil
}

// loadAnchors computes each category's anchor embedding once per process
// lifetime and caches it — the category set is fixed and small (6
// entries per spec §3), so a bounded in-memory map never grows.
func (s *Service) loadAnchors(ctx context.Context, categories []*entity.Category) (map[string][]float32, error) {
	s.anchorsOnce.Do(func() {
		anchors := make(map[string][]float32, len(categories))
		for _, cat := range categories {
			text := anchorText(cat)
			vec, err := s.Embedder.Embed(ctx, text)
			if err != nil {
				s.anchorErr = fmt.Errorf("embed anchor for category %q: %w", cat.Slug, err)
				return
			}
			anchors[cat.Slug] = vec
		}
		s.anchors = anchors
	})
	if s.anchorErr != nil {
		return nil, s.anchorErr
	}
	return s.anchors, nil
}

// anchorText builds the text embedded to represent a category: name,
// description, and its top keywords (spec §4.4 step 3).
func anchorText(cat *entity.Category) string {
	keywords := cat.Keywords
	if len(keywords) > 8 {
		keywords = keywords[:8]
	}
	return fmt.Sprintf("%s: %s. Keywords: %s", cat.Name, cat.Description, strings.Join(keywords, ", "))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
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

// fuse combines rule and semantic scores (spec §4.4 step 4) and builds
// the persisted row set (step 5): combined confidence >= persistFloor,
// highest confidence marked primary.
func fuse(articleID int64, categories []*entity.Category, ruleScores, semanticScores map[string]float64) []*entity.ArticleCategory {
	type scored struct {
		slug       string
		confidence float64
	}

	combined := make([]scored, 0, len(categories))
	for _, cat := range categories {
		rule := ruleScores[cat.Slug]
		semantic := semanticScores[cat.Slug] // zero value if nil or absent
		conf := ruleWeight*rule + semanticWeight*semantic
		if conf > 1 {
			conf = 1
		}
		if conf < persistFloor {
			continue
		}
		combined = append(combined, scored{slug: cat.Slug, confidence: conf})
	}

	sort.Slice(combined, func(i, j int) bool {
		return combined[i].confidence > combined[j].confidence
	})

	rows := make([]*entity.ArticleCategory, 0, len(combined))
	for i, c := range combined {
		rows = append(rows, &entity.ArticleCategory{
			ArticleID:    articleID,
			CategorySlug: c.slug,
			Confidence:   c.confidence,
			IsPrimary:    i == 0,
		})
	}
	return rows
}
