// Package rewrite implements the Rewriter pipeline stage (spec.md §4.8):
// asking a chat-completion service for a punchier headline and applying
// an acceptance filter before persisting it.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/infra/chat"
	"github.com/dwahbe/climate-river/internal/repository"
)

const (
	// candidateWindow bounds how far back an article may have been
	// published and still be eligible for rewriting.
	candidateWindow = 7 * 24 * time.Hour

	maxTitleLength = 140

	rewriteSystemPrompt = `You write concise, accurate news headlines for a climate news aggregator.
Given an article's original title and dek, respond with only a rewritten headline:
sharper and more specific than the original, under 140 characters, with no added facts, names, or numbers that aren't already present in the title or dek.
Do not use clickbait phrasing.`
)

var bannedPhrases = []string{
	"you won't believe", "shocking", "this one trick", "what happens next",
	"number will shock you", "doctors hate", "click here",
}

var profanity = []string{
	"fuck", "shit", "bitch", "asshole", "damn",
}

// rejection reason codes, recorded verbatim into rewrite_notes.
const (
	reasonTooLong        = "too_long"
	reasonIdentical       = "identical"
	reasonBannedPhrase    = "banned_phrase"
	reasonProfanity       = "profanity"
	reasonAddedProperNoun = "added_proper_noun"
	reasonAddedNumber     = "added_number"
)

// Stats reports the outcome of a Rewrite run.
type Stats struct {
	Processed int64
	Updated   int64
	Skipped   int64
	Errors    int64
}

// Service implements the Rewriter.
type Service struct {
	Articles repository.ArticleRepository
	Chat     chat.Completer
	Model    string
}

// NewService constructs a Rewriter service. model is recorded into
// rewrite_model on acceptance (e.g. the chat client's model id).
func NewService(articles repository.ArticleRepository, completer chat.Completer, model string) *Service {
	return &Service{Articles: articles, Chat: completer, Model: model}
}

// Rewrite selects up to limit candidates (repository.ArticleRepository.
// ListRewriteCandidates, cluster leads first) and attempts a rewrite for
// each, persisting the outcome whether accepted or rejected (spec §4.8).
func (s *Service) Rewrite(ctx context.Context, limit int) (Stats, error) {
	var stats Stats

	candidates, err := s.Articles.ListRewriteCandidates(ctx, candidateWindow, limit)
	if err != nil {
		return stats, fmt.Errorf("list rewrite candidates: %w", err)
	}

	for _, article := range candidates {
		stats.Processed++
		if err := s.rewriteOne(ctx, article, &stats); err != nil {
			stats.Errors++
			slog.Warn("rewrite failed", slog.Int64("article_id", article.ID), slog.Any("error", err))
		}
	}

	return stats, nil
}

func (s *Service) rewriteOne(ctx context.Context, article *entity.Article, stats *Stats) error {
	prompt := fmt.Sprintf("Title: %s\nDek: %s", article.Title, article.Dek)
	raw, err := s.Chat.Complete(ctx, rewriteSystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}

	candidate := strings.TrimSpace(strings.Trim(raw, `"`))
	reason := acceptanceReason(candidate, article.Title, article.Dek)

	update := entity.Article{RewrittenAt: timePtr(time.Now())}
	if reason == "" {
		update.RewrittenTitle = candidate
		update.RewriteModel = s.Model
		stats.Updated++
	} else {
		update.RewriteNotes = reason
		stats.Skipped++
	}

	if err := s.Articles.UpdateRewrite(ctx, article.ID, update); err != nil {
		return fmt.Errorf("persist rewrite result: %w", err)
	}
	return nil
}

// acceptanceReason returns "" if candidate passes every acceptance check
// (spec §4.8), else the rejection reason code to record in rewrite_notes.
func acceptanceReason(candidate, originalTitle, dek string) string {
	if len([]rune(candidate)) > maxTitleLength {
		return reasonTooLong
	}
	if candidate == "" || strings.EqualFold(candidate, originalTitle) {
		return reasonIdentical
	}

	lower := strings.ToLower(candidate)
	for _, phrase := range bannedPhrases {
		if strings.Contains(lower, phrase) {
			return reasonBannedPhrase
		}
	}
	for _, word := range profanity {
		if containsWord(lower, word) {
			return reasonProfanity
		}
	}

	source := originalTitle + " " + dek
	if addedProperNoun(candidate, source) {
		return reasonAddedProperNoun
	}
	if addedNumber(candidate, source) {
		return reasonAddedNumber
	}

	return ""
}

var wordBoundary = regexp.MustCompile(`[a-z']+`)

func containsWord(text, word string) bool {
	for _, tok := range wordBoundary.FindAllString(text, -1) {
		if tok == word {
			return true
		}
	}
	return false
}

// addedProperNoun reports whether candidate contains a capitalized word
// (a proper noun, by the heuristic in spec §4.8) not present in source,
// ignoring sentence-initial capitalization.
func addedProperNoun(candidate, source string) bool {
	sourceProperNouns := properNounSet(source)
	for i, word := range properNounWords(candidate) {
		if i == 0 {
			// sentence-initial capitalization isn't necessarily a proper
			// noun; only flag it if it also isn't a plain dictionary word
			// appearing lowercase in source.
			if strings.Contains(strings.ToLower(source), strings.ToLower(word)) {
				continue
			}
		}
		if !sourceProperNouns[word] {
			return true
		}
	}
	return false
}

// properNounWords returns candidate's capitalized words in order,
// including the first word of the sentence (callers decide whether to
// exempt it).
func properNounWords(text string) []string {
	var words []string
	for _, field := range strings.Fields(text) {
		trimmed := strings.TrimFunc(field, func(r rune) bool { return !unicode.IsLetter(r) })
		if trimmed == "" {
			continue
		}
		runes := []rune(trimmed)
		if unicode.IsUpper(runes[0]) {
			words = append(words, trimmed)
		}
	}
	return words
}

func properNounSet(source string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range properNounWords(source) {
		set[w] = true
	}
	return set
}

var digitsRe = regexp.MustCompile(`\d+`)

// addedNumber reports whether candidate contains a digit sequence not
// present anywhere in source.
func addedNumber(candidate, source string) bool {
	sourceNumbers := make(map[string]bool)
	for _, n := range digitsRe.FindAllString(source, -1) {
		sourceNumbers[n] = true
	}
	for _, n := range digitsRe.FindAllString(candidate, -1) {
		if !sourceNumbers[n] {
			return true
		}
	}
	return false
}

func timePtr(t time.Time) *time.Time { return &t }
