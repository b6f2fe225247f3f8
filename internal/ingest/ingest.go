// Package ingest turns raw document text into an immutable models.Document
// with normalized text, counts and detected policy concepts. The concept
// scan feeds the adaptive execution strategy.
package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/praxislabs/concord/internal/models"
)

// Input is a document before ingestion.
type Input struct {
	Title    string
	Source   string
	Text     string
	Metadata map[string]string
}

// DefaultLexicon maps specializations to the concepts that mark a document
// as relevant to them. Matching is case-insensitive substring search, which
// is deliberately coarse: false positives cost one extra agent, false
// negatives silence a specialist.
func DefaultLexicon() map[models.Specialization][]string {
	return map[models.Specialization][]string{
		models.SpecFiscal:         {"budget", "deficit", "revenue", "tax", "appropriation", "outlay"},
		models.SpecEconomic:       {"gdp", "employment", "inflation", "growth", "labor", "wage"},
		models.SpecHealthcare:     {"medicare", "medicaid", "health", "hospital", "insurance", "premium"},
		models.SpecRetirement:     {"retirement", "pension", "social security", "annuity", "401k", "beneficiary"},
		models.SpecEquity:         {"equity", "low-income", "disparity", "minority", "rural", "accessibility"},
		models.SpecImplementation: {"agency", "rulemaking", "enforcement", "compliance", "phase-in", "deadline"},
	}
}

// Ingest validates and normalizes the input into a Document.
func Ingest(in Input) (*models.Document, error) {
	text := normalize(in.Text)
	if text == "" {
		return nil, fmt.Errorf("document text is empty")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "untitled"
	}

	doc := &models.Document{
		ID:         uuid.New().String(),
		Title:      title,
		Source:     in.Source,
		Text:       text,
		WordCount:  len(strings.Fields(text)),
		Concepts:   DetectConcepts(text, DefaultLexicon()),
		Metadata:   in.Metadata,
		IngestedAt: time.Now(),
	}
	return doc, nil
}

// DetectConcepts returns the sorted, de-duplicated lexicon terms present in
// the text.
func DetectConcepts(text string, lexicon map[models.Specialization][]string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]struct{})
	for _, terms := range lexicon {
		for _, term := range terms {
			if strings.Contains(lower, term) {
				seen[term] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for term := range seen {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

// Mentions reports whether the document text contains any of the terms.
func Mentions(doc *models.Document, terms []string) bool {
	lower := strings.ToLower(doc.Text)
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	// Collapse runs of whitespace; keep paragraph breaks irrelevant to the
	// analyzers.
	return strings.Join(strings.Fields(s), " ")
}
