package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// Retrieval weights for the combined score: (relevance*w_r) + (recency*w_t) + (frequency*w_f).
const (
	weightRelevance = 0.6
	weightRecency   = 0.25
	weightFrequency = 0.15

	titleWeight   = 0.6
	contentWeight = 0.4

	recencyWindow       = 30 * 24 * time.Hour
	frequencyNormalizer = 100.0

	minRetrievalScore = 0.05
)

// Scored pairs a MemoryRecord with the score that ranked it.
type Scored struct {
	Record agentmodel.MemoryRecord
	Score  float64
}

// Retriever ranks long-term records against a query using the weighted
// relevance/recency/frequency formula, independent of which Store
// backs it.
type Retriever struct {
	store Store
	now   func() time.Time
}

// NewRetriever builds a Retriever over store. now defaults to
// time.Now; tests may override it for deterministic recency scoring.
func NewRetriever(store Store, now func() time.Time) *Retriever {
	if now == nil {
		now = time.Now
	}
	return &Retriever{store: store, now: now}
}

// Search ranks every record in the store against query and returns the
// top results above minRetrievalScore, highest score first.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]Scored, error) {
	records, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}

	words := queryWords(query)
	now := r.now()

	scored := make([]Scored, 0, len(records))
	for _, rec := range records {
		score := score(rec, words, now)
		if score < minRetrievalScore {
			continue
		}
		scored = append(scored, Scored{Record: rec, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// GetRelevantContext ranks records against query and returns as many,
// in score order, as fit within tokenBudget (estimated at
// estimatedCharsPerToken chars/token), rendered as one string per
// record separated by blank lines.
func (r *Retriever) GetRelevantContext(ctx context.Context, query string, tokenBudget int) ([]agentmodel.MemoryRecord, error) {
	scored, err := r.Search(ctx, query, 0)
	if err != nil {
		return nil, err
	}

	budgetChars := tokenBudget * estimatedCharsPerToken
	used := 0
	var out []agentmodel.MemoryRecord
	for _, s := range scored {
		line := renderRecord(s.Record)
		if budgetChars > 0 && used+len(line) > budgetChars {
			continue
		}
		used += len(line)
		out = append(out, s.Record)
	}
	return out, nil
}

func renderRecord(r agentmodel.MemoryRecord) string {
	if r.Title != "" {
		return r.Title + ": " + r.Content
	}
	return r.Content
}

// score combines relevance, recency, and frequency. Recency and
// frequency only break ties among query-relevant records: a record
// with zero word overlap never surfaces no matter how recent or
// frequently accessed.
func score(r agentmodel.MemoryRecord, queryWords []string, now time.Time) float64 {
	relevance := relevanceScore(r, queryWords)
	if relevance == 0 {
		return 0
	}
	recency := recencyScore(r.AccessedAt, now)
	frequency := frequencyScore(r.AccessCount)
	return relevance*weightRelevance + recency*weightRecency + frequency*weightFrequency
}

// relevanceScore is query-word overlap against title (weight 0.6) and
// content (0.4), each normalized by the word count of the query.
func relevanceScore(r agentmodel.MemoryRecord, queryWords []string) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	title := strings.ToLower(r.Title)
	content := strings.ToLower(r.Content)

	var titleHits, contentHits int
	for _, w := range queryWords {
		if strings.Contains(title, w) {
			titleHits++
		}
		if strings.Contains(content, w) {
			contentHits++
		}
	}

	titleScore := float64(titleHits) / float64(len(queryWords))
	contentScore := float64(contentHits) / float64(len(queryWords))
	return titleScore*titleWeight + contentScore*contentWeight
}

// recencyScore decays linearly to 0 over recencyWindow from the
// record's last access time; records accessed just now score 1.
func recencyScore(accessedAt time.Time, now time.Time) float64 {
	if accessedAt.IsZero() {
		return 0
	}
	age := now.Sub(accessedAt)
	if age <= 0 {
		return 1
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

// frequencyScore normalizes access count at frequencyNormalizer
// accesses, capping at 1.
func frequencyScore(accessCount int) float64 {
	score := float64(accessCount) / frequencyNormalizer
	if score > 1 {
		return 1
	}
	return score
}

func queryWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
