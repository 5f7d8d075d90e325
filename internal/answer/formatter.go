package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/docquery/backend/internal/errs"
	"github.com/docquery/backend/internal/retrieval"
	"github.com/docquery/backend/pkg/logger"
)

// Analyzer invokes the remote reasoning model. The llm client satisfies
// this.
type Analyzer interface {
	AnalyzeDocument(ctx context.Context, query, excerptContext string) (string, error)
	Configured() bool
}

// Formatter combines retrieved chunks with the query, invokes the reasoning
// model, and normalizes its output into the fixed response shape.
type Formatter struct {
	analyzer Analyzer
}

func NewFormatter(analyzer Analyzer) *Formatter {
	return &Formatter{analyzer: analyzer}
}

// modelResponse is the JSON shape requested from the reasoning model.
type modelResponse struct {
	Answer struct {
		Decision   string   `json:"decision"`
		Conditions []string `json:"conditions"`
	} `json:"answer"`
	SourceReferences []struct {
		Page   int    `json:"page"`
		Clause string `json:"clause"`
	} `json:"source_references"`
	Explanation string `json:"explanation"`
}

// Format produces the structured response for a query. With no retrieved
// chunks the decision is Unknown and the reasoning model is never invoked.
// Quota exhaustion surfaces as a distinct status with a heuristic answer
// built from the excerpts; other upstream failures propagate as errors.
func (f *Formatter) Format(ctx context.Context, query, filename string, chunks []retrieval.ScoredChunk) (*Response, error) {
	if len(chunks) == 0 {
		return &Response{
			Query:            query,
			Answer:           Answer{Decision: DecisionUnknown, Conditions: []string{}},
			SourceReferences: []SourceReference{},
			Explanation:      "No relevant information found in the document to answer this query.",
			Status:           StatusOK,
		}, nil
	}

	if !f.analyzer.Configured() {
		return f.heuristic(query, filename, chunks, StatusDegraded), nil
	}

	content, err := f.analyzer.AnalyzeDocument(ctx, query, buildContext(chunks))
	if err != nil {
		if errors.Is(err, errs.ErrQuotaExceeded) {
			logger.Warn("Reasoning service quota exceeded, using heuristic answer", zap.Error(err))
			return f.heuristic(query, filename, chunks, StatusQuotaExceeded), nil
		}
		return nil, fmt.Errorf("failed to analyze query: %w", err)
	}

	var parsed modelResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		logger.Error("Failed to parse reasoning model output", zap.Error(err))
		return nil, fmt.Errorf("%w: malformed model response: %v", errs.ErrUpstreamUnavailable, err)
	}

	decision := NormalizeDecision(parsed.Answer.Decision)
	conditions := parsed.Answer.Conditions
	if decision == DecisionNo || conditions == nil {
		conditions = []string{}
	}

	refs := make([]SourceReference, 0, len(chunks))
	for i, ref := range parsed.SourceReferences {
		r := SourceReference{
			Document: filename,
			Page:     ref.Page,
			Clause:   ref.Clause,
		}
		if i < len(chunks) {
			r.SimilarityScore = roundScore(chunks[i].Score)
			if r.Page == 0 {
				r.Page = chunks[i].Chunk.PageNumber
			}
		}
		refs = append(refs, r)
	}
	if len(refs) == 0 {
		refs = buildReferences(filename, chunks)
	}

	return &Response{
		Query:            query,
		Answer:           Answer{Decision: decision, Conditions: conditions},
		SourceReferences: refs,
		Explanation:      parsed.Explanation,
		Status:           StatusOK,
	}, nil
}

// buildContext formats the retrieved excerpts for the model prompt.
func buildContext(chunks []retrieval.ScoredChunk) string {
	var sb strings.Builder
	for i, ch := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Page %d] %s", ch.Chunk.PageNumber, ch.Chunk.Content)
	}
	return sb.String()
}

func buildReferences(filename string, chunks []retrieval.ScoredChunk) []SourceReference {
	limit := len(chunks)
	if limit > 3 {
		limit = 3
	}

	refs := make([]SourceReference, 0, limit)
	for _, ch := range chunks[:limit] {
		refs = append(refs, SourceReference{
			Document:        filename,
			Page:            ch.Chunk.PageNumber,
			Clause:          fmt.Sprintf("Section %d", ch.Chunk.ChunkIndex+1),
			SimilarityScore: roundScore(ch.Score),
		})
	}
	return refs
}

// heuristic builds a deterministic answer from the excerpts when the
// reasoning model is unavailable. Status marks the degraded path.
func (f *Formatter) heuristic(query, filename string, chunks []retrieval.ScoredChunk, status string) *Response {
	decision := DecisionPartially
	queryLower := strings.ToLower(query)

	var combined strings.Builder
	for _, ch := range chunks {
		combined.WriteString(strings.ToLower(ch.Chunk.Content))
		combined.WriteString(" ")
	}
	content := combined.String()

	if containsAny(queryLower, "cover", "include", "eligible", "benefit") {
		switch {
		case containsAny(content, "covered", "included", "eligible"):
			decision = DecisionYes
		case containsAny(content, "not covered", "excluded", "not eligible"):
			decision = DecisionNo
		}
	}

	var conditions []string
	if decision != DecisionNo {
		for _, sentence := range strings.Split(content, ".") {
			if len(conditions) >= 3 {
				break
			}
			if !containsAny(sentence, "require", "must", "need", "condition", "if ") {
				continue
			}
			clean := strings.TrimSpace(sentence)
			if len(clean) > 10 && len(clean) < 100 {
				conditions = append(conditions, capitalize(clean))
			}
		}
	}
	if conditions == nil {
		conditions = []string{}
	}

	return &Response{
		Query:            query,
		Answer:           Answer{Decision: decision, Conditions: conditions},
		SourceReferences: buildReferences(filename, chunks),
		Explanation:      fmt.Sprintf("Found %d relevant section(s) in the document. (Analysis limited: reasoning service unavailable)", len(chunks)),
		Status:           status,
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func roundScore(score float64) float64 {
	return math.Round(score*1000) / 1000
}

func equalsFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), b)
}
