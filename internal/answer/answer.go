package answer

// Decision is the closed-set classification a query resolves to.
type Decision string

const (
	DecisionYes       Decision = "Yes"
	DecisionNo        Decision = "No"
	DecisionPartially Decision = "Partially"
	DecisionUnknown   Decision = "Unknown"
)

// NormalizeDecision maps arbitrary model output onto the closed set.
// Anything unrecognized becomes Unknown, never a fabricated No.
func NormalizeDecision(raw string) Decision {
	switch {
	case equalsFold(raw, "yes"):
		return DecisionYes
	case equalsFold(raw, "no"):
		return DecisionNo
	case equalsFold(raw, "partially"), equalsFold(raw, "partial"):
		return DecisionPartially
	default:
		return DecisionUnknown
	}
}

// Answer is the decision plus its supporting conditions. Conditions are
// always empty for a No decision.
type Answer struct {
	Decision   Decision `json:"decision"`
	Conditions []string `json:"conditions"`
}

// SourceReference points back to the document span supporting the decision.
type SourceReference struct {
	Document        string  `json:"document"`
	Page            int     `json:"page"`
	Clause          string  `json:"clause,omitempty"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Statuses reported alongside a response. StatusOK means the reasoning
// service produced the answer; the others mark degraded paths so callers
// never mistake a fallback for a real decision.
const (
	StatusOK            = "ok"
	StatusQuotaExceeded = "quota_exceeded"
	StatusDegraded      = "degraded"
)

// Response is the structured record returned for every answered query.
type Response struct {
	Query            string            `json:"query"`
	Answer           Answer            `json:"answer"`
	SourceReferences []SourceReference `json:"source_references"`
	Explanation      string            `json:"explanation"`
	Status           string            `json:"status"`
}
