// Package complexity scores request difficulty across five dimensions using
// a rule-based pass, optionally refined by a cheap text-completion call.
package complexity

// Dimension is one axis of request difficulty, scored 0-10.
type Dimension string

const (
	// DimTokenCount scales with the raw size of the request.
	DimTokenCount Dimension = "token_count"
	// DimReasoningDepth measures multi-step logical demands.
	DimReasoningDepth Dimension = "reasoning_depth"
	// DimSpecializedKnowledge measures domain-expertise demands.
	DimSpecializedKnowledge Dimension = "specialized_knowledge"
	// DimContextDependency measures reliance on prior conversation turns.
	DimContextDependency Dimension = "context_dependency"
	// DimOutputStructure measures structured-output demands (JSON, tables, code).
	DimOutputStructure Dimension = "output_structure"
)

// AllDimensions returns the fixed dimension enumeration.
func AllDimensions() []Dimension {
	return []Dimension{
		DimTokenCount,
		DimReasoningDepth,
		DimSpecializedKnowledge,
		DimContextDependency,
		DimOutputStructure,
	}
}

// Level buckets an overall score into a routing tier.
type Level string

const (
	LevelSimple  Level = "simple"
	LevelMedium  Level = "medium"
	LevelComplex Level = "complex"
)

// String returns the level name for display.
func (l Level) String() string {
	return string(l)
}

// LevelFromScore derives the complexity level from an overall score.
// Thresholds: score < 4 → simple, 4 ≤ score < 7 → medium, score ≥ 7 → complex.
func LevelFromScore(score float64) Level {
	switch {
	case score < 4:
		return LevelSimple
	case score < 7:
		return LevelMedium
	default:
		return LevelComplex
	}
}

// Score is the immutable result of analyzing one request.
type Score struct {
	// Dimensions holds the per-dimension scores, each in [0,10].
	Dimensions map[Dimension]float64 `json:"dimensions"`

	// Overall is the weighted composite score in [0,10].
	Overall float64 `json:"overall"`

	// Level is the routing tier derived from Overall.
	Level Level `json:"level"`

	// Rationale is a free-text explanation of the scoring.
	Rationale string `json:"rationale"`

	// TokenCount is the estimated token count of query plus history.
	TokenCount int `json:"token_count"`
}

// dimensionWeights is the fixed weight table for the overall score.
// Dimensions absent from this table weigh defaultDimensionWeight; the sum is
// deliberately not renormalized when a dimension is missing.
var dimensionWeights = map[Dimension]float64{
	DimTokenCount:           0.15,
	DimReasoningDepth:       0.30,
	DimSpecializedKnowledge: 0.25,
	DimContextDependency:    0.15,
	DimOutputStructure:      0.15,
}

const defaultDimensionWeight = 0.20

// overallScore computes the weighted composite, clamped to [0,10].
func overallScore(dims map[Dimension]float64) float64 {
	var total float64
	for dim, value := range dims {
		weight, ok := dimensionWeights[dim]
		if !ok {
			weight = defaultDimensionWeight
		}
		total += value * weight
	}
	if total < 0 {
		return 0
	}
	if total > 10 {
		return 10
	}
	return total
}
