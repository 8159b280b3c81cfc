package complexity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keruru-amuri/magpie-sub001/internal/logging"
)

// Completer is the optional text-completion collaborator used to refine
// rule-based scores. Implementations should honor ctx cancellation; the
// sizeHint asks for a cheap model ("small").
type Completer interface {
	Complete(ctx context.Context, prompt string, sizeHint string) (string, error)
}

const (
	// cheapModelHint is the size hint passed to the refinement collaborator.
	cheapModelHint = "small"

	// DefaultRefinementTimeout bounds the refinement call.
	DefaultRefinementTimeout = 5 * time.Second

	// DefaultDeadlineFloor is the minimum remaining request deadline below
	// which refinement is skipped entirely.
	DefaultDeadlineFloor = 500 * time.Millisecond

	// Refined scores blend toward the collaborator's judgment.
	llmBlendWeight  = 0.7
	ruleBlendWeight = 0.3
)

// Analyzer scores request difficulty. The rule-based stage always runs; if a
// Completer is configured, its output refines the per-dimension scores.
type Analyzer struct {
	completer         Completer
	refinementTimeout time.Duration
	deadlineFloor     time.Duration
	log               *logging.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithCompleter sets the refinement collaborator.
func WithCompleter(c Completer) AnalyzerOption {
	return func(a *Analyzer) { a.completer = c }
}

// WithRefinementTimeout bounds each refinement call.
func WithRefinementTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) { a.refinementTimeout = d }
}

// WithDeadlineFloor sets the remaining-deadline floor below which
// refinement is skipped.
func WithDeadlineFloor(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) { a.deadlineFloor = d }
}

// WithLogger sets the analyzer logger.
func WithLogger(log *logging.Logger) AnalyzerOption {
	return func(a *Analyzer) { a.log = log.WithComponent("complexity") }
}

// NewAnalyzer creates an Analyzer. Without a Completer it is purely rule-based.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		refinementTimeout: DefaultRefinementTimeout,
		deadlineFloor:     DefaultDeadlineFloor,
		log:               logging.Global().WithComponent("complexity"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scores the query (plus optional prior turns) and returns an
// immutable Score. Refinement failures never propagate: the rule-based
// result is used and the rationale marked degraded.
func (a *Analyzer) Analyze(ctx context.Context, query string, history []string) (*Score, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("analyze: empty query")
	}

	tokenCount := estimateTokens(query, history)
	ruleDims := a.ruleScores(query, history, tokenCount)
	rationale := "rule-based analysis"

	dims := ruleDims
	if a.completer != nil {
		refined, err := a.refine(ctx, query, history)
		if err != nil {
			a.log.Warn("refinement unavailable, using rule-based scores: %v", err)
			rationale = "rule-based analysis (refinement degraded: " + err.Error() + ")"
		} else {
			dims = mergeScores(ruleDims, refined.dims)
			if refined.reasoning != "" {
				rationale = refined.reasoning
			} else {
				rationale = "rule-based analysis refined by completion collaborator"
			}
		}
	}

	overall := overallScore(dims)
	return &Score{
		Dimensions: dims,
		Overall:    overall,
		Level:      LevelFromScore(overall),
		Rationale:  rationale,
		TokenCount: tokenCount,
	}, nil
}

// ruleScores runs the always-on heuristic stage.
func (a *Analyzer) ruleScores(query string, history []string, tokenCount int) map[Dimension]float64 {
	lower := strings.ToLower(query)

	dims := map[Dimension]float64{
		DimTokenCount:           capDim(float64(tokenCount) / 100),
		DimReasoningDepth:       scanIndicators(lower, reasoningIndicators),
		DimSpecializedKnowledge: scanIndicators(lower, specializedIndicators),
		DimContextDependency:    scanIndicators(lower, contextIndicators),
		DimOutputStructure:      scanIndicators(lower, structureIndicators),
	}

	// Explicit multi-step phrasing signals deeper reasoning than keyword
	// matches alone.
	for _, pattern := range multiStepPatterns {
		if pattern.MatchString(lower) {
			dims[DimReasoningDepth] = capDim(dims[DimReasoningDepth] + multiStepBonus)
			break
		}
	}

	// Prior turns raise context dependency even without explicit references.
	if len(history) > 0 {
		dims[DimContextDependency] = capDim(dims[DimContextDependency] + indicatorIncrement)
	}

	return dims
}

// scanIndicators counts phrase matches, each worth indicatorIncrement,
// capped at the dimension ceiling.
func scanIndicators(lower string, indicators []string) float64 {
	var score float64
	for _, phrase := range indicators {
		if strings.Contains(lower, phrase) {
			score += indicatorIncrement
			if score >= dimensionCap {
				return dimensionCap
			}
		}
	}
	return score
}

// estimateTokens approximates the token count as the whitespace word count
// of the query plus history.
func estimateTokens(query string, history []string) int {
	n := len(strings.Fields(query))
	for _, turn := range history {
		n += len(strings.Fields(turn))
	}
	return n
}

func capDim(v float64) float64 {
	if v > dimensionCap {
		return dimensionCap
	}
	if v < 0 {
		return 0
	}
	return v
}

// mergeScores blends refined dimension values into the rule-based scores.
// Dimensions the refinement did not produce keep the rule-only value.
func mergeScores(rule, refined map[Dimension]float64) map[Dimension]float64 {
	merged := make(map[Dimension]float64, len(rule))
	for dim, ruleVal := range rule {
		if llmVal, ok := refined[dim]; ok {
			merged[dim] = capDim(llmVal*llmBlendWeight + ruleVal*ruleBlendWeight)
		} else {
			merged[dim] = ruleVal
		}
	}
	return merged
}
