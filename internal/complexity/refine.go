package complexity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// refinementPrompt instructs the collaborator to emit one `dimension: value`
// line per dimension plus a trailing reasoning line.
const refinementPrompt = `Rate the difficulty of the following request on each dimension from 0 to 10.
Respond with one line per dimension in the form "dimension_name: number",
followed by a final line "reasoning: <one sentence>".

Dimensions: token_count, reasoning_depth, specialized_knowledge, context_dependency, output_structure.
`

// refinementResult carries the parsed collaborator output. Modeled as an
// explicit result merged into the rule scores rather than control flow.
type refinementResult struct {
	dims      map[Dimension]float64
	reasoning string
}

// refine invokes the collaborator under a bounded deadline and parses the
// reply. Every failure mode returns an error; the caller degrades to the
// rule-based result.
func (a *Analyzer) refine(ctx context.Context, query string, history []string) (*refinementResult, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < a.deadlineFloor {
			return nil, fmt.Errorf("insufficient deadline remaining")
		}
	}

	refineCtx, cancel := context.WithTimeout(ctx, a.refinementTimeout)
	defer cancel()

	prompt := buildRefinementPrompt(query, history)
	reply, err := a.completer.Complete(refineCtx, prompt, cheapModelHint)
	if err != nil {
		return nil, fmt.Errorf("completion call: %w", err)
	}

	result, err := parseRefinement(reply)
	if err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	return result, nil
}

// buildRefinementPrompt assembles the collaborator prompt from the query
// and prior turns.
func buildRefinementPrompt(query string, history []string) string {
	var sb strings.Builder
	sb.WriteString(refinementPrompt)
	if len(history) > 0 {
		sb.WriteString("\nPrior turns:\n")
		for _, turn := range history {
			sb.WriteString("- ")
			sb.WriteString(turn)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nRequest:\n")
	sb.WriteString(query)
	return sb.String()
}

// parseRefinement extracts `dimension: number` lines and the reasoning line.
// Unknown dimension names are ignored; a reply yielding no dimension at all
// is treated as unparsable.
func parseRefinement(reply string) (*refinementResult, error) {
	result := &refinementResult{dims: make(map[Dimension]float64)}

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "reasoning" {
			result.reasoning = value
			continue
		}
		dim := Dimension(key)
		if !isKnownDimension(dim) {
			continue
		}
		score, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		result.dims[dim] = capDim(score)
	}

	if len(result.dims) == 0 {
		return nil, fmt.Errorf("no dimension scores in reply")
	}
	return result, nil
}

func isKnownDimension(d Dimension) bool {
	for _, known := range AllDimensions() {
		if d == known {
			return true
		}
	}
	return false
}
