package complexity

import "regexp"

// Indicator lists for the rule-based pass. Each phrase match adds
// indicatorIncrement to its dimension, capped at 10.
const (
	indicatorIncrement = 1.5
	multiStepBonus     = 2.0
	dimensionCap       = 10.0
)

var reasoningIndicators = []string{
	"why", "how", "explain", "analyze", "compare", "evaluate", "reason",
	"derive", "prove", "deduce", "infer", "justify", "trade-off", "tradeoff",
	"implications", "consequences", "step by step", "think through",
	"pros and cons", "cause", "because", "therefore", "optimize", "design",
	"architect", "debug", "solve",
}

var specializedIndicators = []string{
	"algorithm", "theorem", "quantum", "neural", "regression", "kubernetes",
	"compiler", "cryptograph", "genome", "molecule", "derivative", "integral",
	"topology", "microservice", "distributed", "consensus", "blockchain",
	"immunology", "pharmacokinetic", "jurisprudence", "statute", "actuarial",
	"thermodynamic", "relativity", "eigenvalue", "stochastic", "bayesian",
	"transformer", "embedding", "sql", "concurrency", "mutex",
}

var contextIndicators = []string{
	"as i mentioned", "as we discussed", "earlier", "previously", "above",
	"you said", "your last", "continue", "follow up", "follow-up",
	"the previous", "that one", "like before", "same as", "again",
	"referring to", "based on our",
}

var structureIndicators = []string{
	"json", "yaml", "xml", "csv", "table", "markdown", "bullet", "list of",
	"format", "schema", "template", "numbered", "outline", "code block",
	"structured", "fields", "columns", "spreadsheet",
}

// multiStepPatterns detect explicit multi-step phrasing, which earns
// reasoning depth an extra bonus beyond keyword matches.
var multiStepPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bstep[- ]by[- ]step\b`),
	regexp.MustCompile(`\bfirst\b.*\bthen\b`),
	regexp.MustCompile(`\b(walk|talk)\s+me\s+through\b`),
	regexp.MustCompile(`\bone\s+(step|thing)\s+at\s+a\s+time\b`),
	regexp.MustCompile(`\bin\s+(stages|phases|order)\b`),
	regexp.MustCompile(`\bbreak\s+(it|this|down)\b`),
}
