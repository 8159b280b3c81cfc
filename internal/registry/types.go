// Package registry maintains the in-memory catalog of backend model
// descriptors: capabilities, cost rates, and rolling performance fields.
// All other routing components consult it.
package registry

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// SIZE CLASSES
// ═══════════════════════════════════════════════════════════════════════════════

// SizeClass buckets models by parameter scale for complexity-based routing.
type SizeClass string

const (
	// SizeSmall is for cheap, fast models suited to simple requests.
	SizeSmall SizeClass = "small"
	// SizeMedium is for balanced, general-purpose models.
	SizeMedium SizeClass = "medium"
	// SizeLarge is for the most capable (and expensive) models.
	SizeLarge SizeClass = "large"
)

// String returns the size class name for display.
func (s SizeClass) String() string {
	return string(s)
}

// IsValid checks if a SizeClass is a known valid class.
func (s SizeClass) IsValid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// Degrade returns the next smaller size class, used by the selection
// fallback ladder (large → medium → small). Small degrades to itself.
func (s SizeClass) Degrade() SizeClass {
	switch s {
	case SizeLarge:
		return SizeMedium
	case SizeMedium:
		return SizeSmall
	default:
		return SizeSmall
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CAPABILITIES
// ═══════════════════════════════════════════════════════════════════════════════

// Capability is a named ability a model supports. Selection never returns a
// model whose capability set is not a superset of the requested capabilities.
type Capability string

const (
	CapBasicCompletion      Capability = "basic_completion"
	CapReasoning            Capability = "reasoning"
	CapCodeGeneration       Capability = "code_generation"
	CapSpecializedKnowledge Capability = "specialized_knowledge"
	CapLongContext          Capability = "long_context"
	CapStructuredOutput     Capability = "structured_output"
	CapConversation         Capability = "conversation"
	CapFunctionCalling      Capability = "function_calling"
)

// AllCapabilities returns the fixed capability enumeration.
func AllCapabilities() []Capability {
	return []Capability{
		CapBasicCompletion,
		CapReasoning,
		CapCodeGeneration,
		CapSpecializedKnowledge,
		CapLongContext,
		CapStructuredOutput,
		CapConversation,
		CapFunctionCalling,
	}
}

// IsValid checks if a Capability belongs to the fixed set.
func (c Capability) IsValid() bool {
	for _, valid := range AllCapabilities() {
		if c == valid {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════════
// MODEL DESCRIPTOR
// ═══════════════════════════════════════════════════════════════════════════════

// ModelDescriptor describes one backend model in the catalog. Rolling fields
// (PerformanceScore, SuccessRate, AverageLatencyMs) are mutated only through
// Registry.UpdatePerformance; descriptors are never hard-deleted.
type ModelDescriptor struct {
	// ID uniquely identifies the model within the catalog.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable model name.
	Name string `json:"name" yaml:"name"`

	// Size is the model's size class (small/medium/large).
	Size SizeClass `json:"size" yaml:"size"`

	// Capabilities is the non-empty set of abilities this model supports.
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`

	// MaxContextTokens is the maximum context window in tokens.
	MaxContextTokens int `json:"max_context_tokens" yaml:"max_context_tokens"`

	// InputCostPer1K is the USD cost per 1K input tokens.
	InputCostPer1K float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`

	// OutputCostPer1K is the USD cost per 1K output tokens.
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`

	// Active is a soft flag; deactivated models are never selected.
	Active bool `json:"active" yaml:"active"`

	// PerformanceScore is the rolling learned quality score in [0,10].
	PerformanceScore float64 `json:"performance_score" yaml:"performance_score"`

	// SuccessRate is the rolling success rate in [0,1].
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`

	// AverageLatencyMs is the rolling average latency in milliseconds.
	AverageLatencyMs float64 `json:"average_latency_ms" yaml:"average_latency_ms"`

	// Metadata holds free-form descriptor annotations.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// UpdatedAt is when the rolling fields were last refreshed.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// HasCapability reports whether the descriptor holds the given capability.
func (m *ModelDescriptor) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// HasAllCapabilities reports whether the descriptor's capability set is a
// superset of required.
func (m *ModelDescriptor) HasAllCapabilities(required []Capability) bool {
	for _, cap := range required {
		if !m.HasCapability(cap) {
			return false
		}
	}
	return true
}

// AvgCostPerToken returns the mean per-token cost across input and output
// rates. Used for cost scoring during ranking.
func (m *ModelDescriptor) AvgCostPerToken() float64 {
	return (m.InputCostPer1K + m.OutputCostPer1K) / 2 / 1000
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (m *ModelDescriptor) Clone() *ModelDescriptor {
	cp := *m
	cp.Capabilities = append([]Capability(nil), m.Capabilities...)
	if m.Metadata != nil {
		cp.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
