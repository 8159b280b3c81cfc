package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/keruru-amuri/magpie-sub001/internal/logging"
)

// Registry is the shared model catalog. Reads take the read lock so many
// concurrent selections can proceed; writes touch a single entry and never
// require cross-model coordination.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]*ModelDescriptor
	aliases map[string]string // external deployment name → model ID
	log     *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithAliases injects the deployment-alias table mapping external backend
// names to catalog model IDs.
func WithAliases(aliases map[string]string) Option {
	return func(r *Registry) {
		for name, id := range aliases {
			r.aliases[name] = id
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(log *logging.Logger) Option {
	return func(r *Registry) {
		r.log = log.WithComponent("registry")
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		models:  make(map[string]*ModelDescriptor),
		aliases: make(map[string]string),
		log:     logging.Global().WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register upserts a descriptor by ID. The capability set must be non-empty
// and cost rates non-negative; rolling fields are clamped into range.
func (r *Registry) Register(desc *ModelDescriptor) error {
	if desc == nil || desc.ID == "" {
		return fmt.Errorf("register model: missing id")
	}
	if len(desc.Capabilities) == 0 {
		return fmt.Errorf("register model %s: capability set must not be empty", desc.ID)
	}
	if !desc.Size.IsValid() {
		return fmt.Errorf("register model %s: invalid size class %q", desc.ID, desc.Size)
	}
	if desc.InputCostPer1K < 0 || desc.OutputCostPer1K < 0 {
		return fmt.Errorf("register model %s: cost rates must be non-negative", desc.ID)
	}
	for _, cap := range desc.Capabilities {
		if !cap.IsValid() {
			return fmt.Errorf("register model %s: unknown capability %q", desc.ID, cap)
		}
	}

	stored := desc.Clone()
	stored.PerformanceScore = clamp(stored.PerformanceScore, 0, 10)
	stored.SuccessRate = clamp(stored.SuccessRate, 0, 1)
	if stored.AverageLatencyMs < 0 {
		stored.AverageLatencyMs = 0
	}
	stored.UpdatedAt = time.Now()

	r.mu.Lock()
	_, existed := r.models[stored.ID]
	r.models[stored.ID] = stored
	r.mu.Unlock()

	if existed {
		r.log.Debug("updated model %s in catalog", stored.ID)
	} else {
		r.log.Info("registered model %s (%s, %d capabilities)", stored.ID, stored.Size, len(stored.Capabilities))
	}
	return nil
}

// Get returns a copy of the descriptor for id, or nil if unknown.
func (r *Registry) Get(id string) *ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[id]; ok {
		return m.Clone()
	}
	return nil
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Size       SizeClass
	Capability Capability
	ActiveOnly bool
}

// List returns descriptors matching the filter, sorted by ID for
// deterministic iteration.
func (r *Registry) List(filter ListFilter) []*ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*ModelDescriptor
	for _, m := range r.models {
		if filter.ActiveOnly && !m.Active {
			continue
		}
		if filter.Size != "" && m.Size != filter.Size {
			continue
		}
		if filter.Capability != "" && !m.HasCapability(filter.Capability) {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all registered model IDs in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PerformanceUpdate describes a partial rolling-field update. Nil fields are
// left untouched; provided fields are clamped into their valid ranges.
type PerformanceUpdate struct {
	PerformanceScore *float64
	SuccessRate      *float64
	AverageLatencyMs *float64
}

// UpdatePerformance applies a partial update to one model's rolling fields.
// Returns false if the model is unknown.
func (r *Registry) UpdatePerformance(id string, update PerformanceUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		return false
	}
	if update.PerformanceScore != nil {
		m.PerformanceScore = clamp(*update.PerformanceScore, 0, 10)
	}
	if update.SuccessRate != nil {
		m.SuccessRate = clamp(*update.SuccessRate, 0, 1)
	}
	if update.AverageLatencyMs != nil {
		m.AverageLatencyMs = *update.AverageLatencyMs
		if m.AverageLatencyMs < 0 {
			m.AverageLatencyMs = 0
		}
	}
	m.UpdatedAt = time.Now()
	return true
}

// AdjustPerformanceScore recomputes one model's performance score from its
// current value under the write lock, so concurrent feedback updates cannot
// lose each other's steps. The result is clamped to [0,10] and returned.
// Returns (0, false) for unknown IDs.
func (r *Registry) AdjustPerformanceScore(id string, fn func(current float64) float64) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		return 0, false
	}
	m.PerformanceScore = clamp(fn(m.PerformanceScore), 0, 10)
	m.UpdatedAt = time.Now()
	return m.PerformanceScore, true
}

// Deactivate soft-disables a model. Returns false for unknown IDs.
func (r *Registry) Deactivate(id string) bool {
	return r.setActive(id, false)
}

// Activate re-enables a model. Returns false for unknown IDs.
func (r *Registry) Activate(id string) bool {
	return r.setActive(id, true)
}

func (r *Registry) setActive(id string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		return false
	}
	m.Active = active
	m.UpdatedAt = time.Now()
	return true
}

// ResolveDeploymentAlias translates an external deployment name into a
// catalog model ID via the injected alias table. Returns "" when unmapped.
func (r *Registry) ResolveDeploymentAlias(externalName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aliases[externalName]
}

// Len returns the catalog size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// clamp bounds v into [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
