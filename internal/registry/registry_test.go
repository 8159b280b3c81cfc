package registry

import (
	"testing"
)

func testDescriptor(id string, size SizeClass, caps ...Capability) *ModelDescriptor {
	if len(caps) == 0 {
		caps = []Capability{CapBasicCompletion}
	}
	return &ModelDescriptor{
		ID:               id,
		Name:             id,
		Size:             size,
		Capabilities:     caps,
		MaxContextTokens: 8192,
		InputCostPer1K:   0.001,
		OutputCostPer1K:  0.002,
		Active:           true,
		PerformanceScore: 5.0,
		SuccessRate:      0.9,
		AverageLatencyMs: 500,
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		desc    *ModelDescriptor
		wantErr bool
	}{
		{"valid", testDescriptor("m1", SizeSmall), false},
		{"nil descriptor", nil, true},
		{"missing id", testDescriptor("", SizeSmall), true},
		{"empty capabilities", &ModelDescriptor{ID: "m2", Size: SizeSmall}, true},
		{"invalid size", testDescriptor("m3", SizeClass("jumbo")), true},
		{"unknown capability", testDescriptor("m4", SizeSmall, Capability("telepathy")), true},
		{
			"negative cost",
			&ModelDescriptor{ID: "m5", Size: SizeSmall, Capabilities: []Capability{CapReasoning}, InputCostPer1K: -1},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			err := r.Register(tt.desc)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegister_UpsertAndClamp(t *testing.T) {
	r := New()

	desc := testDescriptor("m1", SizeSmall)
	desc.PerformanceScore = 15 // above range
	desc.SuccessRate = -0.5    // below range
	desc.AverageLatencyMs = -10
	if err := r.Register(desc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got := r.Get("m1")
	if got.PerformanceScore != 10 {
		t.Errorf("performance score = %v, want clamped to 10", got.PerformanceScore)
	}
	if got.SuccessRate != 0 {
		t.Errorf("success rate = %v, want clamped to 0", got.SuccessRate)
	}
	if got.AverageLatencyMs != 0 {
		t.Errorf("latency = %v, want clamped to 0", got.AverageLatencyMs)
	}

	// Re-registering the same id replaces the entry.
	desc2 := testDescriptor("m1", SizeMedium)
	if err := r.Register(desc2); err != nil {
		t.Fatalf("Register() upsert error = %v", err)
	}
	if got := r.Get("m1"); got.Size != SizeMedium {
		t.Errorf("size after upsert = %v, want medium", got.Size)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after upsert", r.Len())
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New()
	if err := r.Register(testDescriptor("m1", SizeSmall)); err != nil {
		t.Fatal(err)
	}

	got := r.Get("m1")
	got.PerformanceScore = 0
	got.Capabilities[0] = CapReasoning

	fresh := r.Get("m1")
	if fresh.PerformanceScore != 5.0 {
		t.Error("mutating a returned descriptor leaked into the registry")
	}
	if fresh.Capabilities[0] != CapBasicCompletion {
		t.Error("mutating a returned capability slice leaked into the registry")
	}

	if r.Get("missing") != nil {
		t.Error("Get(missing) should return nil")
	}
}

func TestList_Filters(t *testing.T) {
	r := New()
	mustRegister(t, r, testDescriptor("a-small", SizeSmall, CapBasicCompletion))
	mustRegister(t, r, testDescriptor("b-small", SizeSmall, CapBasicCompletion, CapReasoning))
	mustRegister(t, r, testDescriptor("c-large", SizeLarge, CapReasoning))

	inactive := testDescriptor("d-small", SizeSmall)
	inactive.Active = false
	mustRegister(t, r, inactive)

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all", ListFilter{}, []string{"a-small", "b-small", "c-large", "d-small"}},
		{"active only", ListFilter{ActiveOnly: true}, []string{"a-small", "b-small", "c-large"}},
		{"by size", ListFilter{Size: SizeSmall, ActiveOnly: true}, []string{"a-small", "b-small"}},
		{"by capability", ListFilter{Capability: CapReasoning}, []string{"b-small", "c-large"}},
		{"size and capability", ListFilter{Size: SizeSmall, Capability: CapReasoning}, []string{"b-small"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.List(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d models, want %d", len(got), len(tt.want))
			}
			for i, m := range got {
				if m.ID != tt.want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, m.ID, tt.want[i])
				}
			}
		})
	}
}

func TestUpdatePerformance(t *testing.T) {
	r := New()
	mustRegister(t, r, testDescriptor("m1", SizeSmall))

	score := 12.0 // clamps to 10
	rate := 0.75
	if !r.UpdatePerformance("m1", PerformanceUpdate{PerformanceScore: &score, SuccessRate: &rate}) {
		t.Fatal("UpdatePerformance returned false for known model")
	}

	got := r.Get("m1")
	if got.PerformanceScore != 10 {
		t.Errorf("performance score = %v, want 10", got.PerformanceScore)
	}
	if got.SuccessRate != 0.75 {
		t.Errorf("success rate = %v, want 0.75", got.SuccessRate)
	}
	// Unspecified field untouched.
	if got.AverageLatencyMs != 500 {
		t.Errorf("latency = %v, want untouched 500", got.AverageLatencyMs)
	}

	if r.UpdatePerformance("missing", PerformanceUpdate{PerformanceScore: &score}) {
		t.Error("UpdatePerformance returned true for unknown model")
	}
}

func TestAdjustPerformanceScore(t *testing.T) {
	r := New()
	mustRegister(t, r, testDescriptor("m1", SizeSmall))

	// The callback sees the stored value and its result is clamped.
	got, ok := r.AdjustPerformanceScore("m1", func(old float64) float64 { return old + 2 })
	if !ok || got != 7 {
		t.Fatalf("AdjustPerformanceScore = %v, %v; want 7, true", got, ok)
	}
	if r.Get("m1").PerformanceScore != 7 {
		t.Errorf("stored score = %v, want 7", r.Get("m1").PerformanceScore)
	}

	// Sequential adjustments compound; each step reads the previous result,
	// so no update can be lost between read and write.
	r.AdjustPerformanceScore("m1", func(old float64) float64 { return old + 2 })
	got, ok = r.AdjustPerformanceScore("m1", func(old float64) float64 { return old + 2 })
	if !ok || got != 10 {
		t.Errorf("clamped score = %v, %v; want 10, true", got, ok)
	}

	if _, ok := r.AdjustPerformanceScore("missing", func(old float64) float64 { return old }); ok {
		t.Error("AdjustPerformanceScore returned true for unknown model")
	}
}

func TestActivateDeactivate(t *testing.T) {
	r := New()
	mustRegister(t, r, testDescriptor("m1", SizeSmall))

	if !r.Deactivate("m1") {
		t.Fatal("Deactivate returned false for known model")
	}
	if r.Get("m1").Active {
		t.Error("model still active after Deactivate")
	}
	if len(r.List(ListFilter{ActiveOnly: true})) != 0 {
		t.Error("deactivated model still listed as active")
	}

	if !r.Activate("m1") {
		t.Fatal("Activate returned false for known model")
	}
	if !r.Get("m1").Active {
		t.Error("model inactive after Activate")
	}

	if r.Deactivate("missing") || r.Activate("missing") {
		t.Error("activate/deactivate should return false for unknown ids")
	}
}

func TestResolveDeploymentAlias(t *testing.T) {
	r := New(WithAliases(map[string]string{"prod-chat": "m1"}))
	mustRegister(t, r, testDescriptor("m1", SizeSmall))

	if got := r.ResolveDeploymentAlias("prod-chat"); got != "m1" {
		t.Errorf("ResolveDeploymentAlias = %q, want m1", got)
	}
	if got := r.ResolveDeploymentAlias("unknown"); got != "" {
		t.Errorf("ResolveDeploymentAlias(unknown) = %q, want empty", got)
	}
}

func TestSizeClassDegrade(t *testing.T) {
	if SizeLarge.Degrade() != SizeMedium {
		t.Error("large should degrade to medium")
	}
	if SizeMedium.Degrade() != SizeSmall {
		t.Error("medium should degrade to small")
	}
	if SizeSmall.Degrade() != SizeSmall {
		t.Error("small should degrade to itself")
	}
}

func TestAvgCostPerToken(t *testing.T) {
	m := testDescriptor("m1", SizeSmall)
	m.InputCostPer1K = 0.1
	m.OutputCostPer1K = 0.3
	// (0.1 + 0.3) / 2 / 1000
	if got := m.AvgCostPerToken(); got != 0.0002 {
		t.Errorf("AvgCostPerToken = %v, want 0.0002", got)
	}
}

func TestLoadDefaultCatalog(t *testing.T) {
	r := New()
	if err := r.LoadDefaultCatalog(); err != nil {
		t.Fatalf("LoadDefaultCatalog() error = %v", err)
	}
	if r.Len() != 6 {
		t.Errorf("catalog size = %d, want 6", r.Len())
	}
	if got := r.ResolveDeploymentAlias("large-default"); got != "claude-sonnet" {
		t.Errorf("large-default alias = %q, want claude-sonnet", got)
	}

	small := r.List(ListFilter{Size: SizeSmall, ActiveOnly: true})
	if len(small) != 2 {
		t.Errorf("small models = %d, want 2", len(small))
	}
}

func mustRegister(t *testing.T, r *Registry, desc *ModelDescriptor) {
	t.Helper()
	if err := r.Register(desc); err != nil {
		t.Fatalf("Register(%s) error = %v", desc.ID, err)
	}
}
