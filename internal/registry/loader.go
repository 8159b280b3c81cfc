package registry

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ═══════════════════════════════════════════════════════════════════════════════
// YAML CATALOG LOADER
// Bootstraps the registry from a models.yaml catalog; a built-in default
// catalog is embedded at compile time.
// ═══════════════════════════════════════════════════════════════════════════════

//go:embed models.yaml
var defaultCatalogYAML []byte

// catalogFile is the on-disk catalog format.
type catalogFile struct {
	Models  []*ModelDescriptor `yaml:"models"`
	Aliases map[string]string  `yaml:"aliases,omitempty"`
}

// LoadCatalogFile reads a YAML catalog from path and registers every model.
// Aliases declared in the file are merged into the registry alias table.
func (r *Registry) LoadCatalogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	return r.loadCatalog(data)
}

// LoadDefaultCatalog registers the embedded default catalog.
func (r *Registry) LoadDefaultCatalog() error {
	return r.loadCatalog(defaultCatalogYAML)
}

func (r *Registry) loadCatalog(data []byte) error {
	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	for _, m := range cat.Models {
		if err := r.Register(m); err != nil {
			return fmt.Errorf("catalog entry: %w", err)
		}
	}
	if len(cat.Aliases) > 0 {
		r.mu.Lock()
		for name, id := range cat.Aliases {
			r.aliases[name] = id
		}
		r.mu.Unlock()
	}
	r.log.Info("catalog loaded: %d models, %d aliases", len(cat.Models), len(cat.Aliases))
	return nil
}
