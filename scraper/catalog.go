package scraper

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownSource is returned when a source id is not configured.
var ErrUnknownSource = errors.New("unknown source")

// ErrDuplicateSource is returned when two sources share an id.
var ErrDuplicateSource = errors.New("duplicate source id")

// sourcesFile is the structure of sources.yaml.
type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// Catalog is the set of configured sources keyed by id.
type Catalog struct {
	sources map[string]SourceConfig
}

// NewCatalog validates the given sources, applies defaults and indexes them
// by id.
func NewCatalog(configs []SourceConfig) (*Catalog, error) {
	c := &Catalog{sources: make(map[string]SourceConfig, len(configs))}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.sources[cfg.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, cfg.ID)
		}
		c.sources[cfg.ID] = cfg.WithDefaults()
	}
	return c, nil
}

// ParseSources decodes a sources document.
func ParseSources(data []byte) (*Catalog, error) {
	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	return NewCatalog(file.Sources)
}

// LoadSources reads and decodes the sources file at path.
func LoadSources(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseSources(data)
}

// Get returns the source with the given id.
func (c *Catalog) Get(id string) (SourceConfig, error) {
	cfg, ok := c.sources[id]
	if !ok {
		return SourceConfig{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return cfg, nil
}

// List returns all sources ordered by id.
func (c *Catalog) List() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.sources))
	for _, cfg := range c.sources {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of configured sources.
func (c *Catalog) Len() int {
	return len(c.sources)
}
