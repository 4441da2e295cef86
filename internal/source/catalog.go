package source

import (
	_ "embed"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/optimal-systems/data/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Category is one product listing of a retailer.
type Category struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config is the catalog entry of one source.
type Config struct {
	BaseURL       string            `yaml:"base_url"`
	StoresURL     string            `yaml:"stores_url"`
	StoresParams  map[string]string `yaml:"stores_params"`
	ProductsURL   string            `yaml:"products_url"`
	CategoriesURL string            `yaml:"categories_url"`
	ChunkSize     int               `yaml:"chunk_size"`
	Categories    []Category        `yaml:"categories"`
}

// PageSize returns the catalog chunk size, or def when the entry sets none.
func (c Config) PageSize(def int) int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return def
}

// Resolve returns ref as an absolute URL against BaseURL.
func (c Config) Resolve(ref string) string {
	base, err := url.Parse(c.BaseURL)
	if err != nil || ref == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// Catalog holds the endpoint configuration of every source.
type Catalog struct {
	Sources map[string]Config `yaml:"sources"`
}

// LoadCatalog reads the catalog at path, or the embedded default when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "source: parse catalog")
	}
	for name, cfg := range c.Sources {
		if _, err := model.ParseSource(name); err != nil {
			return nil, eris.Wrap(err, "source: catalog")
		}
		if cfg.BaseURL == "" {
			return nil, eris.Errorf("source: catalog entry %q has no base_url", name)
		}
	}
	return &c, nil
}

// Source returns the entry for name.
func (c *Catalog) Source(name model.Source) (Config, error) {
	cfg, ok := c.Sources[string(name)]
	if !ok {
		return Config{}, eris.Errorf("source: %q not in catalog", name)
	}
	return cfg, nil
}
