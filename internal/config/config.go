package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"bidworks/internal/domain"
)

// Config models marketplace.yml.
type Config struct {
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		AllowDevHeaders bool   `yaml:"allow_dev_headers"`
	} `yaml:"auth"`
	Listing struct {
		// Status applied when a listing request supplies none. The browsing
		// default is open jobs.
		DefaultStatus string `yaml:"default_status"`
		PageSize      int    `yaml:"page_size"`
	} `yaml:"listing"`
	Categories []CategoryConfig `yaml:"categories"`
}

type CategoryConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Listing.DefaultStatus != "" && !domain.JobStatus(c.Listing.DefaultStatus).Valid() {
		return fmt.Errorf("config.listing.default_status %q is not a job status", c.Listing.DefaultStatus)
	}
	if c.Listing.PageSize < 0 {
		return fmt.Errorf("config.listing.page_size must not be negative")
	}
	seen := map[string]bool{}
	for _, cat := range c.Categories {
		if cat.ID == "" {
			return fmt.Errorf("config.categories contains empty category id")
		}
		if cat.Name == "" {
			return fmt.Errorf("category %s has empty name", cat.ID)
		}
		if seen[cat.ID] {
			return fmt.Errorf("category %s declared twice", cat.ID)
		}
		seen[cat.ID] = true
	}
	return nil
}

// DefaultListingStatus returns the status filter applied when the caller
// supplies none.
func (c *Config) DefaultListingStatus() domain.JobStatus {
	if c == nil || c.Listing.DefaultStatus == "" {
		return domain.JobOpen
	}
	return domain.JobStatus(c.Listing.DefaultStatus)
}

// DefaultPageSize returns the listing page size, falling back to 50.
func (c *Config) DefaultPageSize() int {
	if c == nil || c.Listing.PageSize == 0 {
		return 50
	}
	return c.Listing.PageSize
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "marketplace.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `auth:
  jwt_secret: ""
  allow_dev_headers: false

listing:
  default_status: open
  page_size: 50

categories:
  - id: plumbing
    name: Plumbing
  - id: electrical
    name: Electrical
  - id: carpentry
    name: Carpentry
  - id: painting
    name: Painting
  - id: cleaning
    name: Cleaning
  - id: appliance-repair
    name: Appliance Repair
  - id: moving
    name: Moving & Transport
  - id: gardening
    name: Gardening
`
