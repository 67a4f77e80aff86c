package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv overrides the config file location
const ConfigFileEnv = "HSI_CONFIG_FILE"

// Repository layers its sources over DefaultConfig. Sources are applied
// from the lowest priority to the highest, so a higher priority source
// overwrites the fields it sets.
type Repository struct {
	mu         sync.Mutex
	sources    []Source
	configPath string
	logger     hclog.Logger

	origins map[string]string
}

// NewRepository creates a repository reading path (or the default path
// when empty), the environment, and the given command line overrides.
func NewRepository(path string, overrides Overrides, logger hclog.Logger) *Repository {
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	repo := &Repository{configPath: path, logger: logger}
	repo.AddSource(NewFileSource(path))
	repo.AddSource(NewEnvSource())
	repo.AddSource(FlagSource{Overrides: overrides})
	return repo
}

// AddSource adds a configuration source
func (r *Repository) AddSource(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
}

// Path returns the config file the repository reads and saves
func (r *Repository) Path() string {
	return r.configPath
}

// Load builds and validates the configuration
func (r *Repository) Load() (*Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := make([]Source, len(r.sources))
	copy(sorted, r.sources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	cfg := DefaultConfig()
	origins := make(map[string]string)
	for _, source := range sorted {
		fields, err := source.Apply(cfg)
		if err != nil {
			return nil, fmt.Errorf("config source %s: %w", source.Name(), err)
		}
		for _, f := range fields {
			origins[f] = source.Name()
		}
		r.logger.Trace("applied config source", "source", source.Name(), "fields", len(fields))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	r.origins = origins
	return cfg, nil
}

// Origin names the source that last set a dotted field, or "default"
func (r *Repository) Origin(field string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.origins[field]; ok {
		return name
	}
	return "default"
}

// Save validates cfg and writes it to the config file as YAML
func (r *Repository) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(r.configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// DefaultConfigPath is ~/.config/hsi/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func defaultOfflinePath() string {
	return filepath.Join(configDir(), "offline.db")
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hsi")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "hsi")
	}
	return ".hsi"
}
