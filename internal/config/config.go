package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"cantor/internal/domain"
)

const fileName = "cantor.yml"

// Config models cantor.yml.
type Config struct {
	Parish struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"parish" json:"parish"`
	Recommender struct {
		// Seed fixes the random tie-break when non-zero.
		Seed          int64 `yaml:"seed" json:"seed"`
		RecordHistory bool  `yaml:"record_history" json:"record_history"`
		Concurrency   int   `yaml:"concurrency" json:"concurrency"`
	} `yaml:"recommender" json:"recommender"`
	Labels map[string]string `yaml:"labels" json:"labels,omitempty"`
	Notes  struct {
		May string `yaml:"may" json:"may,omitempty"`
	} `yaml:"notes" json:"notes"`
	Logging struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"logging" json:"logging"`
	Server struct {
		CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

		// RateLimit is requests per minute per client IP; 0 disables it.
		RateLimit int `yaml:"rate_limit" json:"rate_limit"`
	} `yaml:"server" json:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cantor init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Recommender.Concurrency < 0 {
		return fmt.Errorf("config.recommender.concurrency must not be negative")
	}
	for part, label := range c.Labels {
		if _, ok := domain.ParseMassPart(part); !ok {
			return fmt.Errorf("config.labels has unknown mass part %s", part)
		}
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("config.labels.%s is empty", part)
		}
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config.server.rate_limit must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(parish string) string {
	return fmt.Sprintf(defaultTemplate, parish)
}

// Default returns the default Config.
func Default() *Config {
	cfg, err := FromYAML([]byte(GenerateDefault("")))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Recommender.Concurrency == 0 {
		cfg.Recommender.Concurrency = 4
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Label returns the configured label for a mass part, or "" when unset.
func (c *Config) Label(part domain.MassPart) string {
	if c == nil {
		return ""
	}
	return c.Labels[string(part)]
}

const defaultTemplate = `parish:
  name: "%s"

recommender:
  # 0 draws a fresh seed per recommendation
  seed: 0
  record_history: false
  concurrency: 4

# Overrides for the mass part labels shown next to each song.
labels: {}

notes:
  may: "May is devoted to the Virgin Mary. Outside Marian masses, Marian songs belong after mass or to May devotions."

logging:
  level: info
  format: console

server:
  # Browser origins allowed to call the HTTP API.
  cors_origins: []
  rate_limit: 120
`
