package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models siteline.yml.
type Config struct {
	Project struct {
		ID       string `yaml:"id"`
		Timezone string `yaml:"timezone"`
	} `yaml:"project"`
	Dispatch struct {
		BatchSize       int `yaml:"batch_size"`
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"dispatch"`
	Maintenance struct {
		DefaultWarningHours float64 `yaml:"default_warning_hours"`
		DefaultWarningDays  int     `yaml:"default_warning_days"`
	} `yaml:"maintenance"`
	Notify struct {
		Targets []NotifyTarget `yaml:"targets"`
	} `yaml:"notify"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// NotifyTarget is an outbound endpoint for the built-in send_notification
// handler; rule recipients are matched against Name.
type NotifyTarget struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// WebhookConfig is one audit-feed subscriber.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Timezone != "" {
		if _, err := time.LoadLocation(c.Project.Timezone); err != nil {
			return fmt.Errorf("config.project.timezone %q is not an IANA zone", c.Project.Timezone)
		}
	}
	if c.Dispatch.BatchSize < 0 {
		return fmt.Errorf("config.dispatch.batch_size cannot be negative")
	}
	if c.Dispatch.IntervalSeconds < 0 {
		return fmt.Errorf("config.dispatch.interval_seconds cannot be negative")
	}
	if c.Maintenance.DefaultWarningHours < 0 {
		return fmt.Errorf("config.maintenance.default_warning_hours cannot be negative")
	}
	if c.Maintenance.DefaultWarningDays < 0 {
		return fmt.Errorf("config.maintenance.default_warning_days cannot be negative")
	}
	for i, t := range c.Notify.Targets {
		if t.URL == "" {
			return fmt.Errorf("config.notify.targets[%d] has no url", i)
		}
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d] has no url", i)
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d] has negative timeout", i)
		}
	}
	return nil
}

// BatchSize returns the dispatch batch size with the default applied.
func (c *Config) BatchSize() int {
	if c.Dispatch.BatchSize > 0 {
		return c.Dispatch.BatchSize
	}
	return 100
}

// Timezone returns the project default timezone, UTC when unset.
func (c *Config) Timezone() string {
	if c.Project.Timezone != "" {
		return c.Project.Timezone
	}
	return "UTC"
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "siteline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
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

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
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

const defaultTemplate = `project:
  id: %s
  timezone: UTC

dispatch:
  batch_size: 100
  interval_seconds: 30

maintenance:
  default_warning_hours: 50
  default_warning_days: 7

notify:
  targets: []

webhooks: []
`
