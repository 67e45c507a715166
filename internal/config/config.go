package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
)

// FileName is the config file looked up in the workspace.
const FileName = "swipeflow.yml"

// Config models swipeflow.yml.
type Config struct {
	Engine struct {
		PermanenceCutoff string        `yaml:"permanence_cutoff" json:"permanence_cutoff"`
		OverdueInterval  time.Duration `yaml:"overdue_interval" json:"overdue_interval"`
	} `yaml:"engine" json:"engine"`
	Scheduler     SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Authorization struct {
		Overrides map[string][]string `yaml:"overrides" json:"overrides"`
	} `yaml:"authorization" json:"authorization"`
	Journal struct {
		Enabled bool `yaml:"enabled" json:"enabled"`
		Buffer  int  `yaml:"buffer" json:"buffer"`
	} `yaml:"journal" json:"journal"`
	Server struct {
		Addr      string `yaml:"addr" json:"addr"`
		BasePath  string `yaml:"base_path" json:"base_path"`
		RateLimit int    `yaml:"rate_limit" json:"rate_limit"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
	Log      struct {
		Level string `yaml:"level" json:"level"`
	} `yaml:"log" json:"log"`
}

type SchedulerConfig struct {
	DayStart               string `yaml:"day_start" json:"day_start"`
	DayEnd                 string `yaml:"day_end" json:"day_end"`
	StepMinutes            int    `yaml:"step_minutes" json:"step_minutes"`
	DefaultDurationMinutes int    `yaml:"default_duration_minutes" json:"default_duration_minutes"`
	Parties                struct {
		First  string `yaml:"first" json:"first"`
		Second string `yaml:"second" json:"second"`
	} `yaml:"parties" json:"parties"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events"`
	Secret         string   `yaml:"secret" json:"-"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := time.Parse(domain.TimeLayout, c.Engine.PermanenceCutoff); err != nil {
		return fmt.Errorf("config.engine.permanence_cutoff must be HH:MM")
	}
	if c.Engine.OverdueInterval < 0 {
		return fmt.Errorf("config.engine.overdue_interval must not be negative")
	}
	start, err := time.Parse(domain.TimeLayout, c.Scheduler.DayStart)
	if err != nil {
		return fmt.Errorf("config.scheduler.day_start must be HH:MM")
	}
	end, err := time.Parse(domain.TimeLayout, c.Scheduler.DayEnd)
	if err != nil {
		return fmt.Errorf("config.scheduler.day_end must be HH:MM")
	}
	if !end.After(start) {
		return fmt.Errorf("config.scheduler.day_end must be after day_start")
	}
	if c.Scheduler.StepMinutes <= 0 {
		return fmt.Errorf("config.scheduler.step_minutes must be positive")
	}
	if c.Scheduler.DefaultDurationMinutes <= 0 {
		return fmt.Errorf("config.scheduler.default_duration_minutes must be positive")
	}
	first, second := domain.Role(c.Scheduler.Parties.First), domain.Role(c.Scheduler.Parties.Second)
	if !first.Valid() || !second.Valid() {
		return fmt.Errorf("config.scheduler.parties must name known roles")
	}
	if first == second {
		return fmt.Errorf("config.scheduler.parties must be two distinct roles")
	}
	for acting, assigned := range c.Authorization.Overrides {
		if !domain.Role(acting).Valid() {
			return fmt.Errorf("config.authorization.overrides references unknown role %s", acting)
		}
		for _, a := range assigned {
			if !domain.Role(a).Valid() {
				return fmt.Errorf("override for %s references unknown role %s", acting, a)
			}
		}
	}
	if c.Journal.Buffer < 0 {
		return fmt.Errorf("config.journal.buffer must not be negative")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config.server.rate_limit must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Overrides converts the authorization section into typed roles.
func (c *Config) Overrides() map[domain.Role][]domain.Role {
	out := make(map[domain.Role][]domain.Role, len(c.Authorization.Overrides))
	for acting, assigned := range c.Authorization.Overrides {
		roles := make([]domain.Role, 0, len(assigned))
		for _, a := range assigned {
			roles = append(roles, domain.Role(a))
		}
		out[domain.Role(acting)] = roles
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with swipeflow config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
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

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  # completions logged at or after this local time are permanent
  permanence_cutoff: "23:59"
  overdue_interval: 1m

scheduler:
  day_start: "09:00"
  day_end: "17:00"
  step_minutes: 60
  default_duration_minutes: 60
  parties:
    first: resident
    second: maintenance

authorization:
  overrides:
    operator: [leasing, maintenance]

journal:
  enabled: true
  buffer: 256

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  rate_limit: 120

webhooks: []

log:
  level: info
`
