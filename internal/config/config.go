package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"quoteflow/internal/domain"
)

// Config models quoteflow.yml.
type Config struct {
	Server        Server        `yaml:"server"`
	Store         Store         `yaml:"store"`
	Logging       Logging       `yaml:"logging"`
	Approval      Approval      `yaml:"approval"`
	Notifications Notifications `yaml:"notifications"`
	Workflow      Workflow      `yaml:"workflow"`
}

type Server struct {
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	JWTSecret string `yaml:"jwt_secret"`
	// DevAuth enables the unauthenticated token minting route.
	DevAuth bool `yaml:"dev_auth"`
}

type Store struct {
	Driver   string   `yaml:"driver"`
	DynamoDB DynamoDB `yaml:"dynamodb"`
}

type DynamoDB struct {
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	Table       string `yaml:"table"`
	EventsTable string `yaml:"events_table"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Approval struct {
	// Deadlines holds the default SLA per urgency, applied when a request names none.
	Deadlines     map[domain.Urgency]time.Duration `yaml:"deadlines"`
	SweepInterval time.Duration                    `yaml:"sweep_interval"`
}

type Notifications struct {
	Timeout time.Duration `yaml:"timeout"`
	Webhook Webhook       `yaml:"webhook"`
}

type Webhook struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// Workflow is the raw transition table and per-status rules. It is compiled by
// the workflow package.
type Workflow struct {
	Transitions []Transition    `yaml:"transitions"`
	Rules       map[string]Rule `yaml:"rules"`
}

type Transition struct {
	From          string   `yaml:"from"`
	To            string   `yaml:"to"`
	Roles         []string `yaml:"roles"`
	ApprovalLevel string   `yaml:"approval_level,omitempty"`
	Condition     string   `yaml:"condition,omitempty"`
	Action        string   `yaml:"action,omitempty"`
}

type Rule struct {
	Allowed        []string `yaml:"allowed"`
	RequiredFields []string `yaml:"required_fields,omitempty"`
	AutoActions    []string `yaml:"auto_actions,omitempty"`
}

// Deadline returns the configured SLA for urgency, falling back to medium.
func (a Approval) Deadline(u domain.Urgency) time.Duration {
	if d, ok := a.Deadlines[u]; ok {
		return d
	}
	return a.Deadlines[domain.UrgencyMedium]
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with qf config print > %s", path, path)
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

// Validate ensures the config meets required structure. Workflow vocabulary
// (conditions, actions) is checked when the table is compiled.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "dynamodb":
		if c.Store.DynamoDB.Table == "" || c.Store.DynamoDB.EventsTable == "" {
			return fmt.Errorf("config.store.dynamodb.table and events_table are required")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite or dynamodb, got %q", c.Store.Driver)
	}
	for _, u := range domain.UrgencyScale {
		d, ok := c.Approval.Deadlines[u]
		if !ok {
			return fmt.Errorf("config.approval.deadlines.%s is required", u)
		}
		if d <= 0 {
			return fmt.Errorf("config.approval.deadlines.%s must be positive", u)
		}
	}
	for u := range c.Approval.Deadlines {
		if u.Rank() < 0 {
			return fmt.Errorf("config.approval.deadlines has unknown urgency %s", u)
		}
	}
	if c.Approval.SweepInterval <= 0 {
		return fmt.Errorf("config.approval.sweep_interval must be positive")
	}
	if c.Notifications.Timeout <= 0 {
		return fmt.Errorf("config.notifications.timeout must be positive")
	}
	if len(c.Workflow.Transitions) == 0 {
		return fmt.Errorf("config.workflow.transitions is required")
	}
	for i, t := range c.Workflow.Transitions {
		if t.From == "" || t.To == "" {
			return fmt.Errorf("config.workflow.transitions[%d] needs from and to", i)
		}
		if len(t.Roles) == 0 {
			return fmt.Errorf("transition %s->%s has no roles", t.From, t.To)
		}
	}
	if c.Workflow.Rules == nil {
		return fmt.Errorf("config.workflow.rules is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "quoteflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset sections
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	// A file that defines its own table replaces the default one entirely.
	if len(override.Workflow.Transitions) > 0 {
		cfg.Workflow.Transitions = override.Workflow.Transitions
	}
	if override.Workflow.Rules != nil {
		cfg.Workflow.Rules = override.Workflow.Rules
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
