package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config models requestline.yml.
type Config struct {
	Registry struct {
		Groups map[string]map[string]CodeEntry `yaml:"groups"`
	} `yaml:"registry"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// CodeEntry is one registry code definition.
type CodeEntry struct {
	Label  string `yaml:"label"`
	Parent string `yaml:"parent,omitempty"`
	Order  int    `yaml:"order,omitempty"`
}

// WebhookConfig configures one notification target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rl config init", path)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Registry.Groups) == 0 {
		return fmt.Errorf("config.registry.groups is required")
	}
	if _, ok := c.Registry.Groups["request_types"]; !ok {
		return fmt.Errorf("config.registry.groups must include request_types")
	}
	for group, entries := range c.Registry.Groups {
		if group == "" {
			return fmt.Errorf("config.registry.groups contains empty group name")
		}
		for code, entry := range entries {
			if code == "" {
				return fmt.Errorf("group %s contains empty code", group)
			}
			if entry.Parent != "" {
				if _, ok := entries[entry.Parent]; !ok {
					return fmt.Errorf("code %s/%s references unknown parent %s", group, code, entry.Parent)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// GroupCodes returns the codes of one group in stable order.
func (c *Config) GroupCodes(group string) []string {
	entries := c.Registry.Groups[group]
	codes := make([]string, 0, len(entries))
	for code := range entries {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		a, b := entries[codes[i]], entries[codes[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return codes[i] < codes[j]
	})
	return codes
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "requestline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `registry:
  groups:
    request_types:
      access-change:
        label: "Access change"
      data-fix:
        label: "Data correction"
      enhancement:
        label: "Functional enhancement"
      incident:
        label: "Incident follow-up"
      report:
        label: "Report or extract"
    systems:
      erp:
        label: "ERP"
      erp-finance:
        label: "ERP / Finance"
        parent: erp
      erp-hr:
        label: "ERP / HR"
        parent: erp
      crm:
        label: "CRM"
      portal:
        label: "Customer portal"

auth:
  allow_legacy_actor_header: false

webhooks: []
`
