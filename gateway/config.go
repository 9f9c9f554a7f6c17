package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-loadable gateway configuration. It declares provider
// concurrency caps and per-tool routing/classification so deployments can
// adjust rate limits and irreversibility without recompiling.
//
// Example:
//
//	default_timeout: 15s
//	providers:
//	  mail:
//	    max_concurrent: 4
//	tools:
//	  - name: send_email
//	    provider: mail
//	    irreversible: true
type Config struct {
	DefaultTimeout time.Duration             `yaml:"default_timeout"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Tools          []ToolConfig              `yaml:"tools"`
}

// ToolConfig routes a named tool to a provider and optionally overrides its
// irreversibility classification.
type ToolConfig struct {
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider"`
	Irreversible bool   `yaml:"irreversible"`
}

// configYAML is the raw YAML shape of Config; the timeout arrives as a Go
// duration string ("15s").
type configYAML struct {
	DefaultTimeout string                    `yaml:"default_timeout"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Tools          []ToolConfig              `yaml:"tools"`
}

// UnmarshalYAML implements yaml.Unmarshaler for Config.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw configYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.DefaultTimeout != "" {
		d, err := time.ParseDuration(raw.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("default_timeout: %w", err)
		}
		c.DefaultTimeout = d
	}
	c.Providers = raw.Providers
	c.Tools = raw.Tools
	return nil
}

// providerConfigYAML is the YAML shape of ProviderConfig.
type providerConfigYAML struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// UnmarshalYAML implements yaml.Unmarshaler for ProviderConfig.
func (p *ProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw providerConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	p.MaxConcurrent = raw.MaxConcurrent
	return nil
}

// LoadConfig reads and parses a gateway configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gateway config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}
	return &cfg, nil
}

// WithConfig applies a loaded configuration to the gateway options. Tool
// entries are kept for Register-time routing and classification.
func WithConfig(cfg *Config) func(o *Options) {
	return func(o *Options) {
		if cfg.DefaultTimeout > 0 {
			o.DefaultTimeout = cfg.DefaultTimeout
		}
		for name, pc := range cfg.Providers {
			o.Providers[name] = pc
		}
		o.toolConfigs = make(map[string]ToolConfig, len(cfg.Tools))
		for _, tc := range cfg.Tools {
			o.toolConfigs[tc.Name] = tc
		}
	}
}
