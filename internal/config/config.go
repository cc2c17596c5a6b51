// Package config provides YAML-based configuration loading for Buildyard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Buildyard master configuration, loaded from
// buildyard.yaml.
type Config struct {
	Master     string            `yaml:"master"`
	Database   DatabaseConfig    `yaml:"database"`
	API        APIConfig         `yaml:"api"`
	Builders   []string          `yaml:"builders"`
	Schedulers []SchedulerConfig `yaml:"schedulers"`
	Reporters  ReportersConfig   `yaml:"reporters"`
}

// DatabaseConfig holds connection settings for the SQL server.
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`
}

// APIConfig holds settings for the REST read API.
type APIConfig struct {
	Port int `yaml:"port"`
}

// SchedulerConfig defines a periodic scheduler: at each cron fire it
// records a sourcestamp for the configured branch and creates a buildset
// targeting the listed builders.
type SchedulerConfig struct {
	Name       string   `yaml:"name"`
	Cron       string   `yaml:"cron"`
	Branch     string   `yaml:"branch"`
	Repository string   `yaml:"repository"`
	Codebase   string   `yaml:"codebase"`
	Project    string   `yaml:"project"`
	Builders   []string `yaml:"builders"`
	Reason     string   `yaml:"reason"`
}

// ReportersConfig holds delivery settings for completion reporters. A
// reporter with an empty token is disabled.
type ReportersConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	GitHub  GitHubConfig  `yaml:"github"`
}

// SlackConfig configures the Slack completion reporter.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordConfig configures the Discord completion reporter.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// GitHubConfig configures the GitHub commit-status reporter.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Context string `yaml:"context"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" && c.Master != "" {
		c.Database.Name = "buildyard_" + c.Master
	}
	if c.API.Port == 0 {
		c.API.Port = 8010
	}
	if c.Reporters.GitHub.Context == "" {
		c.Reporters.GitHub.Context = "buildyard"
	}
	for i := range c.Schedulers {
		if c.Schedulers[i].Branch == "" {
			c.Schedulers[i].Branch = "main"
		}
		if c.Schedulers[i].Reason == "" {
			c.Schedulers[i].Reason = "The " + c.Schedulers[i].Name + " scheduler named this build"
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Master == "" {
		errs = append(errs, "master is required")
	}
	if len(c.Builders) == 0 {
		errs = append(errs, "at least one builder is required")
	}
	known := make(map[string]bool, len(c.Builders))
	for _, b := range c.Builders {
		known[b] = true
	}
	for i, s := range c.Schedulers {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("schedulers[%d].name is required", i))
		}
		if s.Cron == "" {
			errs = append(errs, fmt.Sprintf("schedulers[%d].cron is required", i))
		}
		if len(s.Builders) == 0 {
			errs = append(errs, fmt.Sprintf("schedulers[%d].builders is required", i))
		}
		for _, b := range s.Builders {
			if !known[b] {
				errs = append(errs, fmt.Sprintf("schedulers[%d] references unknown builder %q", i, b))
			}
		}
	}
	if c.Reporters.GitHub.Token != "" {
		if c.Reporters.GitHub.Owner == "" || c.Reporters.GitHub.Repo == "" {
			errs = append(errs, "reporters.github needs owner and repo")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
