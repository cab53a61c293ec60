// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads YAML configuration for the monitor and event
// handler binaries. Defaults are applied first and the file overrides
// them; command-line flags override both (merged in the binaries via
// pflag's Changed tracking). Durations use the compact AdBhCmDs
// syntax.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default endpoint and stream names shared by both binaries.
const (
	DefaultNATSServer = "nats://localhost:4222"
	DefaultStream     = "GITHUB_EVENTS"
	DefaultConsumer   = "github-event-handler"
)

// Monitor configures the polling binary.
type Monitor struct {
	// Path is the base directory containing
	// {owner}/{repo}/{number} entity directories. Required.
	Path string `yaml:"path"`

	// Repositories to poll, each "owner/repo". Empty discovers
	// repositories from the base path layout.
	Repositories []string `yaml:"repositories"`

	// NATSServer is the broker URL.
	NATSServer string `yaml:"nats_server"`

	// Stream is the JetStream stream name.
	Stream string `yaml:"stream"`

	// Interval between poll cycles. Zero runs a single cycle.
	Interval Duration `yaml:"interval"`

	// UpdatedSince is an optional RFC3339 lower bound for discovery
	// queries.
	UpdatedSince string `yaml:"updated_since"`

	MonitorIssues        bool `yaml:"monitor_issues"`
	MonitorIssueComments bool `yaml:"monitor_issue_comments"`
	MonitorPRComments    bool `yaml:"monitor_pr_comments"`
	ActiveOnly           bool `yaml:"active_only"`
	DryRun               bool `yaml:"dry_run"`
}

// DefaultMonitor returns monitor configuration defaults.
func DefaultMonitor() *Monitor {
	return &Monitor{
		NATSServer:           DefaultNATSServer,
		Stream:               DefaultStream,
		MonitorIssues:        true,
		MonitorIssueComments: true,
		MonitorPRComments:    true,
		ActiveOnly:           true,
	}
}

// LoadMonitor loads monitor configuration, applying the file (if any)
// over the defaults.
func LoadMonitor(path string) (*Monitor, error) {
	config := DefaultMonitor()
	if err := loadInto(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks required fields.
func (c *Monitor) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("config: path is required")
	}
	if _, err := c.UpdatedSinceTime(); err != nil {
		return err
	}
	return nil
}

// UpdatedSinceTime parses the optional updated_since bound. A zero
// time means no override.
func (c *Monitor) UpdatedSinceTime() (time.Time, error) {
	if c.UpdatedSince == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.UpdatedSince)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: invalid updated_since %q: %w", c.UpdatedSince, err)
	}
	return t, nil
}

// Handler configures the event handler binary.
type Handler struct {
	// Path is the base directory for entity directories. Required.
	Path string `yaml:"path"`

	// TemplatesDir is the root of the template hierarchy. Empty
	// disables claude invocations.
	TemplatesDir string `yaml:"templates_dir"`

	NATSServer string `yaml:"nats_server"`
	Stream     string `yaml:"stream"`

	// Consumer is the durable consumer name.
	Consumer string `yaml:"consumer"`

	// BatchSize is the messages fetched per pull.
	BatchSize int `yaml:"batch_size"`

	// FetchTimeout bounds one pull's wait for messages.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// AckWait is the broker's redelivery deadline for an
	// unacknowledged message.
	AckWait Duration `yaml:"ack_wait"`

	// MaxConcurrent bounds simultaneous in-flight handlers.
	MaxConcurrent int `yaml:"max_concurrent"`

	// SkipUsers is a regex of usernames whose events are dropped.
	SkipUsers string `yaml:"skip_users"`

	// Repositories is a regex restricting which repositories are
	// processed.
	Repositories string `yaml:"repositories"`

	// RecreateConsumer deletes and recreates the durable consumer,
	// replaying the stream from the start.
	RecreateConsumer bool `yaml:"recreate_consumer"`

	// ClaudeVerbose passes raw claude output through instead of
	// summarizing it.
	ClaudeVerbose bool `yaml:"claude_verbose"`
}

// DefaultHandler returns handler configuration defaults.
func DefaultHandler() *Handler {
	return &Handler{
		NATSServer:    DefaultNATSServer,
		Stream:        DefaultStream,
		Consumer:      DefaultConsumer,
		BatchSize:     10,
		FetchTimeout:  Duration(5 * time.Second),
		AckWait:       Duration(300 * time.Second),
		MaxConcurrent: 5,
	}
}

// LoadHandler loads handler configuration, applying the file (if any)
// over the defaults.
func LoadHandler(path string) (*Handler, error) {
	config := DefaultHandler()
	if err := loadInto(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks required fields.
func (c *Handler) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("config: path is required")
	}
	return nil
}

// loadInto unmarshals a YAML file over a pre-defaulted config value.
// An empty path is a no-op (defaults only).
func loadInto(path string, config any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}
