// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"5s", 5 * time.Second},
		{"5m", 5 * time.Minute},
		{"300s", 300 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"2d", 48 * time.Hour},
		{"1d2h3m4s", 26*time.Hour + 3*time.Minute + 4*time.Second},
	}
	for _, test := range tests {
		got, err := ParseDuration(test.input)
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", test.input, got, test.want)
		}
	}

	for _, bad := range []string{"", "soon", "5x"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Errorf("ParseDuration(%q) should fail", bad)
		}
	}
}

func TestMonitorDefaults(t *testing.T) {
	config, err := LoadMonitor("")
	if err != nil {
		t.Fatalf("LoadMonitor: %v", err)
	}
	if config.NATSServer != DefaultNATSServer {
		t.Errorf("nats_server = %q", config.NATSServer)
	}
	if config.Stream != DefaultStream {
		t.Errorf("stream = %q", config.Stream)
	}
	if !config.MonitorIssues || !config.MonitorIssueComments || !config.MonitorPRComments {
		t.Error("monitoring toggles should default on")
	}
	if !config.ActiveOnly {
		t.Error("active_only should default on")
	}
	if config.Interval != 0 {
		t.Errorf("interval = %v, want 0 (run once)", config.Interval)
	}
}

func TestMonitorFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
path: /var/lib/github-monitor
repositories:
  - acme/widgets
  - acme/gadgets
interval: 5m
monitor_pr_comments: false
updated_since: "2026-01-15T00:00:00Z"
`)
	config, err := LoadMonitor(path)
	if err != nil {
		t.Fatalf("LoadMonitor: %v", err)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if config.Path != "/var/lib/github-monitor" {
		t.Errorf("path = %q", config.Path)
	}
	if len(config.Repositories) != 2 {
		t.Errorf("repositories = %v", config.Repositories)
	}
	if config.Interval.Std() != 5*time.Minute {
		t.Errorf("interval = %v", config.Interval)
	}
	if config.MonitorPRComments {
		t.Error("monitor_pr_comments should be overridden to false")
	}
	// Untouched toggles keep their defaults.
	if !config.MonitorIssues {
		t.Error("monitor_issues should keep its default")
	}

	since, err := config.UpdatedSinceTime()
	if err != nil {
		t.Fatalf("UpdatedSinceTime: %v", err)
	}
	if want := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC); !since.Equal(want) {
		t.Errorf("updated_since = %v, want %v", since, want)
	}
}

func TestMonitorValidate(t *testing.T) {
	config := DefaultMonitor()
	if err := config.Validate(); err == nil {
		t.Error("missing path should fail validation")
	}

	config.Path = "/tmp/state"
	config.UpdatedSince = "yesterday"
	if err := config.Validate(); err == nil {
		t.Error("malformed updated_since should fail validation")
	}
}

func TestHandlerDefaults(t *testing.T) {
	config, err := LoadHandler("")
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	if config.Consumer != DefaultConsumer {
		t.Errorf("consumer = %q", config.Consumer)
	}
	if config.BatchSize != 10 {
		t.Errorf("batch_size = %d", config.BatchSize)
	}
	if config.FetchTimeout.Std() != 5*time.Second {
		t.Errorf("fetch_timeout = %v", config.FetchTimeout)
	}
	if config.AckWait.Std() != 300*time.Second {
		t.Errorf("ack_wait = %v", config.AckWait)
	}
	if config.MaxConcurrent != 5 {
		t.Errorf("max_concurrent = %d", config.MaxConcurrent)
	}
}

func TestHandlerFile(t *testing.T) {
	path := writeConfig(t, `
path: /var/lib/github-monitor
templates_dir: /etc/github-monitor/templates
ack_wait: 10m
max_concurrent: 2
skip_users: "^dependabot"
recreate_consumer: true
`)
	config, err := LoadHandler(path)
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if config.AckWait.Std() != 10*time.Minute {
		t.Errorf("ack_wait = %v", config.AckWait)
	}
	if config.MaxConcurrent != 2 {
		t.Errorf("max_concurrent = %d", config.MaxConcurrent)
	}
	if config.SkipUsers != "^dependabot" {
		t.Errorf("skip_users = %q", config.SkipUsers)
	}
	if !config.RecreateConsumer {
		t.Error("recreate_consumer should be true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadMonitor(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file should fail")
	}
}
