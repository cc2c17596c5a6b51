package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
master: alpha

database:
  host: 10.0.0.5
  port: 3307
  name: buildyard_alpha

api:
  port: 9010

builders:
  - linux-amd64
  - linux-arm64
  - windows

schedulers:
  - name: nightly
    cron: "0 3 * * *"
    branch: release
    repository: git@github.com:org/app.git
    codebase: app
    project: app
    builders: [linux-amd64, windows]
    reason: nightly run

reporters:
  slack:
    token: xoxb-test
    channel: "#builds"
  discord:
    token: discord-test
    channel_id: "12345"
  github:
    token: ghp_test
    owner: org
    repo: app
    context: ci/nightly
`

const minimalYAML = `
master: beta
builders:
  - linux
schedulers:
  - name: hourly
    cron: "0 * * * *"
    builders: [linux]
`

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Master != "alpha" {
		t.Errorf("Master = %q, want alpha", cfg.Master)
	}
	if cfg.Database.Host != "10.0.0.5" {
		t.Errorf("Database.Host = %q, want 10.0.0.5", cfg.Database.Host)
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want 3307", cfg.Database.Port)
	}
	if cfg.Database.Name != "buildyard_alpha" {
		t.Errorf("Database.Name = %q, want buildyard_alpha", cfg.Database.Name)
	}
	if cfg.API.Port != 9010 {
		t.Errorf("API.Port = %d, want 9010", cfg.API.Port)
	}
	if len(cfg.Builders) != 3 {
		t.Fatalf("len(Builders) = %d, want 3", len(cfg.Builders))
	}
	if len(cfg.Schedulers) != 1 {
		t.Fatalf("len(Schedulers) = %d, want 1", len(cfg.Schedulers))
	}

	s := cfg.Schedulers[0]
	if s.Name != "nightly" {
		t.Errorf("Schedulers[0].Name = %q, want nightly", s.Name)
	}
	if s.Cron != "0 3 * * *" {
		t.Errorf("Schedulers[0].Cron = %q, want 0 3 * * *", s.Cron)
	}
	if s.Branch != "release" {
		t.Errorf("Schedulers[0].Branch = %q, want release", s.Branch)
	}
	if len(s.Builders) != 2 {
		t.Errorf("len(Schedulers[0].Builders) = %d, want 2", len(s.Builders))
	}
	if s.Reason != "nightly run" {
		t.Errorf("Schedulers[0].Reason = %q, want nightly run", s.Reason)
	}

	if cfg.Reporters.Slack.Channel != "#builds" {
		t.Errorf("Reporters.Slack.Channel = %q, want #builds", cfg.Reporters.Slack.Channel)
	}
	if cfg.Reporters.Discord.ChannelID != "12345" {
		t.Errorf("Reporters.Discord.ChannelID = %q, want 12345", cfg.Reporters.Discord.ChannelID)
	}
	if cfg.Reporters.GitHub.Context != "ci/nightly" {
		t.Errorf("Reporters.GitHub.Context = %q, want ci/nightly", cfg.Reporters.GitHub.Context)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Database.Host != "127.0.0.1" {
		t.Errorf("Database.Host = %q, want 127.0.0.1", cfg.Database.Host)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("Database.Port = %d, want 3306", cfg.Database.Port)
	}
	if cfg.Database.Name != "buildyard_beta" {
		t.Errorf("Database.Name = %q, want buildyard_beta", cfg.Database.Name)
	}
	if cfg.API.Port != 8010 {
		t.Errorf("API.Port = %d, want 8010", cfg.API.Port)
	}
	if cfg.Reporters.GitHub.Context != "buildyard" {
		t.Errorf("Reporters.GitHub.Context = %q, want buildyard", cfg.Reporters.GitHub.Context)
	}

	s := cfg.Schedulers[0]
	if s.Branch != "main" {
		t.Errorf("Schedulers[0].Branch = %q, want main", s.Branch)
	}
	if s.Reason != "The hourly scheduler named this build" {
		t.Errorf("Schedulers[0].Reason = %q", s.Reason)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing master",
			yaml:    "builders: [linux]\n",
			wantErr: "master is required",
		},
		{
			name:    "no builders",
			yaml:    "master: alpha\n",
			wantErr: "at least one builder is required",
		},
		{
			name: "scheduler missing name",
			yaml: `
master: alpha
builders: [linux]
schedulers:
  - cron: "0 * * * *"
    builders: [linux]
`,
			wantErr: "schedulers[0].name is required",
		},
		{
			name: "scheduler missing cron",
			yaml: `
master: alpha
builders: [linux]
schedulers:
  - name: hourly
    builders: [linux]
`,
			wantErr: "schedulers[0].cron is required",
		},
		{
			name: "scheduler missing builders",
			yaml: `
master: alpha
builders: [linux]
schedulers:
  - name: hourly
    cron: "0 * * * *"
`,
			wantErr: "schedulers[0].builders is required",
		},
		{
			name: "scheduler unknown builder",
			yaml: `
master: alpha
builders: [linux]
schedulers:
  - name: hourly
    cron: "0 * * * *"
    builders: [darwin]
`,
			wantErr: `schedulers[0] references unknown builder "darwin"`,
		},
		{
			name: "github reporter missing owner",
			yaml: `
master: alpha
builders: [linux]
reporters:
  github:
    token: ghp_test
`,
			wantErr: "reporters.github needs owner and repo",
		},
		{
			name:    "malformed yaml",
			yaml:    "master: [unclosed\n",
			wantErr: "config: parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildyard.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Master != "beta" {
		t.Errorf("Master = %q, want beta", cfg.Master)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("Load() error = %q, want substring %q", err, "config: read")
	}
}
