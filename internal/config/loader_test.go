package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
services:
  - name: echo
    kind: echo
    priority: 130
`

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: minimalYAML,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Monitor.MaxTimeout != 10*time.Millisecond {
					t.Errorf("max_timeout = %s, want 10ms", cfg.Monitor.MaxTimeout)
				}
				if cfg.Scheduler.NormalPrio != 128 || cfg.Scheduler.HighPrio != 255 {
					t.Errorf("scheduler = %+v", cfg.Scheduler)
				}
				if cfg.Memory.NonSecureStart != 0x8000_0000 {
					t.Errorf("nonsecure_start = %#x", cfg.Memory.NonSecureStart)
				}
				if cfg.Events.Buffer != 256 {
					t.Errorf("events.buffer = %d", cfg.Events.Buffer)
				}
				if len(cfg.Services) != 1 || cfg.Services[0].Binding(0) != 0 {
					t.Errorf("services = %+v", cfg.Services)
				}
			},
		},
		{
			name: "full config",
			yaml: `
monitor:
  name: lab
  log_level: debug
  max_timeout: 25ms
memory:
  secure_start: 0x90000000
  secure_size: 0x100000
  nonsecure_start: 0x20000000
  nonsecure_size: 0x10000
  exec_offset: 0x100
scheduler:
  normal_prio: 100
  high_prio: 200
services:
  - name: rng
    kind: rng
    priority: 150
  - name: ticker
    kind: daemon
    priority: 150
    slot: 3
    options:
      flags: 0x4
state:
  path: /tmp/x.db
  journal_retention: 1h
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Monitor.Name != "lab" || cfg.Monitor.MaxTimeout != 25*time.Millisecond {
					t.Errorf("monitor = %+v", cfg.Monitor)
				}
				if cfg.Memory.NonSecureStart != 0x20000000 || cfg.Memory.ExecOffset != 0x100 {
					t.Errorf("memory = %+v", cfg.Memory)
				}
				if got := cfg.Services[1].Binding(1); got != 3 {
					t.Errorf("binding = %d, want 3", got)
				}
				if flags, ok := cfg.Services[1].Options["flags"].(int); !ok || flags != 4 {
					t.Errorf("options.flags = %#v", cfg.Services[1].Options["flags"])
				}
				if cfg.State.JournalRetention != time.Hour {
					t.Errorf("journal_retention = %s", cfg.State.JournalRetention)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: minimalYAML + `
api:
  enabled: true
  auth:
    api_key: ${TSMON_TEST_KEY}
`,
			env: map[string]string{"TSMON_TEST_KEY": "sekrit"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Auth.APIKey != "sekrit" {
					t.Errorf("api_key = %q", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name:    "unset env var",
			yaml:    minimalYAML + "api:\n  enabled: true\n  auth:\n    api_key: ${TSMON_TEST_UNSET}\n",
			wantErr: "TSMON_TEST_UNSET",
		},
		{
			name:    "no services",
			yaml:    "monitor:\n  name: empty\n",
			wantErr: "at least one service",
		},
		{
			name:    "service without kind",
			yaml:    "services:\n  - name: x\n    priority: 130\n",
			wantErr: "kind is required",
		},
		{
			name:    "bad log level",
			yaml:    minimalYAML + "monitor:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "exec offset outside window",
			yaml:    minimalYAML + "memory:\n  nonsecure_start: 0x1000\n  nonsecure_size: 0x1000\n  exec_offset: 0x1000\n",
			wantErr: "exec_offset",
		},
		{
			name:    "priorities leave no room",
			yaml:    minimalYAML + "scheduler:\n  normal_prio: 10\n  high_prio: 11\n",
			wantErr: "no room",
		},
		{
			name: "bad binding is not a config error",
			yaml: "services:\n  - name: x\n    kind: echo\n    priority: 130\n    slot: 7\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Services[0].Binding(0) != 7 {
					t.Errorf("binding = %d", cfg.Services[0].Binding(0))
				}
			},
		},
		{
			name:    "token without scopes",
			yaml:    minimalYAML + "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n",
			wantErr: "scopes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeTestFile(t, path, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), minimalYAML)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if len(cfg.SourceFiles) != 1 || filepath.Base(cfg.SourceFiles[0]) != "config.yaml" {
		t.Errorf("SourceFiles = %v", cfg.SourceFiles)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), minimalYAML+"include:\n  - services.d/extra.yaml\n")
	writeTestFile(t, filepath.Join(dir, "services.d", "extra.yaml"), `
monitor:
  log_level: warn
services:
  - name: digest
    kind: digest
    priority: 140
`)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(cfg.Services) != 2 || cfg.Services[1].Name != "digest" {
		t.Fatalf("services = %+v", cfg.Services)
	}
	if cfg.Monitor.LogLevel != "warn" {
		t.Errorf("log_level = %q, want warn", cfg.Monitor.LogLevel)
	}
	if len(cfg.SourceFiles) != 2 {
		t.Errorf("SourceFiles = %v", cfg.SourceFiles)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), minimalYAML+"include:\n  - a.yaml\n")
	writeTestFile(t, filepath.Join(dir, "a.yaml"), "include:\n  - config.yaml\n")

	_, err := Load(filepath.Join(dir, "config.yaml"))
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("Load() error = %v, want circular dependency", err)
	}
}

func TestLoadMissingInclude(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), minimalYAML+"include:\n  - nope.yaml\n")

	_, err := Load(filepath.Join(dir, "config.yaml"))
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Fatalf("Load() error = %v, want file not found", err)
	}
}

func TestLoadRejectsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestFile(t, path, minimalYAML)

	if _, err := GenerateChecksums([]string{path}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	writeTestFile(t, path, minimalYAML+"  - name: extra\n    kind: echo\n    priority: 130\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Load() error = %v, want hash mismatch", err)
	}
}

func TestLoadRejectsCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestFile(t, path, minimalYAML+"include:\n  - extra.yaml\n")
	writeTestFile(t, filepath.Join(dir, "extra.yaml"), "events:\n  buffer: 16\n")
	files, err := DiscoverAllConfigFiles(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := GenerateChecksums(files, false); err != nil {
		t.Fatal(err)
	}

	writeTestFile(t, filepath.Join(dir, "extra.yaml"), "events:\n  buffer: 4096\n")
	writeTestFile(t, filepath.Join(dir, ChecksumFile), "version: 2\n")

	cfg, err := Load(path)
	if err == nil {
		t.Fatalf("Load() accepted a corrupt manifest, buffer = %d", cfg.Events.Buffer)
	}
	if !strings.Contains(err.Error(), "unsupported checksums version") {
		t.Fatalf("Load() error = %v, want unsupported checksums version", err)
	}
}

func TestInterpolateEnvLeavesUnknown(t *testing.T) {
	t.Setenv("TSMON_A", "x")
	got := interpolateEnv("${TSMON_A}-${TSMON_NOT_SET_ANYWHERE}")
	if got != "x-${TSMON_NOT_SET_ANYWHERE}" {
		t.Fatalf("interpolateEnv() = %q", got)
	}
}
