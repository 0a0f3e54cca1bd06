package config

import "time"

// Config represents the complete tsmon configuration.
type Config struct {
	Include   []string        `yaml:"include,omitempty"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Memory    MemoryConfig    `yaml:"memory"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Services  []ServiceConfig `yaml:"services"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api,omitempty"`
	Events    EventsConfig    `yaml:"events"`

	// SourceFiles lists every file the config was assembled from, root first.
	SourceFiles []string `yaml:"-"`
}

// MonitorConfig defines core monitor settings.
type MonitorConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// MaxTimeout caps how long a non-secure caller may stay suspended.
	MaxTimeout time.Duration `yaml:"max_timeout"`
}

// MemoryConfig is the static physical layout. Addresses accept YAML hex
// literals such as 0x80000000.
type MemoryConfig struct {
	SecureStart    uint64 `yaml:"secure_start"`
	SecureSize     uint64 `yaml:"secure_size"`
	NonSecureStart uint64 `yaml:"nonsecure_start"`
	NonSecureSize  uint64 `yaml:"nonsecure_size"`
	ExecOffset     uint64 `yaml:"exec_offset"`
}

// SchedulerConfig defines the two reference priorities. Every trusted
// service must sit strictly between them.
type SchedulerConfig struct {
	NormalPrio int `yaml:"normal_prio"`
	HighPrio   int `yaml:"high_prio"`
}

// ServiceConfig defines one trusted service slot. Order matters: the
// position in the list is the slot index.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Priority int    `yaml:"priority"`
	// Slot is the table position the service is bound to. Defaults to its
	// list position; any other value fails the boot-time table check.
	Slot    *int           `yaml:"slot,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// Binding returns the configured slot binding, defaulting to pos.
func (s ServiceConfig) Binding(pos int) int {
	if s.Slot == nil {
		return pos
	}
	return *s.Slot
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path             string        `yaml:"path"`
	JournalRetention time.Duration `yaml:"journal_retention"`
}

// APIConfig defines the non-secure gateway settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// EventsConfig sizes the event hub replay buffer.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Monitor: MonitorConfig{
			Name:       "tsmon",
			LogLevel:   "info",
			MaxTimeout: 10 * time.Millisecond,
		},
		Memory: MemoryConfig{
			SecureStart:    0x9000_0000,
			SecureSize:     0x0100_0000,
			NonSecureStart: 0x8000_0000,
			NonSecureSize:  0x0010_0000,
		},
		Scheduler: SchedulerConfig{
			NormalPrio: 128,
			HighPrio:   255,
		},
		State: StateConfig{
			Path:             "./data/tsmon.db",
			JournalRetention: 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Events: EventsConfig{
			Buffer: 256,
		},
	}
}
