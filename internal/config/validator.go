package config

import (
	"fmt"
	"time"
)

// maxArena bounds the non-secure window the monitor will back with memory.
const maxArena = 1 << 30

// validate performs basic validation on the configuration. Slot bindings
// and service priorities are deliberately left to the boot-time table
// check, which halts rather than returning an error.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Monitor.LogLevel] {
		return fmt.Errorf("monitor.log_level must be one of: debug, info, warn, error (got %q)", cfg.Monitor.LogLevel)
	}
	if cfg.Monitor.MaxTimeout <= 0 {
		return fmt.Errorf("monitor.max_timeout must be positive")
	}
	if cfg.Monitor.MaxTimeout > time.Duration(1<<32-1)*time.Microsecond {
		return fmt.Errorf("monitor.max_timeout %s exceeds a 32-bit microsecond timeout", cfg.Monitor.MaxTimeout)
	}

	if err := validateMemory(cfg.Memory); err != nil {
		return err
	}

	if cfg.Scheduler.NormalPrio < 1 {
		return fmt.Errorf("scheduler.normal_prio must be at least 1")
	}
	if cfg.Scheduler.HighPrio <= cfg.Scheduler.NormalPrio+1 {
		return fmt.Errorf("scheduler.high_prio (%d) leaves no room above normal_prio (%d)",
			cfg.Scheduler.HighPrio, cfg.Scheduler.NormalPrio)
	}

	if len(cfg.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}
	for i, svc := range cfg.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d].name is required", i)
		}
		if svc.Kind == "" {
			return fmt.Errorf("service %q: kind is required", svc.Name)
		}
		if svc.Options != nil {
			if err := checkUnresolvedEnvVars(svc.Options, svc.Name); err != nil {
				return err
			}
		}
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.JournalRetention < 0 {
		return fmt.Errorf("state.journal_retention must not be negative")
	}
	if cfg.Events.Buffer < 1 {
		return fmt.Errorf("events.buffer must be positive")
	}

	if cfg.API.Enabled {
		if err := validateAuth(cfg.API.Auth); err != nil {
			return err
		}
	}
	return nil
}

func validateMemory(m MemoryConfig) error {
	if m.NonSecureSize == 0 {
		return fmt.Errorf("memory.nonsecure_size must be positive")
	}
	if m.NonSecureSize > maxArena {
		return fmt.Errorf("memory.nonsecure_size %#x exceeds %#x", m.NonSecureSize, maxArena)
	}
	if m.NonSecureStart+m.NonSecureSize < m.NonSecureStart {
		return fmt.Errorf("memory: non-secure region wraps the address space")
	}
	if m.ExecOffset >= m.NonSecureSize {
		return fmt.Errorf("memory.exec_offset %#x is outside the non-secure region", m.ExecOffset)
	}
	return nil
}

func validateAuth(auth APIAuthConfig) error {
	if envVarPattern.MatchString(auth.APIKey) {
		matches := envVarPattern.FindStringSubmatch(auth.APIKey)
		return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
	}
	for i, tok := range auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d].token is required", i)
		}
		if envVarPattern.MatchString(tok.Token) {
			matches := envVarPattern.FindStringSubmatch(tok.Token)
			return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
		}
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in
// service options.
func checkUnresolvedEnvVars(data map[string]any, service string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if envVarPattern.MatchString(v) {
				matches := envVarPattern.FindStringSubmatch(v)
				return fmt.Errorf("service %q: environment variable ${%s} is not set (options.%s)", service, matches[1], key)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, service); err != nil {
				return err
			}
		}
	}
	return nil
}
