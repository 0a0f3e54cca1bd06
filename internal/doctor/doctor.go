// Package doctor checks a loaded tsmon configuration for the faults that
// would halt the monitor at boot, plus softer policy warnings.
package doctor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/tsmon/internal/auth"
	"github.com/mattjoyce/tsmon/internal/boot"
	"github.com/mattjoyce/tsmon/internal/config"
	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/events"
	"github.com/mattjoyce/tsmon/internal/memory"
	"github.com/mattjoyce/tsmon/internal/services"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration without booting it.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateMemoryMap(r)
	d.validateServiceTable(r)
	d.validateServiceOptions(r)
	d.validateTokenScopes(r)
	d.warnDuplicateNames(r)
	d.warnStallTimeouts(r)
	d.warnAPIAuth(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateMemoryMap checks the layout the boundary will be partitioned with.
func (d *Doctor) validateMemoryMap(r *Result) {
	if err := boot.MemoryMap(d.cfg.Memory).Validate(); err != nil {
		d.addError(r, "memory", "memory", err.Error())
	}
}

// validateServiceTable mirrors the boot-time table check: bindings must equal
// positions and priorities must sit strictly between the scheduler's normal
// and high priorities.
func (d *Doctor) validateServiceTable(r *Result) {
	svcs := d.cfg.Services
	if len(svcs) > dispatch.MaxSlots {
		d.addError(r, "table", "services",
			fmt.Sprintf("%d services configured, max is %d", len(svcs), dispatch.MaxSlots))
	}

	normal, high := d.cfg.Scheduler.NormalPrio, d.cfg.Scheduler.HighPrio
	for i, s := range svcs {
		field := fmt.Sprintf("services[%d]", i)
		if b := s.Binding(i); b != i {
			d.addError(r, "table", field+".slot",
				fmt.Sprintf("service %q bound to slot %d but listed at %d; boot would halt", s.Name, b, i))
		}
		if s.Priority <= normal || s.Priority >= high {
			d.addError(r, "table", field+".priority",
				fmt.Sprintf("service %q priority %d not strictly between %d and %d; boot would halt", s.Name, s.Priority, normal, high))
		}
		if !services.Known(s.Kind) {
			d.addError(r, "table", field+".kind",
				fmt.Sprintf("service %q has unknown kind %q (known: %s)", s.Name, s.Kind, strings.Join(services.Kinds(), ", ")))
		}
	}
}

// validateServiceOptions builds each known service against a scratch region
// so option parse errors surface before boot.
func (d *Doctor) validateServiceOptions(r *Result) {
	scratch, err := memory.NewRegion(d.cfg.Memory.NonSecureStart, 1)
	if err != nil {
		return
	}
	hub := events.NewHub(1)

	for i, s := range d.cfg.Services {
		if !services.Known(s.Kind) {
			continue
		}
		_, err := services.Build(s.Kind, services.Env{
			Name:   s.Name,
			Region: scratch,
			Hub:    hub,
			Params: s.Options,
		})
		if err != nil {
			d.addError(r, "options", fmt.Sprintf("services[%d].options", i), err.Error())
		}
	}
}

// validateTokenScopes checks that every token scope is one the gateway knows.
func (d *Doctor) validateTokenScopes(r *Result) {
	known := make(map[string]bool)
	for _, s := range auth.KnownScopes() {
		known[s.Scope] = true
	}

	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		for j, scope := range token.Scopes {
			if !known[scope] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// warnDuplicateNames flags services that discovery can never return.
func (d *Doctor) warnDuplicateNames(r *Result) {
	first := make(map[string]int)
	for i, s := range d.cfg.Services {
		if j, seen := first[s.Name]; seen {
			d.addWarning(r, "table", fmt.Sprintf("services[%d].name", i),
				fmt.Sprintf("service name %q duplicates services[%d]; discovery only returns the first", s.Name, j))
			continue
		}
		first[s.Name] = i
	}
}

// warnStallTimeouts flags stall services that can never finish inside the
// caller's longest wait.
func (d *Doctor) warnStallTimeouts(r *Result) {
	for i, s := range d.cfg.Services {
		if s.Kind != "stall" {
			continue
		}
		raw, ok := s.Options["delay"].(string)
		if !ok {
			raw = "1s"
		}
		delay, err := time.ParseDuration(raw)
		if err != nil {
			continue
		}
		if delay >= d.cfg.Monitor.MaxTimeout {
			d.addWarning(r, "timeout", fmt.Sprintf("services[%d].options.delay", i),
				fmt.Sprintf("service %q stalls %s, at least monitor.max_timeout %s; every call will be interrupted",
					s.Name, delay, d.cfg.Monitor.MaxTimeout))
		}
	}
}

func (d *Doctor) warnAPIAuth(r *Result) {
	a := d.cfg.API.Auth
	if !d.cfg.API.Enabled {
		return
	}
	if a.APIKey != "" && len(a.Tokens) > 0 {
		d.addWarning(r, "api", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if a.APIKey != "" && len(a.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth.api_key",
			"api_key grants full access; prefer scoped tokens")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
