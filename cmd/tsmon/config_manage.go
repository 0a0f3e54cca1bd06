package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tsmon/internal/auth"
	"github.com/mattjoyce/tsmon/internal/config"
	"github.com/mattjoyce/tsmon/internal/doctor"
	"github.com/mattjoyce/tsmon/internal/tui/tokenmgr"
)

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	if configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	files, err := config.DiscoverAllConfigFiles(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config files: %v\n", err)
		return 1
	}

	reports, err := config.GenerateChecksums(files, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if isVerbose {
		for _, report := range reports {
			fmt.Printf("Processing directory: %s\n", report.ConfigDir)
			for _, file := range report.Files {
				fmt.Printf("  HASH %s: %s\n", file.Filename, file.Hash)
			}
			if dryRun {
				fmt.Printf("  DRY-RUN %s: %s (not written)\n", config.ChecksumFile, report.ChecksumPath)
			} else {
				fmt.Printf("  WROTE %s: %s\n", config.ChecksumFile, report.ChecksumPath)
			}
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %d directory/ies (no files written):\n", len(reports))
	} else {
		fmt.Printf("Successfully locked configuration in %d directory/ies:\n", len(reports))
	}
	for _, report := range reports {
		fmt.Printf("  - %s\n", report.ConfigDir)
	}
	return 0
}

// checkReport is the JSON shape of "config check".
type checkReport struct {
	Valid    bool     `json:"valid"`
	Config   string   `json:"config"`
	Services int      `json:"services"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	report := checkReport{Valid: true, Config: configPath}

	integrity, err := config.VerifyIntegrity(configPath)
	if err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.Warnings = append(report.Warnings, integrity.Warnings...)
		report.Errors = append(report.Errors, integrity.Errors...)
		report.Valid = integrity.Passed
	}

	// Load re-verifies hashes, so skip it when integrity already failed.
	if report.Valid {
		cfg, err := config.Load(configPath)
		if err != nil {
			report.Valid = false
			report.Errors = append(report.Errors, err.Error())
		} else {
			report.Services = len(cfg.Services)
			result := doctor.New(cfg).Validate()
			for _, e := range result.Errors {
				report.Errors = append(report.Errors, formatIssue(e))
			}
			for _, w := range result.Warnings {
				report.Warnings = append(report.Warnings, formatIssue(w))
			}
			report.Valid = result.Valid
		}
	}

	if jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Print(formatCheckHuman(report))
	}

	if !report.Valid {
		return 1
	}
	if strict && len(report.Warnings) > 0 {
		return 2
	}
	return 0
}

func formatIssue(i doctor.Issue) string {
	if i.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", i.Category, i.Field, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Category, i.Message)
}

func formatCheckHuman(r checkReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Config: %s\n", r.Config)
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  ERROR %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  WARN  %s\n", w)
	}
	if r.Valid {
		fmt.Fprintf(&b, "Status: Configuration check PASSED (%d services).\n", r.Services)
	} else {
		b.WriteString("Status: Configuration check FAILED.\n")
	}
	return b.String()
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

// tokenEntry is printed for pasting under api.auth.tokens.
type tokenEntry struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

func runTokenNew(args []string) int {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	scopeList := fs.String("scopes", "", "Comma-separated scopes; omit to pick interactively")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	var scopes []string
	if *scopeList != "" {
		var err error
		if scopes, err = parseScopes(*scopeList); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	} else {
		final, err := tea.NewProgram(tokenmgr.New(auth.KnownScopes())).Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Scope picker failed: %v\n", err)
			return 1
		}
		scopes = final.(tokenmgr.Model).Scopes()
	}
	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "No scopes selected; no token minted.")
		return 1
	}

	token, err := auth.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		return 1
	}

	out, _ := yaml.Marshal([]tokenEntry{{Token: token, Scopes: scopes}})
	fmt.Println("# Add under api.auth.tokens, then run 'tsmon config lock'.")
	fmt.Print(string(out))
	return 0
}

func parseScopes(list string) ([]string, error) {
	known := make(map[string]bool)
	for _, s := range auth.KnownScopes() {
		known[s.Scope] = true
	}

	var scopes []string
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !known[s] {
			return nil, fmt.Errorf("unknown scope %q", s)
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}
