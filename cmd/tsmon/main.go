package main

import (
	"fmt"
	"os"

	"github.com/mattjoyce/tsmon/internal/config"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	os.Exit(run(os.Args[1], os.Args[2:]))
}

func run(cmd string, args []string) int {
	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "token":
		return runTokenNoun(args)

	// --- VERBS ---
	case "call":
		if hasHelpFlag(args) {
			printCallHelp()
			return 0
		}
		return runCall(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version":
		fmt.Printf("tsmon version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`tsmon - Trusted services monitor

Usage:
  tsmon <noun> <action> [flags]
  tsmon <verb> [flags]

Core Resources (Nouns):
  system    Monitor lifecycle
  config    Configuration and integrity
  token     Gateway bearer tokens

System Commands:
  system start      Boot the monitor and enter the non-secure world
  system status     Show the last recorded boot
  system inspect    Explain one journaled call

Config Commands:
  config lock       Authorize current state (write integrity hashes)
  config check      Validate syntax, policy, and integrity
  config show       Print the resolved configuration

Token Commands:
  token new         Pick scopes and mint a bearer token

Gateway Commands:
  call              Trap into the monitor through the gateway
  watch             Live view of service slots and events

General:
  version           Show version information
  help              Show this help message

Use 'tsmon <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runStatus(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printSystemInspectHelp()
			return 0
		}
		return runInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runTokenNoun(args []string) int {
	if len(args) < 1 {
		printTokenNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printTokenNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "new":
		if hasHelpFlag(actionArgs) {
			printTokenNewHelp()
			return 0
		}
		return runTokenNew(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown token action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func loadConfigForTool(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	return cfg, configPath, err
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tsmon system <action>")
	fmt.Fprintln(w, "Actions: start, status, inspect")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tsmon config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check, show")
}

func printTokenNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tsmon token <action>")
	fmt.Fprintln(w, "Actions: new")
}

func printSystemStartHelp() {
	fmt.Println("Usage: tsmon system start [--config PATH]")
	fmt.Println("Boot the monitor in the foreground. Configuration faults halt the process.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: tsmon system status [--config PATH] [--json]")
	fmt.Println("Show the last boot recorded in the state database.")
}

func printSystemInspectHelp() {
	fmt.Println("Usage: tsmon system inspect <call-id> [--config PATH] [--json]")
	fmt.Println("Show a journaled call with its boot and the earlier calls to the same handle.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: tsmon config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating .checksums manifests.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: tsmon config check [--config PATH] [--strict] [--json]")
	fmt.Println("Validate configuration syntax, policy, and integrity.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: tsmon config show [--config PATH] [--json]")
	fmt.Println("Show the resolved configuration.")
}

func printTokenNewHelp() {
	fmt.Println("Usage: tsmon token new [--scopes a,b,c]")
	fmt.Println("Mint a bearer token and print its config entry. Without --scopes an interactive picker opens.")
}

func printCallHelp() {
	fmt.Println("Usage: tsmon call [--url URL] [--token TOKEN] [--config PATH]")
	fmt.Println("                  (--handle H | --service NAME) [--addr A] [--len N] [--timeout US]")
	fmt.Println("                  [--data STRING] [--read N] [--json]")
	fmt.Println("Trap into the monitor. H accepts a number or one of discovery, query, idle, version.")
	fmt.Println("--service discovers the handle by name first, staging the name at --addr.")
}

func printWatchHelp() {
	fmt.Println("Usage: tsmon watch [--url URL] [--token TOKEN] [--config PATH]")
	fmt.Println("Open the live slot monitor.")
}
