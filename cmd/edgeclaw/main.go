package main

import (
	"fmt"
	"io"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := argv[0]
	args := argv[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "plugin":
		return runPluginNoun(args)
	case "key":
		return runKeyNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start", "serve":
		return runStart(args)
	case "version":
		fmt.Printf("edgeclaw version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `edgeclaw - Edge inference server with signed, sandboxed plugins

Usage:
  edgeclaw <noun> <action> [flags]

Core Resources (Nouns):
  system    Server lifecycle and health
  plugin    Plugin discovery, signing, and verification
  key       Device identity
  config    Configuration validation and inspection

System Commands:
  system start              Start the server in the foreground
  system status             Query a running server's readiness
  system monitor            Live TUI of server activity
  system doctor             Check model, plugins, and state paths before starting

Plugin Commands:
  plugin list               Show routable commands and excluded plugins
  plugin sign <executable>  Sign an executable with the device key
  plugin verify             Verify every plugin; exit 1 if any is excluded

Key Commands:
  key show                  Print the device id (public key hex)

Config Commands:
  config check              Validate configuration and print its digest
  config get <path>         Read one value from the resolved configuration

General:
  version                   Show version information
  help                      Show this help message

Use 'edgeclaw <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

type action struct {
	run  func([]string) int
	help string
}

func dispatch(noun string, actions map[string]action, order []string, args []string) int {
	printNounHelp := func(w io.Writer) {
		fmt.Fprintf(w, "Usage: edgeclaw %s <action> [flags]\n\nActions:\n", noun)
		for _, name := range order {
			fmt.Fprintf(w, "  %s\n", actions[name].help)
		}
	}

	if len(args) < 1 {
		printNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printNounHelp(os.Stdout)
		return 0
	}

	act, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		return 1
	}
	if hasHelpFlag(args[1:]) {
		fmt.Println("Usage: edgeclaw " + noun + " " + act.help)
		return 0
	}
	return act.run(args[1:])
}

func runSystemNoun(args []string) int {
	return dispatch("system", map[string]action{
		"start":   {runStart, "start [--config PATH]          Start the server in the foreground"},
		"status":  {runSystemStatus, "status [--url URL]            Query /health and /health/ready"},
		"monitor": {runSystemMonitor, "monitor [--url URL --api-key KEY]  Live activity TUI"},
		"doctor":  {runSystemDoctor, "doctor [--config PATH] [--json]  Check the deployment"},
	}, []string{"start", "status", "monitor", "doctor"}, args)
}

func runPluginNoun(args []string) int {
	return dispatch("plugin", map[string]action{
		"list":   {runPluginList, "list [--config PATH] [--json]  Show routable commands and exclusions"},
		"sign":   {runPluginSign, "sign <executable> [--config PATH]  Write <executable>.sig with the device key"},
		"verify": {runPluginVerify, "verify [--config PATH]        Verify every plugin"},
	}, []string{"list", "sign", "verify"}, args)
}

func runKeyNoun(args []string) int {
	return dispatch("key", map[string]action{
		"show": {runKeyShow, "show [--config PATH]          Print the device id"},
	}, []string{"show"}, args)
}

func runConfigNoun(args []string) int {
	return dispatch("config", map[string]action{
		"check": {runConfigCheck, "check [--config PATH] [--json]  Validate and print the config digest"},
		"get":   {runConfigGet, "get <path> [--config PATH] [--json]  Read one resolved value"},
	}, []string{"check", "get"}, args)
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
