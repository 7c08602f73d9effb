package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/edgeclaw/internal/api"
	"github.com/mattjoyce/edgeclaw/internal/config"
	"github.com/mattjoyce/edgeclaw/internal/doctor"
	"github.com/mattjoyce/edgeclaw/internal/health"
	"github.com/mattjoyce/edgeclaw/internal/log"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
	"github.com/mattjoyce/edgeclaw/internal/signing"
	"github.com/mattjoyce/edgeclaw/internal/tui"
)

const defaultServerURL = "http://127.0.0.1:8080"

// loadConfigForTool resolves path (or the discovered default) into a validated config.
func loadConfigForTool(path string) (*config.Config, error) {
	if path == "" {
		path = config.Discover()
	}
	return config.Load(path)
}

// parseInterspersed parses flags that may appear before or after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// --- system ---

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	url := fs.String("url", defaultServerURL, "Base URL of a running server")
	jsonOut := fs.Bool("json", false, "Print the raw readiness document")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	base := strings.TrimRight(*url, "/")
	client := &http.Client{Timeout: 5 * time.Second}

	healthCode, _, err := getBody(client, base+"/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server unreachable at %s: %v\n", base, err)
		return 1
	}
	readyCode, readyBody, err := getBody(client, base+"/health/ready")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Readiness check failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		fmt.Println(string(readyBody))
	} else {
		var ready api.ReadinessResponse
		if err := json.Unmarshal(readyBody, &ready); err != nil {
			fmt.Fprintf(os.Stderr, "Unexpected readiness response: %v\n", err)
			return 1
		}
		fmt.Printf("Server:   %s (health %d)\n", base, healthCode)
		status := "ready"
		if !ready.Ready {
			status = "not ready"
		}
		fmt.Printf("Status:   %s (llm_loaded=%t memory_ok=%t)\n", status, ready.LLMLoaded, ready.MemoryOK)
		fmt.Printf("Model:    %s\n", ready.Model)
		fmt.Printf("Queue:    %d/%d\n", ready.QueueDepth, ready.QueueCapacity)
		fmt.Printf("Plugins:  %d routable\n", ready.PluginsRoutable)
	}

	if healthCode != http.StatusOK || readyCode != http.StatusOK {
		return 1
	}
	return 0
}

func getBody(client *http.Client, url string) (int, []byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func runSystemMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	url := fs.String("url", defaultServerURL, "Base URL of a running server")
	apiKey := fs.String("api-key", os.Getenv("EDGECLAW_API_KEY"), "Admin API key for the event stream")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(tui.NewMonitor(ctx, *url, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Monitor failed: %v\n", err)
		return 1
	}
	return 0
}

func runSystemDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	var snap *plugin.Snapshot
	if info, err := os.Stat(cfg.Plugins.Dir); err == nil && info.IsDir() {
		if snap, err = scanPlugins(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to scan plugins: %v\n", err)
			return 1
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var host *health.Host
	if h, err := health.NewProbe().Sample(ctx); err == nil {
		host = &h
	}

	result := doctor.New(cfg, snap, host).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

// --- plugin ---

// scanPlugins runs one registry scan without starting a server. Unlike startup, an
// unreadable plugin directory is reported to the operator.
func scanPlugins(cfg *config.Config) (*plugin.Snapshot, error) {
	id, err := signing.LoadOrGenerateIdentity(cfg.State.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}
	return plugin.Load(pluginOptions(cfg, id, log.Discard()))
}

type pluginReport struct {
	Commands   []plugin.CommandInfo `json:"commands"`
	Records    []*plugin.Record     `json:"records"`
	Exclusions []plugin.Exclusion   `json:"exclusions"`
	Collisions []plugin.Collision   `json:"collisions"`
}

func reportOf(snap *plugin.Snapshot) pluginReport {
	r := pluginReport{
		Commands:   snap.Table.Commands(),
		Records:    snap.Records,
		Exclusions: snap.Exclusions,
		Collisions: snap.Collisions,
	}
	if r.Records == nil {
		r.Records = []*plugin.Record{}
	}
	if r.Exclusions == nil {
		r.Exclusions = []plugin.Exclusion{}
	}
	if r.Collisions == nil {
		r.Collisions = []plugin.Collision{}
	}
	return r
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	snap, err := scanPlugins(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to scan plugins: %v\n", err)
		return 1
	}

	report := reportOf(snap)
	if *jsonOut {
		return printJSON(report)
	}

	fmt.Printf("Plugin dir: %s\n\n", cfg.Plugins.Dir)
	if len(report.Commands) == 0 {
		fmt.Println("No routable commands.")
	} else {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMMAND\tPLUGIN\tDESCRIPTION")
		for _, c := range report.Commands {
			fmt.Fprintf(tw, "/%s\t%s\t%s\n", c.Command, c.Plugin, c.Description)
		}
		_ = tw.Flush()
	}
	printExclusions(os.Stdout, report)
	return 0
}

func printExclusions(w io.Writer, report pluginReport) {
	if len(report.Exclusions) > 0 {
		fmt.Fprintf(w, "\nExcluded (%d):\n", len(report.Exclusions))
		for _, e := range report.Exclusions {
			name := e.Plugin
			if name == "" {
				name = filepath.Base(e.Path)
			}
			fmt.Fprintf(w, "  %-20s %s", name, e.Reason)
			if e.Detail != "" {
				fmt.Fprintf(w, ": %s", e.Detail)
			}
			fmt.Fprintln(w)
		}
	}
	for _, c := range report.Collisions {
		winner := c.Winner
		if winner == "" {
			winner = "(dropped)"
		}
		fmt.Fprintf(w, "\nCollision on /%s between %s; routed to %s\n", c.Command, strings.Join(c.Claimants, ", "), winner)
	}
}

func runPluginVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	snap, err := scanPlugins(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to scan plugins: %v\n", err)
		return 1
	}

	for _, rec := range snap.Records {
		fmt.Printf("%-20s %s\n", rec.Name(), rec.Status)
	}
	report := reportOf(snap)
	printExclusions(os.Stdout, report)

	if len(snap.Exclusions) > 0 {
		fmt.Fprintf(os.Stderr, "\n%d plugin(s) failed verification\n", len(snap.Exclusions))
		return 1
	}
	fmt.Printf("\nAll %d plugin(s) verified\n", len(snap.Records))
	return 0
}

func runPluginSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: edgeclaw plugin sign <executable> [--config PATH]")
		return 1
	}
	exe := positional[0]

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	id, err := signing.LoadOrGenerateIdentity(cfg.State.KeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load device identity: %v\n", err)
		return 1
	}
	if err := id.SignFile(exe, exe+".sig"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign %s: %v\n", exe, err)
		return 1
	}
	fmt.Printf("Signed %s\n", exe)
	fmt.Printf("Signature: %s.sig\n", exe)
	fmt.Printf("Key:       %s\n", id.PublicKeyHex())
	return 0
}

// --- key ---

func runKeyShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	id, err := signing.LoadOrGenerateIdentity(cfg.State.KeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load device identity: %v\n", err)
		return 1
	}
	fmt.Println(id.PublicKeyHex())
	return 0
}

// --- config ---

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		if *jsonOut {
			printJSON(map[string]any{"valid": false, "error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		}
		return 1
	}
	digest, err := cfg.Digest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compute digest: %v\n", err)
		return 1
	}

	source := cfg.SourcePath
	if source == "" {
		source = "(defaults + environment)"
	}
	if *jsonOut {
		return printJSON(map[string]any{"valid": true, "source": source, "digest": digest})
	}
	fmt.Println("Configuration valid")
	fmt.Printf("Source: %s\n", source)
	fmt.Printf("Digest: %s\n", digest)
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: edgeclaw config get <path> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	val, err := cfg.GetPath(positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(val)
	}
	switch v := val.(type) {
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		fmt.Print(string(out))
	default:
		fmt.Println(v)
	}
	return 0
}
