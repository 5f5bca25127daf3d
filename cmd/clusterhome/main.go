package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/1broseidon/clusterhome/internal/config"
	"github.com/1broseidon/clusterhome/internal/daemon"
	"github.com/1broseidon/clusterhome/internal/ipc"
	"github.com/1broseidon/clusterhome/internal/logging"
	"github.com/1broseidon/clusterhome/internal/platform"
	"github.com/1broseidon/clusterhome/internal/platform/sim"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "displays":
		os.Exit(runDisplays(os.Args[2:]))
	case "switch":
		os.Exit(runSwitch(os.Args[2:]))
	case "cycle":
		os.Exit(runCycle(os.Args[2:]))
	case "session":
		os.Exit(runSession(os.Args[2:]))
	case "osdouble":
		os.Exit(runOSDouble(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "mcp":
		os.Exit(runMCP(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: clusterhome <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the cluster home daemon (foreground)")
	fmt.Fprintln(w, "  status              Show daemon and cluster UI status")
	fmt.Fprintln(w, "  displays            List displays and the bound cluster display")
	fmt.Fprintln(w, "  switch <ui>         Ask the cluster to show a UI")
	fmt.Fprintln(w, "  cycle               Advance the cluster to the next UI")
	fmt.Fprintln(w, "  session <phase>     Publish a user lifecycle phase")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  osdouble watch      Follow reported UIs as the cluster OS would")
	fmt.Fprintln(w, "  osdouble switch     Request a UI through CLUSTER_SWITCH_UI")
	fmt.Fprintln(w, "  osdouble cycle      Request the UI after the reported one")
	fmt.Fprintln(w, "  osdouble tui        Interactive console for watching and switching UIs")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  mcp serve           Start MCP server (stdio transport)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'clusterhome <command> --help' for command-specific options.")
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "Config file path (default: ~/.config/clusterhome/config.yaml)")
	backendName := fs.String("backend", "", "Override the configured backend (x11 or sim)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: clusterhome daemon [--path PATH] [--backend x11|sim]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Provision the cluster display and run the cluster home in the foreground.")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*path)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	if *backendName != "" {
		cfg.Backend = *backendName
		if err := cfg.Validate(); err != nil {
			log.Printf("Invalid backend override: %v", err)
			return 2
		}
	}

	logger, err := logging.New(cfg.GetLoggingConfig())
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var p daemon.Platform
	switch cfg.Backend {
	case config.BackendSim:
		p = newSimPlatform(cfg)
	default:
		xp, err := newX11Platform(cfg, logger)
		if err != nil {
			logger.Error("failed to connect to display", zap.Error(err))
			return 1
		}
		defer xp.Close()
		go xp.EventLoop()
		p = xp
	}
	logger.Info("configuration loaded",
		zap.String("backend", cfg.Backend),
		zap.Int("activities", len(cfg.Activities)),
		zap.String("cycle_key", cfg.CycleKey))

	d, err := daemon.New(daemon.Options{Config: cfg, Platform: p, Logger: logger})
	if err != nil {
		logger.Error("failed to create daemon", zap.Error(err))
		return 1
	}

	ipcServer, err := ipc.NewServer(d, logger)
	if err != nil {
		logger.Error("failed to create IPC server", zap.Error(err))
		return 1
	}
	if err := ipcServer.Start(); err != nil {
		logger.Error("failed to start IPC server", zap.Error(err))
		return 1
	}
	defer ipcServer.Stop()

	logger.Info("clusterhome daemon started", zap.String("socket", ipcServer.SocketPath()))
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon stopped", zap.Error(err))
		return 1
	}
	logger.Info("shutting down clusterhome daemon")
	return 0
}

// newSimPlatform builds the in-memory backend: a virtual cluster display
// attaches as soon as it is requested and launches land on top immediately.
func newSimPlatform(cfg *config.Config) *sim.Platform {
	zones := cfg.Zones()
	opts := []sim.Option{
		sim.WithAutoAttachVirtual(),
		sim.WithAutoConfirmLaunch(),
		sim.WithVirtualDisplayName(cfg.VirtualDisplay.Name),
		sim.WithUser(os.Getuid()),
	}
	if len(zones) > 0 {
		opts = append(opts, sim.WithZones(zones...))
	}
	return sim.New(opts...)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	res, err := config.LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// jsonOutput reports whether output should be JSON: when asked for, or when
// stdout is not a terminal.
func jsonOutput(forced bool) bool {
	return forced || !term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print JSON (default when stdout is not a terminal)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: clusterhome status [--json]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Show daemon status via IPC.")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "status takes no arguments")
		fs.Usage()
		return 2
	}

	client := ipc.NewClient()
	status, err := client.GetStatus()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if jsonOutput(*asJSON) {
		return printJSON(status)
	}

	fmt.Printf("daemon_running:   %v\n", status.DaemonRunning)
	fmt.Printf("backend:          %s\n", status.Backend)
	fmt.Printf("uptime_seconds:   %d\n", status.UptimeSeconds)
	fmt.Printf("cluster_display:  %d (%s)\n", status.Display.ID, status.Display.Mode)
	if status.Display.PendingName != "" {
		fmt.Printf("pending_display:  %s\n", status.Display.PendingName)
	}
	if status.UI == nil {
		fmt.Println("ui:               waiting for cluster display")
	} else {
		fmt.Printf("session_phase:    %s\n", status.UI.PhaseName)
		fmt.Printf("current_ui:       %d\n", status.UI.CurrentUIType)
		fmt.Printf("reported_ui:      %d\n", status.UI.ReportedUIType)
	}
	for i, a := range status.Activities {
		marker := " "
		if status.UI != nil && status.UI.CurrentUIType == i {
			marker = "*"
		}
		fmt.Printf("  %s %d  %s\n", marker, i, a)
	}
	return 0
}

func runDisplays(args []string) int {
	fs := flag.NewFlagSet("displays", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print JSON (default when stdout is not a terminal)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: clusterhome displays [--json]")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	client := ipc.NewClient()
	displays, err := client.GetDisplays()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if jsonOutput(*asJSON) {
		return printJSON(displays)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGEOMETRY\tCLUSTER")
	for _, d := range displays.Displays {
		cluster := ""
		if d.Cluster {
			cluster = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%dx%d+%d+%d\t%s\n", d.ID, d.Name, d.Width, d.Height, d.X, d.Y, cluster)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runSwitch(args []string) int {
	fs := flag.NewFlagSet("switch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: clusterhome switch <ui>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Ask the cluster to show UI index <ui>. Ignored until the user is unlocked.")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	uiType, err := strconv.Atoi(fs.Arg(0))
	if err != nil || uiType < 0 {
		fmt.Fprintf(os.Stderr, "invalid ui index %q\n", fs.Arg(0))
		return 2
	}

	id, err := ipc.NewClient().SwitchUI(uiType)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("request_id: %s\n", id)
	return 0
}

func runCycle(args []string) int {
	if len(args) > 0 {
		if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
			fmt.Fprintln(os.Stdout, "Usage: clusterhome cycle")
			return 0
		}
		fmt.Fprintln(os.Stderr, "cycle takes no arguments")
		return 2
	}
	if err := ipc.NewClient().CycleUI(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runSession(args []string) int {
	if len(args) != 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(os.Stderr, "Usage: clusterhome session <starting|switching|unlocked>")
		return 2
	}
	phase, err := platform.ParseLifecyclePhase(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := ipc.NewClient().SetSession(phase.String()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runConfig(args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  clusterhome config validate [--path PATH]")
		fmt.Fprintln(os.Stderr, "  clusterhome config print [--path PATH] [--effective|--defaults]")
		fmt.Fprintln(os.Stderr, "  clusterhome config explain [--path PATH] <yaml.path>")
		return 2
	}

	switch args[0] {
	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/clusterhome/config.yaml)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}

		if _, err := loadWithSources(*path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("config: ok")
		return 0

	case "print":
		fs := flag.NewFlagSet("print", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/clusterhome/config.yaml)")
		printDefaults := fs.Bool("defaults", false, "Print built-in defaults (no files)")
		_ = fs.Bool("effective", false, "Print effective config (default)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}

		cfg := config.DefaultConfig()
		if !*printDefaults {
			res, err := loadWithSources(*path)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			if res.File != "" {
				fmt.Printf("# loaded: %s\n", res.File)
			}
			cfg = res.Config
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Print(string(data))
		return 0

	case "explain":
		fs := flag.NewFlagSet("explain", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/clusterhome/config.yaml)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "explain requires <yaml.path>")
			return 2
		}
		queryPath := fs.Arg(0)

		res, err := loadWithSources(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		value, src, err := config.Explain(res, queryPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		out, err := yaml.Marshal(value)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		fmt.Printf("path: %s\n", queryPath)
		fmt.Printf("source: %s\n", formatSource(src))
		fmt.Printf("value:\n%s", string(out))
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		return 2
	}
}

func loadWithSources(path string) (*config.LoadResult, error) {
	if path == "" {
		return config.LoadWithSources()
	}
	return config.LoadFromPath(path)
}

func formatSource(src config.Source) string {
	switch src.Kind {
	case config.SourceFile:
		if src.File == "" {
			return "file"
		}
		if src.Line > 0 {
			return fmt.Sprintf("file:%s:%d:%d", src.File, src.Line, src.Column)
		}
		return "file:" + src.File
	case config.SourceEnv:
		if src.Name != "" {
			return "env:" + src.Name
		}
		return "env"
	case config.SourceDefault:
		if src.Name != "" {
			return "default:" + src.Name
		}
		return "default"
	default:
		return string(src.Kind)
	}
}

// exitCode maps a client error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
