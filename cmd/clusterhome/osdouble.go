package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/ipc"
	"github.com/1broseidon/clusterhome/internal/logging"
	"github.com/1broseidon/clusterhome/internal/osdouble"
	"github.com/1broseidon/clusterhome/internal/platform"
	"github.com/1broseidon/clusterhome/internal/tui"
	"github.com/1broseidon/clusterhome/internal/vhal"
)

func printOSDoubleUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: clusterhome osdouble <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  watch           Print every UI the cluster home reports")
	fmt.Fprintln(w, "  switch <ui>     Write CLUSTER_SWITCH_UI for <ui>")
	fmt.Fprintln(w, "  cycle           Write CLUSTER_SWITCH_UI for the UI after the reported one")
	fmt.Fprintln(w, "  tui             Interactive console: watch reports and switch from the keyboard")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "All commands accept --path PATH to pick the config that lists the UIs.")
}

func runOSDouble(args []string) int {
	if len(args) == 0 {
		printOSDoubleUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "watch", "switch", "cycle", "tui":
	case "help", "-h", "--help":
		printOSDoubleUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown osdouble command: %s\n\n", args[0])
		printOSDoubleUsage(os.Stderr)
		return 2
	}

	fs := flag.NewFlagSet("osdouble "+args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "Config file path (default: ~/.config/clusterhome/config.yaml)")
	if err := fs.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := logging.NewOrNop(cfg.GetLoggingConfig())
	defer func() { _ = logger.Sync() }()

	client := ipc.NewClient()
	double, err := osdouble.New(client, len(cfg.Activities), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "watch":
		fmt.Fprintln(os.Stderr, "watching cluster reports, Ctrl-C to stop")
		err := double.Observe(ctx, func(s vhal.ReportState) {
			name := ""
			if s.MainUI < len(cfg.Activities) {
				name = cfg.Activities[s.MainUI].Name
			}
			fmt.Printf("%s main_ui=%d (%s) sub_ui=%d availability=%v\n",
				time.Now().Format(time.RFC3339), s.MainUI, name, s.SubUI, s.Availability)
		})
		return exitCode(err)

	case "switch":
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: clusterhome osdouble switch [--path PATH] <ui>")
			return 2
		}
		ui, err := strconv.Atoi(fs.Arg(0))
		if err != nil || ui < 0 || ui >= len(cfg.Activities) {
			fmt.Fprintf(os.Stderr, "invalid ui %q: want 0..%d\n", fs.Arg(0), len(cfg.Activities)-1)
			return 2
		}
		if err := double.SwitchUI(ctx, ui); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0

	case "tui":
		if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "osdouble tui needs an interactive terminal")
			return 1
		}
		reports, err := client.WatchReports(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		uis := make([]tui.UI, 0, len(cfg.Activities))
		for _, a := range cfg.Activities {
			uis = append(uis, tui.UI{Name: a.Name, Component: a.Component})
		}
		return exitCode(tui.Run(ctx, double, reports, uis))

	default: // cycle
		if err := seedFromStatus(double, client); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if err := double.Cycle(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("requested ui %d\n", (double.Current()+1)%len(cfg.Activities))
		return 0
	}
}

// seedFromStatus feeds the daemon's last reported UI to the double, so a
// one-shot cycle starts from what the cluster shows.
func seedFromStatus(double *osdouble.Double, client *ipc.Client) error {
	status, err := client.GetStatus()
	if err != nil {
		return err
	}
	if status.UI == nil || status.UI.ReportedUIType == platform.UITypeNone {
		return nil
	}
	values, avail := vhal.EncodeReportState(vhal.ReportState{
		MainUI:       status.UI.ReportedUIType,
		SubUI:        platform.UITypeNone,
		Availability: status.UI.Availability,
	})
	double.Apply(clusterstate.Report{Values: values, Availability: avail})
	return nil
}
