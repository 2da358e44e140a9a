package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/control/client"
	"github.com/kana-shii/GaugeOMatic/internal/ui/tui"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(argv []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("gomaticctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	socket := fs.String("socket", "", "path to GaugeOMatic control socket")
	timeout := fs.Duration("timeout", 3*time.Second, "control request timeout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] <command> [args]\n", fs.Name())
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Commands:")
		fmt.Fprintln(fs.Output(), "  status\t\t\tshow provider and tracker state")
		fmt.Fprintln(fs.Output(), "  sets\t\t\tlist condition sets")
		fmt.Fprintln(fs.Output(), "  assign <index> [job]\tbind trackers to a set (-1 clears)")
		fmt.Fprintln(fs.Output(), "  reprobe\t\tre-check provider availability")
		fmt.Fprintln(fs.Output(), "  reload\t\ttrigger a live config reload")
		fmt.Fprintln(fs.Output(), "  history\t\tshow recent reconciliation batches")
		fmt.Fprintln(fs.Output(), "  explain <job> <pos>\ttrace a tracker's display rule")
		fmt.Fprintln(fs.Output(), "  player <level> [flags]\tset the simulated player state")
		fmt.Fprintln(fs.Output(), "  tui\t\t\tlaunch the live status view")
		fmt.Fprintln(fs.Output(), "  check --config <path>\tvalidate a configuration file")
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Flags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("missing subcommand")
	}

	if args[0] == "check" {
		return runCheck(args[1:], stdout, stderr)
	}

	cli, err := client.New(*socket)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if args[0] == "tui" {
		return runTUI(cli, stdout)
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	switch args[0] {
	case "status":
		return runStatus(ctx, cli, stdout)
	case "sets":
		return runSets(ctx, cli, stdout)
	case "assign":
		return runAssign(ctx, cli, args[1:], stdout)
	case "reprobe":
		return runReprobe(ctx, cli, stdout)
	case "reload":
		if err := cli.Reload(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Reload requested")
		return nil
	case "history":
		return runHistory(ctx, cli, stdout)
	case "explain":
		return runExplain(ctx, cli, args[1:], stdout)
	case "player":
		return runPlayer(ctx, cli, args[1:], stdout, stderr)
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func runCheck(args []string, stdout io.Writer, stderr io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *configPath == "" {
		fs.Usage()
		return fmt.Errorf("check requires --config <path>")
	}

	lintErrs, err := config.LintFile(*configPath)
	if err != nil {
		return err
	}
	if len(lintErrs) == 0 {
		fmt.Fprintln(stdout, "Configuration OK")
		return nil
	}

	fmt.Fprintf(stderr, "Configuration has %d issue(s):\n", len(lintErrs))
	for _, lintErr := range lintErrs {
		fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
	}
	return fmt.Errorf("configuration validation failed")
}

func runStatus(ctx context.Context, cli *client.Client, stdout io.Writer) error {
	st, err := cli.Status(ctx)
	if err != nil {
		return err
	}
	p := st.Provider
	if p.Enabled {
		fmt.Fprintf(stdout, "Provider: enabled (protocol %d, version %s, %d set(s))\n", p.ProtocolVersion, p.ServiceVersion, p.SetCount)
	} else {
		fmt.Fprintln(stdout, "Provider: unavailable")
	}
	if p.LastError != "" {
		fmt.Fprintf(stdout, "Last error: %s\n", p.LastError)
	}
	fmt.Fprintf(stdout, "Frames: %d\n", st.Frames)
	if !st.LastPass.IsZero() {
		fmt.Fprintf(stdout, "Last pass: %s\n", st.LastPass.Format(time.RFC3339))
	}
	if len(st.Trackers) == 0 {
		fmt.Fprintln(stdout, "No trackers configured")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\t#\tTYPE\tSET\tENABLED\tVISIBLE")
	for _, t := range st.Trackers {
		enabled := strconv.FormatBool(t.Enabled)
		if t.AutoDisabled {
			enabled = "auto-off"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%t\n", t.Job, t.Position, t.TrackerType, t.ConditionSet, enabled, t.Visible)
	}
	return tw.Flush()
}

func runSets(ctx context.Context, cli *client.Client, stdout io.Writer) error {
	sets, err := cli.Sets(ctx)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		fmt.Fprintln(stdout, "No condition sets")
		return nil
	}
	for _, set := range sets {
		fmt.Fprintf(stdout, "%d\t%s\n", set.Index, set.Name)
	}
	return nil
}

func runAssign(ctx context.Context, cli *client.Client, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("assign requires a condition set index")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}
	job := ""
	if len(args) > 1 {
		job = args[1]
	}
	changed, err := cli.Assign(ctx, index, job)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Updated %d tracker(s)\n", changed)
	return nil
}

func runReprobe(ctx context.Context, cli *client.Client, stdout io.Writer) error {
	enabled, err := cli.Reprobe(ctx)
	if err != nil {
		return err
	}
	if enabled {
		fmt.Fprintln(stdout, "Provider available")
	} else {
		fmt.Fprintln(stdout, "Provider unavailable")
	}
	return nil
}

func runHistory(ctx context.Context, cli *client.Client, stdout io.Writer) error {
	batches, err := cli.History(ctx)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Fprintln(stdout, "No reconciliation history")
		return nil
	}
	for _, b := range batches {
		fmt.Fprintf(stdout, "%s %s sets=%v changes=%d\n", b.Timestamp.Format(time.RFC3339), b.Kind, b.Indices, len(b.Changes))
		for _, c := range b.Changes {
			fmt.Fprintf(stdout, "  %s[%d] %s: %s (set %d)\n", c.Job, c.Position, c.TrackerType, c.Action, c.ConditionSet)
		}
		if b.SaveError != "" {
			fmt.Fprintf(stdout, "  save failed: %s\n", b.SaveError)
		}
	}
	return nil
}

func runExplain(ctx context.Context, cli *client.Client, args []string, stdout io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("explain requires a job and a tracker position")
	}
	pos, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid position %q", args[1])
	}
	res, err := cli.Explain(ctx, args[0], pos)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s[%d] available: %t\n", strings.ToUpper(args[0]), pos, res.Available)
	for _, line := range res.Lines {
		fmt.Fprintf(stdout, "  %s\n", line)
	}
	return nil
}

func runPlayer(ctx context.Context, cli *client.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("player", flag.ContinueOnError)
	fs.SetOutput(stderr)
	settingsOpen := fs.Bool("settings", false, "mark the settings surface open")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("player requires a level")
	}
	level, err := strconv.Atoi(rest[0])
	if err != nil {
		return fmt.Errorf("invalid level %q", rest[0])
	}
	flags := ""
	if len(rest) > 1 {
		flags = rest[1]
	}
	if err := cli.SetPlayer(ctx, level, flags, *settingsOpen); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Player state updated")
	return nil
}

func runTUI(cli *client.Client, stdout io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	renderer := tui.New(cli, stdout)
	if err := renderer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
