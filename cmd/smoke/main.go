package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/engine"
	"github.com/kana-shii/GaugeOMatic/internal/ipc"
	"github.com/kana-shii/GaugeOMatic/internal/rules"
	"github.com/kana-shii/GaugeOMatic/internal/state"
	"github.com/kana-shii/GaugeOMatic/internal/util"
	"github.com/kana-shii/GaugeOMatic/internal/widget"
)

// dryStore keeps reconciler saves away from the real config file.
type dryStore struct {
	logger *util.Logger
}

func (s dryStore) Save(*config.Configuration) error {
	s.logger.Infof("dry run: skipping config save")
	return nil
}

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "gaugeomatic", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	socket := flag.String("condset-socket", "", "condition-set provider request socket")
	level := flag.Int("level", config.LevelCap, "player level to evaluate against")
	flagsRaw := flag.String("flags", "", "player conditions (comma separated)")
	flag.Parse()

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		exitErr(fmt.Errorf("load config: %w", err))
	}
	conditions, err := state.ParseFlags(*flagsRaw)
	if err != nil {
		exitErr(fmt.Errorf("parse flags: %w", err))
	}

	requestPath, _, err := ipc.SocketPaths(firstNonEmpty(*socket, cfg.ConditionSets.Socket))
	if err != nil {
		exitErr(fmt.Errorf("locate provider: %w", err))
	}

	fmt.Printf("Loaded config from %s\n", *cfgPath)
	fmt.Println("\n=== Configuration ===")
	if err := marshalYAML(cfg); err != nil {
		logger.Warnf("failed to print config: %v", err)
	}

	eng := engine.New(engine.Deps{
		Config:  cfg,
		Peer:    ipc.NewClient(requestPath),
		Store:   dryStore{logger: logger},
		Player:  state.NewStaticSource(state.Player{Level: *level, Conditions: conditions}),
		Widgets: widget.Nop(),
		Logger:  logger,
	})
	now := time.Now()
	eng.Start(now, nil)
	eng.Tick(now)

	st := eng.Status()
	fmt.Println("\n=== Provider ===")
	if err := marshalJSON(st.Provider); err != nil {
		logger.Warnf("failed to print provider status: %v", err)
	}
	if sets := eng.ConditionSets(); len(sets) > 0 {
		fmt.Println("\n=== Condition Sets ===")
		for _, set := range sets {
			fmt.Printf("%d: %s (active: %t)\n", set.Index, set.Name, st.Observed[set.Index])
		}
	}

	fmt.Println("\n=== Trackers ===")
	if len(st.Trackers) == 0 {
		fmt.Println("No trackers configured.")
	}
	for _, t := range st.Trackers {
		ok, trace, err := eng.Explain(t.Job, t.Position)
		if err != nil {
			logger.Warnf("explain %s[%d]: %v", t.Job, t.Position, err)
			continue
		}
		fmt.Printf("%s[%d] %s → available: %t\n", t.Job, t.Position, t.TrackerType, ok)
		for _, line := range rules.Summarize(trace) {
			fmt.Printf("  %s\n", line)
		}
	}

	if history := eng.History(); len(history) > 0 {
		fmt.Println("\n=== Reconciliation ===")
		if err := marshalJSON(history); err != nil {
			logger.Warnf("failed to print history: %v", err)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func marshalYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func marshalJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
