package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/control"
	"github.com/kana-shii/GaugeOMatic/internal/engine"
	"github.com/kana-shii/GaugeOMatic/internal/ipc"
	"github.com/kana-shii/GaugeOMatic/internal/metrics"
	"github.com/kana-shii/GaugeOMatic/internal/state"
	"github.com/kana-shii/GaugeOMatic/internal/util"
	"github.com/kana-shii/GaugeOMatic/internal/widget"
)

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "gaugeomatic", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	logLevel := flag.String("log-level", "", "log level (trace|debug|info|warn|error); overrides the config")
	controlSocket := flag.String("socket", "", "control socket path")
	condsetSocket := flag.String("condset-socket", "", "condition-set provider request socket")
	level := flag.Int("level", config.LevelCap, "simulated player level")
	flagsRaw := flag.String("flags", "", "simulated player conditions (comma separated)")
	preview := flag.Bool("preview", false, "start with the settings surface open")
	flag.Parse()

	cfgFullPath, err := filepath.Abs(*cfgPath)
	if err != nil {
		exitErr(fmt.Errorf("resolve config path: %w", err))
	}
	cfgFullPath = filepath.Clean(cfgFullPath)

	store := config.NewFileStore(cfgFullPath)
	cfg, raw, err := store.Load()
	if err != nil {
		exitErr(fmt.Errorf("load config: %w", err))
	}
	logger := util.NewLogger(util.ParseLogLevel(firstNonEmpty(*logLevel, cfg.LogLevel, "info")))

	conditions, err := state.ParseFlags(*flagsRaw)
	if err != nil {
		exitErr(fmt.Errorf("parse flags: %w", err))
	}
	player := state.NewStaticSource(state.Player{Level: *level, Conditions: conditions})
	player.SetPreview(*preview)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		peer      ipc.Peer
		events    <-chan ipc.Event
		subscribe func() (<-chan ipc.Event, error)
	)
	requestPath, eventPath, err := ipc.SocketPaths(firstNonEmpty(*condsetSocket, cfg.ConditionSets.Socket))
	if err != nil {
		logger.Warnf("condition-set provider disabled: %v", err)
	} else {
		peer = ipc.NewClient(requestPath)
		ipcLogger := logger.With("ipc")
		subscribe = func() (<-chan ipc.Event, error) {
			return ipc.Subscribe(ctx, eventPath, ipcLogger)
		}
		if events, err = subscribe(); err != nil {
			logger.Debugf("event stream not ready: %v", err)
			events = nil
		}
	}

	collector := metrics.NewCollector(cfg.Telemetry.Enabled)
	eng := engine.New(engine.Deps{
		Config:    cfg,
		Peer:      peer,
		Store:     store,
		Player:    player,
		Widgets:   widget.Nop(),
		Logger:    logger,
		Metrics:   collector,
		Subscribe: subscribe,
	})
	eng.Start(time.Now(), events)
	logger.Infof("loaded %d tracker(s) in %d group(s) from %s", cfg.TrackerCount(), len(cfg.Jobs), cfgFullPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		exitErr(fmt.Errorf("watch config: %w", err))
	}
	defer watcher.Close()
	cfgDir := filepath.Dir(cfgFullPath)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		exitErr(fmt.Errorf("create config dir: %w", err))
	}
	if err := watcher.Add(cfgDir); err != nil {
		exitErr(fmt.Errorf("watch config dir: %w", err))
	}
	reloadRequests := make(chan string, 1)
	go watchConfig(logger, watcher, cfgFullPath, reloadRequests)

	reloader := newConfigReloader(store, logger, eng, raw)
	reload := func(reason string) error {
		return reloader.Reload(ctx, reason)
	}

	ctrlSrv, err := control.NewServer(eng, logger.With("control"), reload)
	if err != nil {
		exitErr(fmt.Errorf("start control server: %w", err))
	}
	ctrlSrv.SetSocketPath(*controlSocket)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	errs := make(chan error, 2)
	go func() {
		errs <- eng.Run(ctx)
	}()
	go func() {
		errs <- ctrlSrv.Serve(ctx)
	}()

	for {
		select {
		case err := <-errs:
			if err != nil && err != context.Canceled {
				logger.Errorf("engine exited: %v", err)
				os.Exit(1)
			}
			logger.Infof("engine stopped")
			return
		case reason := <-reloadRequests:
			if err := reload(reason); err != nil {
				logger.Errorf("reload failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reload("received SIGHUP"); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				cancel()
			}
		}
	}
}

func watchConfig(logger *util.Logger, watcher *fsnotify.Watcher, target string, reloadRequests chan<- string) {
	const debounceWindow = 250 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case reloadRequests <- "config file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
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
