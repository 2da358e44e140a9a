// Package engine drives the per-frame loop: it pumps provider events, runs the
// reconciler and updates tracker visibility. All state is owned by the frame
// goroutine; callers reach it through Do.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/condset"
	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/ipc"
	"github.com/kana-shii/GaugeOMatic/internal/metrics"
	"github.com/kana-shii/GaugeOMatic/internal/reconcile"
	"github.com/kana-shii/GaugeOMatic/internal/rules"
	"github.com/kana-shii/GaugeOMatic/internal/state"
	"github.com/kana-shii/GaugeOMatic/internal/tracker"
	"github.com/kana-shii/GaugeOMatic/internal/util"
	"github.com/kana-shii/GaugeOMatic/internal/widget"
)

// DefaultFrameInterval approximates a 60 Hz host frame loop.
const DefaultFrameInterval = time.Second / 60

const snapshotTimeout = 5 * time.Millisecond

// ErrNotRunning is returned by Do after Run has returned.
var ErrNotRunning = errors.New("engine not running")

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	*time.Ticker
}

func (t realTicker) C() <-chan time.Time {
	return t.Ticker.C
}

// previewer is implemented by player sources that know whether the settings
// surface is open.
type previewer interface {
	Preview() bool
}

// playerSetter is implemented by player sources the control API may drive.
type playerSetter interface {
	Set(state.Player)
	SetPreview(bool)
}

// Deps are the collaborators the engine wires together.
type Deps struct {
	Config  *config.Configuration
	Peer    ipc.Peer
	Store   config.Saver
	Player  state.Source
	Widgets widget.Factory
	Logger  *util.Logger
	Metrics *metrics.Collector
	// Subscribe reopens the provider event stream while availability is polled.
	Subscribe func() (<-chan ipc.Event, error)
}

// Engine ties the condition-set service, reconciler and tracker manager together.
type Engine struct {
	logger     *util.Logger
	condsets   *condset.Service
	reconciler *reconcile.Reconciler
	manager    *tracker.Manager
	player     state.Source
	metrics    *metrics.Collector

	frames    uint64
	lastFrame tracker.Frame
	started   bool

	requests      chan func()
	done          chan struct{}
	frameInterval time.Duration
	tickerFactory func(time.Duration) ticker
}

// New builds an engine from deps. The configuration must already be validated.
func New(deps Deps) *Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	player := deps.Player
	if player == nil {
		player = state.NewStaticSource(state.Player{Level: config.LevelCap})
	}

	svc := condset.New(deps.Peer, logger.With("condset"), condset.Options{
		PollInterval: cfg.ConditionSets.PollInterval,
		ProbeTimeout: cfg.ConditionSets.ProbeTimeout,
		CallTimeout:  cfg.ConditionSets.CallTimeout,
		Subscribe:    deps.Subscribe,
	})
	mgr := tracker.NewManager(cfg, svc, deps.Widgets, logger.With("tracker"))
	rec := reconcile.New(cfg, svc, deps.Store, mgr, logger.With("reconcile"), reconcile.Options{
		PollInterval: cfg.ConditionSets.PollInterval,
		Metrics:      deps.Metrics,
	})

	svc.OnEnabledChanged(rec.HandleEnabledChanged)
	svc.OnSetMoved(func(from, to int) { rec.Moved(from, to) })
	svc.OnSetRemoved(func(index int) { rec.Removed(index) })

	return &Engine{
		logger:        logger,
		condsets:      svc,
		reconciler:    rec,
		manager:       mgr,
		player:        player,
		metrics:       deps.Metrics,
		requests:      make(chan func(), 16),
		done:          make(chan struct{}),
		frameInterval: DefaultFrameInterval,
		tickerFactory: func(d time.Duration) ticker {
			return realTicker{time.NewTicker(d)}
		},
	}
}

// Start opens the provider polling window and attaches the optional push stream.
func (e *Engine) Start(now time.Time, events <-chan ipc.Event) {
	e.started = true
	e.condsets.Start(now, events)
}

// Run drives frames until ctx is cancelled. Start is called first if needed.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	if !e.started {
		e.Start(time.Now(), nil)
	}
	tick := e.tickerFactory(e.frameInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			e.manager.Dispose()
			return ctx.Err()
		case fn := <-e.requests:
			fn()
		case now := <-tick.C():
			e.Tick(now)
		}
	}
}

// Tick runs one frame.
func (e *Engine) Tick(now time.Time) {
	e.drainRequests()
	e.condsets.Pump(now)
	e.condsets.Tick(now)
	e.reconciler.Tick(now)
	e.lastFrame = e.readFrame()
	// A provider failure seen mid-update rebuilds trackers only after the
	// update has finished with them.
	e.condsets.Hold()
	e.manager.Update(e.lastFrame)
	e.condsets.Flush()
	e.frames++
}

func (e *Engine) drainRequests() {
	for {
		select {
		case fn := <-e.requests:
			fn()
		default:
			return
		}
	}
}

func (e *Engine) readFrame() tracker.Frame {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	frame := e.lastFrame
	p, err := e.player.Snapshot(ctx)
	if err != nil {
		e.logger.Debugf("player snapshot: %v", err)
	} else {
		frame.Player = p
	}
	if pv, ok := e.player.(previewer); ok {
		frame.SettingsOpen = pv.Preview()
	}
	return frame
}

// Do runs fn on the frame goroutine and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.requests <- wrapped:
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload swaps in a new configuration, rebuilds trackers, reprobes the
// provider and reconciles immediately.
func (e *Engine) Reload(ctx context.Context, cfg *config.Configuration) {
	e.reconciler.SetConfig(cfg)
	e.reconciler.SetPollInterval(cfg.ConditionSets.PollInterval)
	e.manager.SetConfig(cfg)
	e.metrics.SetEnabled(cfg.Telemetry.Enabled)
	e.condsets.Reevaluate(ctx)
	e.reconciler.Pass()
	e.logger.Infof("configuration reloaded: %d tracker(s) in %d group(s)", cfg.TrackerCount(), len(cfg.Jobs))
}

// Reprobe re-checks provider availability and reports the result.
func (e *Engine) Reprobe(ctx context.Context) bool {
	return e.condsets.Reevaluate(ctx)
}

// Config returns the active configuration.
func (e *Engine) Config() *config.Configuration {
	return e.reconciler.Config()
}

// ConditionSets lists the provider's sets.
func (e *Engine) ConditionSets() []condset.ConditionSet {
	return e.condsets.ListConditionSets()
}

// AssignAll binds every tracker to index.
func (e *Engine) AssignAll(index int) (int, error) {
	return e.reconciler.AssignAll(index)
}

// AssignGroup binds one job group's trackers to index.
func (e *Engine) AssignGroup(job config.Job, index int) (int, error) {
	return e.reconciler.AssignGroup(job, index)
}

// History returns recent reconciliation batches.
func (e *Engine) History() []reconcile.Batch {
	return e.reconciler.History()
}

// Explain traces the display rule for one tracker against the last frame.
func (e *Engine) Explain(job config.Job, position int) (bool, *rules.Trace, error) {
	mod := e.manager.Module(job)
	if mod == nil {
		return false, nil, fmt.Errorf("explain: no %s trackers", job)
	}
	for _, t := range mod.Trackers() {
		if t.Position == position {
			ok, trace := rules.Explain(t.Config, e.lastFrame.Signals(t.Config), e.condsets)
			return ok, trace, nil
		}
	}
	return false, nil, fmt.Errorf("explain: no tracker at %s[%d]", job, position)
}

// SetPlayer overrides the simulated player state when the source allows it.
func (e *Engine) SetPlayer(p state.Player, settingsOpen bool) error {
	setter, ok := e.player.(playerSetter)
	if !ok {
		return errors.New("player source is read-only")
	}
	setter.Set(p)
	setter.SetPreview(settingsOpen)
	return nil
}

// Status is a point-in-time view of the engine.
type Status struct {
	Frames   uint64            `json:"frames"`
	Player   state.Player      `json:"player"`
	Preview  bool              `json:"settingsOpen"`
	Provider condset.Status    `json:"provider"`
	Observed map[int]bool      `json:"observed,omitempty"`
	LastPass time.Time         `json:"lastPass,omitempty"`
	Trackers []tracker.Status  `json:"trackers,omitempty"`
	Metrics  *metrics.Snapshot `json:"metrics,omitempty"`
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	st := Status{
		Frames:   e.frames,
		Player:   e.lastFrame.Player,
		Preview:  e.lastFrame.SettingsOpen,
		Provider: e.condsets.Status(),
		Observed: e.reconciler.Observed(),
		LastPass: e.reconciler.LastPass(),
		Trackers: e.manager.Status(),
	}
	if e.metrics.Enabled() {
		snap := e.metrics.Snapshot()
		st.Metrics = &snap
	}
	return st
}
