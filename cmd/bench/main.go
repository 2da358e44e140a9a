package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/engine"
	"github.com/kana-shii/GaugeOMatic/internal/state"
	"github.com/kana-shii/GaugeOMatic/internal/util"
	"github.com/kana-shii/GaugeOMatic/internal/widget"
)

type benchOptions struct {
	Config    string
	Trackers  int
	Sets      int
	Frames    int
	Warmup    int
	FlipEvery int
}

type benchLatencyStats struct {
	Min    float64 `json:"minMs"`
	Mean   float64 `json:"meanMs"`
	Median float64 `json:"medianMs"`
	P95    float64 `json:"p95Ms"`
	Max    float64 `json:"maxMs"`
}

type benchAllocationStats struct {
	Total         uint64  `json:"totalAllocations"`
	PerFrame      float64 `json:"allocationsPerFrame"`
	BytesTotal    uint64  `json:"bytesTotal"`
	BytesPerFrame float64 `json:"bytesPerFrame"`
}

type benchSummary struct {
	Trackers        int                  `json:"trackers"`
	Sets            int                  `json:"sets"`
	Frames          int                  `json:"frames"`
	WarmupFrames    int                  `json:"warmupFrames"`
	ProviderCalls   int                  `json:"providerCalls"`
	CallsPerFrame   float64              `json:"providerCallsPerFrame"`
	Saves           int                  `json:"saves"`
	Latency         benchLatencyStats    `json:"latency"`
	Allocations     benchAllocationStats `json:"allocations"`
	TotalDurationMs float64              `json:"totalDurationMs"`
	FramesPerSecond float64              `json:"framesPerSecond"`
}

type benchReport struct {
	Summary     benchSummary `json:"summary"`
	DurationsMs []float64    `json:"durationsMs,omitempty"`
}

// benchPeer is an in-process provider whose sets toggle on demand.
type benchPeer struct {
	mu     sync.Mutex
	names  []string
	active []bool
	calls  int
}

func newBenchPeer(sets int) *benchPeer {
	p := &benchPeer{names: make([]string, sets), active: make([]bool, sets)}
	for i := range p.names {
		p.names[i] = fmt.Sprintf("Set %d", i+1)
		p.active[i] = true
	}
	return p
}

func (p *benchPeer) ProtocolVersion(context.Context) (int, error) { return 1, nil }

func (p *benchPeer) ServiceVersion(context.Context) (string, error) { return "1.0.0.0", nil }

func (p *benchPeer) ConditionSetNames(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...), nil
}

func (p *benchPeer) EvaluateConditionSet(_ context.Context, index int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if index < 0 || index >= len(p.active) {
		return false, nil
	}
	return p.active[index], nil
}

func (p *benchPeer) flip(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.active) > 0 {
		i := index % len(p.active)
		p.active[i] = !p.active[i]
	}
}

func (p *benchPeer) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type countingStore struct{ saves int }

func (s *countingStore) Save(*config.Configuration) error {
	s.saves++
	return nil
}

func main() {
	var opts benchOptions
	flag.StringVar(&opts.Config, "config", "", "YAML config to replay (synthetic trackers when empty)")
	flag.IntVar(&opts.Trackers, "trackers", 200, "synthetic tracker count")
	flag.IntVar(&opts.Sets, "sets", 8, "condition set count")
	flag.IntVar(&opts.Frames, "frames", 3600, "frames to time")
	flag.IntVar(&opts.Warmup, "warmup", 60, "frames to run before timing")
	flag.IntVar(&opts.FlipEvery, "flip-every", 120, "frames between condition set toggles (0 disables)")
	cpuProfile := flag.String("cpu-profile", "", "write CPU profile to file")
	memProfile := flag.String("mem-profile", "", "write heap profile to file")
	logLevel := flag.String("log-level", "warn", "log level (trace|debug|info|warn|error)")
	outputPath := flag.String("output", "-", "write JSON report to file ('-' for stdout)")
	humanSummary := flag.Bool("human", false, "print a tabular summary alongside the JSON output")
	flag.Parse()

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))
	cfg, err := benchConfig(opts)
	if err != nil {
		exitErr(err)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			exitErr(fmt.Errorf("create cpu profile: %w", err))
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			exitErr(fmt.Errorf("start cpu profile: %w", err))
		}
		defer pprof.StopCPUProfile()
	}

	report := runBench(cfg, opts, logger)

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			exitErr(fmt.Errorf("create mem profile: %w", err))
		}
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			f.Close()
			exitErr(fmt.Errorf("write mem profile: %w", err))
		}
		f.Close()
	}

	if *humanSummary {
		if err := printHumanSummary(report.Summary, os.Stderr); err != nil {
			exitErr(err)
		}
	}
	if err := writeReport(report, *outputPath); err != nil {
		exitErr(err)
	}
}

func benchConfig(opts benchOptions) (*config.Configuration, error) {
	if opts.Config != "" {
		cfg, err := config.Load(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	return syntheticConfig(opts.Trackers, opts.Sets)
}

// syntheticConfig spreads trackers across the job registry; every other
// tracker is gated on a set.
func syntheticConfig(trackers, sets int) (*config.Configuration, error) {
	cfg := config.Default()
	jobs := config.Jobs()
	if trackers > 0 && len(jobs) == 0 {
		return nil, errors.New("no jobs to spread synthetic trackers over")
	}
	for i := 0; i < trackers; i++ {
		tc := config.NewTrackerConfig("StatusTracker", uint32(i+1))
		tc.Enabled = true
		if sets > 0 && i%2 == 0 {
			tc.ConditionSet = (i / 2) % sets
		}
		if i%5 == 0 {
			tc.HideOutsideCombatDuty = true
		}
		if err := cfg.AddTracker(jobs[i%len(jobs)], tc); err != nil {
			return nil, fmt.Errorf("add synthetic tracker %d: %w", i, err)
		}
	}
	return cfg, nil
}

func runBench(cfg *config.Configuration, opts benchOptions, logger *util.Logger) benchReport {
	sets := opts.Sets
	if sets <= 0 {
		sets = 1
	}
	peer := newBenchPeer(sets)
	store := &countingStore{}
	eng := engine.New(engine.Deps{
		Config:  cfg,
		Peer:    peer,
		Store:   store,
		Player:  state.NewStaticSource(state.Player{Level: config.LevelCap, Conditions: state.InCombat}),
		Widgets: widget.Nop(),
		Logger:  logger,
	})
	now := time.Unix(0, 0)
	eng.Start(now, nil)

	frame := 0
	step := func() {
		if opts.FlipEvery > 0 && frame > 0 && frame%opts.FlipEvery == 0 {
			peer.flip(frame / opts.FlipEvery)
		}
		eng.Tick(now.Add(time.Duration(frame) * engine.DefaultFrameInterval))
		frame++
	}
	for i := 0; i < opts.Warmup; i++ {
		step()
	}

	callsBefore := peer.Calls()
	savesBefore := store.saves
	durations := make([]time.Duration, 0, opts.Frames)
	var start, end runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&start)
	for i := 0; i < opts.Frames; i++ {
		t0 := time.Now()
		step()
		durations = append(durations, time.Since(t0))
	}
	runtime.ReadMemStats(&end)

	return buildReport(cfg, opts, durations, peer.Calls()-callsBefore, store.saves-savesBefore, start, end)
}

func buildReport(cfg *config.Configuration, opts benchOptions, durations []time.Duration, calls, saves int, start, end runtime.MemStats) benchReport {
	latency, total := buildLatencyStats(durations)
	allocs := end.Mallocs - start.Mallocs
	bytesAllocated := end.TotalAlloc - start.TotalAlloc
	frames := len(durations)

	durationsMs := make([]float64, len(durations))
	for i, d := range durations {
		durationsMs[i] = toMillis(d)
	}
	summary := benchSummary{
		Trackers:      cfg.TrackerCount(),
		Sets:          opts.Sets,
		Frames:        frames,
		WarmupFrames:  opts.Warmup,
		ProviderCalls: calls,
		CallsPerFrame: safeDivide(calls, frames),
		Saves:         saves,
		Latency:       latency,
		Allocations: benchAllocationStats{
			Total:         allocs,
			PerFrame:      safeDivide(int(allocs), frames),
			BytesTotal:    bytesAllocated,
			BytesPerFrame: safeDivide(int(bytesAllocated), frames),
		},
		TotalDurationMs: toMillis(total),
		FramesPerSecond: perSecond(total, frames),
	}
	return benchReport{Summary: summary, DurationsMs: durationsMs}
}

func buildLatencyStats(durations []time.Duration) (benchLatencyStats, time.Duration) {
	stats := benchLatencyStats{}
	if len(durations) == 0 {
		return stats, 0
	}
	total := time.Duration(0)
	for _, d := range durations {
		total += d
	}
	mean := total / time.Duration(len(durations))
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.Min = toMillis(sorted[0])
	stats.Mean = toMillis(mean)
	stats.Median = toMillis(percentile(sorted, 0.50))
	stats.P95 = toMillis(percentile(sorted, 0.95))
	stats.Max = toMillis(sorted[len(sorted)-1])
	return stats, total
}

func safeDivide(total int, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}

func writeReport(report benchReport, outputPath string) error {
	var w io.Writer
	switch strings.TrimSpace(outputPath) {
	case "", "-":
		w = os.Stdout
	default:
		dir := filepath.Dir(outputPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create report dir: %w", err)
			}
		}
		out, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printHumanSummary(summary benchSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Trackers:\t%d\n", summary.Trackers)
	fmt.Fprintf(tw, "Condition sets:\t%d\n", summary.Sets)
	fmt.Fprintf(tw, "Frames:\t%d (+%d warmup)\n", summary.Frames, summary.WarmupFrames)
	fmt.Fprintf(tw, "Provider calls:\t%d (%.2f / frame)\n", summary.ProviderCalls, summary.CallsPerFrame)
	fmt.Fprintf(tw, "Saves:\t%d\n", summary.Saves)
	latency := summary.Latency
	fmt.Fprintf(tw, "Frame time (ms):\tmin %.3f | mean %.3f | median %.3f | p95 %.3f | max %.3f\n", latency.Min, latency.Mean, latency.Median, latency.P95, latency.Max)
	allocs := summary.Allocations
	fmt.Fprintf(tw, "Allocations:\t%d total (%.2f / frame)\n", allocs.Total, allocs.PerFrame)
	fmt.Fprintf(tw, "Bytes allocated:\t%d (%.2f / frame)\n", allocs.BytesTotal, allocs.BytesPerFrame)
	fmt.Fprintf(tw, "Frames/sec:\t%.2f\n", summary.FramesPerSecond)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

func perSecond(total time.Duration, n int) float64 {
	if total <= 0 || n == 0 {
		return 0
	}
	return float64(n) / total.Seconds()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
