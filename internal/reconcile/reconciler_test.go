package reconcile

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/metrics"
	"github.com/kana-shii/GaugeOMatic/internal/util"
)

type fakeGate struct {
	enabled bool
	active  map[int]bool
	// onEvaluate runs before each evaluation when set.
	onEvaluate func(index int)
}

func (g *fakeGate) IsEnabled() bool { return g.enabled }

func (g *fakeGate) Evaluate(index int) bool {
	if g.onEvaluate != nil {
		g.onEvaluate(index)
	}
	return g.enabled && g.active[index]
}

type fakeStore struct {
	saves int
	err   error
}

func (s *fakeStore) Save(*config.Configuration) error {
	s.saves++
	return s.err
}

type fakeRebuilder struct {
	calls map[config.Job]int
	fail  map[config.Job]error
}

func (r *fakeRebuilder) RebuildGroup(job config.Job) error {
	if r.calls == nil {
		r.calls = make(map[config.Job]int)
	}
	r.calls[job]++
	return r.fail[job]
}

func (r *fakeRebuilder) total() int {
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

type fixture struct {
	cfg       *config.Configuration
	gate      *fakeGate
	store     *fakeStore
	rebuilder *fakeRebuilder
	metrics   *metrics.Collector
	rec       *Reconciler
}

func newFixture(t *testing.T, groups map[config.Job][]*config.TrackerConfig) *fixture {
	t.Helper()
	cfg := config.Default()
	for _, job := range []config.Job{"PLD", "WHM", "BLM"} {
		trackers, ok := groups[job]
		if !ok {
			continue
		}
		cfg.Jobs = append(cfg.Jobs, config.JobTrackers{Job: job, Trackers: trackers})
	}
	f := &fixture{
		cfg:       cfg,
		gate:      &fakeGate{enabled: true, active: map[int]bool{}},
		store:     &fakeStore{},
		rebuilder: &fakeRebuilder{},
		metrics:   metrics.NewCollector(true),
	}
	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	f.rec = New(cfg, f.gate, f.store, f.rebuilder, logger, Options{
		Metrics: f.metrics,
		Now:     func() time.Time { return time.Unix(100, 0) },
	})
	return f
}

func gated(index int, enabled bool) *config.TrackerConfig {
	tc := config.NewTrackerConfig("StatusTracker", 1)
	tc.Enabled = enabled
	tc.ConditionSet = index
	return tc
}

func sets(trackers []*config.TrackerConfig) []int {
	out := make([]int, len(trackers))
	for i, tc := range trackers {
		out[i] = tc.ConditionSet
	}
	return out
}

func TestPassAutoDisablesAndRestores(t *testing.T) {
	on := gated(0, true)
	off := gated(0, false)
	free := gated(config.NoConditionSet, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {on, off, free}})

	f.gate.active[0] = false
	require.True(t, f.rec.Pass())
	assert.False(t, on.Enabled)
	assert.True(t, on.AutoDisabledByConditionSet)
	require.NotNil(t, on.PrevEnabledBeforeConditionSet)
	assert.True(t, *on.PrevEnabledBeforeConditionSet)
	assert.False(t, off.AutoDisabledByConditionSet, "user-disabled tracker is left alone")
	assert.Nil(t, off.PrevEnabledBeforeConditionSet)
	assert.True(t, free.Enabled)
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, 1, f.rebuilder.calls["PLD"])

	f.gate.active[0] = true
	require.True(t, f.rec.Pass())
	assert.True(t, on.Enabled)
	assert.False(t, on.AutoDisabledByConditionSet)
	assert.Nil(t, on.PrevEnabledBeforeConditionSet)
	assert.False(t, off.Enabled)
	assert.Equal(t, 2, f.store.saves)
	assert.Equal(t, 2, f.rebuilder.calls["PLD"])
}

func TestPassIsIdempotent(t *testing.T) {
	tc := gated(1, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"WHM": {tc}})

	require.True(t, f.rec.Pass())
	assert.False(t, f.rec.Pass())
	assert.False(t, f.rec.Pass())
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, 1, f.rebuilder.total())
	assert.Equal(t, map[int]bool{1: false}, f.rec.Observed())
}

func TestFirstObservationActiveDoesNotTouchUserState(t *testing.T) {
	tc := gated(0, false)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {tc}})
	f.gate.active[0] = true

	assert.False(t, f.rec.Pass())
	assert.False(t, tc.Enabled)
	assert.Zero(t, f.store.saves)
}

func TestRestoreDefaultsToEnabledWithoutStoredValue(t *testing.T) {
	tc := gated(0, false)
	tc.AutoDisabledByConditionSet = true
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {tc}})
	f.gate.active[0] = true

	require.True(t, f.rec.Pass())
	assert.True(t, tc.Enabled)
	assert.False(t, tc.AutoDisabledByConditionSet)
}

func TestRestoreFromPersistedPrevOnly(t *testing.T) {
	// After a restart only the persisted previous value survives.
	prev := true
	tc := gated(0, false)
	tc.PrevEnabledBeforeConditionSet = &prev
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {tc}})
	f.gate.active[0] = true

	require.True(t, f.rec.Pass())
	assert.True(t, tc.Enabled)
	assert.Nil(t, tc.PrevEnabledBeforeConditionSet)
}

func TestOneSaveAndOneRebuildPerGroupPerBatch(t *testing.T) {
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{
		"PLD": {gated(0, true), gated(1, true), gated(0, true)},
		"WHM": {gated(1, true)},
		"BLM": {gated(config.NoConditionSet, true)},
	})

	require.True(t, f.rec.Pass())
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, map[config.Job]int{"PLD": 1, "WHM": 1, "BLM": 1}, f.rebuilder.calls)

	history := f.rec.History()
	require.Len(t, history, 1)
	assert.Equal(t, BatchTransition, history[0].Kind)
	assert.Equal(t, []int{0, 1}, history[0].Indices)
	assert.Len(t, history[0].Changes, 4)
	assert.Equal(t, []config.Job{"PLD", "WHM", "BLM"}, history[0].Rebuilt)
}

func TestProviderStartsDisabled(t *testing.T) {
	tc := gated(0, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {tc}})
	f.gate.enabled = false
	f.gate.active[0] = true

	f.rec.Pass()
	assert.False(t, tc.Enabled)
	assert.True(t, tc.AutoDisabledByConditionSet)

	f.gate.enabled = true
	f.rec.HandleEnabledChanged(true)
	assert.True(t, tc.Enabled)
	assert.False(t, tc.AutoDisabledByConditionSet)
	assert.Nil(t, tc.PrevEnabledBeforeConditionSet)
}

func TestTickIsTimerGated(t *testing.T) {
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {gated(0, true)}})
	start := time.Unix(0, 0)

	assert.True(t, f.rec.Tick(start))
	f.gate.active[0] = true
	assert.False(t, f.rec.Tick(start.Add(500*time.Millisecond)))
	assert.True(t, f.rec.Tick(start.Add(time.Second)))
	assert.Equal(t, start.Add(time.Second), f.rec.LastPass())
	assert.Equal(t, uint64(2), f.metrics.Snapshot().Totals.Passes)
}

func TestEnabledChangeDuringPassRunsAgain(t *testing.T) {
	tc := gated(0, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {tc}})
	f.gate.active[0] = true
	f.gate.onEvaluate = func(int) {
		// A failing evaluation disables the provider mid-pass.
		f.gate.enabled = false
		f.rec.HandleEnabledChanged(false)
	}

	f.rec.Pass()
	assert.False(t, tc.Enabled)
	assert.Equal(t, uint64(2), f.metrics.Snapshot().Totals.Passes)
}

func TestMovedSwapsBindings(t *testing.T) {
	a, b, c := gated(2, true), gated(5, true), gated(9, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {a, b, c}})
	f.gate.active = map[int]bool{2: true, 5: false, 9: true}
	f.rec.Pass()
	saves := f.store.saves

	require.True(t, f.rec.Moved(2, 5))
	assert.Equal(t, []int{5, 2, 9}, sets([]*config.TrackerConfig{a, b, c}))
	assert.Equal(t, map[int]bool{2: false, 5: true, 9: true}, f.rec.Observed())
	assert.Equal(t, saves+1, f.store.saves)

	// The provider's view after the swap matches the remapped cache, so no transition fires.
	f.gate.active = map[int]bool{2: false, 5: true, 9: true}
	assert.False(t, f.rec.Pass())
	assert.True(t, a.Enabled)
	assert.False(t, b.Enabled)
}

func TestMovedWithoutBoundTrackers(t *testing.T) {
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {gated(1, true)}})
	assert.False(t, f.rec.Moved(3, 4))
	assert.False(t, f.rec.Moved(1, 1))
	assert.False(t, f.rec.Moved(-1, 2))
	assert.Zero(t, f.store.saves)
}

func TestRemovedShiftsBindings(t *testing.T) {
	trackers := []*config.TrackerConfig{gated(1, true), gated(3, true), gated(4, true), gated(7, true), gated(-1, true)}
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"BLM": trackers})
	f.gate.active = map[int]bool{1: true, 3: true, 4: false, 7: true}
	f.rec.Pass()

	require.True(t, f.rec.Removed(3))
	assert.Equal(t, []int{1, -1, 3, 6, -1}, sets(trackers))
	assert.Equal(t, map[int]bool{1: true, 3: false, 6: true}, f.rec.Observed())

	history := f.rec.History()
	last := history[len(history)-1]
	assert.Equal(t, BatchRemoved, last.Kind)
	assert.Len(t, last.Changes, 3)
}

func TestRemovedRestoresUnboundTracker(t *testing.T) {
	tc := gated(2, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {tc}})
	f.rec.Pass()
	require.True(t, tc.AutoDisabledByConditionSet)

	require.True(t, f.rec.Removed(2))
	assert.Equal(t, config.NoConditionSet, tc.ConditionSet)
	assert.True(t, tc.Enabled)
	assert.False(t, tc.AutoDisabledByConditionSet)
	assert.Nil(t, tc.PrevEnabledBeforeConditionSet)
}

func TestAssignAllAndClear(t *testing.T) {
	a, b := gated(-1, true), gated(4, true)
	c := gated(-1, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {a, b}, "WHM": {c}})

	n, err := f.rec.AssignAll(4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, map[config.Job]int{"PLD": 1, "WHM": 1}, f.rebuilder.calls)

	// Set 4 is inactive, so the next pass auto-disables everything bound to it.
	require.True(t, f.rec.Pass())
	assert.False(t, a.Enabled)
	assert.False(t, c.Enabled)

	n, err = f.rec.AssignAll(config.NoConditionSet)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, tc := range []*config.TrackerConfig{a, b, c} {
		assert.True(t, tc.Enabled)
		assert.False(t, tc.AutoDisabledByConditionSet)
		assert.Nil(t, tc.PrevEnabledBeforeConditionSet)
	}

	_, err = f.rec.AssignAll(-2)
	assert.Error(t, err)
}

func TestAssignGroupRebuildsOnlyThatGroup(t *testing.T) {
	a := gated(-1, true)
	b := gated(-1, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {a}, "WHM": {b}})

	n, err := f.rec.AssignGroup("WHM", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, -1, a.ConditionSet)
	assert.Equal(t, 0, b.ConditionSet)
	assert.Equal(t, map[config.Job]int{"WHM": 1}, f.rebuilder.calls)

	n, err = f.rec.AssignGroup("WHM", 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.rec.AssignGroup("SAM", 0)
	assert.Error(t, err)
}

func TestSaveAndRebuildFailuresAreContained(t *testing.T) {
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{
		"PLD": {gated(0, true)},
		"WHM": {gated(0, true)},
	})
	f.store.err = errors.New("read-only filesystem")
	f.rebuilder.fail = map[config.Job]error{"PLD": errors.New("widget error")}

	require.True(t, f.rec.Pass())
	assert.Equal(t, 1, f.rebuilder.calls["WHM"], "remaining groups still rebuild")

	last := f.rec.History()[0]
	assert.Equal(t, "read-only filesystem", last.SaveError)
	assert.Equal(t, []config.Job{"WHM"}, last.Rebuilt)

	totals := f.metrics.Snapshot().Totals
	assert.Equal(t, uint64(1), totals.SaveErrors)
	assert.Equal(t, uint64(2), totals.AutoDisabled)
	assert.Equal(t, uint64(1), totals.Rebuilds)
}

func TestNilTrackersAreSkipped(t *testing.T) {
	tc := gated(0, true)
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {nil, tc}})
	require.True(t, f.rec.Pass())
	assert.False(t, tc.Enabled)
	assert.Equal(t, 1, f.rec.History()[0].Changes[0].Position)
}

func TestSetConfigResetsObservations(t *testing.T) {
	f := newFixture(t, map[config.Job][]*config.TrackerConfig{"PLD": {gated(0, true)}})
	f.rec.Pass()
	require.NotEmpty(t, f.rec.Observed())

	next := config.Default()
	f.rec.SetConfig(next)
	assert.Empty(t, f.rec.Observed())
	assert.Same(t, next, f.rec.Config())
}

func TestHistoryIsBounded(t *testing.T) {
	log := newBatchLog(2)
	for i := 0; i < 3; i++ {
		log.record(Batch{Kind: BatchMoved, Indices: []int{i}})
	}
	got := log.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, []int{1}, got[0].Indices)
	assert.Equal(t, []int{2}, got[1].Indices)
}
