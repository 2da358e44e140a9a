// Package reconcile keeps tracker enablement in step with condition-set state.
//
// A Reconciler watches every condition set referenced by the configuration,
// auto-disables bound trackers when their set turns inactive and restores the
// user's previous choice when it turns active again. Structural edits reported
// by the provider are applied to the tracker bindings as they arrive. Every
// batch of mutations ends in exactly one save and one rebuild per job group.
//
// A Reconciler is not safe for concurrent use.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/metrics"
	"github.com/kana-shii/GaugeOMatic/internal/rules"
	"github.com/kana-shii/GaugeOMatic/internal/util"
)

const defaultPollInterval = time.Second

// Rebuilder recreates the runtime trackers of a job group from its configs.
type Rebuilder interface {
	RebuildGroup(job config.Job) error
}

// Options configures a Reconciler.
type Options struct {
	PollInterval time.Duration
	Metrics      *metrics.Collector
	HistoryLimit int
	// Now stamps history entries; defaults to time.Now.
	Now func() time.Time
}

// Reconciler applies condition-set transitions and remaps to a configuration.
type Reconciler struct {
	cfg       *config.Configuration
	gate      rules.Gate
	store     config.Saver
	rebuilder Rebuilder
	logger    *util.Logger
	metrics   *metrics.Collector
	interval  time.Duration
	now       func() time.Time

	observed map[int]bool
	lastPass time.Time
	history  *batchLog

	inPass    bool
	passAgain bool
}

// New returns a reconciler over cfg. store and rebuilder may be nil.
func New(cfg *config.Configuration, gate rules.Gate, store config.Saver, rebuilder Rebuilder, logger *util.Logger, opts Options) *Reconciler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		cfg:       cfg,
		gate:      gate,
		store:     store,
		rebuilder: rebuilder,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.PollInterval,
		now:       opts.Now,
		observed:  make(map[int]bool),
		history:   newBatchLog(opts.HistoryLimit),
	}
}

// Config returns the configuration being reconciled.
func (r *Reconciler) Config() *config.Configuration {
	return r.cfg
}

// SetConfig swaps in a reloaded configuration and forgets every observation so
// the next pass re-applies the current condition-set state.
func (r *Reconciler) SetConfig(cfg *config.Configuration) {
	r.cfg = cfg
	r.ResetObservations()
}

// SetPollInterval changes the pass period used by Tick.
func (r *Reconciler) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// ResetObservations clears the cached per-set state.
func (r *Reconciler) ResetObservations() {
	r.observed = make(map[int]bool)
}

// Observed returns a copy of the last observed state of each condition set.
func (r *Reconciler) Observed() map[int]bool {
	out := make(map[int]bool, len(r.observed))
	for k, v := range r.observed {
		out[k] = v
	}
	return out
}

// LastPass reports when Tick last ran a pass.
func (r *Reconciler) LastPass() time.Time {
	return r.lastPass
}

// History returns recent mutation batches, oldest first.
func (r *Reconciler) History() []Batch {
	return r.history.snapshot()
}

// Tick runs a pass when the poll interval has elapsed since the previous one.
func (r *Reconciler) Tick(now time.Time) bool {
	if !r.lastPass.IsZero() && now.Sub(r.lastPass) < r.interval {
		return false
	}
	r.lastPass = now
	return r.Pass()
}

// HandleEnabledChanged runs an immediate pass after a provider availability
// change. A change raised while a pass is running schedules one more pass.
func (r *Reconciler) HandleEnabledChanged(enabled bool) {
	r.logger.Debugf("provider enabled=%v; reconciling", enabled)
	r.Pass()
}

// Pass detects condition-set transitions and applies them to bound trackers.
// It reports whether any tracker changed.
func (r *Reconciler) Pass() bool {
	if r.inPass {
		r.passAgain = true
		return false
	}
	r.inPass = true
	defer func() { r.inPass = false }()

	mutated := false
	for {
		r.passAgain = false
		if r.pass() {
			mutated = true
		}
		if !r.passAgain {
			return mutated
		}
	}
}

func (r *Reconciler) pass() bool {
	r.metrics.RecordPass()
	indices := r.referencedSets()
	if len(indices) == 0 {
		return false
	}

	enabled := r.gate != nil && r.gate.IsEnabled()
	changed := make(map[int]bool)
	var order []int
	for _, idx := range indices {
		active := enabled && r.gate.Evaluate(idx)
		if prev, ok := r.observed[idx]; ok && prev == active {
			continue
		}
		r.observed[idx] = active
		changed[idx] = active
		order = append(order, idx)
		r.metrics.RecordTransition(idx, active)
		r.logger.Debugf("condition set %d changed to %v", idx, active)
	}
	if len(changed) == 0 {
		return false
	}

	var changes []Change
	disabled, restored := 0, 0
	r.eachTracker(func(job config.Job, pos int, t *config.TrackerConfig) {
		active, ok := changed[t.ConditionSet]
		if !ok {
			return
		}
		if active {
			if restore(t) {
				restored++
				changes = append(changes, changeFor(job, pos, t, ActionRestored))
			}
			return
		}
		if autoDisable(t) {
			disabled++
			changes = append(changes, changeFor(job, pos, t, ActionAutoDisabled))
		}
	})
	if len(changes) == 0 {
		return false
	}
	r.metrics.RecordAutoDisabled(disabled)
	r.metrics.RecordRestored(restored)
	r.commit(Batch{Kind: BatchTransition, Indices: order, Changes: changes}, nil)
	return true
}

// Moved swaps the from and to bindings on every tracker; the two indices
// exchange identity. Observations move with them.
func (r *Reconciler) Moved(from, to int) bool {
	if from < 0 || to < 0 || from == to {
		return false
	}
	r.metrics.RecordRemap()

	fromObs, hadFrom := r.observed[from]
	toObs, hadTo := r.observed[to]
	delete(r.observed, from)
	delete(r.observed, to)
	if hadFrom {
		r.observed[to] = fromObs
	}
	if hadTo {
		r.observed[from] = toObs
	}

	var changes []Change
	r.eachTracker(func(job config.Job, pos int, t *config.TrackerConfig) {
		switch t.ConditionSet {
		case from:
			t.ConditionSet = to
		case to:
			t.ConditionSet = from
		default:
			return
		}
		changes = append(changes, changeFor(job, pos, t, ActionRemapped))
	})
	if len(changes) == 0 {
		return false
	}
	r.commit(Batch{Kind: BatchMoved, Indices: []int{from, to}, Changes: changes}, nil)
	return true
}

// Removed unbinds trackers from the deleted set and shifts higher indices
// down by one. An unbound tracker that was auto-disabled gets its previous
// state back.
func (r *Reconciler) Removed(index int) bool {
	if index < 0 {
		return false
	}
	r.metrics.RecordRemap()

	shifted := make(map[int]bool, len(r.observed))
	for k, v := range r.observed {
		switch {
		case k < index:
			shifted[k] = v
		case k > index:
			shifted[k-1] = v
		}
	}
	r.observed = shifted

	var changes []Change
	restored := 0
	r.eachTracker(func(job config.Job, pos int, t *config.TrackerConfig) {
		switch {
		case t.ConditionSet > index:
			t.ConditionSet--
			changes = append(changes, changeFor(job, pos, t, ActionRemapped))
		case t.ConditionSet == index:
			t.ConditionSet = config.NoConditionSet
			action := ActionRemapped
			if restore(t) {
				restored++
				action = ActionRestored
			}
			changes = append(changes, changeFor(job, pos, t, action))
		}
	})
	if len(changes) == 0 {
		return false
	}
	r.metrics.RecordRestored(restored)
	r.commit(Batch{Kind: BatchRemoved, Indices: []int{index}, Changes: changes}, nil)
	return true
}

// AssignAll binds every tracker to index; config.NoConditionSet clears gating.
// It returns the number of trackers changed.
func (r *Reconciler) AssignAll(index int) (int, error) {
	if index < config.NoConditionSet {
		return 0, fmt.Errorf("assign condition set: invalid index %d", index)
	}
	changes := r.assign(index, func(config.Job) bool { return true })
	if len(changes) == 0 {
		return 0, nil
	}
	r.commit(Batch{Kind: BatchAssign, Indices: []int{index}, Changes: changes}, nil)
	return len(changes), nil
}

// AssignGroup binds every tracker of one job group to index and rebuilds only that group.
func (r *Reconciler) AssignGroup(job config.Job, index int) (int, error) {
	if index < config.NoConditionSet {
		return 0, fmt.Errorf("assign condition set: invalid index %d", index)
	}
	if r.cfg == nil || r.cfg.Group(job) == nil {
		return 0, fmt.Errorf("assign condition set to %q: no such group", job)
	}
	changes := r.assign(index, func(j config.Job) bool { return j == job })
	if len(changes) == 0 {
		return 0, nil
	}
	r.commit(Batch{Kind: BatchAssign, Indices: []int{index}, Changes: changes}, []config.Job{job})
	return len(changes), nil
}

func (r *Reconciler) assign(index int, match func(config.Job) bool) []Change {
	var changes []Change
	restored := 0
	r.eachTracker(func(job config.Job, pos int, t *config.TrackerConfig) {
		if !match(job) || t.ConditionSet == index {
			return
		}
		t.ConditionSet = index
		action := ActionAssigned
		if index == config.NoConditionSet && restore(t) {
			restored++
			action = ActionRestored
		}
		changes = append(changes, changeFor(job, pos, t, action))
	})
	if len(changes) > 0 {
		r.metrics.RecordRestored(restored)
		// New bindings must be judged against the current set state on the next pass.
		r.ResetObservations()
	}
	return changes
}

func (r *Reconciler) commit(b Batch, groups []config.Job) {
	b.Timestamp = r.now()
	if r.store != nil {
		err := r.store.Save(r.cfg)
		r.metrics.RecordSave(err)
		if err != nil {
			r.logger.Errorf("save configuration: %v", err)
			b.SaveError = err.Error()
		}
	}
	b.Rebuilt = r.rebuild(groups)
	r.history.record(b)
	r.logger.Infof("%s batch: %d tracker(s) changed, %d group(s) rebuilt", b.Kind, len(b.Changes), len(b.Rebuilt))
}

// rebuild recreates the named groups, or every group when groups is nil.
func (r *Reconciler) rebuild(groups []config.Job) []config.Job {
	if r.rebuilder == nil || r.cfg == nil {
		return nil
	}
	if groups == nil {
		for _, g := range r.cfg.Jobs {
			groups = append(groups, g.Job)
		}
	}
	rebuilt := make([]config.Job, 0, len(groups))
	for _, job := range groups {
		if err := r.rebuilder.RebuildGroup(job); err != nil {
			r.logger.Errorf("rebuild %s trackers: %v", job, err)
			continue
		}
		rebuilt = append(rebuilt, job)
	}
	r.metrics.RecordRebuild(len(rebuilt))
	return rebuilt
}

func (r *Reconciler) referencedSets() []int {
	seen := make(map[int]struct{})
	r.eachTracker(func(_ config.Job, _ int, t *config.TrackerConfig) {
		if t.Gated() {
			seen[t.ConditionSet] = struct{}{}
		}
	})
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// eachTracker visits non-nil trackers with their position inside the group.
func (r *Reconciler) eachTracker(fn func(job config.Job, pos int, t *config.TrackerConfig)) {
	if r.cfg == nil {
		return
	}
	for _, group := range r.cfg.Jobs {
		for pos, t := range group.Trackers {
			if t == nil {
				r.logger.Debugf("skipping nil tracker %s[%d]", group.Job, pos)
				continue
			}
			fn(group.Job, pos, t)
		}
	}
}

// autoDisable turns off a tracker the user left enabled.
func autoDisable(t *config.TrackerConfig) bool {
	if !t.Enabled || t.AutoDisabledByConditionSet {
		return false
	}
	t.AutoDisabledByConditionSet = true
	if t.PrevEnabledBeforeConditionSet == nil {
		prev := t.Enabled
		t.PrevEnabledBeforeConditionSet = &prev
	}
	t.Enabled = false
	return true
}

// restore undoes an auto-disable, defaulting to enabled when no prior value was kept.
func restore(t *config.TrackerConfig) bool {
	if !t.AutoDisabledByConditionSet && t.PrevEnabledBeforeConditionSet == nil {
		return false
	}
	t.AutoDisabledByConditionSet = false
	if t.PrevEnabledBeforeConditionSet != nil {
		t.Enabled = *t.PrevEnabledBeforeConditionSet
		t.PrevEnabledBeforeConditionSet = nil
	} else {
		t.Enabled = true
	}
	return true
}

func changeFor(job config.Job, pos int, t *config.TrackerConfig, action string) Change {
	return Change{
		Job:          job,
		Position:     pos,
		TrackerType:  t.TrackerType,
		Action:       action,
		ConditionSet: t.ConditionSet,
		Enabled:      t.Enabled,
	}
}
