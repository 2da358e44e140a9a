package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates opt-in counters for condition-set reconciliation.
type Collector struct {
	mu      sync.RWMutex
	enabled bool
	started time.Time
	totals  Totals
	sets    map[int]*SetMetrics
}

// SetMetrics captures per condition set counters tracked by the collector.
type SetMetrics struct {
	Index       int       `json:"index"`
	Activations uint64    `json:"activations"`
	Deactivated uint64    `json:"deactivations"`
	LastActive  bool      `json:"lastActive"`
	LastChanged time.Time `json:"lastChanged,omitempty"`
}

// Totals aggregates reconciliation activity across all sets.
type Totals struct {
	Passes       uint64 `json:"passes"`
	AutoDisabled uint64 `json:"autoDisabled"`
	Restored     uint64 `json:"restored"`
	Remaps       uint64 `json:"remaps"`
	Saves        uint64 `json:"saves"`
	SaveErrors   uint64 `json:"saveErrors"`
	Rebuilds     uint64 `json:"rebuilds"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Enabled bool         `json:"enabled"`
	Started time.Time    `json:"started,omitempty"`
	Totals  Totals       `json:"totals"`
	Sets    []SetMetrics `json:"sets,omitempty"`
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{}
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting counters when enabling.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	c.totals = Totals{}
	if !enabled {
		c.sets = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.sets = make(map[int]*SetMetrics)
}

// RecordPass counts one reconciliation pass.
func (c *Collector) RecordPass() {
	c.update(func(t *Totals) { t.Passes++ })
}

// RecordAutoDisabled counts trackers switched off by a condition set.
func (c *Collector) RecordAutoDisabled(n int) {
	c.update(func(t *Totals) { t.AutoDisabled += uint64(n) })
}

// RecordRestored counts trackers whose previous state was restored.
func (c *Collector) RecordRestored(n int) {
	c.update(func(t *Totals) { t.Restored += uint64(n) })
}

// RecordRemap counts one structural move or removal notification.
func (c *Collector) RecordRemap() {
	c.update(func(t *Totals) { t.Remaps++ })
}

// RecordSave counts a configuration save and whether it failed.
func (c *Collector) RecordSave(err error) {
	c.update(func(t *Totals) {
		t.Saves++
		if err != nil {
			t.SaveErrors++
		}
	})
}

// RecordRebuild counts rebuilt job groups.
func (c *Collector) RecordRebuild(groups int) {
	c.update(func(t *Totals) { t.Rebuilds += uint64(groups) })
}

// RecordTransition records an observed change of a condition set's state.
func (c *Collector) RecordTransition(index int, active bool) {
	if c == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if c.sets == nil {
		c.sets = make(map[int]*SetMetrics)
	}
	m, ok := c.sets[index]
	if !ok {
		m = &SetMetrics{Index: index}
		c.sets[index] = m
	}
	if active {
		m.Activations++
	} else {
		m.Deactivated++
	}
	m.LastActive = active
	m.LastChanged = now
}

func (c *Collector) update(mutate func(*Totals)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	mutate(&c.totals)
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Enabled: c.enabled}
	if !c.enabled {
		return snap
	}
	snap.Started = c.started
	snap.Totals = c.totals
	if len(c.sets) == 0 {
		return snap
	}
	snap.Sets = make([]SetMetrics, 0, len(c.sets))
	for _, m := range c.sets {
		if m == nil {
			continue
		}
		snap.Sets = append(snap.Sets, *m)
	}
	sort.Slice(snap.Sets, func(i, j int) bool { return snap.Sets[i].Index < snap.Sets[j].Index })
	return snap
}
