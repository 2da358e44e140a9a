// Package tracker owns the runtime side of configured trackers: one module per
// job group, each holding trackers bound to widgets.
package tracker

import (
	"github.com/google/uuid"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/rules"
	"github.com/kana-shii/GaugeOMatic/internal/state"
	"github.com/kana-shii/GaugeOMatic/internal/util"
	"github.com/kana-shii/GaugeOMatic/internal/widget"
)

// Frame carries the signals shared by every tracker on one frame.
type Frame struct {
	Player state.Player
	// SettingsOpen enables preview values for trackers that request them.
	SettingsOpen bool
}

// Signals derives the display-rule inputs for tc.
func (f Frame) Signals(tc *config.TrackerConfig) rules.Signals {
	return rules.Signals{
		UsingPreview:   tc.Preview && f.SettingsOpen,
		PlayerLevel:    f.Player.Level,
		InCombatOrDuty: f.Player.InCombatOrDuty(),
	}
}

// Tracker binds one tracker config to its widget.
type Tracker struct {
	ID        uuid.UUID
	Job       config.Job
	Position  int
	Config    *config.TrackerConfig
	Widget    widget.Widget
	Available bool

	vis Visibility
}

func newTracker(job config.Job, pos int, tc *config.TrackerConfig) *Tracker {
	return &Tracker{ID: uuid.New(), Job: job, Position: pos, Config: tc}
}

// buildWidget creates the widget for an enabled tracker. A failed creation
// leaves the tracker without a widget and unavailable.
func (t *Tracker) buildWidget(factory widget.Factory, logger *util.Logger) {
	if !t.Config.Enabled || factory == nil {
		return
	}
	w, err := factory.Create(t.Config)
	if err == nil && w == nil {
		logger.Errorf("create widget for %s item %d: factory returned no widget", t.Config.TrackerType, t.Config.ItemID)
	} else if err != nil {
		logger.Errorf("create widget for %s item %d: %v", t.Config.TrackerType, t.Config.ItemID, err)
	}
	if err != nil || w == nil {
		t.Widget = nil
		t.Available = false
		return
	}
	t.Widget = w
	t.vis = newVisibility(w)
	t.Available = true
}

// Update applies the display rule for this frame and drives the widget fade.
func (t *Tracker) Update(frame Frame, gate rules.Gate) {
	if t.Widget == nil {
		t.Available = false
		return
	}
	t.Available = rules.ShouldBeAvailable(t.Config, frame.Signals(t.Config), gate)
	t.vis.Set(t.Available)
}

// Visible reports whether the widget is currently shown.
func (t *Tracker) Visible() bool {
	return t.Widget != nil && t.vis.Visible()
}

// Dispose releases the widget.
func (t *Tracker) Dispose(logger *util.Logger) {
	if t.Widget != nil {
		if err := t.Widget.Close(); err != nil {
			logger.Warnf("close widget for %s: %v", t.Config.TrackerType, err)
		}
	}
	t.Widget = nil
	t.Available = false
}

// Status is the serializable view of a tracker.
type Status struct {
	ID           string     `json:"id"`
	Job          config.Job `json:"job"`
	Position     int        `json:"position"`
	TrackerType  string     `json:"trackerType"`
	ItemID       uint32     `json:"itemId,omitempty"`
	Enabled      bool       `json:"enabled"`
	Available    bool       `json:"available"`
	Visible      bool       `json:"visible"`
	HasWidget    bool       `json:"hasWidget"`
	ConditionSet int        `json:"conditionSet"`
	AutoDisabled bool       `json:"autoDisabled"`
}

// Status returns the tracker's current state.
func (t *Tracker) Status() Status {
	return Status{
		ID:           t.ID.String(),
		Job:          t.Job,
		Position:     t.Position,
		TrackerType:  t.Config.TrackerType,
		ItemID:       t.Config.ItemID,
		Enabled:      t.Config.Enabled,
		Available:    t.Available,
		Visible:      t.Visible(),
		HasWidget:    t.Widget != nil,
		ConditionSet: t.Config.ConditionSet,
		AutoDisabled: t.Config.AutoDisabledByConditionSet,
	}
}
