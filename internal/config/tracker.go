package config

import (
	"gopkg.in/yaml.v3"
)

// NoConditionSet marks a tracker that is not gated on any condition set.
const NoConditionSet = -1

// TrackerConfig holds the persisted settings of a single tracker.
type TrackerConfig struct {
	TrackerType string `yaml:"trackerType"`
	ItemID      uint32 `yaml:"itemId,omitempty"`
	AddonName   string `yaml:"addonName,omitempty"`
	WidgetType  string `yaml:"widgetType,omitempty"`

	Enabled bool `yaml:"enabled"`

	LimitLevelRange       bool `yaml:"limitLevelRange,omitempty"`
	LevelMin              int  `yaml:"levelMin,omitempty"`
	LevelMax              int  `yaml:"levelMax,omitempty"`
	HideOutsideCombatDuty bool `yaml:"hideOutsideCombatDuty,omitempty"`

	ConditionSet int `yaml:"conditionSet"`

	// AutoDisabledByConditionSet is set when the reconciler, not the user,
	// turned the tracker off. It lives only as long as this record does.
	AutoDisabledByConditionSet bool `yaml:"-"`

	// PrevEnabledBeforeConditionSet remembers Enabled at the moment of an
	// auto-disable so the restore can put it back.
	PrevEnabledBeforeConditionSet *bool `yaml:"prevEnabledBeforeConditionSet,omitempty"`

	Preview      bool    `yaml:"-"`
	PreviewValue float64 `yaml:"-"`
}

// NewTrackerConfig returns a tracker config with the default level window and no gating.
func NewTrackerConfig(trackerType string, itemID uint32) *TrackerConfig {
	t := defaultTrackerConfig()
	t.TrackerType = trackerType
	t.ItemID = itemID
	return &t
}

func defaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		LevelMin:     1,
		LevelMax:     LevelCap,
		ConditionSet: NoConditionSet,
		PreviewValue: 1,
	}
}

// UnmarshalYAML decodes a tracker on top of the defaults so omitted fields keep
// their documented values.
func (t *TrackerConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawTracker TrackerConfig
	raw := rawTracker(defaultTrackerConfig())
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*t = TrackerConfig(raw)
	return nil
}

// Gated reports whether the tracker is bound to a condition set.
func (t *TrackerConfig) Gated() bool {
	return t.ConditionSet >= 0
}

// FullLevelRange reports whether the level window spans every attainable level.
func (t *TrackerConfig) FullLevelRange() bool {
	return t.LevelMin <= 1 && t.LevelMax >= LevelCap
}

// LevelOK reports whether the player level passes the optional level gate.
func (t *TrackerConfig) LevelOK(level int) bool {
	if !t.LimitLevelRange || t.FullLevelRange() {
		return true
	}
	return level >= t.LevelMin && level <= t.LevelMax
}

// Clone returns a deep copy of the tracker, including runtime-only fields.
func (t *TrackerConfig) Clone() *TrackerConfig {
	if t == nil {
		return nil
	}
	c := *t
	if t.PrevEnabledBeforeConditionSet != nil {
		prev := *t.PrevEnabledBeforeConditionSet
		c.PrevEnabledBeforeConditionSet = &prev
	}
	return &c
}
