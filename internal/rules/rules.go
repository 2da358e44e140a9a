// Package rules decides whether a tracker should be available on the current frame.
package rules

import (
	"github.com/kana-shii/GaugeOMatic/internal/config"
)

// Gate is the condition-set view the display rule needs.
type Gate interface {
	IsEnabled() bool
	Evaluate(index int) bool
}

// Signals carries the transient gameplay state for one frame.
type Signals struct {
	UsingPreview   bool
	PlayerLevel    int
	InCombatOrDuty bool
}

// ShouldBeAvailable combines user intent, level range, combat/duty visibility
// and condition-set gating. Preview bypasses the level and combat gates only.
// A nil gate fails every gated tracker.
func ShouldBeAvailable(tc *config.TrackerConfig, sig Signals, gate Gate) bool {
	if tc == nil || !tc.Enabled {
		return false
	}
	if !sig.UsingPreview && !(tc.LevelOK(sig.PlayerLevel) && flagsOK(tc, sig)) {
		return false
	}
	return conditionOK(tc, gate)
}

func flagsOK(tc *config.TrackerConfig, sig Signals) bool {
	return !tc.HideOutsideCombatDuty || sig.InCombatOrDuty
}

func conditionOK(tc *config.TrackerConfig, gate Gate) bool {
	if !tc.Gated() {
		return true
	}
	if gate == nil || !gate.IsEnabled() {
		return false
	}
	return gate.Evaluate(tc.ConditionSet)
}
