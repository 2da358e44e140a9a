package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kana-shii/GaugeOMatic/internal/config"
)

// Trace captures one gate of the availability decision.
type Trace struct {
	Kind     string         `json:"kind"`
	Result   bool           `json:"result"`
	Details  map[string]any `json:"details,omitempty"`
	Children []*Trace       `json:"children,omitempty"`
}

// Explain evaluates the same rule as ShouldBeAvailable and records every gate.
// Unlike ShouldBeAvailable it evaluates all gates, so a gated tracker queries
// the condition set even when an earlier gate already failed.
func Explain(tc *config.TrackerConfig, sig Signals, gate Gate) (bool, *Trace) {
	if tc == nil {
		return false, &Trace{Kind: "available", Result: false, Details: map[string]any{"error": "nil tracker"}}
	}

	enabled := &Trace{Kind: "enabled", Result: tc.Enabled}

	levelOK := tc.LevelOK(sig.PlayerLevel)
	level := &Trace{Kind: "level", Result: levelOK, Details: map[string]any{
		"limited": tc.LimitLevelRange,
		"min":     tc.LevelMin,
		"max":     tc.LevelMax,
		"actual":  sig.PlayerLevel,
	}}
	if tc.LimitLevelRange && tc.FullLevelRange() {
		level.Details["fullRange"] = true
	}

	flags := &Trace{Kind: "combatOrDuty", Result: flagsOK(tc, sig), Details: map[string]any{
		"hideOutside": tc.HideOutsideCombatDuty,
		"actual":      sig.InCombatOrDuty,
	}}

	gameplay := &Trace{
		Kind:     "gameplay",
		Result:   sig.UsingPreview || (level.Result && flags.Result),
		Children: []*Trace{level, flags},
	}
	if sig.UsingPreview {
		gameplay.Details = map[string]any{"preview": true}
	}

	condition := explainCondition(tc, gate)

	result := enabled.Result && gameplay.Result && condition.Result
	return result, &Trace{
		Kind:     "available",
		Result:   result,
		Children: []*Trace{enabled, gameplay, condition},
	}
}

func explainCondition(tc *config.TrackerConfig, gate Gate) *Trace {
	node := &Trace{Kind: "conditionSet", Details: map[string]any{"index": tc.ConditionSet}}
	switch {
	case !tc.Gated():
		node.Result = true
		node.Details["gated"] = false
	case gate == nil || !gate.IsEnabled():
		node.Details["providerEnabled"] = false
	default:
		node.Details["providerEnabled"] = true
		node.Result = gate.Evaluate(tc.ConditionSet)
	}
	return node
}

// Summarize renders a trace as indented human-readable lines.
func Summarize(trace *Trace) []string {
	if trace == nil {
		return nil
	}
	lines := make([]string, 0)
	var walk func(prefix string, node *Trace)
	walk = func(prefix string, node *Trace) {
		if node == nil {
			return
		}
		line := fmt.Sprintf("%s%s => %t", prefix, node.Kind, node.Result)
		if detail := formatDetails(node.Details); detail != "" {
			line = fmt.Sprintf("%s %s", line, detail)
		}
		lines = append(lines, line)
		for _, child := range node.Children {
			walk(prefix+"  ", child)
		}
	}
	walk("", trace)
	return lines
}

func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, details[key]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
