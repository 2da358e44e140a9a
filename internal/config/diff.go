package config

import (
	"strings"

	"github.com/google/go-cmp/cmp"
)

// DiffSerialized returns a line diff between two serialized configuration payloads.
func DiffSerialized(previous, current []byte) string {
	return cmp.Diff(splitLines(previous), splitLines(current))
}

// DiffTrackers describes how the tracker registry changed between two documents,
// ignoring runtime-only fields.
func DiffTrackers(previous, current *Configuration) string {
	strip := func(c *Configuration) []JobTrackers {
		if c == nil {
			return nil
		}
		out := make([]JobTrackers, 0, len(c.Jobs))
		for _, g := range c.Jobs {
			group := JobTrackers{Job: g.Job}
			for _, t := range g.Trackers {
				clone := t.Clone()
				if clone != nil {
					clone.AutoDisabledByConditionSet = false
					clone.Preview = false
					clone.PreviewValue = 0
				}
				group.Trackers = append(group.Trackers, clone)
			}
			out = append(out, group)
		}
		return out
	}
	return cmp.Diff(strip(previous), strip(current))
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{""}
	}
	return strings.Split(text, "\n")
}
