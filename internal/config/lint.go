package config

import (
	"fmt"
	"os"
	"strings"
)

// LintError is a single validation issue located by its document path.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// LintFile parses the document at path and returns its validation issues.
// Decode failures are returned as the error.
func LintFile(path string) ([]LintError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg.Lint(), nil
}

// Lint returns every validation issue in document order.
func (c *Configuration) Lint() []LintError {
	var errs []LintError
	add := func(path, format string, args ...any) {
		errs = append(errs, LintError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if c.Version > CurrentVersion {
		add("version", "unsupported version %d (max %d)", c.Version, CurrentVersion)
	}
	cs := c.ConditionSets
	if cs.PollInterval < 0 {
		add("conditionSets.pollInterval", "cannot be negative")
	}
	if cs.ProbeTimeout < 0 {
		add("conditionSets.probeTimeout", "cannot be negative")
	}
	if cs.CallTimeout < 0 {
		add("conditionSets.callTimeout", "cannot be negative")
	}

	seen := map[Job]struct{}{}
	for gi, group := range c.Jobs {
		gpath := fmt.Sprintf("jobs[%d]", gi)
		switch {
		case group.Job == "":
			add(gpath+".job", "cannot be empty")
		case !group.Job.Known():
			add(gpath+".job", "%s %q", ErrUnknownJob, group.Job)
		default:
			if _, dup := seen[group.Job]; dup {
				add(gpath+".job", "duplicate job %q", group.Job)
			}
			seen[group.Job] = struct{}{}
		}
		for ti, t := range group.Trackers {
			tpath := fmt.Sprintf("%s.trackers[%d]", gpath, ti)
			if t == nil {
				add(tpath, "empty tracker entry")
				continue
			}
			errs = append(errs, lintTracker(tpath, t)...)
		}
	}
	return errs
}

func lintTracker(path string, t *TrackerConfig) []LintError {
	var errs []LintError
	add := func(field, format string, args ...any) {
		errs = append(errs, LintError{Path: path + "." + field, Message: fmt.Sprintf(format, args...)})
	}
	if strings.TrimSpace(t.TrackerType) == "" {
		add("trackerType", "cannot be empty")
	}
	if t.LevelMin < 1 || t.LevelMin > LevelCap {
		add("levelMin", "must be within 1..%d, got %d", LevelCap, t.LevelMin)
	}
	if t.LevelMax < 1 || t.LevelMax > LevelCap {
		add("levelMax", "must be within 1..%d, got %d", LevelCap, t.LevelMax)
	}
	if t.LevelMin > t.LevelMax {
		add("levelMin", "cannot exceed levelMax (%d > %d)", t.LevelMin, t.LevelMax)
	}
	if t.ConditionSet < NoConditionSet {
		add("conditionSet", "must be %d or a set index, got %d", NoConditionSet, t.ConditionSet)
	}
	return errs
}

func normalizeJob(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
