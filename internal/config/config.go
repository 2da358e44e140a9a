package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the document version written by Save.
const CurrentVersion = 1

const (
	defaultPollInterval = time.Second
	defaultProbeTimeout = 15 * time.Second
	defaultCallTimeout  = 250 * time.Millisecond
)

// Configuration is the top-level configuration document.
type Configuration struct {
	Version       int                  `yaml:"version"`
	LogLevel      string               `yaml:"logLevel,omitempty"`
	ConditionSets ConditionSetSettings `yaml:"conditionSets"`
	Telemetry     Telemetry            `yaml:"telemetry"`
	Jobs          []JobTrackers        `yaml:"jobs"`
}

// ConditionSetSettings tunes how the condition-set peer is probed.
type ConditionSetSettings struct {
	PollInterval time.Duration `yaml:"pollInterval,omitempty"`
	ProbeTimeout time.Duration `yaml:"probeTimeout,omitempty"`
	CallTimeout  time.Duration `yaml:"callTimeout,omitempty"`
	Socket       string        `yaml:"socket,omitempty"`
}

// Telemetry toggles the in-process reconciliation counters.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
}

// JobTrackers is one named group in the tracker registry.
type JobTrackers struct {
	Job      Job              `yaml:"job"`
	Trackers []*TrackerConfig `yaml:"trackers"`
}

// Parse decodes a configuration document and applies defaults without validating it.
func Parse(data []byte) (*Configuration, error) {
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns an empty configuration with defaults applied.
func Default() *Configuration {
	cfg := &Configuration{}
	cfg.applyDefaults()
	return cfg
}

func (c *Configuration) applyDefaults() {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	if c.ConditionSets.PollInterval == 0 {
		c.ConditionSets.PollInterval = defaultPollInterval
	}
	if c.ConditionSets.ProbeTimeout == 0 {
		c.ConditionSets.ProbeTimeout = defaultProbeTimeout
	}
	if c.ConditionSets.CallTimeout == 0 {
		c.ConditionSets.CallTimeout = defaultCallTimeout
	}
	for i := range c.Jobs {
		c.Jobs[i].Job = Job(normalizeJob(string(c.Jobs[i].Job)))
	}
}

// Validate performs basic sanity checks and returns the first issue found.
func (c *Configuration) Validate() error {
	if errs := c.Lint(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Group returns the tracker group for job, or nil.
func (c *Configuration) Group(job Job) *JobTrackers {
	for i := range c.Jobs {
		if c.Jobs[i].Job == job {
			return &c.Jobs[i]
		}
	}
	return nil
}

// EachTracker visits every tracker in registry order. Nil entries are passed
// through so callers can report them.
func (c *Configuration) EachTracker(fn func(job Job, t *TrackerConfig)) {
	if c == nil {
		return
	}
	for _, group := range c.Jobs {
		for _, t := range group.Trackers {
			fn(group.Job, t)
		}
	}
}

// TrackerCount returns the number of non-nil trackers in the registry.
func (c *Configuration) TrackerCount() int {
	n := 0
	c.EachTracker(func(_ Job, t *TrackerConfig) {
		if t != nil {
			n++
		}
	})
	return n
}

// AddTracker appends a tracker to the job group, creating the group when missing.
func (c *Configuration) AddTracker(job Job, t *TrackerConfig) error {
	if !job.Known() {
		return fmt.Errorf("add tracker to %q: %w", job, ErrUnknownJob)
	}
	if g := c.Group(job); g != nil {
		g.Trackers = append(g.Trackers, t)
		return nil
	}
	c.Jobs = append(c.Jobs, JobTrackers{Job: job, Trackers: []*TrackerConfig{t}})
	return nil
}

// RemoveTracker drops the tracker at position idx of the job group.
func (c *Configuration) RemoveTracker(job Job, idx int) error {
	g := c.Group(job)
	if g == nil {
		return fmt.Errorf("remove tracker from %q: no such group", job)
	}
	if idx < 0 || idx >= len(g.Trackers) {
		return fmt.Errorf("remove tracker from %q: index %d out of range", job, idx)
	}
	g.Trackers = append(g.Trackers[:idx], g.Trackers[idx+1:]...)
	return nil
}

// Marshal serializes the configuration as YAML.
func (c *Configuration) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
