package tracker

import (
	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/util"
	"github.com/kana-shii/GaugeOMatic/internal/widget"
)

// JobModule holds the runtime trackers of one job group.
type JobModule struct {
	Job      config.Job
	trackers []*Tracker
	factory  widget.Factory
	logger   *util.Logger
}

func newJobModule(job config.Job, factory widget.Factory, logger *util.Logger) *JobModule {
	return &JobModule{Job: job, factory: factory, logger: logger}
}

// Trackers returns the module's trackers in configuration order.
func (m *JobModule) Trackers() []*Tracker {
	return append([]*Tracker(nil), m.trackers...)
}

// RebuildTrackerList disposes the current trackers and recreates them from
// configs. Nil configs are skipped.
func (m *JobModule) RebuildTrackerList(configs []*config.TrackerConfig) {
	m.dispose()
	m.trackers = make([]*Tracker, 0, len(configs))
	for pos, tc := range configs {
		if tc == nil {
			m.logger.Warnf("%s: skipping nil tracker at %d", m.Job, pos)
			continue
		}
		t := newTracker(m.Job, pos, tc)
		t.buildWidget(m.factory, m.logger)
		m.trackers = append(m.trackers, t)
	}
	m.logger.Debugf("%s: rebuilt %d tracker(s)", m.Job, len(m.trackers))
}

func (m *JobModule) dispose() {
	for _, t := range m.trackers {
		t.Dispose(m.logger)
	}
	m.trackers = nil
}
