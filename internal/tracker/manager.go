package tracker

import (
	"fmt"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/rules"
	"github.com/kana-shii/GaugeOMatic/internal/util"
	"github.com/kana-shii/GaugeOMatic/internal/widget"
)

// Manager owns one JobModule per configured job group, in registry order.
// It is not safe for concurrent use.
type Manager struct {
	cfg     *config.Configuration
	gate    rules.Gate
	factory widget.Factory
	logger  *util.Logger
	modules []*JobModule
}

// NewManager returns a manager with every group built from cfg.
func NewManager(cfg *config.Configuration, gate rules.Gate, factory widget.Factory, logger *util.Logger) *Manager {
	if factory == nil {
		factory = widget.Nop()
	}
	m := &Manager{gate: gate, factory: factory, logger: logger}
	m.SetConfig(cfg)
	return m
}

// SetConfig replaces the configuration and rebuilds every group.
func (m *Manager) SetConfig(cfg *config.Configuration) {
	m.cfg = cfg
	m.Rebuild()
}

// Modules returns the job modules in registry order.
func (m *Manager) Modules() []*JobModule {
	return append([]*JobModule(nil), m.modules...)
}

// Module returns the module for job, or nil.
func (m *Manager) Module(job config.Job) *JobModule {
	for _, mod := range m.modules {
		if mod.Job == job {
			return mod
		}
	}
	return nil
}

// Rebuild recreates modules to match the configuration's groups and rebuilds
// every tracker list.
func (m *Manager) Rebuild() {
	for _, mod := range m.modules {
		mod.dispose()
	}
	m.modules = nil
	if m.cfg == nil {
		return
	}
	for _, group := range m.cfg.Jobs {
		mod := newJobModule(group.Job, m.factory, m.logger)
		mod.RebuildTrackerList(group.Trackers)
		m.modules = append(m.modules, mod)
	}
}

// RebuildGroup rebuilds a single job group, creating its module when the
// group was added since the last full rebuild.
func (m *Manager) RebuildGroup(job config.Job) error {
	if m.cfg == nil {
		return fmt.Errorf("rebuild %s: no configuration", job)
	}
	group := m.cfg.Group(job)
	if group == nil {
		return fmt.Errorf("rebuild %s: no such group", job)
	}
	mod := m.Module(job)
	if mod == nil {
		mod = newJobModule(job, m.factory, m.logger)
		m.modules = append(m.modules, mod)
	}
	mod.RebuildTrackerList(group.Trackers)
	return nil
}

// Update evaluates every tracker for the frame.
func (m *Manager) Update(frame Frame) {
	for _, mod := range m.modules {
		for _, t := range mod.trackers {
			t.Update(frame, m.gate)
		}
	}
}

// Status lists every tracker in registry order.
func (m *Manager) Status() []Status {
	var out []Status
	for _, mod := range m.modules {
		for _, t := range mod.trackers {
			out = append(out, t.Status())
		}
	}
	return out
}

// Dispose releases every widget.
func (m *Manager) Dispose() {
	for _, mod := range m.modules {
		mod.dispose()
	}
	m.modules = nil
}
