// Package condset adapts the external condition-set provider into a stable,
// synchronous view for the frame loop. The service is not safe for concurrent
// use; every method is expected to run on the frame goroutine.
package condset

import (
	"context"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/ipc"
	"github.com/kana-shii/GaugeOMatic/internal/util"
)

// ExpectedProtocolVersion is the only provider protocol version treated as present.
const ExpectedProtocolVersion = 1

// UnknownServiceVersion is reported when the provider's release version cannot be read.
const UnknownServiceVersion = "0.0.0.0"

const (
	defaultPollInterval = time.Second
	defaultProbeTimeout = 15 * time.Second
	defaultCallTimeout  = 250 * time.Millisecond
)

// ConditionSet is one entry of the provider's positional set list.
type ConditionSet struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Options tunes availability polling and per-call deadlines.
type Options struct {
	PollInterval time.Duration
	ProbeTimeout time.Duration
	CallTimeout  time.Duration
	// Subscribe reopens the push stream while polling; nil disables resubscription.
	// The returned stream must outlive the call.
	Subscribe func() (<-chan ipc.Event, error)
}

// Status is a diagnostic snapshot for the settings surface.
type Status struct {
	Enabled         bool   `json:"enabled"`
	ProtocolVersion int    `json:"protocolVersion"`
	ServiceVersion  string `json:"serviceVersion"`
	SetCount        int    `json:"setCount"`
	PushConfirmed   bool   `json:"pushConfirmed"`
	Polling         bool   `json:"polling"`
	LastError       string `json:"lastError,omitempty"`
}

// Service owns connectivity to the condition-set provider.
type Service struct {
	peer   ipc.Peer
	logger *util.Logger
	opts   Options

	enabled         bool
	protocolVersion int
	serviceVersion  string
	sets            []string
	lastErr         error

	events        <-chan ipc.Event
	pushConfirmed bool
	polling       bool
	windowStart   time.Time
	lastProbe     time.Time

	// frame holds Evaluate results for the current frame only.
	frame map[int]bool
	// listed is set once the set list has been re-read this frame.
	listed bool

	// holding defers enabled-change listeners until Flush; notified is the
	// last state they saw.
	holding  bool
	notified bool

	enabledListeners []func(bool)
	movedListeners   []func(from, to int)
	removedListeners []func(index int)
}

// New returns a service for peer. A nil peer is treated as an absent provider.
func New(peer ipc.Peer, logger *util.Logger, opts Options) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Service{
		peer:           peer,
		logger:         logger,
		opts:           opts,
		serviceVersion: UnknownServiceVersion,
		frame:          make(map[int]bool),
	}
}

// OnEnabledChanged registers fn to run after each availability transition.
func (s *Service) OnEnabledChanged(fn func(enabled bool)) {
	s.enabledListeners = append(s.enabledListeners, fn)
}

// OnSetMoved registers fn to run when the provider reports two sets swapped positions.
func (s *Service) OnSetMoved(fn func(from, to int)) {
	s.movedListeners = append(s.movedListeners, fn)
}

// OnSetRemoved registers fn to run when the provider reports a set was deleted.
func (s *Service) OnSetRemoved(fn func(index int)) {
	s.removedListeners = append(s.removedListeners, fn)
}

// Start attaches an optional push stream, opens the availability polling
// window at now and probes once.
func (s *Service) Start(now time.Time, events <-chan ipc.Event) {
	s.events = events
	s.openProbeWindow(now)
	s.Reevaluate(context.Background())
}

func (s *Service) openProbeWindow(now time.Time) {
	s.polling = true
	s.windowStart = now
	s.lastProbe = now
}

// IsEnabled reports whether the provider is present with the expected protocol version.
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Status returns the current diagnostic snapshot.
func (s *Service) Status() Status {
	st := Status{
		Enabled:         s.enabled,
		ProtocolVersion: s.protocolVersion,
		ServiceVersion:  s.serviceVersion,
		SetCount:        len(s.sets),
		PushConfirmed:   s.pushConfirmed,
		Polling:         s.polling,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Reevaluate probes the provider's protocol version and updates availability.
// Repeated calls without an underlying change fire no notifications.
func (s *Service) Reevaluate(ctx context.Context) bool {
	if s.peer == nil {
		s.protocolVersion = 0
		s.setEnabled(false)
		return false
	}
	callCtx, cancel := s.callContext(ctx)
	ver, err := s.peer.ProtocolVersion(callCtx)
	cancel()
	if err != nil {
		s.protocolVersion = 0
		s.degrade("probe protocol version", err)
		return false
	}
	s.protocolVersion = ver
	if ver != ExpectedProtocolVersion {
		if s.enabled {
			s.logger.Warnf("provider protocol version %d, expected %d; treating as absent", ver, ExpectedProtocolVersion)
		}
		s.setEnabled(false)
		return false
	}
	if !s.enabled {
		s.refreshServiceVersion(ctx)
		if !s.refreshSets(ctx, true) {
			return false
		}
	} else {
		s.refreshSets(ctx, false)
	}
	s.lastErr = nil
	s.setEnabled(true)
	return true
}

// ListConditionSets returns the provider's sets, falling back to the last
// successful list when the provider is disabled or the live call fails. A
// failed listing leaves availability untouched.
func (s *Service) ListConditionSets() []ConditionSet {
	if s.enabled {
		s.refreshSets(context.Background(), false)
	}
	out := make([]ConditionSet, len(s.sets))
	for i, name := range s.sets {
		out[i] = ConditionSet{Index: i, Name: name}
	}
	return out
}

// Evaluate reports whether the set at index is satisfied. It fails safe to
// false when disabled, out of range, or on any provider error. An index past
// the cached list re-reads the list at most once per frame before giving up.
func (s *Service) Evaluate(index int) bool {
	if !s.enabled || index < 0 || s.peer == nil {
		return false
	}
	if index >= len(s.sets) && !s.listed {
		s.refreshSets(context.Background(), false)
		s.listed = true
	}
	if index >= len(s.sets) {
		return false
	}
	if v, ok := s.frame[index]; ok {
		return v
	}
	ctx, cancel := s.callContext(context.Background())
	ok, err := s.peer.EvaluateConditionSet(ctx, index)
	cancel()
	if err != nil {
		s.degrade("evaluate condition set", err)
		return false
	}
	s.frame[index] = ok
	return ok
}

// Tick starts a new frame and, while the polling window is open, probes the
// provider every PollInterval. The window closes once push delivery is
// confirmed or ProbeTimeout elapses.
func (s *Service) Tick(now time.Time) {
	if len(s.frame) > 0 {
		s.frame = make(map[int]bool)
	}
	s.listed = false
	if !s.polling {
		return
	}
	if s.pushConfirmed {
		s.stopPolling("push delivery confirmed")
		return
	}
	if now.Sub(s.windowStart) >= s.opts.ProbeTimeout {
		s.stopPolling("probe window elapsed")
		return
	}
	if now.Sub(s.lastProbe) < s.opts.PollInterval {
		return
	}
	s.lastProbe = now
	if s.events == nil && s.opts.Subscribe != nil {
		events, err := s.opts.Subscribe()
		if err != nil {
			s.logger.Debugf("subscribe: %v", err)
		} else {
			s.logger.Infof("subscribed to provider events")
			s.events = events
		}
	}
	s.Reevaluate(context.Background())
}

func (s *Service) stopPolling(reason string) {
	s.polling = false
	s.logger.Infof("availability polling stopped: %s (enabled=%v)", reason, s.enabled)
}

// Pump applies every pushed event that is already buffered without blocking.
// It returns the number of events handled.
func (s *Service) Pump(now time.Time) int {
	n := 0
	for s.events != nil {
		select {
		case ev, ok := <-s.events:
			if !ok {
				s.streamClosed(now)
				return n
			}
			s.HandleEvent(ev)
			n++
		default:
			return n
		}
	}
	return n
}

func (s *Service) streamClosed(now time.Time) {
	s.logger.Warnf("provider event stream closed; resuming availability polling")
	s.events = nil
	s.pushConfirmed = false
	s.openProbeWindow(now)
	s.Reevaluate(context.Background())
}

// HandleEvent applies one pushed provider event synchronously.
func (s *Service) HandleEvent(ev ipc.Event) {
	switch ev.Kind {
	case ipc.EventReady, ipc.EventEnabled:
		s.confirmPush()
		s.Reevaluate(context.Background())
	case ipc.EventDisabled:
		s.confirmPush()
		s.setEnabled(false)
	case ipc.EventMoved:
		from, to, err := ev.MovedPayload()
		if err != nil {
			s.logger.Warnf("ignoring event: %v", err)
			return
		}
		s.confirmPush()
		s.applyMoved(from, to)
	case ipc.EventRemoved:
		idx, err := ev.RemovedPayload()
		if err != nil {
			s.logger.Warnf("ignoring event: %v", err)
			return
		}
		s.confirmPush()
		s.applyRemoved(idx)
	default:
		s.logger.Debugf("ignoring unknown event %q", ev.Kind)
	}
}

func (s *Service) confirmPush() {
	if s.pushConfirmed {
		return
	}
	s.pushConfirmed = true
	if s.polling {
		s.stopPolling("push delivery confirmed")
	}
}

func (s *Service) applyMoved(from, to int) {
	if from < len(s.sets) && to < len(s.sets) {
		s.sets[from], s.sets[to] = s.sets[to], s.sets[from]
	}
	s.frame = make(map[int]bool)
	s.logger.Infof("condition set moved %d -> %d", from, to)
	for _, fn := range s.movedListeners {
		fn(from, to)
	}
}

func (s *Service) applyRemoved(index int) {
	if index < len(s.sets) {
		s.sets = append(s.sets[:index], s.sets[index+1:]...)
	}
	s.frame = make(map[int]bool)
	s.logger.Infof("condition set %d removed", index)
	for _, fn := range s.removedListeners {
		fn(index)
	}
}

func (s *Service) refreshServiceVersion(ctx context.Context) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	v, err := s.peer.ServiceVersion(callCtx)
	if err != nil || v == "" {
		s.serviceVersion = UnknownServiceVersion
		return
	}
	s.serviceVersion = v
}

// refreshSets re-reads the set list. With degrade unset a failure keeps the
// cached list and the current availability.
func (s *Service) refreshSets(ctx context.Context, degrade bool) bool {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	names, err := s.peer.ConditionSetNames(callCtx)
	if err != nil {
		if degrade {
			s.degrade("list condition sets", err)
		} else {
			s.lastErr = err
			s.logger.Warnf("list condition sets: %v; keeping %d cached", err, len(s.sets))
		}
		return false
	}
	s.sets = append([]string(nil), names...)
	return true
}

func (s *Service) degrade(op string, err error) {
	s.lastErr = err
	if s.enabled {
		s.logger.Warnf("%s: %v; disabling condition sets", op, err)
	} else {
		s.logger.Debugf("%s: %v", op, err)
	}
	s.setEnabled(false)
}

func (s *Service) setEnabled(enabled bool) {
	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	s.frame = make(map[int]bool)
	if enabled {
		s.logger.Infof("provider enabled (protocol %d, version %s, %d sets)", s.protocolVersion, s.serviceVersion, len(s.sets))
	} else {
		s.logger.Infof("provider disabled")
	}
	if !s.holding {
		s.notify()
	}
}

// Hold defers enabled-change listeners until Flush. Availability itself still
// changes immediately, so Evaluate keeps failing safe while held.
func (s *Service) Hold() {
	s.holding = true
}

// Flush ends a Hold and delivers the net availability change, if any.
func (s *Service) Flush() {
	s.holding = false
	s.notify()
}

func (s *Service) notify() {
	if s.notified == s.enabled {
		return
	}
	s.notified = s.enabled
	for _, fn := range s.enabledListeners {
		fn(s.notified)
	}
}

func (s *Service) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.opts.CallTimeout)
}
