// Package widget defines the drawing seam trackers bind to. Rendering itself
// lives outside this module; the daemon ships a no-op implementation.
package widget

import (
	"fmt"
	"sync"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/config"
)

// FadeDuration is the alpha tween length used for show and hide.
const FadeDuration = 100 * time.Millisecond

// Widget is a drawn gauge instance anchored to a game UI element.
type Widget interface {
	FadeIn(d time.Duration)
	FadeOut(d time.Duration)
	Close() error
}

// Factory builds widgets for tracker configs.
type Factory interface {
	Create(tc *config.TrackerConfig) (Widget, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(tc *config.TrackerConfig) (Widget, error)

// Create implements Factory.
func (f FactoryFunc) Create(tc *config.TrackerConfig) (Widget, error) {
	return f(tc)
}

// Nop returns a factory whose widgets draw nothing.
func Nop() Factory {
	return FactoryFunc(func(tc *config.TrackerConfig) (Widget, error) {
		if tc == nil {
			return nil, fmt.Errorf("create widget: nil tracker config")
		}
		return nopWidget{}, nil
	})
}

type nopWidget struct{}

func (nopWidget) FadeIn(time.Duration)  {}
func (nopWidget) FadeOut(time.Duration) {}
func (nopWidget) Close() error          { return nil }

// Recorder is a Widget that records the calls made on it.
type Recorder struct {
	mu     sync.Mutex
	calls  []string
	closed bool
}

// FadeIn implements Widget.
func (r *Recorder) FadeIn(time.Duration) { r.record("in") }

// FadeOut implements Widget.
func (r *Recorder) FadeOut(time.Duration) { r.record("out") }

// Close implements Widget.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.calls = append(r.calls, "close")
	return nil
}

func (r *Recorder) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

// Calls returns the recorded call names in order.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
