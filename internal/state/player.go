// Package state models the per-frame gameplay signals the display rules consume.
package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Flags is a set of player conditions relevant to combat/duty visibility.
type Flags uint8

const (
	InCombat Flags = 1 << iota
	BoundByDuty
	BoundByDuty56
	BoundByDuty95
	InDeepDungeon
)

var flagNames = map[string]Flags{
	"incombat":      InCombat,
	"boundbyduty":   BoundByDuty,
	"boundbyduty56": BoundByDuty56,
	"boundbyduty95": BoundByDuty95,
	"indeepdungeon": InDeepDungeon,
}

// Has reports whether every bit of f is set.
func (c Flags) Has(f Flags) bool {
	return c&f == f
}

// String lists the set flags in a stable order.
func (c Flags) String() string {
	names := make([]string, 0, len(flagNames))
	for name, f := range flagNames {
		if c.Has(f) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// ParseFlags decodes a comma separated flag list; names are case-insensitive.
func ParseFlags(s string) (Flags, error) {
	var out Flags
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		f, ok := flagNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown condition flag %q", part)
		}
		out |= f
	}
	return out, nil
}

// Player is a snapshot of the local player for one frame.
type Player struct {
	Level      int   `json:"level"`
	Conditions Flags `json:"conditions"`
}

// InCombatOrDuty reports whether the player is fighting or inside any kind of duty.
func (p Player) InCombatOrDuty() bool {
	return p.Conditions&(InCombat|BoundByDuty|BoundByDuty56|BoundByDuty95|InDeepDungeon) != 0
}

// Source abstracts the game-data reader that produces player snapshots.
type Source interface {
	Snapshot(ctx context.Context) (Player, error)
}

// StaticSource serves a player snapshot set by the host; it backs the headless daemon.
type StaticSource struct {
	mu      sync.RWMutex
	player  Player
	preview bool
}

// NewStaticSource returns a source that reports p until changed.
func NewStaticSource(p Player) *StaticSource {
	return &StaticSource{player: p}
}

// Snapshot implements Source.
func (s *StaticSource) Snapshot(ctx context.Context) (Player, error) {
	if err := ctx.Err(); err != nil {
		return Player{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player, nil
}

// Set replaces the reported snapshot.
func (s *StaticSource) Set(p Player) {
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
}

// Preview reports whether the settings surface is in preview mode.
func (s *StaticSource) Preview() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preview
}

// SetPreview toggles preview mode.
func (s *StaticSource) SetPreview(on bool) {
	s.mu.Lock()
	s.preview = on
	s.mu.Unlock()
}
