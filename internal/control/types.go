package control

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/kana-shii/GaugeOMatic/internal/rules"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Action names supported by the control protocol.
	ActionStatus    = "status"
	ActionSets      = "sets.list"
	ActionAssign    = "sets.assign"
	ActionReprobe   = "provider.reprobe"
	ActionReload    = "reload"
	ActionHistory   = "history"
	ActionExplain   = "explain"
	ActionPlayerSet = "player.set"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// AssignResult reports how many trackers a bulk assignment changed.
type AssignResult struct {
	Changed int `json:"changed"`
}

// ReprobeResult reports provider availability after a reprobe.
type ReprobeResult struct {
	Enabled bool `json:"enabled"`
}

// ExplainResult carries the display-rule trace for one tracker.
type ExplainResult struct {
	Available bool         `json:"available"`
	Trace     *rules.Trace `json:"trace,omitempty"`
	Lines     []string     `json:"lines,omitempty"`
}

// DefaultSocketPath returns the expected location of the daemon's control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("GAUGEOMATIC_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	base := runtimeDir
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "gaugeomatic", SocketFileName), nil
}
