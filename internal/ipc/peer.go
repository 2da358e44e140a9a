package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnavailable is returned when the condition-set provider cannot be reached.
var ErrUnavailable = errors.New("condition-set provider unavailable")

// Peer is the versioned contract of the condition-set provider. Every call is
// expected to honour ctx and fail fast.
type Peer interface {
	ProtocolVersion(ctx context.Context) (int, error)
	ServiceVersion(ctx context.Context) (string, error)
	ConditionSetNames(ctx context.Context) ([]string, error)
	EvaluateConditionSet(ctx context.Context, index int) (bool, error)
}

// Method names understood by the provider's request socket.
const (
	MethodProtocolVersion = "GetIPCVersion"
	MethodServiceVersion  = "GetVersion"
	MethodConditionSets   = "GetConditionSets"
	MethodCheckSet        = "CheckConditionSet"
)

const (
	requestSocketName = "ipc.sock"
	eventSocketName   = "events.sock"
)

// SocketPaths locates the provider's request and event sockets. An explicit
// override names the request socket; the event socket sits next to it.
func SocketPaths(override string) (request string, events string, err error) {
	if override == "" {
		override = os.Getenv("GAUGEOMATIC_CONDSET_SOCKET")
	}
	if override != "" {
		return override, filepath.Join(filepath.Dir(override), eventSocketName), nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", "", fmt.Errorf("XDG_RUNTIME_DIR not set")
	}
	base := filepath.Join(runtimeDir, "qolbar")
	return filepath.Join(base, requestSocketName), filepath.Join(base, eventSocketName), nil
}
