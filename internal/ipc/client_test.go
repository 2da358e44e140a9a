package ipc

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestClientRoundTrip(t *testing.T) {
	listener, path := listenUnix(t, requestSocketName)
	serveProvider(t, listener, func(req request) response {
		switch req.Method {
		case MethodProtocolVersion:
			return okResult(t, 1)
		case MethodServiceVersion:
			return okResult(t, "2.4.0.1")
		case MethodConditionSets:
			return okResult(t, []string{"In Duty", "Solo"})
		case MethodCheckSet:
			if req.Index == nil {
				return response{Status: "error", Error: "missing index"}
			}
			return okResult(t, *req.Index == 1)
		default:
			return response{Status: "error", Error: "unknown method"}
		}
	})

	client := NewClient(path)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ver, err := client.ProtocolVersion(ctx)
	if err != nil || ver != 1 {
		t.Fatalf("ProtocolVersion = %d, %v", ver, err)
	}
	svc, err := client.ServiceVersion(ctx)
	if err != nil || svc != "2.4.0.1" {
		t.Fatalf("ServiceVersion = %q, %v", svc, err)
	}
	names, err := client.ConditionSetNames(ctx)
	if err != nil {
		t.Fatalf("ConditionSetNames: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"In Duty", "Solo"}) {
		t.Fatalf("unexpected names %#v", names)
	}
	for idx, want := range map[int]bool{0: false, 1: true} {
		got, err := client.EvaluateConditionSet(ctx, idx)
		if err != nil {
			t.Fatalf("EvaluateConditionSet(%d): %v", idx, err)
		}
		if got != want {
			t.Fatalf("EvaluateConditionSet(%d) = %v, want %v", idx, got, want)
		}
	}
}

func TestClientProviderError(t *testing.T) {
	listener, path := listenUnix(t, requestSocketName)
	serveProvider(t, listener, func(req request) response {
		return response{Status: "error", Error: "index out of range"}
	})

	_, err := NewClient(path).EvaluateConditionSet(context.Background(), 9)
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestClientUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")
	_, err := NewClient(path).ProtocolVersion(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSocketPaths(t *testing.T) {
	setEnv(t, "GAUGEOMATIC_CONDSET_SOCKET", "")
	setEnv(t, "XDG_RUNTIME_DIR", "/run/user/1000")
	req, ev, err := SocketPaths("")
	if err != nil {
		t.Fatalf("SocketPaths: %v", err)
	}
	if req != "/run/user/1000/qolbar/ipc.sock" || ev != "/run/user/1000/qolbar/events.sock" {
		t.Fatalf("unexpected paths %q %q", req, ev)
	}

	req, ev, err = SocketPaths("/tmp/peer/custom.sock")
	if err != nil {
		t.Fatalf("SocketPaths override: %v", err)
	}
	if req != "/tmp/peer/custom.sock" || ev != "/tmp/peer/events.sock" {
		t.Fatalf("unexpected override paths %q %q", req, ev)
	}

	setEnv(t, "XDG_RUNTIME_DIR", "")
	if _, _, err := SocketPaths(""); err == nil {
		t.Fatalf("expected error without runtime dir")
	}
}
