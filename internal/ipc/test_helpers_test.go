package ipc

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	original, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s: %v", key, err)
	}
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
			return
		}
		os.Setenv(key, original)
	})
}

func listenUnix(t *testing.T, name string) (net.Listener, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "gomatic")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, name)
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	return listener, path
}

// serveProvider answers request-socket calls with handler until the listener closes.
func serveProvider(t *testing.T, listener net.Listener, handler func(req request) response) {
	t.Helper()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var req request
				if err := json.NewDecoder(conn).Decode(&req); err != nil {
					return
				}
				_ = json.NewEncoder(conn).Encode(handler(req))
			}(conn)
		}
	}()
}

func okResult(t *testing.T, v any) response {
	data, err := json.Marshal(v)
	if err != nil {
		t.Errorf("marshal result: %v", err)
	}
	return response{Status: statusOK, Result: data}
}
