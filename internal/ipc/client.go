package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

type request struct {
	Method string `json:"method"`
	Index  *int   `json:"index,omitempty"`
}

type response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

const statusOK = "ok"

// Client talks to the provider over its request socket, one connection per call.
type Client struct {
	socketPath string
}

// NewClient returns a client for the request socket at path.
func NewClient(path string) *Client {
	return &Client{socketPath: path}
}

// SocketPath returns the request socket path.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// ProtocolVersion returns the provider's IPC protocol version.
func (c *Client) ProtocolVersion(ctx context.Context) (int, error) {
	var v int
	if err := c.call(ctx, request{Method: MethodProtocolVersion}, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// ServiceVersion returns the provider's release version string.
func (c *Client) ServiceVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.call(ctx, request{Method: MethodServiceVersion}, &v); err != nil {
		return "", err
	}
	return v, nil
}

// ConditionSetNames returns the provider's condition sets in positional order.
func (c *Client) ConditionSetNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.call(ctx, request{Method: MethodConditionSets}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// EvaluateConditionSet reports whether the set at index is currently satisfied.
func (c *Client) EvaluateConditionSet(ctx context.Context, index int) (bool, error) {
	var ok bool
	idx := index
	if err := c.call(ctx, request{Method: MethodCheckSet, Index: &idx}, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (c *Client) call(ctx context.Context, req request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("%s: encode request: %w", req.Method, err)
	}
	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", req.Method, err)
	}
	if resp.Status != statusOK {
		if resp.Error == "" {
			resp.Error = "unknown provider error"
		}
		return fmt.Errorf("%s: %w", req.Method, errors.New(resp.Error))
	}
	if out == nil {
		return nil
	}
	if len(resp.Result) == 0 {
		return fmt.Errorf("%s: empty result", req.Method)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", req.Method, err)
	}
	return nil
}

var _ Peer = (*Client)(nil)
