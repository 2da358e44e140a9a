package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/condset"
	"github.com/kana-shii/GaugeOMatic/internal/control"
	"github.com/kana-shii/GaugeOMatic/internal/engine"
	"github.com/kana-shii/GaugeOMatic/internal/reconcile"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
)

// Client talks to the running GaugeOMatic daemon over its control socket.
type Client struct {
	socketPath string
}

type (
	// Status mirrors the daemon's engine status payload.
	Status = engine.Status
	// ConditionSet is one entry of the provider's set list.
	ConditionSet = condset.ConditionSet
	// Batch is one reconciliation history entry.
	Batch = reconcile.Batch
	// ExplainResult carries a tracker's display-rule trace.
	ExplainResult = control.ExplainResult
)

// New creates a client that connects to the provided socket path. When path is
// empty, the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// Status retrieves the daemon's provider, reconciler and tracker state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.do(ctx, control.Request{Action: control.ActionStatus}, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Sets lists the provider's condition sets as last seen by the daemon.
func (c *Client) Sets(ctx context.Context) ([]ConditionSet, error) {
	var sets []ConditionSet
	if err := c.do(ctx, control.Request{Action: control.ActionSets}, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// Assign binds trackers to a condition set. An empty job targets every group;
// index -1 clears the binding.
func (c *Client) Assign(ctx context.Context, index int, job string) (int, error) {
	if index < -1 {
		return 0, fmt.Errorf("invalid condition set index %d", index)
	}
	params := map[string]any{"index": index}
	if job = strings.TrimSpace(job); job != "" {
		params["job"] = job
	}
	var res control.AssignResult
	if err := c.do(ctx, control.Request{Action: control.ActionAssign, Params: params}, &res); err != nil {
		return 0, err
	}
	return res.Changed, nil
}

// Reprobe asks the daemon to re-check provider availability.
func (c *Client) Reprobe(ctx context.Context) (bool, error) {
	var res control.ReprobeResult
	if err := c.do(ctx, control.Request{Action: control.ActionReprobe}, &res); err != nil {
		return false, err
	}
	return res.Enabled, nil
}

// Reload asks the daemon to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

// History retrieves recent reconciliation batches.
func (c *Client) History(ctx context.Context) ([]Batch, error) {
	var batches []Batch
	if err := c.do(ctx, control.Request{Action: control.ActionHistory}, &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// Explain traces the display rule for the tracker at job[position].
func (c *Client) Explain(ctx context.Context, job string, position int) (ExplainResult, error) {
	if strings.TrimSpace(job) == "" {
		return ExplainResult{}, errors.New("job cannot be empty")
	}
	params := map[string]any{"job": job, "position": position}
	var res ExplainResult
	if err := c.do(ctx, control.Request{Action: control.ActionExplain, Params: params}, &res); err != nil {
		return ExplainResult{}, err
	}
	return res, nil
}

// SetPlayer overrides the daemon's simulated player state.
func (c *Client) SetPlayer(ctx context.Context, level int, flags string, settingsOpen bool) error {
	if level < 0 {
		return fmt.Errorf("invalid level %d", level)
	}
	params := map[string]any{"level": level, "flags": flags, "settingsOpen": settingsOpen}
	return c.do(ctx, control.Request{Action: control.ActionPlayerSet, Params: params}, nil)
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
