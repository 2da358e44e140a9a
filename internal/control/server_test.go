package control

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/engine"
	"github.com/kana-shii/GaugeOMatic/internal/state"
	"github.com/kana-shii/GaugeOMatic/internal/util"
	"github.com/kana-shii/GaugeOMatic/internal/widget"
)

type fakePeer struct {
	mu     sync.Mutex
	active map[int]bool
}

func (p *fakePeer) ProtocolVersion(context.Context) (int, error) { return 1, nil }

func (p *fakePeer) ServiceVersion(context.Context) (string, error) { return "1.2.0.0", nil }

func (p *fakePeer) ConditionSetNames(context.Context) ([]string, error) {
	return []string{"Duty", "Raid"}, nil
}

func (p *fakePeer) EvaluateConditionSet(_ context.Context, index int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[index], nil
}

type nopStore struct{}

func (nopStore) Save(*config.Configuration) error { return nil }

type testServer struct {
	srv    *Server
	cfg    *config.Configuration
	player *state.StaticSource
	reason string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	tc := config.NewTrackerConfig("StatusTracker", 76)
	tc.Enabled = true
	cfg := config.Default()
	cfg.Jobs = []config.JobTrackers{
		{Job: "PLD", Trackers: []*config.TrackerConfig{tc}},
		{Job: "WHM", Trackers: []*config.TrackerConfig{config.NewTrackerConfig("ActionTracker", 1)}},
	}
	ts := &testServer{
		cfg:    cfg,
		player: state.NewStaticSource(state.Player{Level: 90}),
	}
	eng := engine.New(engine.Deps{
		Config:  cfg,
		Peer:    &fakePeer{active: map[int]bool{0: true}},
		Store:   nopStore{},
		Player:  ts.player,
		Widgets: widget.Nop(),
		Logger:  logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv, err := NewServer(eng, logger, func(reason string) error {
		ts.reason = reason
		return nil
	})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	ts.srv = srv
	return ts
}

func (ts *testServer) roundTrip(t *testing.T, req Request) Response {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go ts.srv.handle(ctx, serverConn)

	if err := clientConn.SetDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if err := json.NewEncoder(clientConn).Encode(req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(clientConn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func decodeData(t *testing.T, resp Response, out any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

func TestHandleStatusReportsTrackers(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.roundTrip(t, Request{Action: ActionStatus})
	if resp.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	var st engine.Status
	decodeData(t, resp, &st)
	if len(st.Trackers) != 2 {
		t.Fatalf("expected 2 trackers, got %+v", st.Trackers)
	}
}

func TestHandleSetsAndReprobe(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.roundTrip(t, Request{Action: ActionReprobe})
	var probe ReprobeResult
	decodeData(t, resp, &probe)
	if resp.Status != StatusOK || !probe.Enabled {
		t.Fatalf("expected enabled provider, got %+v", resp)
	}

	resp = ts.roundTrip(t, Request{Action: ActionSets})
	var sets []struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	}
	decodeData(t, resp, &sets)
	if len(sets) != 2 || sets[1].Name != "Raid" {
		t.Fatalf("unexpected sets %+v", sets)
	}
}

func TestHandleAssignGroupAndAll(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.roundTrip(t, Request{Action: ActionAssign, Params: map[string]any{"index": 1, "job": "pld"}})
	if resp.Status != StatusOK {
		t.Fatalf("assign group failed: %+v", resp)
	}
	var res AssignResult
	decodeData(t, resp, &res)
	if res.Changed != 1 {
		t.Fatalf("expected 1 change, got %d", res.Changed)
	}

	resp = ts.roundTrip(t, Request{Action: ActionAssign, Params: map[string]any{"index": 0}})
	decodeData(t, resp, &res)
	if resp.Status != StatusOK || res.Changed != 2 {
		t.Fatalf("expected assign all to change 2, got %+v %+v", resp, res)
	}
}

func TestHandleAssignRejectsBadParams(t *testing.T) {
	ts := newTestServer(t)
	cases := []map[string]any{
		nil,
		{"index": 1.5},
		{"index": "one"},
		{"index": 0, "job": "XYZ"},
	}
	for _, params := range cases {
		resp := ts.roundTrip(t, Request{Action: ActionAssign, Params: params})
		if resp.Status != StatusError || resp.Error == "" {
			t.Fatalf("params %v: expected error, got %+v", params, resp)
		}
	}
}

func TestHandleExplainAndPlayerSet(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.roundTrip(t, Request{Action: ActionPlayerSet, Params: map[string]any{
		"level": 42, "flags": "incombat", "settingsOpen": true,
	}})
	if resp.Status != StatusOK {
		t.Fatalf("player.set failed: %+v", resp)
	}
	p, err := ts.player.Snapshot(context.Background())
	if err != nil || p.Level != 42 || !p.Conditions.Has(state.InCombat) || !ts.player.Preview() {
		t.Fatalf("unexpected player state %+v %v", p, err)
	}

	resp = ts.roundTrip(t, Request{Action: ActionExplain, Params: map[string]any{"job": "PLD", "position": 0}})
	if resp.Status != StatusOK {
		t.Fatalf("explain failed: %+v", resp)
	}
	var res ExplainResult
	decodeData(t, resp, &res)
	if res.Trace == nil || len(res.Lines) == 0 {
		t.Fatalf("expected trace and summary, got %+v", res)
	}

	resp = ts.roundTrip(t, Request{Action: ActionExplain, Params: map[string]any{"job": "PLD", "position": 9}})
	if resp.Status != StatusError {
		t.Fatalf("expected error for missing tracker")
	}
}

func TestHandleReloadAndHistory(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.roundTrip(t, Request{Action: ActionReload})
	if resp.Status != StatusOK || ts.reason != "control request" {
		t.Fatalf("expected reload callback, got %+v reason=%q", resp, ts.reason)
	}
	resp = ts.roundTrip(t, Request{Action: ActionHistory})
	if resp.Status != StatusOK {
		t.Fatalf("history failed: %+v", resp)
	}
}

func TestHandleUnknownAction(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.roundTrip(t, Request{Action: "bogus"})
	if resp.Status != StatusError {
		t.Fatalf("expected error for unknown action")
	}
}

func TestIntParam(t *testing.T) {
	if v, ok, err := intParam(map[string]any{"n": float64(3)}, "n"); err != nil || !ok || v != 3 {
		t.Fatalf("intParam = %d %v %v", v, ok, err)
	}
	if _, ok, err := intParam(map[string]any{}, "n"); ok || err != nil {
		t.Fatalf("missing key should report !ok")
	}
	if _, _, err := intParam(map[string]any{"n": 2.5}, "n"); err == nil {
		t.Fatalf("expected fraction error")
	}
}
