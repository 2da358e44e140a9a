package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/engine"
	"github.com/kana-shii/GaugeOMatic/internal/rules"
	"github.com/kana-shii/GaugeOMatic/internal/state"
	"github.com/kana-shii/GaugeOMatic/internal/util"
)

const requestTimeout = 2 * time.Second

// Server hosts the daemon's control socket and serves requests. Every handler
// that touches engine state runs on the frame goroutine through Engine.Do.
type Server struct {
	engine     *engine.Engine
	logger     *util.Logger
	reload     func(reason string) error
	socketPath string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new control server listening on DefaultSocketPath.
func NewServer(eng *engine.Engine, logger *util.Logger, reload func(reason string) error) (*Server, error) {
	path, err := DefaultSocketPath()
	if err != nil {
		return nil, err
	}
	return &Server{
		engine:     eng,
		logger:     logger,
		reload:     reload,
		socketPath: path,
	}, nil
}

// SetSocketPath overrides the socket location; it must be called before Serve.
func (s *Server) SetSocketPath(path string) {
	if path != "" {
		s.socketPath = path
	}
}

// SocketPath returns the socket location.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("control accept error: %v", err)
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	var req Request
	if err := dec.Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var (
		data any
		err  error
	)
	switch req.Action {
	case ActionStatus:
		err = s.onFrame(ctx, func() { data = s.engine.Status() })
	case ActionSets:
		err = s.onFrame(ctx, func() { data = s.engine.ConditionSets() })
	case ActionAssign:
		data, err = s.handleAssign(ctx, req.Params)
	case ActionReprobe:
		err = s.onFrame(ctx, func() { data = ReprobeResult{Enabled: s.engine.Reprobe(ctx)} })
	case ActionReload:
		err = s.handleReload()
	case ActionHistory:
		err = s.onFrame(ctx, func() { data = s.engine.History() })
	case ActionExplain:
		data, err = s.handleExplain(ctx, req.Params)
	case ActionPlayerSet:
		err = s.handlePlayerSet(ctx, req.Params)
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, data)
}

func (s *Server) onFrame(ctx context.Context, fn func()) error {
	if err := s.engine.Do(ctx, fn); err != nil {
		return fmt.Errorf("engine request: %w", err)
	}
	return nil
}

func (s *Server) handleAssign(ctx context.Context, params map[string]any) (any, error) {
	index, ok, err := intParam(params, "index")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("missing condition set index")
	}
	jobName, _ := params["job"].(string)
	var job config.Job
	if jobName != "" {
		if job, err = config.ParseJob(jobName); err != nil {
			return nil, err
		}
	}
	var (
		changed   int
		assignErr error
	)
	if err := s.onFrame(ctx, func() {
		if job == "" {
			changed, assignErr = s.engine.AssignAll(index)
			return
		}
		changed, assignErr = s.engine.AssignGroup(job, index)
	}); err != nil {
		return nil, err
	}
	if assignErr != nil {
		return nil, assignErr
	}
	return AssignResult{Changed: changed}, nil
}

func (s *Server) handleReload() error {
	if s.reload == nil {
		return errors.New("reload not supported")
	}
	return s.reload("control request")
}

func (s *Server) handleExplain(ctx context.Context, params map[string]any) (any, error) {
	jobName, _ := params["job"].(string)
	job, err := config.ParseJob(jobName)
	if err != nil {
		return nil, err
	}
	pos, ok, err := intParam(params, "position")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("missing tracker position")
	}
	var (
		result     ExplainResult
		explainErr error
	)
	if err := s.onFrame(ctx, func() {
		result.Available, result.Trace, explainErr = s.engine.Explain(job, pos)
	}); err != nil {
		return nil, err
	}
	if explainErr != nil {
		return nil, explainErr
	}
	result.Lines = rules.Summarize(result.Trace)
	return result, nil
}

func (s *Server) handlePlayerSet(ctx context.Context, params map[string]any) error {
	level, ok, err := intParam(params, "level")
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("missing player level")
	}
	flagsRaw, _ := params["flags"].(string)
	flags, err := state.ParseFlags(flagsRaw)
	if err != nil {
		return err
	}
	preview, _ := params["settingsOpen"].(bool)
	var setErr error
	if err := s.onFrame(ctx, func() {
		setErr = s.engine.SetPlayer(state.Player{Level: level, Conditions: flags}, preview)
	}); err != nil {
		return err
	}
	return setErr
}

// intParam reads a whole number from decoded JSON params.
func intParam(params map[string]any, key string) (int, bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, true, fmt.Errorf("%s must be a whole number", key)
		}
		return int(v), true, nil
	case int:
		return v, true, nil
	default:
		return 0, true, fmt.Errorf("%s must be a number", key)
	}
}

func (s *Server) writeOK(conn net.Conn, data any) {
	resp := Response{Status: StatusOK}
	if data != nil {
		resp.Data = data
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
