package ipc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/kana-shii/GaugeOMatic/internal/util"
)

// Event kinds pushed by the provider on its event socket.
const (
	EventReady    = "ready"
	EventEnabled  = "enabled"
	EventDisabled = "disabled"
	EventMoved    = "movedconditionset"
	EventRemoved  = "removedconditionset"
)

// Event represents one line of the provider's event stream, framed as kind>>payload.
type Event struct {
	Kind    string
	Payload string
}

// ParseEvent splits a raw event line.
func ParseEvent(line string) Event {
	parts := strings.SplitN(strings.TrimSpace(line), ">>", 2)
	ev := Event{Kind: strings.ToLower(parts[0])}
	if len(parts) == 2 {
		ev.Payload = parts[1]
	}
	return ev
}

// String formats the event in its wire framing.
func (e Event) String() string {
	if e.Payload == "" {
		return e.Kind
	}
	return e.Kind + ">>" + e.Payload
}

// MovedPayload decodes the from,to pair of a moved event.
func (e Event) MovedPayload() (from, to int, err error) {
	parts := strings.Split(e.Payload, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid %s payload %q", EventMoved, e.Payload)
	}
	from, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid moved source %q: %w", parts[0], err)
	}
	to, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid moved target %q: %w", parts[1], err)
	}
	if from < 0 || to < 0 {
		return 0, 0, fmt.Errorf("negative index in %s payload %q", EventMoved, e.Payload)
	}
	return from, to, nil
}

// RemovedPayload decodes the index of a removed event.
func (e Event) RemovedPayload() (int, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(e.Payload))
	if err != nil {
		return 0, fmt.Errorf("invalid %s payload %q: %w", EventRemoved, e.Payload, err)
	}
	if idx < 0 {
		return 0, fmt.Errorf("negative index in %s payload %q", EventRemoved, e.Payload)
	}
	return idx, nil
}

// SubscribeFunc opens an event stream; it matches Subscribe so callers can swap in fakes.
type SubscribeFunc func(ctx context.Context, path string, logger *util.Logger) (<-chan Event, error)

// Subscribe connects to the provider's event socket and streams events until
// context cancellation or the provider closes the stream.
func Subscribe(ctx context.Context, path string, logger *util.Logger) (<-chan Event, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: connect event socket: %v", ErrUnavailable, err)
	}
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer conn.Close()
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case events <- ParseEvent(line):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logger.Warnf("event stream error: %v", err)
		}
	}()
	return events, nil
}
