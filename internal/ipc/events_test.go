package ipc

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/util"
)

func TestParseEventPayloads(t *testing.T) {
	moved := ParseEvent("MovedConditionSet>>2, 5\n")
	if moved.Kind != EventMoved {
		t.Fatalf("unexpected kind %q", moved.Kind)
	}
	from, to, err := moved.MovedPayload()
	if err != nil || from != 2 || to != 5 {
		t.Fatalf("MovedPayload = %d,%d,%v", from, to, err)
	}

	removed := ParseEvent("removedconditionset>>3")
	idx, err := removed.RemovedPayload()
	if err != nil || idx != 3 {
		t.Fatalf("RemovedPayload = %d,%v", idx, err)
	}
	if removed.String() != "removedconditionset>>3" {
		t.Fatalf("unexpected framing %q", removed.String())
	}

	bad := []Event{
		{Kind: EventMoved, Payload: "2"},
		{Kind: EventMoved, Payload: "a,1"},
		{Kind: EventMoved, Payload: "-1,1"},
		{Kind: EventRemoved, Payload: "x"},
		{Kind: EventRemoved, Payload: "-2"},
	}
	for _, ev := range bad {
		var err error
		if ev.Kind == EventMoved {
			_, _, err = ev.MovedPayload()
		} else {
			_, err = ev.RemovedPayload()
		}
		if err == nil {
			t.Fatalf("expected error for %s", ev)
		}
	}

	if ready := ParseEvent("ready"); ready.Kind != EventReady || ready.Payload != "" {
		t.Fatalf("unexpected ready event %#v", ready)
	}
}

func TestSubscribeStreamsUntilClose(t *testing.T) {
	listener, path := listenUnix(t, eventSocketName)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.WriteString(conn, "ready\n\nenabled\nmovedconditionset>>0,1\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	events, err := Subscribe(ctx, path, logger)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var kinds []string
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []string{EventReady, EventEnabled, EventMoved}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected events %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestSubscribeUnavailable(t *testing.T) {
	_, err := Subscribe(context.Background(), filepath.Join(t.TempDir(), "none.sock"), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
