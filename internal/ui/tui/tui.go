package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/control/client"
)

const (
	defaultRefresh = 500 * time.Millisecond
	typeWidth      = 24
)

// StatusSource is the subset of the control client the dashboard polls.
type StatusSource interface {
	Status(ctx context.Context) (client.Status, error)
	Sets(ctx context.Context) ([]client.ConditionSet, error)
}

// Renderer periodically polls the daemon and renders a textual dashboard.
type Renderer struct {
	Client  StatusSource
	Writer  io.Writer
	Refresh time.Duration
}

// New returns a renderer configured with sensible defaults.
func New(cli StatusSource, w io.Writer) *Renderer {
	return &Renderer{Client: cli, Writer: w, Refresh: defaultRefresh}
}

// Run starts the render loop until the context is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Writer == nil {
		r.Writer = os.Stdout
	}
	if r.Client == nil {
		return fmt.Errorf("tui renderer requires a control client")
	}

	refresh := r.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	fmt.Fprint(r.Writer, "\033[?25l")
	defer fmt.Fprint(r.Writer, "\033[?25h")

	r.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.render(ctx)
		}
	}
}

func (r *Renderer) render(ctx context.Context) {
	fmt.Fprint(r.Writer, Frame(ctx, r.Client, time.Now()))
}

// Frame renders one dashboard screen.
func Frame(ctx context.Context, src StatusSource, now time.Time) string {
	var buf bytes.Buffer
	buf.WriteString("\033[H\033[2J")
	buf.WriteString("GaugeOMatic status (Ctrl+C to exit)\n")
	buf.WriteString(now.Format(time.RFC1123))
	buf.WriteString("\n\n")

	st, err := src.Status(ctx)
	if err != nil {
		buf.WriteString(fmt.Sprintf("error: %v\n", err))
		return buf.String()
	}
	var sets []client.ConditionSet
	if st.Provider.Enabled {
		if sets, err = src.Sets(ctx); err != nil {
			buf.WriteString(fmt.Sprintf("condition sets: %v\n", err))
		}
	}

	buf.WriteString(renderProvider(st, sets))
	buf.WriteString(renderTrackers(st, sets))
	return buf.String()
}

func renderProvider(st client.Status, sets []client.ConditionSet) string {
	var b strings.Builder
	p := st.Provider
	state := "unavailable"
	if p.Enabled {
		state = fmt.Sprintf("enabled (protocol %d, version %s)", p.ProtocolVersion, p.ServiceVersion)
	}
	b.WriteString(fmt.Sprintf("Provider: %s\n", state))
	if p.Polling {
		b.WriteString("  polling for availability\n")
	}
	if p.PushConfirmed {
		b.WriteString("  push events confirmed\n")
	}
	if p.LastError != "" {
		b.WriteString(fmt.Sprintf("  last error: %s\n", p.LastError))
	}
	b.WriteString(fmt.Sprintf("Player: level %d, conditions %s", st.Player.Level, flagLabel(st.Player.Conditions.String())))
	if st.Preview {
		b.WriteString(", settings open")
	}
	b.WriteString("\n\n")

	if len(sets) == 0 {
		return b.String()
	}
	b.WriteString("Condition sets:\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Index\tName\tActive")
	for _, set := range sets {
		active := "-"
		if v, ok := st.Observed[set.Index]; ok {
			active = fmt.Sprintf("%t", v)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", set.Index, set.Name, active)
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func renderTrackers(st client.Status, sets []client.ConditionSet) string {
	var b strings.Builder
	b.WriteString("Trackers:\n")
	trackers := append(st.Trackers[:0:0], st.Trackers...)
	if len(trackers) == 0 {
		b.WriteString("  (none)\n\n")
		return b.String()
	}
	sort.SliceStable(trackers, func(i, j int) bool {
		if trackers[i].Job == trackers[j].Job {
			return trackers[i].Position < trackers[j].Position
		}
		return trackers[i].Job < trackers[j].Job
	})
	names := make(map[int]string, len(sets))
	for _, set := range sets {
		names[set.Index] = set.Name
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Job\t#\tType\tSet\tState")
	for _, t := range trackers {
		set := "-"
		if t.ConditionSet != config.NoConditionSet {
			set = fmt.Sprintf("%d", t.ConditionSet)
			if name := names[t.ConditionSet]; name != "" {
				set += " (" + name + ")"
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", t.Job, t.Position, truncate(t.TrackerType, typeWidth), set, trackerState(t.Enabled, t.AutoDisabled, t.Visible))
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func flagLabel(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

func trackerState(enabled, autoDisabled, visible bool) string {
	switch {
	case autoDisabled:
		return "auto-disabled"
	case !enabled:
		return "disabled"
	case visible:
		return "visible"
	default:
		return "hidden"
	}
}
