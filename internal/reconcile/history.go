package reconcile

import (
	"sync"
	"time"

	"github.com/kana-shii/GaugeOMatic/internal/config"
)

// BatchKind names what triggered a mutation batch.
type BatchKind string

const (
	BatchTransition BatchKind = "transition"
	BatchMoved      BatchKind = "moved"
	BatchRemoved    BatchKind = "removed"
	BatchAssign     BatchKind = "assign"

	historyLimit = 128
)

// Change actions recorded per tracker.
const (
	ActionAutoDisabled = "auto-disabled"
	ActionRestored     = "restored"
	ActionRemapped     = "remapped"
	ActionAssigned     = "assigned"
)

// Change describes one tracker mutated by a batch.
type Change struct {
	Job          config.Job `json:"job"`
	Position     int        `json:"position"`
	TrackerType  string     `json:"trackerType"`
	Action       string     `json:"action"`
	ConditionSet int        `json:"conditionSet"`
	Enabled      bool       `json:"enabled"`
}

// Batch is one saved-and-rebuilt group of mutations.
type Batch struct {
	Timestamp time.Time    `json:"timestamp"`
	Kind      BatchKind    `json:"kind"`
	Indices   []int        `json:"indices,omitempty"`
	Changes   []Change     `json:"changes,omitempty"`
	Rebuilt   []config.Job `json:"rebuilt,omitempty"`
	SaveError string       `json:"saveError,omitempty"`
}

type batchLog struct {
	mu      sync.Mutex
	entries []Batch
	limit   int
}

func newBatchLog(limit int) *batchLog {
	if limit <= 0 {
		limit = historyLimit
	}
	return &batchLog{limit: limit}
}

func (l *batchLog) record(entry Batch) {
	if l == nil {
		return
	}
	entry = cloneBatch(entry)
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.limit-1]
	}
	l.entries = append(l.entries, entry)
}

func (l *batchLog) snapshot() []Batch {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	out := make([]Batch, len(l.entries))
	for i, entry := range l.entries {
		out[i] = cloneBatch(entry)
	}
	return out
}

func cloneBatch(b Batch) Batch {
	if len(b.Indices) > 0 {
		b.Indices = append([]int(nil), b.Indices...)
	}
	if len(b.Changes) > 0 {
		b.Changes = append([]Change(nil), b.Changes...)
	}
	if len(b.Rebuilt) > 0 {
		b.Rebuilt = append([]config.Job(nil), b.Rebuilt...)
	}
	return b
}
