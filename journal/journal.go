// Package journal persists run lifecycle events so finished runs can be
// inspected after the fact. It ships an in-memory store for tests and
// short-lived tools, and a SQLite store for durable history.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/petal-labs/vineflow/engine"
)

// Record is one persisted lifecycle event.
type Record struct {
	RunID     string         `json:"run_id"`
	Seq       uint64         `json:"seq"`
	Kind      string         `json:"kind"`
	Workflow  string         `json:"workflow"`
	Depth     int            `json:"depth"`
	Node      string         `json:"node,omitempty"`
	Target    string         `json:"target,omitempty"`
	Condition string         `json:"condition,omitempty"`
	Matched   bool           `json:"matched,omitempty"`
	Time      time.Time      `json:"time"`
	Elapsed   time.Duration  `json:"elapsed,omitempty"`
	Error     string         `json:"error,omitempty"`
	Usage     map[string]any `json:"usage,omitempty"`
}

// Store persists and retrieves records.
type Store interface {
	// Append stores a record.
	Append(ctx context.Context, rec Record) error

	// ListRun returns a run's records in sequence order.
	ListRun(ctx context.Context, runID string) ([]Record, error)

	// RunIDs returns the distinct run IDs present in the store.
	RunIDs(ctx context.Context) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// Observer bridges engine events into a store. Sequence numbers are
// assigned per run in arrival order.
func Observer(store Store) engine.Observer {
	o := &storeObserver{store: store, seqs: make(map[string]uint64)}
	return o
}

type storeObserver struct {
	store Store
	mu    sync.Mutex
	seqs  map[string]uint64
}

func (o *storeObserver) OnEvent(ev engine.Event) {
	o.mu.Lock()
	o.seqs[ev.RunID]++
	seq := o.seqs[ev.RunID]
	o.mu.Unlock()

	rec := Record{
		RunID:     ev.RunID,
		Seq:       seq,
		Kind:      string(ev.Kind),
		Workflow:  ev.Workflow,
		Depth:     ev.Depth,
		Node:      ev.Node,
		Target:    ev.Target,
		Condition: ev.Condition,
		Matched:   ev.Matched,
		Time:      ev.Time,
		Elapsed:   ev.Duration,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if ev.Usage != nil {
		rec.Usage = map[string]any{
			"input_tokens":  ev.Usage.InputTokens,
			"output_tokens": ev.Usage.OutputTokens,
			"total_tokens":  ev.Usage.TotalTokens,
		}
	}

	// Persistence failures must not interrupt the run.
	_ = o.store.Append(context.Background(), rec)
}
