package dcmeasure

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// MemoryDatalog keeps the most recent judgments in memory.
type MemoryDatalog struct {
	mu        sync.Mutex
	limit     int
	judgments []Judgment
}

// NewMemoryDatalog keeps at most limit judgments; older ones roll off.
func NewMemoryDatalog(limit int) *MemoryDatalog {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryDatalog{limit: limit, judgments: make([]Judgment, 0, limit)}
}

func (d *MemoryDatalog) Judge(_ context.Context, j Judgment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.judgments) >= d.limit {
		d.judgments = d.judgments[1:]
	}
	d.judgments = append(d.judgments, j)
	return nil
}

func (d *MemoryDatalog) Judgments() []Judgment {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Judgment, len(d.judgments))
	copy(out, d.judgments)
	return out
}

// MultiDatalog forwards every judgment to all of its sinks.
type MultiDatalog []Datalog

func (m MultiDatalog) Judge(ctx context.Context, j Judgment) error {
	var errs error
	for _, d := range m {
		errs = multierr.Append(errs, d.Judge(ctx, j))
	}
	return errs
}
