package tracing

import (
	"maps"
	"sync"

	"github.com/sarchlab/nachosvm/hooking"
)

// StatsTracer counts how many times each hook position is reached.
type StatsTracer struct {
	lock   sync.Mutex
	counts map[string]uint64
}

// NewStatsTracer creates a new StatsTracer.
func NewStatsTracer() *StatsTracer {
	return &StatsTracer{
		counts: make(map[string]uint64),
	}
}

// Func counts the hook position.
func (t *StatsTracer) Func(ctx hooking.HookCtx) {
	if ctx.Pos == nil {
		return
	}

	t.lock.Lock()
	t.counts[ctx.Pos.Name]++
	t.lock.Unlock()
}

// Count returns how many times a position was reached.
func (t *StatsTracer) Count(pos *hooking.HookPos) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[pos.Name]
}

// Counts returns a copy of all the counters, by position name.
func (t *StatsTracer) Counts() map[string]uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return maps.Clone(t.counts)
}
