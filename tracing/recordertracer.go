package tracing

import (
	"sync/atomic"

	"github.com/sarchlab/nachosvm/datarecording"
	"github.com/sarchlab/nachosvm/hooking"
)

// EventTable is the table a RecorderTracer writes to.
const EventTable = "paging_events"

// A RecorderTracer stores every event in a data recorder.
type RecorderTracer struct {
	backend datarecording.DataRecorder
	seq     atomic.Uint64
}

// NewRecorderTracer creates the event table and returns a tracer that fills
// it.
func NewRecorderTracer(recorder datarecording.DataRecorder) *RecorderTracer {
	recorder.CreateTable(EventTable, Event{})

	return &RecorderTracer{backend: recorder}
}

// Func records the event of the hook context.
func (t *RecorderTracer) Func(ctx hooking.HookCtx) {
	e := NewEvent(ctx)
	e.Seq = t.seq.Add(1)

	t.backend.InsertData(EventTable, e)
}

// Flush writes the buffered events.
func (t *RecorderTracer) Flush() {
	t.backend.Flush()
}
