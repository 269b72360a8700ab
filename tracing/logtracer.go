package tracing

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"github.com/sarchlab/nachosvm/hooking"
)

// A LogTracer writes one CSV line for every event.
type LogTracer struct {
	mu     sync.Mutex
	writer *csv.Writer
	seq    uint64
}

// LogHeader is the first line that a LogTracer writes.
var LogHeader = []string{
	"seq", "domain", "what", "vaddr", "vpn", "frame", "slot", "count", "note",
}

// NewLogTracer produces a new LogTracer, injecting the dependency of a writer.
func NewLogTracer(w io.Writer) *LogTracer {
	t := &LogTracer{writer: csv.NewWriter(w)}
	t.write(LogHeader)

	return t
}

// Func writes the event of the hook context.
func (t *LogTracer) Func(ctx hooking.HookCtx) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	e := NewEvent(ctx)
	e.Seq = t.seq

	t.write([]string{
		strconv.FormatUint(e.Seq, 10),
		e.Domain,
		e.What,
		optional(e.VAddr),
		optional(e.VPN),
		optional(e.Frame),
		optional(e.Slot),
		optional(e.Count),
		e.Note,
	})
}

func (t *LogTracer) write(record []string) {
	err := t.writer.Write(record)
	if err != nil {
		panic(err)
	}

	t.writer.Flush()

	err = t.writer.Error()
	if err != nil {
		panic(err)
	}
}

func optional(n int) string {
	if n == NA {
		return ""
	}

	return strconv.Itoa(n)
}
