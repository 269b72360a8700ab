// Package tracing turns the hook invocations of the paging components into
// flat events and sends them to logs, counters, and data recorders.
package tracing

import (
	"fmt"
	"strings"

	"github.com/sarchlab/nachosvm/addrspace"
	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/kernel"
	"github.com/sarchlab/nachosvm/mem/frame"
	"github.com/sarchlab/nachosvm/vm"
	"github.com/sarchlab/nachosvm/vm/tlb"
)

// NA marks the numeric fields of an Event that do not apply.
const NA = -1

// An Event is the flat record of one hook invocation.
type Event struct {
	Seq    uint64
	Domain string
	What   string
	VAddr  int
	VPN    int
	Frame  int
	Slot   int
	Count  int
	Note   string
}

// NewEvent flattens a hook context.
func NewEvent(ctx hooking.HookCtx) Event {
	e := Event{
		Domain: ctx.DomainName(),
		VAddr:  NA,
		VPN:    NA,
		Frame:  NA,
		Slot:   NA,
		Count:  NA,
	}

	if ctx.Pos != nil {
		e.What = ctx.Pos.Name
	}

	e.fillItem(ctx.Pos, ctx.Item)
	e.fillDetail(ctx.Detail)

	return e
}

func (e *Event) fillItem(pos *hooking.HookPos, item any) {
	switch item := item.(type) {
	case int:
		e.fillInt(pos, item)
	case vm.TranslationEntry:
		e.VPN = item.VirtualPage
		e.Frame = item.PhysicalPage
	case []vm.TranslationEntry:
		e.Count = len(item)
	case []string:
		e.Count = len(item)
		e.Note = strings.Join(item, " ")
	case *kernel.Process:
		e.Count = int(item.ID)
		e.Note = item.Path
	case nil:
	default:
		e.Note = fmt.Sprint(item)
	}
}

func (e *Event) fillInt(pos *hooking.HookPos, n int) {
	switch pos {
	case frame.HookPosAlloc, frame.HookPosFree:
		e.Frame = n
	case addrspace.HookPosPageFault:
		e.VAddr = n
	default:
		e.Count = n
	}
}

func (e *Event) fillDetail(detail any) {
	switch detail := detail.(type) {
	case addrspace.LoadDetail:
		e.Note = fmt.Sprintf("code=%d data=%d", detail.CodeBytes, detail.DataBytes)
	case tlb.RefillDetail:
		e.Slot = detail.Slot
		if detail.Evicted.Valid {
			e.Note = fmt.Sprintf("evicted vpn %d", detail.Evicted.VirtualPage)
		}
	case int:
		e.VAddr = detail
	case error:
		e.Note = detail.Error()
	case nil:
	default:
		e.Note = fmt.Sprint(detail)
	}
}

// CollectTrace attaches a tracer to every domain.
func CollectTrace(tracer hooking.Hook, domains ...hooking.Hookable) {
	for _, d := range domains {
		d.AcceptHook(tracer)
	}
}
