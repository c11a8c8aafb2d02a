package infrastructure

import (
	"context"
	"sort"

	"ledgerbot/internal/interfaces"

	"go.uber.org/zap"
)

// Handler priorities. Higher runs first.
const (
	PriorityGate    = 100
	PriorityDefault = 0
)

type dispatchEntry struct {
	priority int
	handler  interfaces.Handler
}

// Dispatcher runs an event through handlers in priority order until one
// returns interfaces.Halt. Handlers with equal priority keep registration
// order. Register before the runtime starts; Dispatch is then safe for
// concurrent use.
type Dispatcher struct {
	entries []dispatchEntry
	logger  *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

func (d *Dispatcher) Register(priority int, h interfaces.Handler) {
	d.entries = append(d.entries, dispatchEntry{priority: priority, handler: h})
	sort.SliceStable(d.entries, func(i, j int) bool {
		return d.entries[i].priority > d.entries[j].priority
	})
}

func (d *Dispatcher) Len() int {
	return len(d.entries)
}

// Dispatch returns Halt if any handler halted the chain.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *interfaces.Event) interfaces.Verdict {
	for _, e := range d.entries {
		if d.handle(ctx, e.handler, ev) == interfaces.Halt {
			return interfaces.Halt
		}
	}
	return interfaces.Continue
}

// handle drops the event when a handler panics.
func (d *Dispatcher) handle(ctx context.Context, h interfaces.Handler, ev *interfaces.Event) (v interfaces.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked, dropping event",
				zap.Int64("tenant_id", ev.TenantID),
				zap.Int("update_id", ev.Update.UpdateID),
				zap.Any("panic", r))
			v = interfaces.Halt
		}
	}()
	return h.Handle(ctx, ev)
}
