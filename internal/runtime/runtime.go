// Package runtime defines the Target Runtime Adapter: the façade the
// rest of the debugger core uses to drive the target's debugging
// capability, and the event types the adapter normalizes inbound
// callbacks into.
package runtime

import (
	"context"
	"time"

	"github.com/jkolo/clrdbg-core/internal/model"
)

// StepMode selects the granularity of a step operation.
type StepMode int

const (
	StepIn StepMode = iota
	StepOver
	StepOut
)

// Interface is the opaque capability set the core consumes. A concrete
// implementation either drives a real runtime's debug helper
// (processhost) or answers a scripted test scenario (fakehost).
type Interface interface {
	Attach(ctx context.Context, pid int, timeout time.Duration) error
	Launch(ctx context.Context, path string, args []string, env map[string]string, cwd string, stopAtEntry bool) error
	Detach(ctx context.Context) error
	Terminate(ctx context.Context) error

	ListModules(ctx context.Context) ([]model.Module, error)
	GetFunctionFromToken(ctx context.Context, module string, token uint32) (FunctionRef, error)
	CreateILBreakpoint(ctx context.Context, fn FunctionRef, ilOffset int) (model.NativeBindHandle, error)
	ActivateNativeBreakpoint(ctx context.Context, handle model.NativeBindHandle, enabled bool) error

	Continue(ctx context.Context) error
	Pause(ctx context.Context) error
	Step(ctx context.Context, threadID int, mode StepMode) error

	ListThreads(ctx context.Context) ([]model.Thread, error)
	CurrentThread(ctx context.Context) (int, error)

	WalkStack(ctx context.Context, threadID, start, count int) ([]model.StackFrame, int, error)
	ReadLocals(ctx context.Context, threadID, frameIndex int) ([]model.Variable, error)
	ReadArguments(ctx context.Context, threadID, frameIndex int) ([]model.Variable, error)
	ReadThis(ctx context.Context, threadID, frameIndex int) (*model.Variable, error)

	ReadObjectFields(ctx context.Context, objectRef uint64, classToken uint32) ([]model.FieldDetail, error)
	// GetBaseType resolves classToken's immediate base type, for walking
	// up a type's ancestor chain during member resolution (§4.8 step 4).
	// ok is false for a type with no base (e.g. object itself, or an
	// interface).
	GetBaseType(ctx context.Context, classToken uint32) (baseClassToken uint32, baseTypeName string, ok bool, err error)
	ReadMemory(ctx context.Context, address uint64, size int) ([]byte, error)
	CallFunction(ctx context.Context, fn FunctionRef, args []uint64, threadID int) (uint64, error)

	// Subscribe registers the sink that receives normalized events.
	// Implementations deliver events serially, in occurrence order.
	Subscribe(sink EventSink)
}

// FunctionRef identifies a method resolved from a module+token pair.
type FunctionRef struct {
	Module      string
	Token       uint32
	Name        string
	DeclaringType string
}

// EventKind classifies a normalized adapter event.
type EventKind int

const (
	EventBreakpointHit EventKind = iota
	EventStepComplete
	EventException
	EventModuleLoad
	EventModuleUnload
	EventCreateProcess
	EventCreateAppDomain
	EventProcessExit
	EventThreadStateChange
)

// Event is the normalized shape of every inbound adapter callback. The
// adapter blocks the originating callback until the resume decision is
// delivered through Ack, so Ack must always be called exactly once per
// Event with ContinueRequired set.
type Event struct {
	Kind      EventKind
	ThreadID  int
	Module    *model.Module
	MethodToken uint32
	ILOffset  int

	Exception *model.ExceptionInfo

	// ContinueRequired is true when the caller must invoke this event's
	// Ack to let the target runtime proceed.
	ContinueRequired bool
	Ack              func(resume bool)
}

// EventSink receives normalized events from the adapter. Implementations
// must not block for long inside OnEvent; the adapter delivers serially
// and a slow sink stalls the whole target.
type EventSink interface {
	OnEvent(ev Event)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(ev Event)

// OnEvent implements EventSink.
func (f EventSinkFunc) OnEvent(ev Event) { f(ev) }
