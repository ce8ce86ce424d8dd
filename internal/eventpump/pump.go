// Package eventpump implements the Event Pump: a single-threaded
// consumer of target runtime adapter callbacks that fans each event out
// to the listeners that care, deciding on the caller's behalf whether
// the target runtime should resume.
package eventpump

import (
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
)

// Handlers are the listeners the pump fans events out to. Any nil
// handler is simply skipped; a breakpoint/exception handler that
// returns false instructs the target runtime to remain paused.
type Handlers struct {
	OnBreakpointHit func(threadID int, modulePath string, methodToken uint32, ilOffset int) (resume bool)
	OnStepComplete  func(threadID int)
	OnException     func(threadID int, info model.ExceptionInfo) (resume bool)
	OnModuleLoad    func(mod model.Module)
	OnModuleUnload  func(mod model.Module)
	OnCreateProcess func()
	OnProcessExit   func()
	OnThreadStateChange func(threadID int)
}

// Pump implements runtime.EventSink, serializing every adapter callback
// through OnEvent in delivery order.
type Pump struct {
	handlers Handlers
	log      *logging.Logger
}

// New creates a Pump with the given handlers wired in.
func New(handlers Handlers, log *logging.Logger) *Pump {
	if log == nil {
		log = logging.Default()
	}
	return &Pump{handlers: handlers, log: log.WithComponent("eventpump")}
}

// OnEvent implements runtime.EventSink. It must not block for long: a
// slow handler stalls the entire target process, since the adapter
// callback that produced ev is blocked awaiting the Ack.
func (p *Pump) OnEvent(ev runtime.Event) {
	resume := true

	switch ev.Kind {
	case runtime.EventBreakpointHit:
		if p.handlers.OnBreakpointHit != nil {
			modulePath := ""
			if ev.Module != nil {
				modulePath = ev.Module.Path
			}
			resume = p.handlers.OnBreakpointHit(ev.ThreadID, modulePath, ev.MethodToken, ev.ILOffset)
		}
	case runtime.EventStepComplete:
		if p.handlers.OnStepComplete != nil {
			p.handlers.OnStepComplete(ev.ThreadID)
		}
		resume = false // a completed step always leaves the target Paused
	case runtime.EventException:
		if p.handlers.OnException != nil && ev.Exception != nil {
			resume = p.handlers.OnException(ev.ThreadID, *ev.Exception)
		}
	case runtime.EventModuleLoad:
		if p.handlers.OnModuleLoad != nil && ev.Module != nil {
			p.handlers.OnModuleLoad(*ev.Module)
		}
	case runtime.EventModuleUnload:
		if p.handlers.OnModuleUnload != nil && ev.Module != nil {
			p.handlers.OnModuleUnload(*ev.Module)
		}
	case runtime.EventCreateProcess:
		if p.handlers.OnCreateProcess != nil {
			p.handlers.OnCreateProcess()
		}
	case runtime.EventCreateAppDomain:
		// No dedicated handler in v1; logged for visibility only.
		p.log.Debug("app domain created")
	case runtime.EventProcessExit:
		if p.handlers.OnProcessExit != nil {
			p.handlers.OnProcessExit()
		}
	case runtime.EventThreadStateChange:
		if p.handlers.OnThreadStateChange != nil {
			p.handlers.OnThreadStateChange(ev.ThreadID)
		}
	default:
		p.log.Warn("unrecognized event kind %d", ev.Kind)
	}

	if ev.ContinueRequired && ev.Ack != nil {
		ev.Ack(resume)
	}
}
