package eventpump

import (
	"testing"

	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
)

func TestOnEventBreakpointHitDispatchesAndAcks(t *testing.T) {
	var gotThread int
	var gotModule string
	var acked bool
	var ackResume bool

	p := New(Handlers{
		OnBreakpointHit: func(threadID int, modulePath string, methodToken uint32, ilOffset int) bool {
			gotThread = threadID
			gotModule = modulePath
			return false
		},
	}, nil)

	p.OnEvent(runtime.Event{
		Kind:             runtime.EventBreakpointHit,
		ThreadID:         7,
		Module:           &model.Module{Path: "App.dll"},
		ContinueRequired: true,
		Ack: func(resume bool) {
			acked = true
			ackResume = resume
		},
	})

	if gotThread != 7 || gotModule != "App.dll" {
		t.Fatalf("handler did not receive the expected thread/module, got %d/%s", gotThread, gotModule)
	}
	if !acked || ackResume {
		t.Fatalf("expected Ack(false) since the handler said don't resume, acked=%v resume=%v", acked, ackResume)
	}
}

func TestOnEventStepCompleteForcesNoResume(t *testing.T) {
	var called bool
	var ackResume = true

	p := New(Handlers{
		OnStepComplete: func(threadID int) { called = true },
	}, nil)

	p.OnEvent(runtime.Event{
		Kind:             runtime.EventStepComplete,
		ThreadID:         3,
		ContinueRequired: true,
		Ack:              func(resume bool) { ackResume = resume },
	})

	if !called {
		t.Fatal("expected OnStepComplete to be called")
	}
	if ackResume {
		t.Fatal("a completed step must always leave the target Paused, regardless of any handler")
	}
}

func TestOnEventModuleLoadAndUnload(t *testing.T) {
	var loaded, unloaded string
	p := New(Handlers{
		OnModuleLoad:   func(mod model.Module) { loaded = mod.Path },
		OnModuleUnload: func(mod model.Module) { unloaded = mod.Path },
	}, nil)

	p.OnEvent(runtime.Event{Kind: runtime.EventModuleLoad, Module: &model.Module{Path: "A.dll"}})
	p.OnEvent(runtime.Event{Kind: runtime.EventModuleUnload, Module: &model.Module{Path: "B.dll"}})

	if loaded != "A.dll" {
		t.Fatalf("expected OnModuleLoad to fire for A.dll, got %q", loaded)
	}
	if unloaded != "B.dll" {
		t.Fatalf("expected OnModuleUnload to fire for B.dll, got %q", unloaded)
	}
}

func TestOnEventCreateProcessAndThreadStateChange(t *testing.T) {
	var created bool
	var threadID int
	p := New(Handlers{
		OnCreateProcess:     func() { created = true },
		OnThreadStateChange: func(id int) { threadID = id },
	}, nil)

	p.OnEvent(runtime.Event{Kind: runtime.EventCreateProcess})
	p.OnEvent(runtime.Event{Kind: runtime.EventThreadStateChange, ThreadID: 9})

	if !created {
		t.Fatal("expected OnCreateProcess to fire")
	}
	if threadID != 9 {
		t.Fatalf("expected OnThreadStateChange(9), got %d", threadID)
	}
}

func TestOnEventNilHandlersDoNotPanic(t *testing.T) {
	p := New(Handlers{}, nil)
	p.OnEvent(runtime.Event{Kind: runtime.EventCreateAppDomain})
	p.OnEvent(runtime.Event{Kind: runtime.EventProcessExit})
	p.OnEvent(runtime.Event{Kind: runtime.EventKind(999)})
}

func TestOnEventNoAckWhenContinueNotRequired(t *testing.T) {
	acked := false
	p := New(Handlers{}, nil)
	p.OnEvent(runtime.Event{
		Kind:             runtime.EventCreateProcess,
		ContinueRequired: false,
		Ack:              func(resume bool) { acked = true },
	})
	if acked {
		t.Fatal("Ack must not be invoked when ContinueRequired is false")
	}
}
