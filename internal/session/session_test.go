package session

import (
	"context"
	"testing"
	"time"

	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
	"github.com/jkolo/clrdbg-core/internal/runtime/fakehost"
	"github.com/jkolo/clrdbg-core/internal/symbols"
)

func newTestController(t *testing.T, host *fakehost.Host) *Controller {
	t.Helper()
	cache, err := symbols.NewCache(dbgconfig.SymbolCacheConfig{MaxOpenReaders: 4}, logging.Default())
	if err != nil {
		t.Fatalf("failed to create symbol cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	return New(dbgconfig.DefaultSessionConfig(), cache, func() runtime.Interface { return host }, logging.Default())
}

func TestLaunchStopAtEntryEntersPaused(t *testing.T) {
	host := fakehost.New()
	ctrl := newTestController(t, host)

	if err := ctrl.Launch(context.Background(), "/bin/App", nil, nil, "", true); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if ctrl.State() != model.StatePaused {
		t.Fatalf("expected Paused after stopAtEntry launch, got %v", ctrl.State())
	}
	snap := ctrl.Snapshot()
	if snap.PauseReason != model.PauseReasonEntryPoint {
		t.Fatalf("expected PauseReasonEntryPoint, got %v", snap.PauseReason)
	}
}

func TestLaunchWithoutStopAtEntryRuns(t *testing.T) {
	host := fakehost.New()
	ctrl := newTestController(t, host)

	if err := ctrl.Launch(context.Background(), "/bin/App", nil, nil, "", false); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if ctrl.State() != model.StateRunning {
		t.Fatalf("expected Running, got %v", ctrl.State())
	}
}

func TestDoubleAttachRejected(t *testing.T) {
	host := fakehost.New()
	ctrl := newTestController(t, host)

	if err := ctrl.Attach(context.Background(), 123); err != nil {
		t.Fatalf("first attach failed: %v", err)
	}
	if err := ctrl.Attach(context.Background(), 456); err == nil {
		t.Fatal("expected a second attach on an already-attached session to fail")
	}
}

func TestContinueRequiresPaused(t *testing.T) {
	host := fakehost.New()
	ctrl := newTestController(t, host)

	if err := ctrl.Continue(context.Background()); err == nil {
		t.Fatal("expected Continue with no session to fail")
	}

	if err := ctrl.Launch(context.Background(), "/bin/App", nil, nil, "", false); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if err := ctrl.Continue(context.Background()); err == nil {
		t.Fatal("expected Continue while Running (not Paused) to fail")
	}
}

func TestExceptionEventPausesSessionAndDeliversHit(t *testing.T) {
	host := fakehost.New()
	ctrl := newTestController(t, host)

	if err := ctrl.Launch(context.Background(), "/bin/App", nil, nil, "", false); err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	eb := ctrl.BreakpointManager().SetExceptionBreakpoint("System.InvalidOperationException", true, true, false)
	if eb.ID == "" {
		t.Fatal("expected a minted exception breakpoint id")
	}

	host.Emit(runtime.Event{
		Kind:     runtime.EventException,
		ThreadID: 1,
		Exception: &model.ExceptionInfo{
			TypeName:      "System.InvalidOperationException",
			IsFirstChance: true,
		},
		ContinueRequired: true,
	})

	if ctrl.State() != model.StatePaused {
		t.Fatalf("expected Paused after an unhandled matching exception, got %v", ctrl.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	hit, err := ctrl.WaitForHit(ctx, 0)
	if err != nil {
		t.Fatalf("expected a delivered hit: %v", err)
	}
	if hit.BreakpointID != eb.ID {
		t.Fatalf("expected the exception rule's id, got %q", hit.BreakpointID)
	}
}

func TestModuleInspectorAutoWiredAfterLaunch(t *testing.T) {
	host := fakehost.New().WithModule(model.Module{Name: "App.dll", Path: "App.dll"})
	ctrl := newTestController(t, host)

	if err := ctrl.Launch(context.Background(), "/bin/App", nil, nil, "", false); err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	insp, err := ctrl.Modules()
	if err != nil {
		t.Fatalf("expected the Module Inspector to be auto-wired: %v", err)
	}
	mods, mErr := insp.ListModules(context.Background(), true, "")
	if mErr != nil {
		t.Fatalf("unexpected error: %v", mErr)
	}
	if len(mods) != 1 {
		t.Fatalf("expected one module, got %+v", mods)
	}
}

func TestDetachResetsToDisconnected(t *testing.T) {
	host := fakehost.New()
	ctrl := newTestController(t, host)

	if err := ctrl.Attach(context.Background(), 123); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := ctrl.Detach(context.Background(), false); err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if ctrl.State() != model.StateDisconnected {
		t.Fatalf("expected Disconnected after detach, got %v", ctrl.State())
	}
	if err := ctrl.Attach(context.Background(), 456); err != nil {
		t.Fatalf("expected a fresh attach to succeed after detach: %v", err)
	}
}
