package bpmanager

import (
	"context"
	"testing"

	"github.com/jkolo/clrdbg-core/internal/breakpoints"
	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
	"github.com/jkolo/clrdbg-core/internal/hitqueue"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/symbols"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cache, err := symbols.NewCache(dbgconfig.SymbolCacheConfig{MaxOpenReaders: 4}, logging.Default())
	if err != nil {
		t.Fatalf("failed to create symbol cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	return New(breakpoints.NewRegistry(), symbols.NewMapper(cache), hitqueue.New(16), logging.Default())
}

func TestSetBreakpointIdempotentOnExistingLocation(t *testing.T) {
	m := newTestManager(t)

	bp1, err := m.SetBreakpoint("Program.cs", 10, 0, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bp2, err := m.SetBreakpoint("Program.cs", 10, 0, "hitCount >= 2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bp1.ID != bp2.ID {
		t.Fatalf("expected the same breakpoint id to be reused, got %s vs %s", bp1.ID, bp2.ID)
	}
	if bp2.Condition != "hitCount >= 2" {
		t.Fatalf("expected the condition to update in place, got %q", bp2.Condition)
	}
}

func TestSetBreakpointRejectsBadCondition(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.SetBreakpoint("Program.cs", 10, 0, "not a condition ===", ""); err == nil {
		t.Fatal("expected a parse error for a malformed condition")
	}
}

func TestRemoveBreakpointUnknownID(t *testing.T) {
	m := newTestManager(t)
	if err := m.RemoveBreakpoint(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected not-found for an unknown breakpoint id")
	}
}

func TestSetEnabledTogglesWithoutRebind(t *testing.T) {
	m := newTestManager(t)
	bp, err := m.SetBreakpoint("Program.cs", 10, 0, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetEnabled(bp.ID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bp.Enabled {
		t.Fatal("expected Enabled to flip false")
	}
}

func TestHandleBreakpointHitUnresolvedLocationResumes(t *testing.T) {
	m := newTestManager(t)
	resume := m.HandleBreakpointHit(1, "NoSuchModule.dll", 0x06000001, 0)
	if !resume {
		t.Fatal("expected an unresolved hit location to let the target resume")
	}
}

func TestHandleExceptionNoMatchResumes(t *testing.T) {
	m := newTestManager(t)
	resume := m.HandleException(1, model.ExceptionInfo{TypeName: "System.Exception", IsFirstChance: true})
	if !resume {
		t.Fatal("expected no-match exception handling to resume the target")
	}
}

func TestHandleExceptionMatchStopsAndIncrementsHitCount(t *testing.T) {
	m := newTestManager(t)
	eb := m.SetExceptionBreakpoint("System.InvalidOperationException", true, true, false)

	resume := m.HandleException(1, model.ExceptionInfo{TypeName: "System.InvalidOperationException", IsFirstChance: true})
	if resume {
		t.Fatal("expected a matching exception rule to stop the target")
	}
	if eb.HitCount != 1 {
		t.Fatalf("expected HitCount to increment, got %d", eb.HitCount)
	}

	hit, derr := m.queue.DequeueWithTimeout(context.Background())
	if derr != nil {
		t.Fatalf("expected a hit to be enqueued: %v", derr)
	}
	if hit.BreakpointID != eb.ID {
		t.Fatalf("expected the exception rule's id, got %q", hit.BreakpointID)
	}
}

func TestHandleModuleLoadSkipsDynamicAndInMemory(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.SetBreakpoint("Program.cs", 10, 0, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should be a no-op: neither dynamic nor in-memory modules are
	// candidates for binding, and this never reaches the mapper.
	m.HandleModuleLoad(model.Module{Path: "Dynamic.dll", IsDynamic: true})
	m.HandleModuleLoad(model.Module{Path: "InMemory.dll", IsInMemory: true})
}
