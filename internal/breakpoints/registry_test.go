package breakpoints

import (
	"testing"

	"github.com/jkolo/clrdbg-core/internal/model"
)

func newBP(file string, line int) *model.Breakpoint {
	return &model.Breakpoint{
		ID:       NewID(),
		Location: model.SourceLocation{File: file, Line: line},
		Enabled:  true,
	}
}

func TestRegistryFindByLocation(t *testing.T) {
	r := NewRegistry()
	bp := newBP("/src/Program.cs", 42)
	r.Put(bp)

	got := r.FindByLocation("/src/Program.cs", 42)
	if got == nil || got.ID != bp.ID {
		t.Fatalf("FindByLocation did not return the stored breakpoint: %+v", got)
	}

	if r.FindByLocation("/src/Program.cs", 43) != nil {
		t.Fatal("FindByLocation matched a line with no breakpoint")
	}
}

func TestRegistryFindByLocationAfterRemove(t *testing.T) {
	r := NewRegistry()
	bp := newBP("/src/Program.cs", 42)
	r.Put(bp)
	r.Remove(bp.ID)

	if r.FindByLocation("/src/Program.cs", 42) != nil {
		t.Fatal("FindByLocation returned a removed breakpoint")
	}
	if r.Get(bp.ID) != nil {
		t.Fatal("Get returned a removed breakpoint")
	}
}

func TestRegistryValidateUniqueLocation(t *testing.T) {
	r := NewRegistry()
	bp := newBP("/src/Program.cs", 10)
	r.Put(bp)

	if err := r.ValidateUniqueLocation("/src/Program.cs", 10, bp.ID); err != nil {
		t.Fatalf("excluding the existing breakpoint's own id should not conflict: %v", err)
	}
	if err := r.ValidateUniqueLocation("/src/Program.cs", 10, "other-id"); err == nil {
		t.Fatal("expected a conflict for a second breakpoint at the same location")
	}
	if err := r.ValidateUniqueLocation("/src/Program.cs", 11, "other-id"); err != nil {
		t.Fatalf("a different line should never conflict: %v", err)
	}
}

func TestRegistryListBoundForModule(t *testing.T) {
	r := NewRegistry()
	bound := newBP("/src/A.cs", 1)
	bound.State = model.BreakpointBound
	bound.ModulePath = "App.dll"
	r.Put(bound)

	pending := newBP("/src/B.cs", 2)
	r.Put(pending)

	got := r.ListBoundForModule("App.dll")
	if len(got) != 1 || got[0].ID != bound.ID {
		t.Fatalf("expected exactly the bound breakpoint, got %+v", got)
	}
	if len(r.ListBoundForModule("Other.dll")) != 0 {
		t.Fatal("expected no bound breakpoints for an unrelated module")
	}
}

func TestExportImportRequestsRoundTripStartsPending(t *testing.T) {
	r := NewRegistry()
	bp := newBP("/src/Program.cs", 42)
	bp.Condition = "count > 3"
	bp.LogMessage = "hit {count}"
	bp.State = model.BreakpointBound
	bp.ModulePath = "App.dll"
	bp.HitCount = 7
	r.Put(bp)

	reqs := r.ExportRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected one exported request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.File != bp.Location.File || req.Line != bp.Location.Line || req.Condition != bp.Condition || req.LogMessage != bp.LogMessage {
		t.Fatalf("exported request dropped a field: %+v", req)
	}

	fresh := NewRegistry()
	fresh.ImportRequests(reqs)

	restored := fresh.FindByLocation("/src/Program.cs", 42)
	if restored == nil {
		t.Fatal("expected ImportRequests to recreate the breakpoint at its original location")
	}
	if restored.ID == bp.ID {
		t.Fatal("expected ImportRequests to mint a fresh id, not reuse the original")
	}
	if restored.State != model.BreakpointPending {
		t.Fatalf("expected a restored breakpoint to start Pending regardless of its prior bound state, got %v", restored.State)
	}
	if restored.ModulePath != "" || restored.HitCount != 0 {
		t.Fatalf("expected ImportRequests to discard bind state, got ModulePath=%q HitCount=%d", restored.ModulePath, restored.HitCount)
	}
	if restored.Condition != "count > 3" || restored.LogMessage != "hit {count}" {
		t.Fatalf("expected the condition and log message to survive the round trip, got %+v", restored)
	}
}

func TestFindMatchingExceptionBreakpoints(t *testing.T) {
	r := NewRegistry()
	r.PutException(&model.ExceptionBreakpoint{
		ID:                  "eb1",
		ExceptionType:       "System.IO.IOException",
		BreakOnFirstChance:  true,
		IncludeSubtypes:     true,
		Enabled:             true,
	})

	hits := r.FindMatchingExceptionBreakpoints("System.IO.FileNotFoundException", true)
	if len(hits) != 0 {
		t.Fatalf("FileNotFoundException is not a suffix match of IOException, got %+v", hits)
	}

	hits = r.FindMatchingExceptionBreakpoints("Custom.System.IO.IOException", true)
	if len(hits) != 1 {
		t.Fatalf("expected a dotted-suffix subtype match, got %+v", hits)
	}

	hits = r.FindMatchingExceptionBreakpoints("System.IO.IOException", false)
	if len(hits) != 0 {
		t.Fatal("second-chance event should not match a first-chance-only rule")
	}
}
