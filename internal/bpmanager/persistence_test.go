package bpmanager

import "testing"

func TestSnapshotRestoreRoundTripStartsPending(t *testing.T) {
	m := newTestManager(t)

	bp, err := m.SetBreakpoint("Program.cs", 10, 0, "hitCount >= 2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bp.HitCount = 5 // simulate a bound, already-hit breakpoint

	snaps := m.SnapshotRequests()
	if len(snaps) != 1 || snaps[0].Condition != "hitCount >= 2" {
		t.Fatalf("unexpected snapshot: %+v", snaps)
	}

	fresh := newTestManager(t)
	fresh.RestoreRequests(snaps)

	restored := fresh.registry.FindByLocation("Program.cs", 10)
	if restored == nil {
		t.Fatal("expected RestoreRequests to recreate the breakpoint")
	}
	if restored.HitCount != 0 {
		t.Fatalf("expected a restored breakpoint to start with a fresh hit count, got %d", restored.HitCount)
	}
	if restored.Condition != "hitCount >= 2" {
		t.Fatalf("expected the condition to survive the round trip, got %q", restored.Condition)
	}
}
