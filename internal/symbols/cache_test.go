package symbols

import (
	"testing"

	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
)

func TestPdbPathForReplacesExtension(t *testing.T) {
	if got := pdbPathFor("/bin/App.dll"); got != "/bin/App.pdb" {
		t.Fatalf("got %q", got)
	}
}

func TestGetOrCreateCachesNegativeEntry(t *testing.T) {
	c, err := NewCache(dbgconfig.SymbolCacheConfig{MaxOpenReaders: 4}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	_, err1 := c.GetOrCreate("/nonexistent/App.dll")
	if err1 == nil {
		t.Fatal("expected an error for a module with no PDB on disk")
	}
	_, err2 := c.GetOrCreate("/nonexistent/App.dll")
	if err2 == nil {
		t.Fatal("expected the second call to also fail")
	}
	if err1.Error() != err2.Error() {
		t.Fatalf("expected the cached negative entry to be reused, got %v vs %v", err1, err2)
	}
}

func TestInvalidateClearsNegativeEntry(t *testing.T) {
	c, err := NewCache(dbgconfig.SymbolCacheConfig{MaxOpenReaders: 4}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	if _, err := c.GetOrCreate("/nonexistent/App.dll"); err == nil {
		t.Fatal("expected an initial failure")
	}
	c.Invalidate("/nonexistent/App.dll")

	c.mu.RLock()
	_, stillNegative := c.negative["/nonexistent/App.dll"]
	c.mu.RUnlock()
	if stillNegative {
		t.Fatal("expected Invalidate to clear the negative cache entry")
	}
}

func TestWatchInvalidationFiresOnMatchingChange(t *testing.T) {
	c, err := NewCache(dbgconfig.SymbolCacheConfig{MaxOpenReaders: 4}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	ch := c.WatchInvalidation("/bin/App.dll")
	c.handleFileChanged("/bin/App.pdb")

	select {
	case <-ch:
	default:
		t.Fatal("expected the invalidation channel to fire for the module's companion pdb path")
	}
}
