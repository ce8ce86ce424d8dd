// Package symbols implements the Symbol Cache (module-path-keyed PDB
// reader pool) and the Symbol Mapper (source-line <-> IL-offset
// translation) described by the debugger core.
package symbols

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/symbols/pdb"
)

// pdbPathFor returns the conventional PDB path for a module path: same
// directory, same base name, .pdb extension.
func pdbPathFor(modulePath string) string {
	ext := filepath.Ext(modulePath)
	return strings.TrimSuffix(modulePath, ext) + ".pdb"
}

// Cache owns open PDB readers keyed by module path, with a bounded LRU
// of positive entries and an unbounded map of negative entries (a
// module without symbols is asked about on every module-load, so its
// failure is cheap to remember and not worth evicting).
type Cache struct {
	mu       sync.RWMutex
	positive *lru.Cache[string, *pdb.Reader]
	negative map[string]error

	watcher     *fsnotify.Watcher
	invalidated map[string][]chan struct{}

	log *logging.Logger
}

// NewCache builds a Cache per cfg.
func NewCache(cfg dbgconfig.SymbolCacheConfig, log *logging.Logger) (*Cache, error) {
	if log == nil {
		log = logging.Default()
	}
	size := cfg.MaxOpenReaders
	if size <= 0 {
		size = 64
	}

	c := &Cache{
		negative:    make(map[string]error),
		invalidated: make(map[string][]chan struct{}),
		log:         log.WithComponent("symbols"),
	}

	positive, err := lru.NewWithEvict(size, func(modulePath string, _ *pdb.Reader) {
		c.log.Debug("evicting symbol reader for %s", modulePath)
	})
	if err != nil {
		return nil, fmt.Errorf("create symbol reader LRU: %w", err)
	}
	c.positive = positive

	if cfg.WatchForChanges {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			c.log.Warn("symbol file watcher unavailable: %v", err)
		} else {
			c.watcher = w
			go c.watchLoop()
		}
	}

	return c, nil
}

// GetOrCreate returns the reader for modulePath, opening and caching it
// on first use. A prior negative entry short-circuits further attempts
// until Invalidate clears it.
func (c *Cache) GetOrCreate(modulePath string) (*pdb.Reader, error) {
	c.mu.RLock()
	if negErr, ok := c.negative[modulePath]; ok {
		c.mu.RUnlock()
		return nil, negErr
	}
	c.mu.RUnlock()

	if r, ok := c.positive.Get(modulePath); ok {
		return r, nil
	}

	pdbPath := pdbPathFor(modulePath)
	reader, err := pdb.Open(pdbPath)
	if err != nil {
		c.mu.Lock()
		c.negative[modulePath] = err
		c.mu.Unlock()
		return nil, err
	}

	c.positive.Add(modulePath, reader)
	c.watchPath(modulePath, pdbPath)
	return reader, nil
}

// Invalidate drops both positive and negative entries for modulePath so
// the next GetOrCreate re-opens from disk.
func (c *Cache) Invalidate(modulePath string) {
	c.positive.Remove(modulePath)
	c.mu.Lock()
	delete(c.negative, modulePath)
	c.mu.Unlock()
}

// WatchInvalidation returns a channel that fires once whenever the
// on-disk PDB (or its companion module) for modulePath changes. Callers
// re-subscribe after each fire if they want to keep watching.
func (c *Cache) WatchInvalidation(modulePath string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.invalidated[modulePath] = append(c.invalidated[modulePath], ch)
	c.mu.Unlock()
	return ch
}

func (c *Cache) watchPath(modulePath, pdbPath string) {
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Add(pdbPath); err != nil {
		c.log.Debug("could not watch %s: %v", pdbPath, err)
		return
	}
	if err := c.watcher.Add(modulePath); err != nil {
		c.log.Debug("could not watch %s: %v", modulePath, err)
	}
}

func (c *Cache) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.handleFileChanged(ev.Name)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Warn("symbol watcher error: %v", err)
		}
	}
}

func (c *Cache) handleFileChanged(path string) {
	c.mu.Lock()
	var fired []chan struct{}
	for modulePath, chans := range c.invalidated {
		pdbPath := pdbPathFor(modulePath)
		if path == modulePath || path == pdbPath {
			fired = append(fired, chans...)
			delete(c.invalidated, modulePath)
			c.positive.Remove(modulePath)
			delete(c.negative, modulePath)
		}
	}
	c.mu.Unlock()

	for _, ch := range fired {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close releases the file watcher, if any.
func (c *Cache) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
