// Package breakpoints implements the Breakpoint Registry (thread-safe
// storage of line and exception breakpoints) and the Condition
// Evaluator (hit-count break conditions).
package breakpoints

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/jkolo/clrdbg-core/internal/dbgerr"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/symbols/pdb"
)

// Registry is the thread-safe store of Breakpoint and
// ExceptionBreakpoint entries. byLocation is a secondary index keyed by
// an xxhash of the normalized (file, line) pair, avoiding a linear scan
// of every breakpoint on each module-load bind attempt.
type Registry struct {
	mu          sync.RWMutex
	breakpoints map[string]*model.Breakpoint
	exceptions  map[string]*model.ExceptionBreakpoint
	byLocation  map[uint64]string // locationKey -> breakpoint id
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		breakpoints: make(map[string]*model.Breakpoint),
		exceptions:  make(map[string]*model.ExceptionBreakpoint),
		byLocation:  make(map[uint64]string),
	}
}

func locationKey(file string, line int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s:%d", pdb.NormalizePath(file), line))
}

// NewID mints a fresh breakpoint identifier.
func NewID() string {
	return uuid.NewString()
}

// FindByLocation returns the breakpoint at the normalized (file, line)
// pair, if any. Invariant I3: at most one exists. The xxhash index
// resolves the common case in O(1); a hash collision (two distinct
// locations sharing a key) falls back to a linear scan, so it is never
// a correctness hazard, only a rare performance one.
func (r *Registry) FindByLocation(file string, line int) *model.Breakpoint {
	norm := pdb.NormalizePath(file)
	key := locationKey(file, line)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byLocation[key]; ok {
		if bp, ok := r.breakpoints[id]; ok && pdb.NormalizePath(bp.Location.File) == norm && bp.Location.Line == line {
			return bp
		}
	}
	for _, bp := range r.breakpoints {
		if pdb.NormalizePath(bp.Location.File) == norm && bp.Location.Line == line {
			return bp
		}
	}
	return nil
}

// Get returns the breakpoint with id, or nil.
func (r *Registry) Get(id string) *model.Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakpoints[id]
}

// Put stores or replaces a breakpoint, preserving its id, and refreshes
// its entry in the location index.
func (r *Registry) Put(bp *model.Breakpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakpoints[bp.ID] = bp
	r.byLocation[locationKey(bp.Location.File, bp.Location.Line)] = bp.ID
}

// Remove deletes the breakpoint with id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bp, ok := r.breakpoints[id]; ok {
		key := locationKey(bp.Location.File, bp.Location.Line)
		if r.byLocation[key] == id {
			delete(r.byLocation, key)
		}
	}
	delete(r.breakpoints, id)
}

// List returns every line breakpoint, in no particular order.
func (r *Registry) List() []*model.Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Breakpoint, 0, len(r.breakpoints))
	for _, bp := range r.breakpoints {
		out = append(out, bp)
	}
	return out
}

// ListPending returns every enabled breakpoint in BreakpointPending
// state.
func (r *Registry) ListPending() []*model.Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Breakpoint
	for _, bp := range r.breakpoints {
		if bp.State == model.BreakpointPending && bp.Enabled {
			out = append(out, bp)
		}
	}
	return out
}

// ListBoundForModule returns every Bound breakpoint whose ModulePath
// matches modulePath.
func (r *Registry) ListBoundForModule(modulePath string) []*model.Breakpoint {
	norm := pdb.NormalizePath(modulePath)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Breakpoint
	for _, bp := range r.breakpoints {
		if bp.State == model.BreakpointBound && pdb.NormalizePath(bp.ModulePath) == norm {
			out = append(out, bp)
		}
	}
	return out
}

// PutException stores or replaces an exception breakpoint rule.
func (r *Registry) PutException(eb *model.ExceptionBreakpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exceptions[eb.ID] = eb
}

// RemoveException deletes the exception rule with id.
func (r *Registry) RemoveException(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.exceptions, id)
}

// GetException returns the exception rule with id, or nil.
func (r *Registry) GetException(id string) *model.ExceptionBreakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exceptions[id]
}

// ListExceptions returns every exception rule.
func (r *Registry) ListExceptions() []*model.ExceptionBreakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.ExceptionBreakpoint, 0, len(r.exceptions))
	for _, eb := range r.exceptions {
		out = append(out, eb)
	}
	return out
}

// FindMatchingExceptionBreakpoints implements the §4.3 policy: a rule
// matches when its first/second-chance flag aligns with the event and
// its type name matches exactly or the thrown type's fully-qualified
// name ends with "." plus the rule's type; when IncludeSubtypes is set,
// a bare (undotted) suffix also matches. This is a documented heuristic stand-in for
// genuine runtime subtype walking.
func (r *Registry) FindMatchingExceptionBreakpoints(thrownType string, isFirstChance bool) []*model.ExceptionBreakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.ExceptionBreakpoint
	for _, eb := range r.exceptions {
		if !eb.Enabled {
			continue
		}
		if isFirstChance && !eb.BreakOnFirstChance {
			continue
		}
		if !isFirstChance && !eb.BreakOnSecondChance {
			continue
		}
		if exceptionTypeMatches(thrownType, eb.ExceptionType, eb.IncludeSubtypes) {
			out = append(out, eb)
		}
	}
	return out
}

func exceptionTypeMatches(thrown, ruleType string, includeSubtypes bool) bool {
	if thrown == ruleType {
		return true
	}
	if strings.HasSuffix(thrown, "."+ruleType) {
		return true
	}
	if includeSubtypes && strings.HasSuffix(thrown, ruleType) {
		return true
	}
	return false
}

// Request is the user-supplied shape of a breakpoint — everything a
// fresh bp-set call would need, independent of any bind state. It is
// the unit exported/imported by a host process's opt-in snapshot (§6):
// restoring a Request never implies a bound state, every restored
// breakpoint starts Pending and must re-bind exactly like a fresh
// bp-set would.
type Request struct {
	File       string
	Line       int
	Column     int
	Condition  string
	LogMessage string
	Enabled    bool
}

// ExportRequests captures every current breakpoint's request-defining
// fields, discarding bind state (ID, Verified, ModulePath,
// NativeBind, HitCount). A host process may persist this across a
// restart; ImportRequests reconstructs fresh Pending breakpoints from
// it.
func (r *Registry) ExportRequests() []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Request, 0, len(r.breakpoints))
	for _, bp := range r.breakpoints {
		out = append(out, Request{
			File:       bp.Location.File,
			Line:       bp.Location.Line,
			Column:     bp.Location.Column,
			Condition:  bp.Condition,
			LogMessage: bp.LogMessage,
			Enabled:    bp.Enabled,
		})
	}
	return out
}

// ImportRequests installs reqs as fresh Pending breakpoints, minting a
// new ID for each. Existing entries at the same location are left
// untouched — callers restore into an empty registry at startup,
// before any bp-set call can have created a conflict.
func (r *Registry) ImportRequests(reqs []Request) {
	for _, req := range reqs {
		bp := &model.Breakpoint{
			ID:         NewID(),
			Location:   model.SourceLocation{File: req.File, Line: req.Line, Column: req.Column},
			State:      model.BreakpointPending,
			Enabled:    req.Enabled,
			Condition:  req.Condition,
			LogMessage: req.LogMessage,
		}
		r.Put(bp)
	}
}

// ValidateUniqueLocation reports an error when a breakpoint other than
// excludeID already exists at the normalized file+line, honoring
// invariant I3. It does not modify the registry.
func (r *Registry) ValidateUniqueLocation(file string, line int, excludeID string) *dbgerr.Error {
	existing := r.FindByLocation(file, line)
	if existing != nil && existing.ID != excludeID {
		return dbgerr.New(dbgerr.Argument, "a breakpoint already exists at %s:%d", file, line)
	}
	return nil
}
