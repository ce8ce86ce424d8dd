// Package bpmanager implements the Breakpoint Manager: bind/unbind
// choreography across module load/unload, hit correlation, condition
// evaluation and logpoint rendering.
package bpmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/jkolo/clrdbg-core/internal/breakpoints"
	"github.com/jkolo/clrdbg-core/internal/dbgerr"
	"github.com/jkolo/clrdbg-core/internal/hitqueue"
	"github.com/jkolo/clrdbg-core/internal/inspect"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
	"github.com/jkolo/clrdbg-core/internal/symbols"
)

// nearestLineSearchRange bounds how far bindInModule looks for a
// nearby line carrying a sequence point once the requested line has
// none, so a bind failure on a comment or blank line can still suggest
// somewhere useful.
const nearestLineSearchRange = 5

// Manager orchestrates breakpoints against a live (or not-yet-attached)
// session.
type Manager struct {
	registry *breakpoints.Registry
	mapper   *symbols.Mapper
	adapter  runtime.Interface
	queue    *hitqueue.Queue
	log      *logging.Logger

	// evaluator resolves log-message expressions at hit time. Wired
	// lazily because the Inspection Engine is constructed after the
	// Manager in the top-level wiring; nil until SetEvaluator is called.
	evaluator LogExpressionEvaluator
}

// LogExpressionEvaluator resolves a single `{expr}` placeholder in a
// logpoint template against the thread on which the hit occurred.
type LogExpressionEvaluator interface {
	EvaluateForDisplay(ctx context.Context, expr string, threadID int) string
}

// New builds a Manager. adapter may be nil until a session attaches;
// callers must call SetAdapter once attach/launch succeeds.
func New(registry *breakpoints.Registry, mapper *symbols.Mapper, queue *hitqueue.Queue, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{registry: registry, mapper: mapper, queue: queue, log: log.WithComponent("bpmanager")}
}

// SetAdapter wires (or clears, on detach) the live target runtime adapter.
func (m *Manager) SetAdapter(adapter runtime.Interface) {
	m.adapter = adapter
}

// SetEvaluator wires the Inspection Engine's expression evaluator for
// logpoint rendering.
func (m *Manager) SetEvaluator(ev LogExpressionEvaluator) {
	m.evaluator = ev
}

// SetBreakpoint implements the §4.6 set-breakpoint request path:
// idempotent on an existing (file,line), otherwise a fresh Pending
// breakpoint that immediately attempts to bind if a session is active.
func (m *Manager) SetBreakpoint(file string, line, col int, condition, logMessage string) (*model.Breakpoint, *dbgerr.Error) {
	if _, err := breakpoints.ParseCondition(condition); err != nil {
		return nil, err
	}

	if existing := m.registry.FindByLocation(file, line); existing != nil {
		if existing.Condition != condition {
			existing.Condition = condition
		}
		return existing, nil
	}

	bp := &model.Breakpoint{
		ID:         breakpoints.NewID(),
		Location:   model.SourceLocation{File: file, Line: line, Column: col},
		State:      model.BreakpointPending,
		Enabled:    true,
		Condition:  condition,
		LogMessage: logMessage,
	}

	if m.adapter != nil {
		m.tryBind(context.Background(), bp)
	}

	m.registry.Put(bp)
	return bp, nil
}

// RemoveBreakpoint deactivates (best-effort) and removes id.
func (m *Manager) RemoveBreakpoint(ctx context.Context, id string) *dbgerr.Error {
	bp := m.registry.Get(id)
	if bp == nil {
		return dbgerr.New(dbgerr.NotFound, "no breakpoint with id %s", id)
	}
	if bp.State == model.BreakpointBound && m.adapter != nil {
		if err := m.adapter.ActivateNativeBreakpoint(ctx, bp.NativeBind, false); err != nil {
			m.log.Warn("deactivate breakpoint %s on removal: %v", id, err)
		}
	}
	m.registry.Remove(id)
	return nil
}

// SetEnabled toggles Enabled without changing bind state; an adapter
// might still deliver a hit for a disabled-but-still-bound breakpoint
// between the toggle and the next unbind, so hit handling always
// re-checks Enabled.
func (m *Manager) SetEnabled(id string, enabled bool) *dbgerr.Error {
	bp := m.registry.Get(id)
	if bp == nil {
		return dbgerr.New(dbgerr.NotFound, "no breakpoint with id %s", id)
	}
	bp.Enabled = enabled
	return nil
}

// SetExceptionBreakpoint installs a new exception rule under a fresh
// id; existing rules for the same type are kept alongside it.
func (m *Manager) SetExceptionBreakpoint(typeName string, firstChance, secondChance, includeSubtypes bool) *model.ExceptionBreakpoint {
	eb := &model.ExceptionBreakpoint{
		ID:                  breakpoints.NewID(),
		ExceptionType:       typeName,
		BreakOnFirstChance:  firstChance,
		BreakOnSecondChance: secondChance,
		IncludeSubtypes:     includeSubtypes,
		Enabled:             true,
	}
	m.registry.PutException(eb)
	return eb
}

// HandleModuleLoad implements the §4.6 module-load choreography.
func (m *Manager) HandleModuleLoad(mod model.Module) {
	if mod.IsDynamic || mod.IsInMemory {
		return
	}

	ctx := context.Background()
	for _, bp := range m.registry.ListPending() {
		if !m.mapper.ContainsSourceFile(mod.Path, bp.Location.File) {
			continue
		}
		m.bindInModule(ctx, bp, mod)
	}
}

// HandleModuleUnload implements the §4.6 module-unload choreography.
func (m *Manager) HandleModuleUnload(mod model.Module) {
	ctx := context.Background()
	for _, bp := range m.registry.ListBoundForModule(mod.Path) {
		if m.adapter != nil {
			if err := m.adapter.ActivateNativeBreakpoint(ctx, bp.NativeBind, false); err != nil {
				m.log.Debug("best-effort deactivate on unload for %s: %v", bp.ID, err)
			}
		}
		bp.State = model.BreakpointPending
		bp.Verified = false
		bp.NativeBind = nil
		bp.ModulePath = ""
		bp.Message = fmt.Sprintf("Module %s unloaded; will rebind on reload", mod.Name)
	}
}

func (m *Manager) tryBind(ctx context.Context, bp *model.Breakpoint) {
	mods, err := m.adapter.ListModules(ctx)
	if err != nil {
		return
	}
	for _, mod := range mods {
		if mod.IsDynamic || mod.IsInMemory {
			continue
		}
		if m.mapper.ContainsSourceFile(mod.Path, bp.Location.File) {
			m.bindInModule(ctx, bp, mod)
			return
		}
	}
}

func (m *Manager) bindInModule(ctx context.Context, bp *model.Breakpoint, mod model.Module) {
	token, ilOffset, span, ok := m.mapper.FindILOffset(mod.Path, bp.Location.File, bp.Location.Line, bp.Location.Column)
	if !ok {
		bp.Message = "no executable code at line"
		if nearest, found := m.mapper.FindNearestValidLine(mod.Path, bp.Location.File, bp.Location.Line, nearestLineSearchRange); found {
			bp.Message = fmt.Sprintf("no executable code at line; nearest valid line is %d", nearest)
		}
		return
	}

	fn, err := m.adapter.GetFunctionFromToken(ctx, mod.Path, token)
	if err != nil {
		bp.Message = fmt.Sprintf("could not resolve function: %v", err)
		return
	}

	handle, err := m.adapter.CreateILBreakpoint(ctx, fn, ilOffset)
	if err != nil {
		bp.Message = fmt.Sprintf("could not install breakpoint: %v", err)
		return
	}
	if err := m.adapter.ActivateNativeBreakpoint(ctx, handle, true); err != nil {
		bp.Message = fmt.Sprintf("could not activate breakpoint: %v", err)
		return
	}

	bp.State = model.BreakpointBound
	bp.Verified = true
	bp.ModulePath = mod.Path
	bp.NativeBind = handle
	bp.Location = span
	bp.Message = ""
}

// HandleBreakpointHit implements the §4.6 breakpoint-hit handler and
// returns whether the target runtime should resume.
func (m *Manager) HandleBreakpointHit(threadID int, modulePath string, methodToken uint32, ilOffset int) bool {
	loc, locOK := m.mapper.FindSourceLocation(modulePath, methodToken, ilOffset)

	var target *model.Breakpoint
	if locOK {
		target = m.registry.FindByLocation(loc.File, loc.Line)
	}
	if target == nil {
		m.log.Debug("breakpoint hit at unresolved location (module=%s token=%#x offset=%d)", modulePath, methodToken, ilOffset)
		return true
	}
	if !target.Enabled {
		return true
	}

	target.HitCount++

	if target.LogMessage != "" {
		m.emitLogpoint(threadID, target)
		return true
	}

	if target.Condition != "" {
		cond, err := breakpoints.ParseCondition(target.Condition)
		if err != nil {
			m.log.Warn("condition parse failure on hit for %s: %v", target.ID, err)
			m.enqueueHit(target, threadID, loc)
			return false
		}
		if !cond.Evaluate(breakpoints.ConditionContext{HitCount: target.HitCount, ThreadID: threadID}) {
			return true
		}
	}

	m.enqueueHit(target, threadID, loc)
	return false
}

func (m *Manager) enqueueHit(bp *model.Breakpoint, threadID int, loc model.SourceLocation) {
	m.queue.Enqueue(model.BreakpointHit{
		BreakpointID: bp.ID,
		ThreadID:     threadID,
		Timestamp:    time.Now(),
		Location:     loc,
		HitCount:     bp.HitCount,
	})
}

// HandleException implements the §4.3/§4.6 exception-hit handler.
func (m *Manager) HandleException(threadID int, info model.ExceptionInfo) bool {
	matches := m.registry.FindMatchingExceptionBreakpoints(info.TypeName, info.IsFirstChance)
	if len(matches) == 0 {
		return true
	}

	for _, eb := range matches {
		eb.HitCount++
		excInfo := info
		m.queue.Enqueue(model.BreakpointHit{
			BreakpointID: eb.ID,
			ThreadID:     threadID,
			Timestamp:    time.Now(),
			HitCount:     eb.HitCount,
			Exception:    &excInfo,
		})
	}
	return false
}

// emitLogpoint renders a logpoint's template and writes it through the
// same diagnostic channel errors use, then lets the target continue
// without enqueuing a hit — an expansion over the base breakpoint hit
// path (§4.6).
func (m *Manager) emitLogpoint(threadID int, bp *model.Breakpoint) {
	rendered := inspect.RenderLogTemplate(bp.LogMessage, func(expr string) string {
		if m.evaluator == nil {
			return "<no evaluator>"
		}
		return m.evaluator.EvaluateForDisplay(context.Background(), expr, threadID)
	})
	m.log.Info("logpoint %s: %s", bp.ID, rendered)
}
