// Package inspect implements the Inspection Engine: thread/stack/
// variable reads, member-access expression evaluation, object field
// walks and the watch-expressions convenience layer, all requiring a
// paused session (enforced by the caller — the Session Controller —
// not by this package).
package inspect

import (
	"context"
	"strings"
	"sync"

	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
	"github.com/jkolo/clrdbg-core/internal/dbgerr"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
)

// Engine implements thread/stack/variable inspection and expression
// evaluation against a live, paused target.
type Engine struct {
	adapter runtime.Interface
	cfg     dbgconfig.InspectionConfig
	log     *logging.Logger

	mu      sync.Mutex
	watches []string
}

// New builds an Engine. adapter may be swapped out via SetAdapter as
// sessions come and go.
func New(adapter runtime.Interface, cfg dbgconfig.InspectionConfig, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{adapter: adapter, cfg: cfg, log: log.WithComponent("inspect")}
}

// SetAdapter rebinds the engine to a fresh target runtime adapter.
func (e *Engine) SetAdapter(adapter runtime.Interface) {
	e.adapter = adapter
}

// ListThreads returns every thread, with IsCurrent set for the thread
// the pause occurred on.
func (e *Engine) ListThreads(ctx context.Context) ([]model.Thread, *dbgerr.Error) {
	threads, err := e.adapter.ListThreads(ctx)
	if err != nil {
		return nil, dbgerr.Wrap(dbgerr.Target, err, "list threads")
	}
	current, err := e.adapter.CurrentThread(ctx)
	if err == nil {
		for i := range threads {
			threads[i].IsCurrent = threads[i].OSThreadID == current
		}
	}
	return threads, nil
}

// WalkStack returns up to maxFrames frames starting at startFrame,
// clamped to the configured cap, plus the full stack depth.
func (e *Engine) WalkStack(ctx context.Context, threadID, startFrame, maxFrames int) ([]model.StackFrame, int, *dbgerr.Error) {
	if maxFrames <= 0 {
		maxFrames = e.cfg.DefaultMaxFrames
	}
	if maxFrames > e.cfg.MaxFramesCap {
		maxFrames = e.cfg.MaxFramesCap
	}
	frames, total, err := e.adapter.WalkStack(ctx, threadID, startFrame, maxFrames)
	if err != nil {
		return nil, 0, dbgerr.Wrap(dbgerr.Target, err, "walk stack for thread %d", threadID)
	}
	return frames, total, nil
}

// VariableScope selects which set of variables GetVariables returns.
type VariableScope int

const (
	ScopeLocals VariableScope = iota
	ScopeArguments
	ScopeThis
	ScopeAll
)

// GetVariables reads locals, arguments and/or this for the given frame
// per scope.
func (e *Engine) GetVariables(ctx context.Context, threadID, frameIndex int, scope VariableScope) ([]model.Variable, *dbgerr.Error) {
	var out []model.Variable

	if scope == ScopeArguments || scope == ScopeAll {
		args, err := e.adapter.ReadArguments(ctx, threadID, frameIndex)
		if err != nil {
			return nil, dbgerr.Wrap(dbgerr.Target, err, "read arguments")
		}
		out = append(out, args...)
	}
	if scope == ScopeLocals || scope == ScopeAll {
		locals, err := e.adapter.ReadLocals(ctx, threadID, frameIndex)
		if err != nil {
			return nil, dbgerr.Wrap(dbgerr.Target, err, "read locals")
		}
		out = append(out, locals...)
	}
	if scope == ScopeThis || scope == ScopeAll {
		this, err := e.adapter.ReadThis(ctx, threadID, frameIndex)
		if err != nil {
			return nil, dbgerr.Wrap(dbgerr.Target, err, "read this")
		}
		if this != nil {
			out = append(out, *this)
		}
	}
	return out, nil
}

// Evaluate resolves a member-access chain ("this.field.Prop") against
// the given frame per the §4.8 resolution order: exact field name,
// then compiler-generated backing-field name, then (step 4) the same
// two checks repeated at each ancestor type found by walking
// GetBaseType, including ancestors declared in a different module.
// Step 3 (invoking a property's get_X accessor when no field or
// backing field is found at any level) is not implemented: the Target
// Runtime Adapter interface has no resolve-method-by-name operation,
// only resolve-by-token, so a getter call would need a method lookup
// this adapter does not expose. That case surfaces as member-not-found
// rather than a getter invocation.
func (e *Engine) Evaluate(ctx context.Context, expr string, threadID, frameIndex int) (*model.Variable, *dbgerr.Error) {
	segments := strings.Split(expr, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, dbgerr.New(dbgerr.Argument, "empty expression")
	}

	head, derr := e.resolveHead(ctx, segments[0], threadID, frameIndex)
	if derr != nil {
		return nil, derr
	}

	current := head
	for i, seg := range segments[1:] {
		if current.ObjectRef == 0 {
			return nil, dbgerr.New(dbgerr.Evaluation, "null at segment %q", seg).WithPosition(i + 1)
		}
		next, derr := e.resolveMember(ctx, current, seg)
		if derr != nil {
			return nil, derr
		}
		current = next
	}

	return &current, nil
}

func (e *Engine) resolveHead(ctx context.Context, name string, threadID, frameIndex int) (model.Variable, *dbgerr.Error) {
	if name == "this" {
		this, err := e.adapter.ReadThis(ctx, threadID, frameIndex)
		if err != nil {
			return model.Variable{}, dbgerr.Wrap(dbgerr.Target, err, "read this")
		}
		if this == nil {
			return model.Variable{}, dbgerr.New(dbgerr.Evaluation, "no 'this' in a static frame")
		}
		return *this, nil
	}

	args, err := e.adapter.ReadArguments(ctx, threadID, frameIndex)
	if err != nil {
		return model.Variable{}, dbgerr.Wrap(dbgerr.Target, err, "read arguments")
	}
	for _, v := range args {
		if v.Name == name {
			return v, nil
		}
	}

	locals, err := e.adapter.ReadLocals(ctx, threadID, frameIndex)
	if err != nil {
		return model.Variable{}, dbgerr.Wrap(dbgerr.Target, err, "read locals")
	}
	for _, v := range locals {
		if v.Name == name {
			return v, nil
		}
	}

	return model.Variable{}, dbgerr.New(dbgerr.NotFound, "no local, argument or 'this' named %q", name)
}

func (e *Engine) resolveMember(ctx context.Context, receiver model.Variable, segment string) (model.Variable, *dbgerr.Error) {
	backing := "<" + segment + ">k__BackingField"
	classToken := receiver.ClassToken
	typeName := receiver.TypeName
	visited := make(map[uint32]bool)

	for {
		fields, err := e.adapter.ReadObjectFields(ctx, receiver.ObjectRef, classToken)
		if err != nil {
			return model.Variable{}, dbgerr.Wrap(dbgerr.Target, err, "read fields of %s", typeName)
		}

		var field *model.FieldDetail
		for i := range fields {
			if fields[i].Name == segment {
				field = &fields[i]
				break
			}
		}
		if field == nil {
			for i := range fields {
				if strings.Contains(fields[i].Name, backing) {
					field = &fields[i]
					break
				}
			}
		}
		if field != nil {
			return model.Variable{
				Name:         segment,
				TypeName:     field.TypeName,
				ValueDisplay: field.ValueDisplay,
				Scope:        model.ScopeField,
				HasChildren:  field.HasChildren,
				ChildCount:   field.ChildCount,
				ObjectRef:    field.ChildAddress,
				ClassToken:   field.ChildClassToken,
			}, nil
		}

		// Step 4: not found at this level — walk up to the base type and
		// repeat. visited guards against a malformed or cyclic ancestor
		// chain reported by the adapter.
		if visited[classToken] {
			break
		}
		visited[classToken] = true
		baseToken, baseName, ok, err := e.adapter.GetBaseType(ctx, classToken)
		if err != nil || !ok {
			break
		}
		classToken = baseToken
		typeName = baseName
	}

	return model.Variable{}, dbgerr.New(dbgerr.NotFound,
		"member %q not found on %s", segment, receiver.TypeName)
}

// InspectObject resolves expr to a root object and expands its fields
// depth-first up to depth (clamped to [1, MaxObjectDepth]).
func (e *Engine) InspectObject(ctx context.Context, expr string, depth, threadID, frameIndex int) (*model.ObjectInspection, *dbgerr.Error) {
	if depth <= 0 {
		depth = e.cfg.DefaultObjectDepth
	}
	if depth > e.cfg.MaxObjectDepth {
		depth = e.cfg.MaxObjectDepth
	}

	root, derr := e.Evaluate(ctx, expr, threadID, frameIndex)
	if derr != nil {
		return nil, derr
	}
	if root.ObjectRef == 0 {
		return &model.ObjectInspection{TypeName: root.TypeName, IsNull: true}, nil
	}

	visited := make(map[uint64]bool)
	insp := &model.ObjectInspection{
		Address:  root.ObjectRef,
		TypeName: root.TypeName,
	}
	e.walkFields(ctx, *root, insp, depth, visited)
	return insp, nil
}

func (e *Engine) walkFields(ctx context.Context, v model.Variable, insp *model.ObjectInspection, depth int, visited map[uint64]bool) {
	if v.ObjectRef != 0 {
		if visited[v.ObjectRef] {
			insp.HasCircularRef = true
			return
		}
		visited[v.ObjectRef] = true
	}

	fields, err := e.adapter.ReadObjectFields(ctx, v.ObjectRef, v.ClassToken)
	if err != nil {
		return
	}
	if len(fields) > e.cfg.MaxFieldFanout {
		fields = fields[:e.cfg.MaxFieldFanout]
		insp.Truncated = true
	}

	for _, f := range fields {
		insp.Fields = append(insp.Fields, f)
		if depth > 1 && f.HasChildren && f.ChildAddress != 0 {
			child := model.Variable{
				TypeName:   f.TypeName,
				ObjectRef:  f.ChildAddress,
				ClassToken: f.ChildClassToken,
			}
			childInsp := &model.ObjectInspection{Address: f.ChildAddress, TypeName: f.TypeName}
			e.walkFields(ctx, child, childInsp, depth-1, visited)
			insp.Fields = append(insp.Fields, childInsp.Fields...)
			if childInsp.HasCircularRef {
				insp.HasCircularRef = true
			}
			if childInsp.Truncated {
				insp.Truncated = true
			}
		}
	}
}

// AddWatch appends expr to the session's watch list.
func (e *Engine) AddWatch(expr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watches = append(e.watches, expr)
}

// RemoveWatch removes the watch at index i, if valid.
func (e *Engine) RemoveWatch(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= len(e.watches) {
		return
	}
	e.watches = append(e.watches[:i], e.watches[i+1:]...)
}

// ClearWatches removes every watch.
func (e *Engine) ClearWatches() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watches = nil
}

// ListWatches returns the current watch expressions in add order.
func (e *Engine) ListWatches() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.watches))
	copy(out, e.watches)
	return out
}

// RefreshWatches re-evaluates every watch against the current pause
// point; a failing watch yields a Variable whose ValueDisplay is the
// diagnostic instead of aborting the whole refresh.
func (e *Engine) RefreshWatches(ctx context.Context, threadID, frameIndex int) []model.Variable {
	exprs := e.ListWatches()
	out := make([]model.Variable, 0, len(exprs))
	for _, expr := range exprs {
		v, derr := e.Evaluate(ctx, expr, threadID, frameIndex)
		if derr != nil {
			out = append(out, model.Variable{Name: expr, ValueDisplay: derr.Error()})
			continue
		}
		v.Name = expr
		out = append(out, *v)
	}
	return out
}

// EvaluateForDisplay evaluates expr and renders its ValueDisplay,
// collapsing any failure into an inline diagnostic string — the shape
// a logpoint template substitution needs (bpmanager.LogExpressionEvaluator).
func (e *Engine) EvaluateForDisplay(ctx context.Context, expr string, threadID int) string {
	v, derr := e.Evaluate(ctx, expr, threadID, 0)
	if derr != nil {
		return "<" + derr.Error() + ">"
	}
	return v.ValueDisplay
}
