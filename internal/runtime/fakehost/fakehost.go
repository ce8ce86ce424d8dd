// Package fakehost implements runtime.Interface entirely in memory,
// driven by a small scripted scenario. It exists so the rest of the
// debugger core can be exercised deterministically without a real
// managed runtime, mirroring the hand-rolled mock-transport pattern
// used throughout this codebase's own test suite.
package fakehost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
)

// Host is a scriptable, in-memory runtime.Interface.
type Host struct {
	mu sync.Mutex

	modules []model.Module
	threads []model.Thread
	stacks  map[int][]model.StackFrame // by thread id
	locals  map[int][]model.Variable   // by frame index, current thread only
	args    map[int][]model.Variable
	memory  map[uint64][]byte
	objects map[uint64]map[uint32][]model.FieldDetail // by object address, then by class token
	types   map[string][]model.TypeInfo               // by module path
	members map[string][]model.MemberInfo              // by "modulePath|typeName"
	bases   map[uint32]baseTypeEntry                   // by class token

	nextToken  uint32
	functions  map[uint32]runtime.FunctionRef
	binds      map[model.NativeBindHandle]bool

	sink runtime.EventSink

	attached bool
}

// baseTypeEntry is one link in a scripted type's ancestor chain.
type baseTypeEntry struct {
	token uint32
	name  string
}

// New creates an empty Host; use the With* helpers to script a scenario.
func New() *Host {
	return &Host{
		stacks:    make(map[int][]model.StackFrame),
		locals:    make(map[int][]model.Variable),
		args:      make(map[int][]model.Variable),
		memory:    make(map[uint64][]byte),
		objects:   make(map[uint64]map[uint32][]model.FieldDetail),
		types:     make(map[string][]model.TypeInfo),
		members:   make(map[string][]model.MemberInfo),
		bases:     make(map[uint32]baseTypeEntry),
		functions: make(map[uint32]runtime.FunctionRef),
		binds:     make(map[model.NativeBindHandle]bool),
	}
}

// WithModule registers a module returned by ListModules.
func (h *Host) WithModule(m model.Module) *Host {
	h.modules = append(h.modules, m)
	return h
}

// WithThread registers a thread returned by ListThreads.
func (h *Host) WithThread(t model.Thread) *Host {
	h.threads = append(h.threads, t)
	return h
}

// WithStack sets the stack frames for a thread.
func (h *Host) WithStack(threadID int, frames []model.StackFrame) *Host {
	h.stacks[threadID] = frames
	return h
}

// WithLocals sets the local variables returned for a frame index.
func (h *Host) WithLocals(frameIndex int, vars []model.Variable) *Host {
	h.locals[frameIndex] = vars
	return h
}

// WithArguments sets the argument variables returned for a frame index.
func (h *Host) WithArguments(frameIndex int, vars []model.Variable) *Host {
	h.args[frameIndex] = vars
	return h
}

// WithMemory seeds a byte range starting at address.
func (h *Host) WithMemory(address uint64, data []byte) *Host {
	h.memory[address] = data
	return h
}

// WithFields sets the fields declared at an object's own (leaf) class
// level, i.e. classToken 0 — matching a Variable whose ClassToken was
// never resolved to a specific ancestor.
func (h *Host) WithFields(address uint64, fields []model.FieldDetail) *Host {
	return h.WithFieldsAt(address, 0, fields)
}

// WithFieldsAt sets the fields declared at a specific ancestor class
// level for the object at address, for scripting a base-type walk (see
// WithBaseType).
func (h *Host) WithFieldsAt(address uint64, classToken uint32, fields []model.FieldDetail) *Host {
	if h.objects[address] == nil {
		h.objects[address] = make(map[uint32][]model.FieldDetail)
	}
	h.objects[address][classToken] = fields
	return h
}

// WithBaseType scripts classToken's immediate base type, letting
// GetBaseType (and therefore a member-resolution base-type walk) climb
// from classToken to baseToken.
func (h *Host) WithBaseType(classToken, baseToken uint32, baseTypeName string) *Host {
	h.bases[classToken] = baseTypeEntry{token: baseToken, name: baseTypeName}
	return h
}

// WithFunction registers the function a module/token pair resolves to.
func (h *Host) WithFunction(module string, token uint32, fn runtime.FunctionRef) *Host {
	fn.Module = module
	fn.Token = token
	h.functions[token] = fn
	return h
}

// Attach implements runtime.Interface.
func (h *Host) Attach(ctx context.Context, pid int, timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached = true
	return nil
}

// Launch implements runtime.Interface.
func (h *Host) Launch(ctx context.Context, path string, args []string, env map[string]string, cwd string, stopAtEntry bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached = true
	return nil
}

// Detach implements runtime.Interface.
func (h *Host) Detach(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached = false
	h.binds = make(map[model.NativeBindHandle]bool)
	return nil
}

// Terminate implements runtime.Interface.
func (h *Host) Terminate(ctx context.Context) error {
	return h.Detach(ctx)
}

// ListModules implements runtime.Interface.
func (h *Host) ListModules(ctx context.Context) ([]model.Module, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Module, len(h.modules))
	copy(out, h.modules)
	return out, nil
}

// GetFunctionFromToken implements runtime.Interface.
func (h *Host) GetFunctionFromToken(ctx context.Context, module string, token uint32) (runtime.FunctionRef, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn, ok := h.functions[token]
	if !ok {
		return runtime.FunctionRef{}, fmt.Errorf("no function registered for token %d", token)
	}
	return fn, nil
}

// CreateILBreakpoint implements runtime.Interface.
func (h *Host) CreateILBreakpoint(ctx context.Context, fn runtime.FunctionRef, ilOffset int) (model.NativeBindHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := fmt.Sprintf("%s:%d:%d", fn.Module, fn.Token, ilOffset)
	h.binds[handle] = true
	return handle, nil
}

// ActivateNativeBreakpoint implements runtime.Interface.
func (h *Host) ActivateNativeBreakpoint(ctx context.Context, handle model.NativeBindHandle, enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.binds[handle]; !ok {
		return fmt.Errorf("unknown bind handle %v", handle)
	}
	h.binds[handle] = enabled
	return nil
}

// Continue implements runtime.Interface.
func (h *Host) Continue(ctx context.Context) error { return nil }

// Pause implements runtime.Interface.
func (h *Host) Pause(ctx context.Context) error { return nil }

// Step implements runtime.Interface.
func (h *Host) Step(ctx context.Context, threadID int, mode runtime.StepMode) error { return nil }

// ListThreads implements runtime.Interface.
func (h *Host) ListThreads(ctx context.Context) ([]model.Thread, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Thread, len(h.threads))
	copy(out, h.threads)
	return out, nil
}

// CurrentThread implements runtime.Interface.
func (h *Host) CurrentThread(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.threads {
		if t.IsCurrent {
			return t.OSThreadID, nil
		}
	}
	return 0, fmt.Errorf("no current thread")
}

// WalkStack implements runtime.Interface.
func (h *Host) WalkStack(ctx context.Context, threadID, start, count int) ([]model.StackFrame, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	frames := h.stacks[threadID]
	total := len(frames)
	if start >= total {
		return nil, total, nil
	}
	end := start + count
	if end > total {
		end = total
	}
	out := make([]model.StackFrame, end-start)
	copy(out, frames[start:end])
	return out, total, nil
}

// ReadLocals implements runtime.Interface.
func (h *Host) ReadLocals(ctx context.Context, threadID, frameIndex int) ([]model.Variable, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Variable(nil), h.locals[frameIndex]...), nil
}

// ReadArguments implements runtime.Interface.
func (h *Host) ReadArguments(ctx context.Context, threadID, frameIndex int) ([]model.Variable, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Variable(nil), h.args[frameIndex]...), nil
}

// ReadThis implements runtime.Interface.
func (h *Host) ReadThis(ctx context.Context, threadID, frameIndex int) (*model.Variable, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.args[frameIndex] {
		if v.Scope == model.ScopeThis {
			cp := v
			return &cp, nil
		}
	}
	return nil, nil
}

// ReadObjectFields implements runtime.Interface.
func (h *Host) ReadObjectFields(ctx context.Context, objectRef uint64, classToken uint32) ([]model.FieldDetail, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	levels, ok := h.objects[objectRef]
	if !ok {
		return nil, fmt.Errorf("fakehost: no fields registered for object 0x%x", objectRef)
	}
	fields, ok := levels[classToken]
	if !ok {
		return nil, fmt.Errorf("fakehost: no fields registered for object 0x%x at class token %#x", objectRef, classToken)
	}
	return append([]model.FieldDetail(nil), fields...), nil
}

// GetBaseType implements runtime.Interface.
func (h *Host) GetBaseType(ctx context.Context, classToken uint32) (uint32, string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.bases[classToken]
	if !ok {
		return 0, "", false, nil
	}
	return entry.token, entry.name, true, nil
}

// ReadMemory implements runtime.Interface.
func (h *Host) ReadMemory(ctx context.Context, address uint64, size int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.memory[address]
	if !ok {
		return nil, fmt.Errorf("fakehost: no memory seeded at 0x%x", address)
	}
	if size > len(data) {
		size = len(data)
	}
	return data[:size], nil
}

// CallFunction implements runtime.Interface.
func (h *Host) CallFunction(ctx context.Context, fn runtime.FunctionRef, args []uint64, threadID int) (uint64, error) {
	return 0, fmt.Errorf("fakehost: CallFunction not scripted")
}

// WithTypes sets the types returned by ListTypes for a module.
func (h *Host) WithTypes(modulePath string, types []model.TypeInfo) *Host {
	h.types[modulePath] = types
	return h
}

// WithMembers sets the members returned by ListMembers for a type.
func (h *Host) WithMembers(modulePath, typeName string, members []model.MemberInfo) *Host {
	h.members[modulePath+"|"+typeName] = members
	return h
}

// ListTypes implements modules.MetadataSource.
func (h *Host) ListTypes(ctx context.Context, modulePath string) ([]model.TypeInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.TypeInfo(nil), h.types[modulePath]...), nil
}

// ListMembers implements modules.MetadataSource.
func (h *Host) ListMembers(ctx context.Context, modulePath, typeName string) ([]model.MemberInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.MemberInfo(nil), h.members[modulePath+"|"+typeName]...), nil
}

// Subscribe implements runtime.Interface.
func (h *Host) Subscribe(sink runtime.EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// Emit delivers ev to the subscribed sink synchronously, for tests that
// drive a specific event ordering. If ev.ContinueRequired and no Ack is
// set, a no-op Ack is installed so callers need not supply one.
func (h *Host) Emit(ev runtime.Event) {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		return
	}
	if ev.ContinueRequired && ev.Ack == nil {
		ev.Ack = func(resume bool) {}
	}
	sink.OnEvent(ev)
}
