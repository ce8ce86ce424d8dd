// Package processhost implements runtime.Interface by speaking the
// wire framing (internal/wire) to a target runtime's debug helper,
// either a subprocess reached over stdio or a TCP listener the helper
// exposes. It is the "real" counterpart to fakehost.
package processhost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
	"github.com/jkolo/clrdbg-core/internal/wire"
)

// envelope is the wire shape of every message exchanged with the helper.
type envelope struct {
	Type       string          `json:"type"` // "request" | "response" | "event"
	Seq        int64           `json:"seq"`
	RequestSeq int64           `json:"request_seq,omitempty"`
	Command    string          `json:"command,omitempty"`
	EventName  string          `json:"event,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
}

type pendingRequest struct {
	done      chan struct{}
	closeOnce sync.Once
	body      json.RawMessage
	success   bool
	errMsg    string
}

func (p *pendingRequest) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Host drives a target runtime's debug helper over wire.Transport.
type Host struct {
	transport wire.Transport
	seq       int64
	pending   map[int64]*pendingRequest
	pendingMu sync.Mutex
	sink      runtime.EventSink
	sinkMu    sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
}

// New starts the receive loop over an already-connected transport.
func New(t wire.Transport) *Host {
	h := &Host{
		transport: t,
		pending:   make(map[int64]*pendingRequest),
		done:      make(chan struct{}),
	}
	go h.receiveLoop()
	return h
}

// NewOverStdio launches the helper executable and speaks the framing
// over its stdio.
func NewOverStdio(path string, args ...string) (*Host, error) {
	t, err := wire.NewStdioTransport(exec.Command(path, args...))
	if err != nil {
		return nil, fmt.Errorf("start debug helper: %w", err)
	}
	return New(t), nil
}

func (h *Host) receiveLoop() {
	for {
		msg, err := h.transport.Receive()
		if err != nil {
			select {
			case <-h.done:
				return
			default:
			}
			h.failAllPending(err)
			return
		}

		select {
		case <-h.done:
			return
		default:
		}

		h.handleMessage(msg.Content)
	}
}

func (h *Host) failAllPending(err error) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for _, p := range h.pending {
		p.errMsg = err.Error()
		p.close()
	}
	h.pending = make(map[int64]*pendingRequest)
}

func (h *Host) handleMessage(content []byte) {
	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return
	}

	switch env.Type {
	case "response":
		h.pendingMu.Lock()
		p, ok := h.pending[env.RequestSeq]
		if ok {
			delete(h.pending, env.RequestSeq)
		}
		h.pendingMu.Unlock()
		if !ok {
			return
		}
		p.body = env.Body
		p.success = env.Success
		p.errMsg = env.Message
		p.close()
	case "event":
		h.handleEvent(env)
	}
}

func (h *Host) handleEvent(env envelope) {
	h.sinkMu.RLock()
	sink := h.sink
	h.sinkMu.RUnlock()
	if sink == nil {
		return
	}

	kind, ok := eventKindByName[env.EventName]
	if !ok {
		return
	}

	body := env.Body
	ev := runtime.Event{
		Kind:     kind,
		ThreadID: int(gjson.GetBytes(body, "threadId").Int()),
	}

	switch kind {
	case runtime.EventBreakpointHit, runtime.EventStepComplete:
		ev.MethodToken = uint32(gjson.GetBytes(body, "methodToken").Uint())
		ev.ILOffset = int(gjson.GetBytes(body, "ilOffset").Int())
		if modPath := gjson.GetBytes(body, "modulePath").String(); modPath != "" {
			ev.Module = &model.Module{Path: modPath, Name: gjson.GetBytes(body, "moduleName").String()}
		}
		ev.ContinueRequired = true
	case runtime.EventException:
		ev.Exception = &model.ExceptionInfo{
			TypeName:      gjson.GetBytes(body, "typeName").String(),
			Message:       gjson.GetBytes(body, "message").String(),
			IsFirstChance: gjson.GetBytes(body, "firstChance").Bool(),
			StackTrace:    gjson.GetBytes(body, "stackTrace").String(),
		}
		ev.ContinueRequired = true
	case runtime.EventModuleLoad, runtime.EventModuleUnload:
		ev.Module = &model.Module{
			Name:       gjson.GetBytes(body, "name").String(),
			FullName:   gjson.GetBytes(body, "fullName").String(),
			Path:       gjson.GetBytes(body, "path").String(),
			HasSymbols: gjson.GetBytes(body, "hasSymbols").Bool(),
			IsDynamic:  gjson.GetBytes(body, "isDynamic").Bool(),
			IsInMemory: gjson.GetBytes(body, "isInMemory").Bool(),
			BaseAddr:   gjson.GetBytes(body, "baseAddress").Uint(),
			Size:       gjson.GetBytes(body, "size").Uint(),
		}
	case runtime.EventProcessExit:
		// no extra fields
	}

	if ev.ContinueRequired {
		evSeq := env.Seq
		host := h
		ev.Ack = func(resume bool) {
			_ = host.sendAck(evSeq, resume)
		}
	}

	sink.OnEvent(ev)
}

var eventKindByName = map[string]runtime.EventKind{
	"breakpointHit":     runtime.EventBreakpointHit,
	"stepComplete":      runtime.EventStepComplete,
	"exception":         runtime.EventException,
	"moduleLoad":        runtime.EventModuleLoad,
	"moduleUnload":      runtime.EventModuleUnload,
	"createProcess":     runtime.EventCreateProcess,
	"createAppDomain":   runtime.EventCreateAppDomain,
	"processExit":       runtime.EventProcessExit,
	"threadStateChange": runtime.EventThreadStateChange,
}

func (h *Host) sendAck(eventSeq int64, resume bool) error {
	args, _ := json.Marshal(map[string]any{"eventSeq": eventSeq, "resume": resume})
	_, err := h.request(context.Background(), "ackEvent", args)
	return err
}

func (h *Host) request(ctx context.Context, command string, args json.RawMessage) (json.RawMessage, error) {
	seq := atomic.AddInt64(&h.seq, 1)
	req := envelope{Type: "request", Seq: seq, Command: command, Args: args}
	content, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	p := &pendingRequest{done: make(chan struct{})}
	h.pendingMu.Lock()
	h.pending[seq] = p
	h.pendingMu.Unlock()

	if err := h.transport.Send(&wire.Message{Content: content}); err != nil {
		h.pendingMu.Lock()
		delete(h.pending, seq)
		h.pendingMu.Unlock()
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		h.pendingMu.Lock()
		delete(h.pending, seq)
		h.pendingMu.Unlock()
		return nil, ctx.Err()
	}

	if p.errMsg != "" {
		return nil, fmt.Errorf("%s: %s", command, p.errMsg)
	}
	if !p.success {
		return nil, fmt.Errorf("%s: failed", command)
	}
	return p.body, nil
}

// Subscribe implements runtime.Interface.
func (h *Host) Subscribe(sink runtime.EventSink) {
	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	h.sink = sink
}

// Close releases the underlying transport.
func (h *Host) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return h.transport.Close()
}

// Attach implements runtime.Interface.
func (h *Host) Attach(ctx context.Context, pid int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	args, _ := json.Marshal(map[string]any{"pid": pid})
	_, err := h.request(ctx, "attach", args)
	return err
}

// Launch implements runtime.Interface.
func (h *Host) Launch(ctx context.Context, path string, args []string, env map[string]string, cwd string, stopAtEntry bool) error {
	payload, _ := json.Marshal(map[string]any{
		"path": path, "args": args, "env": env, "cwd": cwd, "stopAtEntry": stopAtEntry,
	})
	_, err := h.request(ctx, "launch", payload)
	return err
}

// Detach implements runtime.Interface.
func (h *Host) Detach(ctx context.Context) error {
	_, err := h.request(ctx, "detach", nil)
	return err
}

// Terminate implements runtime.Interface.
func (h *Host) Terminate(ctx context.Context) error {
	_, err := h.request(ctx, "terminate", nil)
	return err
}

// ListModules implements runtime.Interface.
func (h *Host) ListModules(ctx context.Context) ([]model.Module, error) {
	body, err := h.request(ctx, "listModules", nil)
	if err != nil {
		return nil, err
	}
	var mods []model.Module
	results := gjson.GetBytes(body, "modules")
	results.ForEach(func(_, v gjson.Result) bool {
		mods = append(mods, model.Module{
			Name:       v.Get("name").String(),
			FullName:   v.Get("fullName").String(),
			Path:       v.Get("path").String(),
			Version:    v.Get("version").String(),
			HasSymbols: v.Get("hasSymbols").Bool(),
			IsDynamic:  v.Get("isDynamic").Bool(),
			IsInMemory: v.Get("isInMemory").Bool(),
			BaseAddr:   v.Get("baseAddress").Uint(),
			Size:       v.Get("size").Uint(),
		})
		return true
	})
	return mods, nil
}

// GetFunctionFromToken implements runtime.Interface.
func (h *Host) GetFunctionFromToken(ctx context.Context, module string, token uint32) (runtime.FunctionRef, error) {
	payload, _ := json.Marshal(map[string]any{"module": module, "token": token})
	body, err := h.request(ctx, "getFunctionFromToken", payload)
	if err != nil {
		return runtime.FunctionRef{}, err
	}
	return runtime.FunctionRef{
		Module:        module,
		Token:         token,
		Name:          gjson.GetBytes(body, "name").String(),
		DeclaringType: gjson.GetBytes(body, "declaringType").String(),
	}, nil
}

// CreateILBreakpoint implements runtime.Interface.
func (h *Host) CreateILBreakpoint(ctx context.Context, fn runtime.FunctionRef, ilOffset int) (model.NativeBindHandle, error) {
	payload, _ := json.Marshal(map[string]any{"module": fn.Module, "token": fn.Token, "ilOffset": ilOffset})
	body, err := h.request(ctx, "createILBreakpoint", payload)
	if err != nil {
		return nil, err
	}
	return gjson.GetBytes(body, "handle").String(), nil
}

// ActivateNativeBreakpoint implements runtime.Interface.
func (h *Host) ActivateNativeBreakpoint(ctx context.Context, handle model.NativeBindHandle, enabled bool) error {
	payload, _ := json.Marshal(map[string]any{"handle": handle, "enabled": enabled})
	_, err := h.request(ctx, "activateNativeBreakpoint", payload)
	return err
}

// Continue implements runtime.Interface.
func (h *Host) Continue(ctx context.Context) error {
	_, err := h.request(ctx, "continue", nil)
	return err
}

// Pause implements runtime.Interface.
func (h *Host) Pause(ctx context.Context) error {
	_, err := h.request(ctx, "pause", nil)
	return err
}

// Step implements runtime.Interface.
func (h *Host) Step(ctx context.Context, threadID int, mode runtime.StepMode) error {
	payload, _ := json.Marshal(map[string]any{"threadId": threadID, "mode": int(mode)})
	_, err := h.request(ctx, "step", payload)
	return err
}

// ListThreads implements runtime.Interface.
func (h *Host) ListThreads(ctx context.Context) ([]model.Thread, error) {
	body, err := h.request(ctx, "listThreads", nil)
	if err != nil {
		return nil, err
	}
	var threads []model.Thread
	gjson.GetBytes(body, "threads").ForEach(func(_, v gjson.Result) bool {
		threads = append(threads, model.Thread{
			OSThreadID: int(v.Get("osThreadId").Int()),
			Name:       v.Get("name").String(),
			IsCurrent:  v.Get("isCurrent").Bool(),
		})
		return true
	})
	return threads, nil
}

// CurrentThread implements runtime.Interface.
func (h *Host) CurrentThread(ctx context.Context) (int, error) {
	body, err := h.request(ctx, "currentThread", nil)
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(body, "threadId").Int()), nil
}

// WalkStack implements runtime.Interface.
func (h *Host) WalkStack(ctx context.Context, threadID, start, count int) ([]model.StackFrame, int, error) {
	payload, _ := json.Marshal(map[string]any{"threadId": threadID, "start": start, "count": count})
	body, err := h.request(ctx, "walkStack", payload)
	if err != nil {
		return nil, 0, err
	}
	var frames []model.StackFrame
	gjson.GetBytes(body, "frames").ForEach(func(_, v gjson.Result) bool {
		frames = append(frames, model.StackFrame{
			Index:             int(v.Get("index").Int()),
			FunctionSignature: v.Get("functionSignature").String(),
			Module:            v.Get("module").String(),
			IsExternal:        v.Get("isExternal").Bool(),
		})
		return true
	})
	return frames, int(gjson.GetBytes(body, "totalFrames").Int()), nil
}

// ReadLocals implements runtime.Interface.
func (h *Host) ReadLocals(ctx context.Context, threadID, frameIndex int) ([]model.Variable, error) {
	return h.readVariables(ctx, "readLocals", threadID, frameIndex, model.ScopeLocal)
}

// ReadArguments implements runtime.Interface.
func (h *Host) ReadArguments(ctx context.Context, threadID, frameIndex int) ([]model.Variable, error) {
	return h.readVariables(ctx, "readArguments", threadID, frameIndex, model.ScopeArgument)
}

func (h *Host) readVariables(ctx context.Context, command string, threadID, frameIndex int, scope model.VariableScope) ([]model.Variable, error) {
	payload, _ := json.Marshal(map[string]any{"threadId": threadID, "frameIndex": frameIndex})
	body, err := h.request(ctx, command, payload)
	if err != nil {
		return nil, err
	}
	var vars []model.Variable
	gjson.GetBytes(body, "variables").ForEach(func(_, v gjson.Result) bool {
		vars = append(vars, model.Variable{
			Name:         v.Get("name").String(),
			TypeName:     v.Get("typeName").String(),
			ValueDisplay: v.Get("valueDisplay").String(),
			Scope:        scope,
			HasChildren:  v.Get("hasChildren").Bool(),
			ChildCount:   int(v.Get("childCount").Int()),
			Path:         v.Get("path").String(),
			ObjectRef:    v.Get("objectRef").Uint(),
			ClassToken:   uint32(v.Get("classToken").Uint()),
		})
		return true
	})
	return vars, nil
}

// ReadThis implements runtime.Interface.
func (h *Host) ReadThis(ctx context.Context, threadID, frameIndex int) (*model.Variable, error) {
	payload, _ := json.Marshal(map[string]any{"threadId": threadID, "frameIndex": frameIndex})
	body, err := h.request(ctx, "readThis", payload)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}
	return &model.Variable{
		Name:         "this",
		TypeName:     gjson.GetBytes(body, "typeName").String(),
		ValueDisplay: gjson.GetBytes(body, "valueDisplay").String(),
		Scope:        model.ScopeThis,
		HasChildren:  gjson.GetBytes(body, "hasChildren").Bool(),
		ChildCount:   int(gjson.GetBytes(body, "childCount").Int()),
		ObjectRef:    gjson.GetBytes(body, "objectRef").Uint(),
		ClassToken:   uint32(gjson.GetBytes(body, "classToken").Uint()),
	}, nil
}

// ReadObjectFields implements runtime.Interface.
func (h *Host) ReadObjectFields(ctx context.Context, objectRef uint64, classToken uint32) ([]model.FieldDetail, error) {
	payload, _ := json.Marshal(map[string]any{"objectRef": objectRef, "classToken": classToken})
	body, err := h.request(ctx, "readObjectFields", payload)
	if err != nil {
		return nil, err
	}
	var fields []model.FieldDetail
	gjson.GetBytes(body, "fields").ForEach(func(_, v gjson.Result) bool {
		fields = append(fields, model.FieldDetail{
			Name:         v.Get("name").String(),
			TypeName:     v.Get("typeName").String(),
			ValueDisplay: v.Get("valueDisplay").String(),
			Offset:       int(v.Get("offset").Int()),
			Size:         int(v.Get("size").Int()),
			HasChildren:     v.Get("hasChildren").Bool(),
			ChildCount:      int(v.Get("childCount").Int()),
			IsStatic:        v.Get("isStatic").Bool(),
			IsArrayElement:  v.Get("isArrayElement").Bool(),
			ChildAddress:    v.Get("childAddress").Uint(),
			ChildClassToken: uint32(v.Get("childClassToken").Uint()),
		})
		return true
	})
	return fields, nil
}

// GetBaseType implements runtime.Interface.
func (h *Host) GetBaseType(ctx context.Context, classToken uint32) (uint32, string, bool, error) {
	payload, _ := json.Marshal(map[string]any{"classToken": classToken})
	body, err := h.request(ctx, "getBaseType", payload)
	if err != nil {
		return 0, "", false, err
	}
	if !gjson.GetBytes(body, "found").Bool() {
		return 0, "", false, nil
	}
	baseToken := uint32(gjson.GetBytes(body, "baseClassToken").Uint())
	baseName := gjson.GetBytes(body, "baseTypeName").String()
	return baseToken, baseName, true, nil
}

// ReadMemory implements runtime.Interface.
func (h *Host) ReadMemory(ctx context.Context, address uint64, size int) ([]byte, error) {
	payload, _ := json.Marshal(map[string]any{"address": address, "size": size})
	body, err := h.request(ctx, "readMemory", payload)
	if err != nil {
		return nil, err
	}
	encoded := gjson.GetBytes(body, "data").String()
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("processhost: decode readMemory response: %w", err)
	}
	return data, nil
}

// CallFunction implements runtime.Interface.
func (h *Host) CallFunction(ctx context.Context, fn runtime.FunctionRef, args []uint64, threadID int) (uint64, error) {
	payload, _ := json.Marshal(map[string]any{
		"module": fn.Module, "token": fn.Token, "args": args, "threadId": threadID,
	})
	body, err := h.request(ctx, "callFunction", payload)
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(body, "result").Uint(), nil
}

// ListTypes implements modules.MetadataSource, reading a module's
// TypeDef-shaped metadata over the same wire protocol as every other
// request.
func (h *Host) ListTypes(ctx context.Context, modulePath string) ([]model.TypeInfo, error) {
	payload, _ := json.Marshal(map[string]any{"module": modulePath})
	body, err := h.request(ctx, "listTypes", payload)
	if err != nil {
		return nil, err
	}
	var types []model.TypeInfo
	gjson.GetBytes(body, "types").ForEach(func(_, v gjson.Result) bool {
		types = append(types, model.TypeInfo{
			Name:       v.Get("name").String(),
			Namespace:  v.Get("namespace").String(),
			Kind:       model.TypeKind(v.Get("kind").Int()),
			Visibility: model.Visibility(v.Get("visibility").Int()),
			Module:     modulePath,
		})
		return true
	})
	return types, nil
}

// ListMembers implements modules.MetadataSource.
func (h *Host) ListMembers(ctx context.Context, modulePath, typeName string) ([]model.MemberInfo, error) {
	payload, _ := json.Marshal(map[string]any{"module": modulePath, "type": typeName})
	body, err := h.request(ctx, "listMembers", payload)
	if err != nil {
		return nil, err
	}
	var members []model.MemberInfo
	gjson.GetBytes(body, "members").ForEach(func(_, v gjson.Result) bool {
		var params []model.ParameterInfo
		v.Get("parameters").ForEach(func(_, p gjson.Result) bool {
			params = append(params, model.ParameterInfo{
				Name:       p.Get("name").String(),
				TypeName:   p.Get("typeName").String(),
				IsOptional: p.Get("isOptional").Bool(),
				IsOut:      p.Get("isOut").Bool(),
				IsRef:      p.Get("isRef").Bool(),
				Default:    p.Get("default").String(),
			})
			return true
		})
		members = append(members, model.MemberInfo{
			Name:       v.Get("name").String(),
			Kind:       model.MemberKind(v.Get("kind").Int()),
			TypeName:   v.Get("typeName").String(),
			Parameters: params,
			Visibility: model.Visibility(v.Get("visibility").Int()),
			IsStatic:   v.Get("isStatic").Bool(),
			IsVirtual:  v.Get("isVirtual").Bool(),
			IsAbstract: v.Get("isAbstract").Bool(),
			IsGeneric:  v.Get("isGeneric").Bool(),
		})
		return true
	})
	return members, nil
}
