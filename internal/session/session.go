// Package session implements the Session Controller: the single-
// active-session state machine that gates every other component behind
// its precondition table and owns the live target runtime adapter for
// the session's lifetime.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkolo/clrdbg-core/internal/bpmanager"
	"github.com/jkolo/clrdbg-core/internal/breakpoints"
	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
	"github.com/jkolo/clrdbg-core/internal/dbgerr"
	"github.com/jkolo/clrdbg-core/internal/eventpump"
	"github.com/jkolo/clrdbg-core/internal/hitqueue"
	"github.com/jkolo/clrdbg-core/internal/inspect"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/memory"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/modules"
	"github.com/jkolo/clrdbg-core/internal/runtime"
	"github.com/jkolo/clrdbg-core/internal/symbols"
)

// Info is the externally-visible session snapshot.
type Info struct {
	ID             string
	State          model.SessionState
	PID            int
	LaunchMode     model.LaunchMode
	ProcessName    string
	PauseReason    model.PauseReason
	ActiveThreadID int
	Location       *model.SourceLocation
}

// Controller owns the session state machine and wires together every
// other component for the duration of one attached/launched target.
type Controller struct {
	mu    sync.RWMutex
	state model.SessionState
	info  Info

	cfg dbgconfig.SessionConfig
	log *logging.Logger

	registry *breakpoints.Registry
	cache    *symbols.Cache
	mapper   *symbols.Mapper
	queue    *hitqueue.Queue
	bpmgr    *bpmanager.Manager
	inspect  *inspect.Engine
	memory   *memory.Engine
	modules  *modules.Inspector

	adapter runtime.Interface
	newAdapter func() runtime.Interface

	pendingStep chan int // delivers the thread id a step-complete fired on
}

// New builds a Controller with every subordinate component wired
// together but no adapter attached yet (state = Disconnected).
func New(cfg dbgconfig.SessionConfig, cache *symbols.Cache, newAdapter func() runtime.Interface, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("session")

	registry := breakpoints.NewRegistry()
	mapper := symbols.NewMapper(cache)
	queue := hitqueue.New(0)
	bpmgr := bpmanager.New(registry, mapper, queue, log)
	insp := inspect.New(nil, dbgconfig.DefaultInspectionConfig(), log)
	bpmgr.SetEvaluator(insp)
	mem := memory.New(nil, dbgconfig.DefaultMemoryConfig(), log)

	return &Controller{
		state:      model.StateDisconnected,
		cfg:        cfg,
		log:        log,
		registry:   registry,
		cache:      cache,
		mapper:     mapper,
		queue:      queue,
		bpmgr:      bpmgr,
		inspect:    insp,
		memory:     mem,
		newAdapter: newAdapter,
		info:       Info{ID: uuid.NewString()},
	}
}

// State returns the current session state under the read lock.
func (c *Controller) State() model.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns the current Info.
func (c *Controller) Snapshot() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Registry exposes the Breakpoint Registry for CRUD operations that
// are valid in any session state.
func (c *Controller) Registry() *breakpoints.Registry { return c.registry }

// BreakpointManager exposes the Breakpoint Manager for bp-set/bp-remove.
func (c *Controller) BreakpointManager() *bpmanager.Manager { return c.bpmgr }

func (c *Controller) requireState(allowed ...model.SessionState) *dbgerr.Error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	switch c.state {
	case model.StateDisconnected, model.StateExited:
		return dbgerr.NoSession()
	default:
		return dbgerr.NotPaused()
	}
}

func (c *Controller) setState(s model.SessionState) {
	c.mu.Lock()
	c.state = s
	c.info.State = s
	c.mu.Unlock()
}

// Attach implements the attach operation: requires Disconnected.
func (c *Controller) Attach(ctx context.Context, pid int) *dbgerr.Error {
	if err := c.requireDisconnected(); err != nil {
		return err
	}
	c.setState(model.StateAttaching)

	adapter := c.newAdapter()
	timeout := c.cfg.AttachTimeout
	if err := adapter.Attach(ctx, pid, timeout); err != nil {
		c.setState(model.StateDisconnected)
		return dbgerr.Wrap(dbgerr.Target, err, "attach to pid %d", pid)
	}

	c.bindAdapter(adapter)
	c.mu.Lock()
	c.info.PID = pid
	c.info.LaunchMode = model.LaunchModeAttach
	c.mu.Unlock()
	c.setState(model.StateRunning)
	return nil
}

// Launch implements the launch operation: requires Disconnected.
func (c *Controller) Launch(ctx context.Context, path string, args []string, env map[string]string, cwd string, stopAtEntry bool) *dbgerr.Error {
	if err := c.requireDisconnected(); err != nil {
		return err
	}
	c.setState(model.StateAttaching)

	adapter := c.newAdapter()
	if err := adapter.Launch(ctx, path, args, env, cwd, stopAtEntry); err != nil {
		c.setState(model.StateDisconnected)
		return dbgerr.Wrap(dbgerr.Target, err, "launch %s", path)
	}

	c.bindAdapter(adapter)
	c.mu.Lock()
	c.info.ProcessName = path
	c.info.LaunchMode = model.LaunchModeLaunch
	c.mu.Unlock()

	if stopAtEntry {
		c.enterPaused(model.PauseReasonEntryPoint, 0, nil)
	} else {
		c.setState(model.StateRunning)
	}
	return nil
}

func (c *Controller) requireDisconnected() *dbgerr.Error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != model.StateDisconnected {
		return dbgerr.AlreadyAttached()
	}
	return nil
}

func (c *Controller) bindAdapter(adapter runtime.Interface) {
	c.mu.Lock()
	c.adapter = adapter
	c.mu.Unlock()

	c.bpmgr.SetAdapter(adapter)
	c.inspect.SetAdapter(adapter)
	c.memory.SetAdapter(adapter)
	if ms, ok := adapter.(modules.MetadataSource); ok {
		if c.modules == nil {
			c.modules = modules.New(adapter, ms, dbgconfig.DefaultModuleInspectorConfig(), c.log)
		} else {
			c.modules.SetAdapter(adapter)
		}
	} else if c.modules != nil {
		c.modules.SetAdapter(adapter)
	}

	c.pendingStep = make(chan int, 1)

	pump := eventpump.New(eventpump.Handlers{
		OnBreakpointHit: func(threadID int, modulePath string, methodToken uint32, ilOffset int) bool {
			resume := c.bpmgr.HandleBreakpointHit(threadID, modulePath, methodToken, ilOffset)
			if !resume {
				loc, _ := c.mapper.FindSourceLocation(modulePath, methodToken, ilOffset)
				c.enterPaused(model.PauseReasonBreakpoint, threadID, &loc)
			}
			return resume
		},
		OnStepComplete: func(threadID int) {
			c.enterPaused(model.PauseReasonStep, threadID, nil)
			select {
			case c.pendingStep <- threadID:
			default:
			}
		},
		OnException: func(threadID int, info model.ExceptionInfo) bool {
			resume := c.bpmgr.HandleException(threadID, info)
			if !resume {
				c.enterPaused(model.PauseReasonException, threadID, nil)
			}
			return resume
		},
		OnModuleLoad: func(mod model.Module) {
			c.bpmgr.HandleModuleLoad(mod)
		},
		OnModuleUnload: func(mod model.Module) {
			c.bpmgr.HandleModuleUnload(mod)
			c.cache.Invalidate(mod.Path)
		},
		OnProcessExit: func() {
			c.teardown()
			c.setState(model.StateExited)
		},
	}, c.log)

	adapter.Subscribe(pump)
}

func (c *Controller) enterPaused(reason model.PauseReason, threadID int, loc *model.SourceLocation) {
	c.mu.Lock()
	c.state = model.StatePaused
	c.info.State = model.StatePaused
	c.info.PauseReason = reason
	c.info.ActiveThreadID = threadID
	c.info.Location = loc
	c.mu.Unlock()
}

// Continue implements the continue operation: requires Paused.
func (c *Controller) Continue(ctx context.Context) *dbgerr.Error {
	if err := c.requireState(model.StatePaused); err != nil {
		return err
	}
	c.setState(model.StateRunning)
	if err := c.adapter.Continue(ctx); err != nil {
		return dbgerr.Wrap(dbgerr.Target, err, "continue")
	}
	return nil
}

// Pause implements the pause operation: requires Running.
func (c *Controller) Pause(ctx context.Context) *dbgerr.Error {
	if err := c.requireState(model.StateRunning); err != nil {
		return err
	}
	if err := c.adapter.Pause(ctx); err != nil {
		return dbgerr.Wrap(dbgerr.Target, err, "pause")
	}
	c.enterPaused(model.PauseReasonUserPause, 0, nil)
	return nil
}

// Step implements step-{in,over,out}: requires Paused, and blocks the
// caller until the corresponding step-complete event arrives or the
// configured step timeout elapses.
func (c *Controller) Step(ctx context.Context, threadID int, mode runtime.StepMode) *dbgerr.Error {
	if err := c.requireState(model.StatePaused); err != nil {
		return err
	}
	c.setState(model.StateRunning)
	if err := c.adapter.Step(ctx, threadID, mode); err != nil {
		return dbgerr.Wrap(dbgerr.Target, err, "step")
	}

	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()
	select {
	case <-stepCtx.Done():
		return dbgerr.New(dbgerr.Target, "step timed out waiting for step-complete")
	case <-c.pendingStep:
		return nil
	}
}

// WaitForHit implements wait-for-hit: valid while Running or Paused.
func (c *Controller) WaitForHit(ctx context.Context, timeout time.Duration) (model.BreakpointHit, *dbgerr.Error) {
	if err := c.requireState(model.StateRunning, model.StatePaused); err != nil {
		return model.BreakpointHit{}, err
	}
	if timeout <= 0 {
		timeout = c.cfg.WaitForHitDefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	hit, err := c.queue.DequeueWithTimeout(ctx)
	if err != nil {
		return model.BreakpointHit{}, dbgerr.Wrap(dbgerr.Diagnostic, err, "wait for hit")
	}
	return hit, nil
}

// Inspection exposes the Inspection Engine, gated on Paused.
func (c *Controller) Inspection() (*inspect.Engine, *dbgerr.Error) {
	if err := c.requireState(model.StatePaused); err != nil {
		return nil, err
	}
	return c.inspect, nil
}

// Memory exposes the Memory & Layout Engine, gated on Paused.
func (c *Controller) Memory() (*memory.Engine, *dbgerr.Error) {
	if err := c.requireState(model.StatePaused); err != nil {
		return nil, err
	}
	return c.memory, nil
}

// Modules exposes the Module Inspector, gated on Running or Paused.
func (c *Controller) Modules() (*modules.Inspector, *dbgerr.Error) {
	if err := c.requireState(model.StateRunning, model.StatePaused); err != nil {
		return nil, err
	}
	return c.modules, nil
}

// AttachModuleInspector wires the Module Inspector once its metadata
// source (module-specific, constructed alongside the adapter) is
// available.
func (c *Controller) AttachModuleInspector(insp *modules.Inspector) {
	c.mu.Lock()
	c.modules = insp
	c.mu.Unlock()
}

// Detach implements detach/terminate: requires Running or Paused.
func (c *Controller) Detach(ctx context.Context, terminate bool) *dbgerr.Error {
	if err := c.requireState(model.StateRunning, model.StatePaused); err != nil {
		return err
	}
	var err error
	if terminate {
		err = c.adapter.Terminate(ctx)
	} else {
		err = c.adapter.Detach(ctx)
	}
	c.teardown()
	c.setState(model.StateDisconnected)
	if err != nil {
		return dbgerr.Wrap(dbgerr.Target, err, "disconnect")
	}
	return nil
}

// teardown implements the §5 teardown choreography: deactivate every
// bound breakpoint best-effort, reset all to Pending, drain the hit
// queue, and release the adapter so the next attach gets a fresh one.
func (c *Controller) teardown() {
	ctx := context.Background()
	for _, bp := range c.registry.List() {
		if bp.State == model.BreakpointBound {
			if c.adapter != nil {
				_ = c.adapter.ActivateNativeBreakpoint(ctx, bp.NativeBind, false)
			}
			bp.State = model.BreakpointPending
			bp.Verified = false
			bp.NativeBind = nil
			bp.ModulePath = ""
		}
	}
	c.queue.Drain()

	c.mu.Lock()
	c.adapter = nil
	c.info = Info{ID: c.info.ID}
	c.mu.Unlock()

	c.bpmgr.SetAdapter(nil)
	c.inspect.SetAdapter(nil)
	c.memory.SetAdapter(nil)
}
