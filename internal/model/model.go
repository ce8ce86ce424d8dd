// Package model defines the entities shared across the debugger core:
// sessions, breakpoints, modules, symbols, threads, stack frames,
// variables and the structures used to report memory, type layout and
// reference graphs.
package model

import "time"

// SessionState is a stage in the session lifecycle state machine.
type SessionState int

const (
	// StateDisconnected means no target is attached or launched.
	StateDisconnected SessionState = iota
	// StateAttaching means attach/launch is in flight.
	StateAttaching
	// StateRunning means the target is executing.
	StateRunning
	// StatePaused means the target is stopped and inspectable.
	StatePaused
	// StateExited is terminal: the target process has ended.
	StateExited
)

// String renders the state name.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateAttaching:
		return "Attaching"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// PauseReason explains why the session entered StatePaused.
type PauseReason int

const (
	// PauseReasonNone applies when the session is not paused.
	PauseReasonNone PauseReason = iota
	PauseReasonBreakpoint
	PauseReasonStep
	PauseReasonUserPause
	PauseReasonException
	PauseReasonEntryPoint
)

func (r PauseReason) String() string {
	switch r {
	case PauseReasonBreakpoint:
		return "Breakpoint"
	case PauseReasonStep:
		return "Step"
	case PauseReasonUserPause:
		return "UserPause"
	case PauseReasonException:
		return "Exception"
	case PauseReasonEntryPoint:
		return "EntryPoint"
	default:
		return "None"
	}
}

// LaunchMode distinguishes how the current session came to exist.
type LaunchMode int

const (
	LaunchModeNone LaunchMode = iota
	LaunchModeAttach
	LaunchModeLaunch
)

// SourceLocation identifies a point in source text, optionally resolved
// to a span with an enclosing function/module.
type SourceLocation struct {
	File         string
	Line         int
	Column       int
	EndLine      int
	EndColumn    int
	FunctionName string
	ModuleName   string
}

// SequencePoint is a single PDB sequence point: a mapping between an IL
// offset and a source span.
type SequencePoint struct {
	MethodToken  uint32
	ILOffset     int
	StartLine    int
	StartColumn  int
	EndLine      int
	EndColumn    int
	IsHidden     bool
}

// BreakpointState is the lifecycle stage of a Breakpoint.
type BreakpointState int

const (
	BreakpointPending BreakpointState = iota
	BreakpointBound
	BreakpointDisabled
)

func (s BreakpointState) String() string {
	switch s {
	case BreakpointPending:
		return "Pending"
	case BreakpointBound:
		return "Bound"
	case BreakpointDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// NativeBindHandle is an opaque reference into the target runtime
// adapter identifying an installed IL breakpoint.
type NativeBindHandle any

// Breakpoint is a line breakpoint tracked by the Breakpoint Registry.
type Breakpoint struct {
	ID         string
	Location   SourceLocation
	State      BreakpointState
	Enabled    bool
	Verified   bool
	HitCount   int
	Condition  string
	LogMessage string // non-empty marks this a logpoint (§4.6 expansion)
	Message    string
	ModulePath string
	NativeBind NativeBindHandle
}

// ExceptionBreakpoint matches thrown exceptions by type name.
type ExceptionBreakpoint struct {
	ID                 string
	ExceptionType      string
	BreakOnFirstChance bool
	BreakOnSecondChance bool
	IncludeSubtypes    bool
	Enabled            bool
	HitCount           int
}

// Verified is always true for exception breakpoints: the type is
// checked at raise time, not at bind time.
func (ExceptionBreakpoint) Verified() bool { return true }

// Module describes a loaded module in the target process.
type Module struct {
	Name       string
	FullName   string
	Path       string // empty for dynamic/in-memory modules
	Version    string
	HasSymbols bool
	IsDynamic  bool
	IsInMemory bool
	BaseAddr   uint64
	Size       uint64
	Native     any
}

// ExceptionInfo accompanies a BreakpointHit raised by an exception rule.
type ExceptionInfo struct {
	TypeName     string
	Message      string
	IsFirstChance bool
	StackTrace   string
}

// BreakpointHit is produced when a breakpoint or exception rule fires
// and is delivered to exactly one wait-for-hit caller.
type BreakpointHit struct {
	BreakpointID string
	ThreadID     int
	Timestamp    time.Time
	Location     SourceLocation
	HitCount     int
	Exception    *ExceptionInfo
}

// ThreadState is the runtime state of a Thread.
type ThreadState int

const (
	ThreadRunning ThreadState = iota
	ThreadStopped
	ThreadWaiting
	ThreadNotStarted
	ThreadTerminated
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "Running"
	case ThreadStopped:
		return "Stopped"
	case ThreadWaiting:
		return "Waiting"
	case ThreadNotStarted:
		return "NotStarted"
	case ThreadTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Thread is a managed thread in the target process.
type Thread struct {
	OSThreadID int
	Name       string
	State      ThreadState
	IsCurrent  bool
	Location   *SourceLocation
}

// StackFrame is one frame of a thread's call stack; index 0 is the
// innermost (topmost) frame.
type StackFrame struct {
	Index          int
	FunctionSignature string
	Module         string
	IsExternal     bool
	Location       *SourceLocation
	Arguments      []Variable
}

// VariableScope classifies where a Variable came from.
type VariableScope int

const (
	ScopeLocal VariableScope = iota
	ScopeArgument
	ScopeThis
	ScopeField
	ScopeProperty
	ScopeElement
)

func (s VariableScope) String() string {
	switch s {
	case ScopeLocal:
		return "Local"
	case ScopeArgument:
		return "Argument"
	case ScopeThis:
		return "This"
	case ScopeField:
		return "Field"
	case ScopeProperty:
		return "Property"
	case ScopeElement:
		return "Element"
	default:
		return "Unknown"
	}
}

// Variable is a named value observed during inspection. ObjectRef and
// ClassToken are populated when the value is a non-null reference,
// letting the Inspection Engine recurse into its fields without a
// second round-trip to resolve an address.
type Variable struct {
	Name         string
	TypeName     string
	ValueDisplay string
	Scope        VariableScope
	HasChildren  bool
	ChildCount   int
	Path         string
	ObjectRef    uint64
	ClassToken   uint32
}

// FieldDetail describes one field of an inspected object. ChildAddress
// and ChildClassToken are populated only when HasChildren is true and
// the field holds a reference the engine can recurse into. For an
// array-typed object, ReadObjectFields reports one FieldDetail per
// element with IsArrayElement set and Name the element's decimal
// index, rather than a declared field name.
type FieldDetail struct {
	Name            string
	TypeName        string
	ValueDisplay    string
	Offset          int
	Size            int
	HasChildren     bool
	ChildCount      int
	IsStatic        bool
	IsArrayElement  bool
	ChildAddress    uint64
	ChildClassToken uint32
}

// ObjectInspection is the result of walking an object's fields.
type ObjectInspection struct {
	Address        uint64
	TypeName       string
	Size           int
	Fields         []FieldDetail
	IsNull         bool
	HasCircularRef bool
	Truncated      bool
}

// LayoutField describes one field's placement within a TypeLayout.
type LayoutField struct {
	Name        string
	TypeName    string
	Offset      int
	Size        int
	Alignment   int
	IsReference bool
}

// PaddingRegion is a gap between successive fields in a TypeLayout.
type PaddingRegion struct {
	Offset int
	Size   int
}

// TypeLayout describes the memory shape of a type.
type TypeLayout struct {
	TypeName    string
	TotalSize   int
	HeaderSize  int
	DataSize    int
	Fields      []LayoutField
	Padding     []PaddingRegion
	IsValueType bool
	BaseType    string
}

// ReferenceKind classifies an edge in the reference graph.
type ReferenceKind int

const (
	RefField ReferenceKind = iota
	RefArrayElement
	RefStaticField
	RefWeakReference
)

func (k ReferenceKind) String() string {
	switch k {
	case RefField:
		return "Field"
	case RefArrayElement:
		return "ArrayElement"
	case RefStaticField:
		return "StaticField"
	case RefWeakReference:
		return "WeakReference"
	default:
		return "Unknown"
	}
}

// Reference is one outbound (or inbound, when supported) edge from an
// inspected object.
type Reference struct {
	SourceAddress uint64
	SourceType    string
	TargetAddress uint64
	TargetType    string
	Path          string
	Kind          ReferenceKind
}

// TypeKind classifies a type reported by the Module Inspector.
type TypeKind int

const (
	TypeKindClass TypeKind = iota
	TypeKindStruct
	TypeKindInterface
	TypeKindEnum
	TypeKindDelegate
)

// Visibility classifies member/type accessibility.
type Visibility int

const (
	VisibilityPublic Visibility = iota
	VisibilityPrivate
	VisibilityProtected
	VisibilityInternal
)

// TypeInfo is a type entry returned by list-types/search.
type TypeInfo struct {
	Name      string
	Namespace string
	Kind      TypeKind
	Visibility Visibility
	Module    string
}

// ParameterInfo describes one parameter of a MemberInfo.
type ParameterInfo struct {
	Name     string
	TypeName string
	IsOptional bool
	IsOut    bool
	IsRef    bool
	Default  string
}

// MemberKind classifies a MemberInfo.
type MemberKind int

const (
	MemberMethod MemberKind = iota
	MemberProperty
	MemberField
	MemberEvent
)

// MemberInfo is a single member entry returned by get-members/search.
type MemberInfo struct {
	Name       string
	Kind       MemberKind
	TypeName   string // return/field type
	Parameters []ParameterInfo
	Visibility Visibility
	IsStatic   bool
	IsVirtual  bool
	IsAbstract bool
	IsGeneric  bool
}
