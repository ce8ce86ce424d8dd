// Package dbgconfig holds the plain configuration structs for the
// debugger core. Loading from environment or file is out of scope for
// this subsystem; callers construct these directly or via the
// Default* constructors, following the editor's own config-section
// convention of plain structs with sensible zero-value-safe defaults.
package dbgconfig

import "time"

// SessionConfig controls session-level defaults.
type SessionConfig struct {
	// AttachTimeout bounds how long attach() waits for the runtime to
	// accept the debugging interface.
	AttachTimeout time.Duration
	// StepTimeout bounds how long a step-* operation waits for the
	// corresponding step-complete event.
	StepTimeout time.Duration
	// WaitForHitDefaultTimeout is used by wait-for-hit when the caller
	// does not supply a deadline. Zero means block indefinitely.
	WaitForHitDefaultTimeout time.Duration
}

// DefaultSessionConfig returns reasonable defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AttachTimeout:            10 * time.Second,
		StepTimeout:              30 * time.Second,
		WaitForHitDefaultTimeout: 0,
	}
}

// InspectionConfig controls the Inspection Engine's defaults and caps.
type InspectionConfig struct {
	DefaultMaxFrames        int
	MaxFramesCap            int
	DefaultObjectDepth      int
	MaxObjectDepth          int
	MaxFieldFanout          int
	StringDisplayTruncateAt int
}

// DefaultInspectionConfig returns reasonable defaults.
func DefaultInspectionConfig() InspectionConfig {
	return InspectionConfig{
		DefaultMaxFrames:        20,
		MaxFramesCap:            1000,
		DefaultObjectDepth:      1,
		MaxObjectDepth:          10,
		MaxFieldFanout:          100,
		StringDisplayTruncateAt: 1000,
	}
}

// MemoryConfig controls the Memory & Layout Engine's caps.
type MemoryConfig struct {
	DefaultReadSize       int
	MaxReadSize           int
	DefaultMaxReferences  int
	MaxReferencesCap      int
}

// DefaultMemoryConfig returns reasonable defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		DefaultReadSize:      256,
		MaxReadSize:          65536,
		DefaultMaxReferences: 50,
		MaxReferencesCap:     100,
	}
}

// ModuleInspectorConfig controls the Module Inspector's caps.
type ModuleInspectorConfig struct {
	DefaultMaxResults int
	MaxResultsCap     int
}

// DefaultModuleInspectorConfig returns reasonable defaults.
func DefaultModuleInspectorConfig() ModuleInspectorConfig {
	return ModuleInspectorConfig{
		DefaultMaxResults: 100,
		MaxResultsCap:     100,
	}
}

// SymbolCacheConfig controls the Symbol Cache's pool sizing.
type SymbolCacheConfig struct {
	// MaxOpenReaders bounds how many PDB readers stay resident at once.
	MaxOpenReaders int
	// WatchForChanges enables the fsnotify-backed invalidation signal.
	WatchForChanges bool
}

// DefaultSymbolCacheConfig returns reasonable defaults.
func DefaultSymbolCacheConfig() SymbolCacheConfig {
	return SymbolCacheConfig{
		MaxOpenReaders:  64,
		WatchForChanges: true,
	}
}
