package bpmanager

import "github.com/jkolo/clrdbg-core/internal/breakpoints"

// RequestSnapshot is the JSON-serializable form of a breakpoint request,
// suitable for a host process to write to disk between runs. It carries
// only request-defining fields, never bind state — see §6.
type RequestSnapshot struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Column     int    `json:"column,omitempty"`
	Condition  string `json:"condition,omitempty"`
	LogMessage string `json:"logMessage,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// SnapshotRequests captures every current breakpoint request for
// best-effort persistence by the host process. Bind state (hit counts,
// module binding, verification) is intentionally dropped.
func (m *Manager) SnapshotRequests() []RequestSnapshot {
	reqs := m.registry.ExportRequests()
	out := make([]RequestSnapshot, len(reqs))
	for i, r := range reqs {
		out[i] = RequestSnapshot{
			File:       r.File,
			Line:       r.Line,
			Column:     r.Column,
			Condition:  r.Condition,
			LogMessage: r.LogMessage,
			Enabled:    r.Enabled,
		}
	}
	return out
}

// RestoreRequests recreates breakpoints from a prior SnapshotRequests
// call. Every restored breakpoint starts Pending, exactly as a fresh
// bp-set would; it is the caller's responsibility to trigger binding
// against any modules already loaded (e.g. by re-walking loaded
// modules after a resumed session attaches).
func (m *Manager) RestoreRequests(snaps []RequestSnapshot) {
	reqs := make([]breakpoints.Request, len(snaps))
	for i, s := range snaps {
		reqs[i] = breakpoints.Request{
			File:       s.File,
			Line:       s.Line,
			Column:     s.Column,
			Condition:  s.Condition,
			LogMessage: s.LogMessage,
			Enabled:    s.Enabled,
		}
	}
	m.registry.ImportRequests(reqs)
}
