// Package memory implements the Memory & Layout Engine: raw memory
// reads, type-layout computation and outbound reference enumeration.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
	"github.com/jkolo/clrdbg-core/internal/dbgerr"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
)

// pointerSize is the target's pointer width; clrdbg-core targets
// 64-bit managed runtimes exclusively (see DESIGN.md Open Questions).
const pointerSize = 8

// ReadResult is the outcome of a memory read, including the partial-
// read-as-success case.
type ReadResult struct {
	Address       uint64
	RequestedSize int
	ActualSize    int
	Hex           string
	ASCII         string
	Truncated     bool
	Note          string
}

// Engine implements memory reads, layout computation and reference
// enumeration against a live target.
type Engine struct {
	adapter runtime.Interface
	cfg     dbgconfig.MemoryConfig
	log     *logging.Logger

	// layouts is populated by whatever resolves type metadata (the
	// Module Inspector, in the wired topology); it is looked up by
	// exact type name.
	layouts map[string]model.TypeLayout
}

// New builds an Engine.
func New(adapter runtime.Interface, cfg dbgconfig.MemoryConfig, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{adapter: adapter, cfg: cfg, log: log.WithComponent("memory"), layouts: make(map[string]model.TypeLayout)}
}

// SetAdapter rebinds the engine to a fresh target runtime adapter.
func (e *Engine) SetAdapter(adapter runtime.Interface) {
	e.adapter = adapter
}

// RegisterLayout lets the Module Inspector publish a computed layout
// for later get-layout / get-references lookups by type name.
func (e *Engine) RegisterLayout(layout model.TypeLayout) {
	e.layouts[layout.TypeName] = layout
}

// ParseAddress accepts either a "0x"-prefixed hex literal or a decimal
// integer.
func ParseAddress(s string) (uint64, *dbgerr.Error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, dbgerr.New(dbgerr.Argument, "invalid address %q", s)
	}
	return v, nil
}

// ReadMemory reads size bytes (DefaultReadSize when size <= 0, capped at
// MaxReadSize) at address,
// returning hex and ASCII renderings. A short read from the target is
// reported as a success with Truncated=true and an explanatory Note,
// not an error.
func (e *Engine) ReadMemory(ctx context.Context, address uint64, size int) (*ReadResult, *dbgerr.Error) {
	if size <= 0 {
		size = e.cfg.DefaultReadSize
	}
	if size > e.cfg.MaxReadSize {
		size = e.cfg.MaxReadSize
	}

	data, err := e.adapter.ReadMemory(ctx, address, size)
	if err != nil {
		if len(data) == 0 {
			return nil, dbgerr.Wrap(dbgerr.Target, err, "read memory at 0x%x", address)
		}
		return &ReadResult{
			Address: address, RequestedSize: size, ActualSize: len(data),
			Hex: hexRender(data), ASCII: asciiRender(data),
			Truncated: true, Note: fmt.Sprintf("partial read: %v", err),
		}, nil
	}

	return &ReadResult{
		Address: address, RequestedSize: size, ActualSize: len(data),
		Hex: hexRender(data), ASCII: asciiRender(data),
		Truncated: len(data) < size,
	}, nil
}

func hexRender(data []byte) string {
	var b strings.Builder
	for i, by := range data {
		if i > 0 {
			if i%16 == 0 {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		fmt.Fprintf(&b, "%02x", by)
	}
	return b.String()
}

func asciiRender(data []byte) string {
	var b strings.Builder
	for _, by := range data {
		if by >= 0x20 && by <= 0x7E {
			b.WriteByte(by)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// GetLayout returns the previously-registered layout for typeName.
// includePadding=false drops the padding regions. includeInherited=false
// drops only fields of a reference type whose offset lies inside the
// object header; LayoutField records no declaring type, so inherited
// fields are not otherwise told apart from declared ones and are kept.
func (e *Engine) GetLayout(typeName string, includeInherited, includePadding bool) (*model.TypeLayout, *dbgerr.Error) {
	layout, ok := e.layouts[typeName]
	if !ok {
		return nil, dbgerr.New(dbgerr.NotFound, "no layout available for type %q", typeName)
	}
	out := layout
	if !includeInherited && layout.BaseType != "" {
		var owned []model.LayoutField
		for _, f := range layout.Fields {
			if f.Offset >= layout.HeaderSize || layout.IsValueType {
				owned = append(owned, f)
			}
		}
		out.Fields = owned
	}
	if !includePadding {
		out.Padding = nil
	}
	return &out, nil
}

// ComputeLayout derives a TypeLayout from an ordered field list per the
// §4.9 rules: sequential offsets honoring each field's own alignment,
// gaps synthesized as PaddingRegion where a field starts later than the
// immediately preceding field's end.
func ComputeLayout(typeName, baseType string, isValueType bool, fields []model.LayoutField) model.TypeLayout {
	headerSize := 0
	if !isValueType {
		headerSize = pointerSize * 2
	}

	sort := make([]model.LayoutField, len(fields))
	copy(sort, fields)

	var padding []model.PaddingRegion
	cursor := headerSize
	for i := range sort {
		f := &sort[i]
		if f.Offset == 0 {
			f.Offset = alignUp(cursor, f.Alignment)
		}
		if f.Offset > cursor {
			padding = append(padding, model.PaddingRegion{Offset: cursor, Size: f.Offset - cursor})
		}
		cursor = f.Offset + f.Size
	}

	dataSize := cursor - headerSize
	if dataSize < 0 {
		dataSize = 0
	}

	return model.TypeLayout{
		TypeName:    typeName,
		TotalSize:   cursor,
		HeaderSize:  headerSize,
		DataSize:    dataSize,
		Fields:      sort,
		Padding:     padding,
		IsValueType: isValueType,
		BaseType:    baseType,
	}
}

func alignUp(offset, alignment int) int {
	if alignment <= 1 {
		return offset
	}
	rem := offset % alignment
	if rem == 0 {
		return offset
	}
	return offset + (alignment - rem)
}

// GetReferences enumerates outbound references from an object per
// §4.9. Inbound analysis is explicitly out of scope for v1 and always
// returns an empty, explanatory result.
func (e *Engine) GetReferences(ctx context.Context, objectRef uint64, classToken uint32, direction string, maxResults int, includeArrays bool) ([]model.Reference, bool, string) {
	if direction == "inbound" {
		return nil, false, "inbound reference analysis is not implemented"
	}
	if maxResults <= 0 {
		maxResults = e.cfg.DefaultMaxReferences
	}
	if maxResults > e.cfg.MaxReferencesCap {
		maxResults = e.cfg.MaxReferencesCap
	}

	fields, err := e.adapter.ReadObjectFields(ctx, objectRef, classToken)
	if err != nil {
		return nil, false, err.Error()
	}

	var out []model.Reference
	truncated := false
	for _, f := range fields {
		if !f.HasChildren || f.ChildAddress == 0 {
			continue
		}
		if f.IsArrayElement && !includeArrays {
			continue
		}
		if len(out) >= maxResults {
			truncated = true
			break
		}
		kind := model.RefField
		switch {
		case f.IsArrayElement:
			kind = model.RefArrayElement
		case f.IsStatic:
			kind = model.RefStaticField
		}
		out = append(out, model.Reference{
			SourceAddress: objectRef,
			TargetAddress: f.ChildAddress,
			TargetType:    f.TypeName,
			Path:          f.Name,
			Kind:          kind,
		})
	}

	if direction == "both" && !truncated {
		_, _, note := e.GetReferences(ctx, objectRef, classToken, "inbound", maxResults, includeArrays)
		return out, truncated, note
	}
	return out, truncated, ""
}
