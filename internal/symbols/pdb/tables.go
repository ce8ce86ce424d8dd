package pdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// tableID is one of the ECMA-335 metadata table kinds, including the
// Portable PDB-specific tables (0x30+).
type tableID uint8

const (
	tModule                 tableID = 0x00
	tTypeRef                tableID = 0x01
	tTypeDef                tableID = 0x02
	tField                  tableID = 0x04
	tMethodDef              tableID = 0x06
	tParam                  tableID = 0x08
	tInterfaceImpl          tableID = 0x09
	tMemberRef              tableID = 0x0A
	tConstant               tableID = 0x0B
	tCustomAttribute        tableID = 0x0C
	tFieldMarshal           tableID = 0x0D
	tDeclSecurity           tableID = 0x0E
	tClassLayout            tableID = 0x0F
	tFieldLayout            tableID = 0x10
	tStandAloneSig          tableID = 0x11
	tEventMap               tableID = 0x12
	tEvent                  tableID = 0x14
	tPropertyMap            tableID = 0x15
	tProperty               tableID = 0x17
	tMethodSemantics        tableID = 0x18
	tMethodImpl             tableID = 0x19
	tModuleRef              tableID = 0x1A
	tTypeSpec               tableID = 0x1B
	tImplMap                tableID = 0x1C
	tFieldRVA               tableID = 0x1D
	tAssembly               tableID = 0x20
	tAssemblyRef            tableID = 0x23
	tFile                   tableID = 0x26
	tExportedType           tableID = 0x27
	tManifestResource       tableID = 0x28
	tNestedClass            tableID = 0x29
	tGenericParam           tableID = 0x2A
	tMethodSpec             tableID = 0x2B
	tGenericParamConstraint tableID = 0x2C
	tDocument               tableID = 0x30
	tMethodDebugInformation tableID = 0x31
	tLocalScope             tableID = 0x32
	tLocalVariable          tableID = 0x33
	tLocalConstant          tableID = 0x34
	tImportScope            tableID = 0x35
	tStateMachineMethod     tableID = 0x36
	tCustomDebugInformation tableID = 0x37
)

type colKind int

const (
	colFixed2 colKind = iota // uint16 constant/flags/index column
	colFixed4                // uint32 constant/flags/RVA column
	colString
	colGuid
	colBlob
	colSimple // simple row index into a single other table
	colCoded  // coded index spanning several candidate tables
)

type column struct {
	kind       colKind
	target     tableID   // for colSimple
	codedTables []tableID // for colCoded
	codedTagBits uint
}

func fixed2() column { return column{kind: colFixed2} }
func fixed4() column { return column{kind: colFixed4} }
func str() column    { return column{kind: colString} }
func guid() column   { return column{kind: colGuid} }
func blob() column   { return column{kind: colBlob} }
func simple(t tableID) column { return column{kind: colSimple, target: t} }
func coded(bits uint, tables ...tableID) column {
	return column{kind: colCoded, codedTagBits: bits, codedTables: tables}
}

// Coded index families, per ECMA-335 II.24.2.6. Only widths are needed
// (no value decoding outside Document/MethodDebugInformation, which
// carry no coded columns), so table order within each family does not
// matter here.
var (
	typeDefOrRef        = []tableID{tTypeDef, tTypeRef, tTypeSpec}
	hasConstant         = []tableID{tField, tParam, tProperty}
	hasCustomAttribute  = []tableID{tMethodDef, tField, tTypeRef, tTypeDef, tParam, tInterfaceImpl, tMemberRef,
		tModule, tDeclSecurity, tProperty, tEvent, tStandAloneSig, tModuleRef, tTypeSpec, tAssembly, tAssemblyRef,
		tFile, tExportedType, tManifestResource, tGenericParam, tGenericParamConstraint, tMethodSpec}
	hasFieldMarshal     = []tableID{tField, tParam}
	hasDeclSecurity     = []tableID{tTypeDef, tMethodDef, tAssembly}
	memberRefParent     = []tableID{tTypeDef, tTypeRef, tModuleRef, tMethodDef, tTypeSpec}
	hasSemantics        = []tableID{tEvent, tProperty}
	methodDefOrRef      = []tableID{tMethodDef, tMemberRef}
	memberForwarded     = []tableID{tField, tMethodDef}
	implementation      = []tableID{tFile, tAssemblyRef, tExportedType}
	customAttributeType = []tableID{tMethodDef, tMemberRef}
	resolutionScope     = []tableID{tModule, tModuleRef, tAssemblyRef, tTypeRef}
	typeOrMethodDef     = []tableID{tTypeDef, tMethodDef}
	hasCustomDebugInfo  = append(append([]tableID{}, hasCustomAttribute...), tDocument, tLocalVariable, tLocalConstant, tImportScope)
)

// schema maps every table kind this reader might encounter to its
// column layout, so rows of tables we don't care about can still be
// skipped correctly.
var schema = map[tableID][]column{
	tModule:        {fixed2(), str(), guid(), guid(), guid()},
	tTypeRef:       {coded(2, resolutionScope...), str(), str()},
	tTypeDef:       {fixed4(), str(), str(), coded(2, typeDefOrRef...), simple(tField), simple(tMethodDef)},
	tField:         {fixed2(), str(), blob()},
	tMethodDef:     {fixed4(), fixed2(), fixed2(), str(), blob(), simple(tParam)},
	tParam:         {fixed2(), fixed2(), str()},
	tInterfaceImpl: {simple(tTypeDef), coded(2, typeDefOrRef...)},
	tMemberRef:     {coded(3, memberRefParent...), str(), blob()},
	tConstant:      {fixed2(), coded(2, hasConstant...), blob()},
	tCustomAttribute: {coded(5, hasCustomAttribute...), coded(3, customAttributeType...), blob()},
	tFieldMarshal:   {coded(1, hasFieldMarshal...), blob()},
	tDeclSecurity:   {fixed2(), coded(2, hasDeclSecurity...), blob()},
	tClassLayout:    {fixed2(), fixed4(), simple(tTypeDef)},
	tFieldLayout:    {fixed4(), simple(tField)},
	tStandAloneSig:  {blob()},
	tEventMap:       {simple(tTypeDef), simple(tEvent)},
	tEvent:          {fixed2(), str(), coded(2, typeDefOrRef...)},
	tPropertyMap:    {simple(tTypeDef), simple(tProperty)},
	tProperty:       {fixed2(), str(), blob()},
	tMethodSemantics: {fixed2(), simple(tMethodDef), coded(1, hasSemantics...)},
	tMethodImpl:     {simple(tTypeDef), coded(1, methodDefOrRef...), coded(1, methodDefOrRef...)},
	tModuleRef:      {str()},
	tTypeSpec:       {blob()},
	tImplMap:        {fixed2(), coded(1, memberForwarded...), str(), simple(tModuleRef)},
	tFieldRVA:       {fixed4(), simple(tField)},
	tAssembly:       {fixed4(), fixed2(), fixed2(), fixed2(), fixed2(), fixed4(), blob(), str(), str()},
	tAssemblyRef:    {fixed2(), fixed2(), fixed2(), fixed2(), fixed4(), blob(), str(), str(), blob()},
	tFile:           {fixed4(), str(), blob()},
	tExportedType:   {fixed4(), fixed4(), str(), str(), coded(2, implementation...)},
	tManifestResource: {fixed4(), fixed4(), str(), coded(2, implementation...)},
	tNestedClass:    {simple(tTypeDef), simple(tTypeDef)},
	tGenericParam:   {fixed2(), fixed2(), coded(1, typeOrMethodDef...), str()},
	tMethodSpec:     {coded(1, methodDefOrRef...), blob()},
	tGenericParamConstraint: {simple(tGenericParam), coded(2, typeDefOrRef...)},

	tDocument:               {blob(), blob(), guid(), guid()},
	tMethodDebugInformation: {simple(tDocument), blob()},
	tLocalScope:             {simple(tMethodDef), simple(tImportScope), simple(tLocalVariable), simple(tLocalConstant), fixed4(), fixed4()},
	tLocalVariable:          {fixed2(), fixed2(), str()},
	tLocalConstant:          {str(), blob()},
	tImportScope:            {simple(tImportScope), blob()},
	tStateMachineMethod:     {simple(tMethodDef), simple(tMethodDef)},
	tCustomDebugInformation: {coded(5, hasCustomDebugInfo...), guid(), blob()},
}

// tableStream is the parsed #~ compressed metadata table stream: row
// counts for every present table and a byte offset to each table's
// first row.
type tableStream struct {
	rowCounts  map[tableID]uint32
	tableStart map[tableID]int
	data       []byte
	strIdxSize, guidIdxSize, blobIdxSize int
}

func parseTableStream(data []byte) (*tableStream, error) {
	r := bytes.NewReader(data)

	var reserved uint32
	var major, minor, heapSizes, reserved2 uint8
	if err := binary.Read(r, binary.LittleEndian, &reserved); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &major); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &minor); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &heapSizes); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &reserved2); err != nil {
		return nil, err
	}

	var valid, sorted uint64
	if err := binary.Read(r, binary.LittleEndian, &valid); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &sorted); err != nil {
		return nil, err
	}

	rowCounts := make(map[tableID]uint32)
	for id := 0; id < 64; id++ {
		if valid&(1<<uint(id)) == 0 {
			continue
		}
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, err
		}
		rowCounts[tableID(id)] = count
	}

	ts := &tableStream{
		rowCounts:   rowCounts,
		tableStart:  make(map[tableID]int),
		strIdxSize:  2,
		guidIdxSize: 2,
		blobIdxSize: 2,
	}
	if heapSizes&0x01 != 0 {
		ts.strIdxSize = 4
	}
	if heapSizes&0x02 != 0 {
		ts.guidIdxSize = 4
	}
	if heapSizes&0x04 != 0 {
		ts.blobIdxSize = 4
	}

	offset, _ := seekPos(r)
	ts.data = data[offset:]

	pos := 0
	for id := 0; id < 64; id++ {
		tid := tableID(id)
		count, present := rowCounts[tid]
		if !present {
			continue
		}
		cols, ok := schema[tid]
		if !ok {
			return nil, fmt.Errorf("unknown table kind %#x present in stream", id)
		}
		ts.tableStart[tid] = pos
		rowSize := ts.rowSize(cols)
		pos += rowSize * int(count)
	}

	return ts, nil
}

func (ts *tableStream) colWidth(c column) int {
	switch c.kind {
	case colFixed2:
		return 2
	case colFixed4:
		return 4
	case colString:
		return ts.strIdxSize
	case colGuid:
		return ts.guidIdxSize
	case colBlob:
		return ts.blobIdxSize
	case colSimple:
		if ts.rowCounts[c.target] < 65536 {
			return 2
		}
		return 4
	case colCoded:
		maxRows := uint32(0)
		for _, t := range c.codedTables {
			if ts.rowCounts[t] > maxRows {
				maxRows = ts.rowCounts[t]
			}
		}
		if maxRows < (1 << (16 - c.codedTagBits)) {
			return 2
		}
		return 4
	default:
		return 2
	}
}

func (ts *tableStream) rowSize(cols []column) int {
	size := 0
	for _, c := range cols {
		size += ts.colWidth(c)
	}
	return size
}

// rowBytes returns the raw bytes of row (0-based) of table tid.
func (ts *tableStream) rowBytes(tid tableID) func(row uint32) []byte {
	cols := schema[tid]
	rowSize := ts.rowSize(cols)
	start := ts.tableStart[tid]
	return func(row uint32) []byte {
		off := start + int(row)*rowSize
		if off+rowSize > len(ts.data) {
			return nil
		}
		return ts.data[off : off+rowSize]
	}
}

// readColumns decodes raw row bytes into uint32 column values in
// declaration order (sufficient for the Document and
// MethodDebugInformation tables this reader actually interprets).
func (ts *tableStream) readColumns(tid tableID, raw []byte) []uint32 {
	cols := schema[tid]
	out := make([]uint32, len(cols))
	off := 0
	for i, c := range cols {
		w := ts.colWidth(c)
		if off+w > len(raw) {
			break
		}
		var v uint32
		if w == 2 {
			v = uint32(binary.LittleEndian.Uint16(raw[off : off+2]))
		} else {
			v = binary.LittleEndian.Uint32(raw[off : off+4])
		}
		out[i] = v
		off += w
	}
	return out
}
