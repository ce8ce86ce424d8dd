package pdb

import (
	"fmt"
	"os"
	"strings"
)

// Document is a source file referenced by the PDB.
type Document struct {
	Row  uint32 // 1-based Document table row
	Name string
}

// Reader exposes the subset of a Portable PDB this debugger core needs:
// document enumeration and per-method sequence points.
type Reader struct {
	root      *metadataRoot
	documents []Document
	byName    map[string]uint32 // normalized path -> Document.Row
}

// Open reads and parses the Portable PDB at path.
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdb: %w", err)
	}
	return Parse(data)
}

// Parse parses an in-memory Portable PDB image (the metadata root,
// conventionally the entire file for a standalone .pdb).
func Parse(data []byte) (*Reader, error) {
	root, err := parseMetadataRoot(data)
	if err != nil {
		return nil, err
	}

	rd := &Reader{root: root, byName: make(map[string]uint32)}
	if err := rd.loadDocuments(); err != nil {
		return nil, err
	}
	return rd, nil
}

func (r *Reader) loadDocuments() error {
	count := r.root.tables.rowCounts[tDocument]
	getRow := r.root.tables.rowBytes(tDocument)

	for i := uint32(0); i < count; i++ {
		raw := getRow(i)
		if raw == nil {
			continue
		}
		cols := r.root.tables.readColumns(tDocument, raw)
		nameBlobIdx := cols[0]
		name := r.decodeDocumentName(nameBlobIdx)
		row := i + 1 // 1-based
		normalized := normalizePath(name)
		r.documents = append(r.documents, Document{Row: row, Name: name})
		r.byName[normalized] = row
	}
	return nil
}

// decodeDocumentName decodes the Document.Name blob format: a
// single-byte separator followed by a sequence of compressed blob-heap
// indices, each naming one path part (0 = the separator itself appears
// literally in that position), joined back together.
func (r *Reader) decodeDocumentName(blobIdx uint32) string {
	raw := r.root.blobAt(blobIdx)
	if len(raw) == 0 {
		return ""
	}

	sep := string(raw[0])
	pos := 1
	var parts []string
	for pos < len(raw) {
		partIdx, n := decodeCompressedUint(raw[pos:])
		if n == 0 {
			break
		}
		pos += n
		if partIdx == 0 {
			parts = append(parts, "")
			continue
		}
		part := r.root.blobAt(partIdx)
		parts = append(parts, string(part))
	}
	return strings.Join(parts, sep)
}

// Documents returns every document this PDB references.
func (r *Reader) Documents() []Document {
	out := make([]Document, len(r.documents))
	copy(out, r.documents)
	return out
}

// DocumentRow resolves a normalized source path to its Document table
// row, or 0 if the PDB does not reference that file.
func (r *Reader) DocumentRow(normalizedPath string) (uint32, bool) {
	row, ok := r.byName[normalizedPath]
	return row, ok
}

// MethodSequencePoints decodes the sequence points for the
// MethodDebugInformation row belonging to methodToken (a MethodDef
// table row index encoded the same way the rest of the metadata tables
// are: the low 24 bits are the row number).
func (r *Reader) MethodSequencePoints(methodToken uint32) ([]RawSequencePoint, uint32, error) {
	row := methodToken & 0x00FFFFFF
	if row == 0 {
		return nil, 0, fmt.Errorf("invalid method token %#x", methodToken)
	}

	getRow := r.root.tables.rowBytes(tMethodDebugInformation)
	raw := getRow(row - 1)
	if raw == nil {
		return nil, 0, fmt.Errorf("no MethodDebugInformation for token %#x", methodToken)
	}

	cols := r.root.tables.readColumns(tMethodDebugInformation, raw)
	docRow := cols[0]
	blobIdx := cols[1]

	blob := r.root.blobAt(blobIdx)
	points := decodeSequencePoints(blob)
	return points, docRow, nil
}

// normalizePath applies the path-comparison rule shared by the Symbol
// Mapper: backslashes become forward slashes and the result is
// lower-cased for case-insensitive comparison. The path is not resolved
// to an absolute path; a relative path is compared as given.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.ToLower(p)
}

// NormalizePath is the exported form used by callers outside this
// package (the Symbol Mapper, the Breakpoint Registry).
func NormalizePath(p string) string {
	return normalizePath(p)
}
