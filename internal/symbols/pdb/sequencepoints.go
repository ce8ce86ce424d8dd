package pdb

// RawSequencePoint is one decoded sequence point before document
// resolution. IsHidden points are compiler-generated step-nothing
// markers (e.g. lambda-closure boilerplate) and are never matched by
// line lookups.
type RawSequencePoint struct {
	ILOffset    int
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
	IsHidden    bool
	// DocumentRow is 1-based into the Document table; non-zero only
	// when this point's blob carried an explicit document-change
	// record (a method whose body spans multiple source files, e.g. a
	// partial method or source-generator output).
	DocumentRow uint32
}

// decodeSequencePoints parses the sequence-points blob format described
// by the Portable PDB specification: a header (local signature token,
// optional initial document), followed by a stream of records each
// either a document-change marker or a sequence point expressed as
// deltas from the previous record.
func decodeSequencePoints(blob []byte) []RawSequencePoint {
	if len(blob) == 0 {
		return nil
	}

	pos := 0
	readUint := func() (uint32, bool) {
		v, n := decodeCompressedUint(blob[pos:])
		if n == 0 {
			return 0, false
		}
		pos += n
		return v, true
	}
	readSigned := func() (int32, bool) {
		v, n := decodeCompressedSigned(blob[pos:])
		if n == 0 {
			return 0, false
		}
		pos += n
		return v, true
	}

	// Header: local signature token (unused downstream).
	if _, ok := readUint(); !ok {
		return nil
	}

	var points []RawSequencePoint
	ilOffset := 0
	first := true
	haveLine := false
	line, col := 0, 0

	for pos < len(blob) {
		deltaOffset, ok := readUint()
		if !ok {
			break
		}

		if !first && deltaOffset == 0 {
			// Document-change record: next field names the new document.
			docRow, ok := readUint()
			if !ok {
				break
			}
			points = append(points, RawSequencePoint{DocumentRow: docRow})
			continue
		}

		if first {
			ilOffset = int(deltaOffset)
			first = false
		} else {
			ilOffset += int(deltaOffset)
		}

		deltaLines, ok := readUint()
		if !ok {
			break
		}
		var deltaColumns int32
		if deltaLines == 0 {
			v, ok := readUint()
			if !ok {
				break
			}
			deltaColumns = int32(v)
		} else {
			v, ok := readSigned()
			if !ok {
				break
			}
			deltaColumns = v
		}

		if deltaLines == 0 && deltaColumns == 0 {
			points = append(points, RawSequencePoint{ILOffset: ilOffset, IsHidden: true})
			continue
		}

		if !haveLine {
			sl, ok := readUint()
			if !ok {
				break
			}
			sc, ok := readUint()
			if !ok {
				break
			}
			line, col = int(sl), int(sc)
			haveLine = true
		} else {
			dl, ok := readSigned()
			if !ok {
				break
			}
			dc, ok := readSigned()
			if !ok {
				break
			}
			line += int(dl)
			col += int(dc)
		}

		points = append(points, RawSequencePoint{
			ILOffset:    ilOffset,
			StartLine:   line,
			StartColumn: col,
			EndLine:     line + int(deltaLines),
			EndColumn:   col + int(deltaColumns),
		})
	}

	return points
}
