package pdb

import "testing"

func TestDecodeCompressedUint(t *testing.T) {
	cases := []struct {
		name    string
		in      []byte
		want    uint32
		wantLen int
	}{
		{"one byte", []byte{0x03}, 0x03, 1},
		{"one byte max", []byte{0x7F}, 0x7F, 1},
		{"two bytes", []byte{0x80 | 0x01, 0x23}, 0x123, 2},
		{"four bytes", []byte{0xC0, 0x00, 0x00, 0x04}, 0x04, 4},
		{"empty", nil, 0, 0},
		{"truncated two-byte marker", []byte{0x81}, 0, 0},
	}
	for _, tc := range cases {
		got, n := decodeCompressedUint(tc.in)
		if got != tc.want || n != tc.wantLen {
			t.Errorf("%s: got (%d, %d), want (%d, %d)", tc.name, got, n, tc.want, tc.wantLen)
		}
	}
}

func TestDecodeCompressedSignedRoundTrip(t *testing.T) {
	// ECMA-335 II.23.2: the sign is folded into the low bit of the
	// unsigned payload (0 => non-negative via right shift, 1 => negative).
	cases := []struct {
		encoded uint32
		want    int32
	}{
		{0, 0},
		{2, 1},
		{1, -1},
		{4, 2},
		{3, -2},
	}
	for _, tc := range cases {
		got, n := decodeCompressedSigned([]byte{byte(tc.encoded)})
		if n != 1 {
			t.Fatalf("encoded=%d: expected 1 byte consumed, got %d", tc.encoded, n)
		}
		if got != tc.want {
			t.Errorf("encoded=%d: got %d, want %d", tc.encoded, got, tc.want)
		}
	}
}

func TestDecodeSequencePointsSingleNonHidden(t *testing.T) {
	// header: local sig token = 0
	// Use the simplest non-hidden point: first record, deltaLines=0 => deltaColumns read as unsigned.
	blob := []byte{
		0x00,       // local signature token
		0x05,       // deltaOffset (first => absolute ilOffset=5)
		0x00,       // deltaLines = 0
		0x08,       // deltaColumns (unsigned, since deltaLines==0) = 8
		0x0A,       // startLine = 10
		0x03,       // startColumn = 3
	}
	points := decodeSequencePoints(blob)
	if len(points) != 1 {
		t.Fatalf("expected exactly 1 point, got %d", len(points))
	}
	p := points[0]
	if p.ILOffset != 5 || p.StartLine != 10 || p.StartColumn != 3 || p.EndColumn != 11 || p.IsHidden {
		t.Fatalf("unexpected decoded point: %+v", p)
	}
}

func TestDecodeSequencePointsHiddenMarker(t *testing.T) {
	blob := []byte{
		0x00, // local signature token
		0x05, // deltaOffset (first)
		0x00, // deltaLines = 0
		0x00, // deltaColumns = 0 -> hidden marker
	}
	points := decodeSequencePoints(blob)
	if len(points) != 1 || !points[0].IsHidden {
		t.Fatalf("expected a single hidden point, got %+v", points)
	}
}

func TestDecodeSequencePointsEmptyBlob(t *testing.T) {
	if got := decodeSequencePoints(nil); got != nil {
		t.Fatalf("expected nil for an empty blob, got %+v", got)
	}
}

// buildMinimalTableStream constructs a synthetic #~ stream containing
// only the Document table (one row), exercising the valid-bitmask row
// count parsing and column-width computation without a real assembly.
func buildMinimalTableStream(t *testing.T) []byte {
	t.Helper()
	buf := []byte{}
	buf = append(buf, 0, 0, 0, 0) // reserved
	buf = append(buf, 0, 0)       // major, minor
	buf = append(buf, 0)          // heapSizes: all 2-byte heap indices
	buf = append(buf, 0)          // reserved2

	valid := uint64(1) << uint(tDocument)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(valid>>(8*i)))
	}
	sorted := uint64(0)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(sorted>>(8*i)))
	}

	// row count for tDocument = 1
	buf = append(buf, 1, 0, 0, 0)

	// one Document row: blob()+blob()+guid()+guid() = 2+2+2+2 = 8 bytes
	buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0)

	return buf
}

func TestParseTableStreamDocumentRowCount(t *testing.T) {
	data := buildMinimalTableStream(t)
	ts, err := parseTableStream(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.rowCounts[tDocument] != 1 {
		t.Fatalf("expected 1 Document row, got %d", ts.rowCounts[tDocument])
	}
	rowFn := ts.rowBytes(tDocument)
	row := rowFn(0)
	if row == nil || len(row) != 8 {
		t.Fatalf("expected an 8-byte Document row, got %v", row)
	}
}

func TestParseTableStreamUnknownTableErrors(t *testing.T) {
	buf := []byte{}
	buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0)
	// Flag a table id with no schema entry (0x3F is unused by this reader).
	valid := uint64(1) << 0x3F
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(valid>>(8*i)))
	}
	for i := 0; i < 8; i++ {
		buf = append(buf, 0)
	}
	buf = append(buf, 1, 0, 0, 0)

	if _, err := parseTableStream(buf); err == nil {
		t.Fatal("expected an error for an unrecognized table kind")
	}
}
