// Package pdb is a minimal, read-only Portable PDB metadata reader: just
// enough of ECMA-335's metadata root, heaps and compressed metadata
// table stream to resolve Document rows and MethodDebugInformation
// sequence-point blobs. There is no third-party Go library for this
// format anywhere in reach, so this reads the binary layout directly
// with encoding/binary — see the design notes for the full
// justification.
package pdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const metadataRootSignature = 0x424A5342 // "BSJB"

// streamHeader is one entry of the metadata root's stream directory.
type streamHeader struct {
	Offset uint32
	Size   uint32
	Name   string
}

// metadataRoot holds the parsed heaps and table stream needed downstream.
type metadataRoot struct {
	strings []byte
	blob    []byte
	guid    []byte
	us      []byte
	tables  *tableStream
}

// parseMetadataRoot parses the CLI metadata root starting at data[0].
func parseMetadataRoot(data []byte) (*metadataRoot, error) {
	r := bytes.NewReader(data)

	var sig uint32
	if err := binary.Read(r, binary.LittleEndian, &sig); err != nil {
		return nil, fmt.Errorf("read metadata signature: %w", err)
	}
	if sig != metadataRootSignature {
		return nil, fmt.Errorf("not a portable PDB metadata blob: bad signature %#x", sig)
	}

	var majorVer, minorVer uint16
	var reserved uint32
	if err := binary.Read(r, binary.LittleEndian, &majorVer); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &minorVer); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &reserved); err != nil {
		return nil, err
	}

	var versionLen uint32
	if err := binary.Read(r, binary.LittleEndian, &versionLen); err != nil {
		return nil, fmt.Errorf("read version length: %w", err)
	}
	versionBytes := make([]byte, align4(versionLen))
	if _, err := r.Read(versionBytes); err != nil {
		return nil, fmt.Errorf("read version string: %w", err)
	}

	var flags uint16
	var streamCount uint16
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &streamCount); err != nil {
		return nil, err
	}

	headers := make([]streamHeader, 0, streamCount)
	for i := 0; i < int(streamCount); i++ {
		var offset, size uint32
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		name, err := readAlignedCString(r)
		if err != nil {
			return nil, fmt.Errorf("read stream name: %w", err)
		}
		headers = append(headers, streamHeader{Offset: offset, Size: size, Name: name})
	}

	root := &metadataRoot{}
	for _, h := range headers {
		if int(h.Offset+h.Size) > len(data) {
			return nil, fmt.Errorf("stream %q out of bounds", h.Name)
		}
		section := data[h.Offset : h.Offset+h.Size]
		switch h.Name {
		case "#Strings":
			root.strings = section
		case "#Blob":
			root.blob = section
		case "#GUID":
			root.guid = section
		case "#US":
			root.us = section
		case "#~", "#-":
			ts, err := parseTableStream(section)
			if err != nil {
				return nil, fmt.Errorf("parse table stream: %w", err)
			}
			root.tables = ts
		case "#Pdb":
			// Contains the PDB id and entry-point token; not needed for
			// sequence-point mapping.
		}
	}

	if root.tables == nil {
		return nil, fmt.Errorf("no #~ table stream found")
	}
	return root, nil
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// readAlignedCString reads a NUL-terminated string then skips padding so
// the reader lands on a 4-byte boundary relative to the stream header
// table's start, matching the metadata root's directory layout.
func readAlignedCString(r *bytes.Reader) (string, error) {
	var buf []byte
	start, _ := seekPos(r)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	end, _ := seekPos(r)
	total := end - start
	pad := align4(uint32(total)) - uint32(total)
	for i := uint32(0); i < pad; i++ {
		if _, err := r.ReadByte(); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func seekPos(r *bytes.Reader) (int64, error) {
	return r.Seek(0, 1)
}

// stringAt resolves a #Strings heap index to its NUL-terminated value.
func (m *metadataRoot) stringAt(idx uint32) string {
	if int(idx) >= len(m.strings) {
		return ""
	}
	end := idx
	for int(end) < len(m.strings) && m.strings[end] != 0 {
		end++
	}
	return string(m.strings[idx:end])
}

// blobAt resolves a #Blob heap index to its length-prefixed payload.
func (m *metadataRoot) blobAt(idx uint32) []byte {
	if int(idx) >= len(m.blob) {
		return nil
	}
	length, n := decodeCompressedUint(m.blob[idx:])
	if n == 0 {
		return nil
	}
	start := int(idx) + n
	end := start + int(length)
	if end > len(m.blob) {
		return nil
	}
	return m.blob[start:end]
}

// decodeCompressedUint implements the ECMA-335 II.23.2 compressed
// unsigned integer encoding: 1, 2 or 4 bytes depending on the leading
// bit pattern. Returns the value and the number of bytes consumed (0 on
// malformed input).
func decodeCompressedUint(b []byte) (uint32, int) {
	if len(b) == 0 {
		return 0, 0
	}
	first := b[0]
	switch {
	case first&0x80 == 0:
		return uint32(first), 1
	case first&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0
		}
		return (uint32(first&0x3F) << 8) | uint32(b[1]), 2
	case first&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0
		}
		return (uint32(first&0x1F) << 24) | (uint32(b[1]) << 16) | (uint32(b[2]) << 8) | uint32(b[3]), 4
	default:
		return 0, 0
	}
}

// decodeCompressedSigned implements the companion signed encoding used
// by sequence-point delta fields: the unsigned payload has the sign
// folded into its low bit.
func decodeCompressedSigned(b []byte) (int32, int) {
	u, n := decodeCompressedUint(b)
	if n == 0 {
		return 0, 0
	}
	if u&1 == 0 {
		return int32(u >> 1), n
	}
	return -int32(u>>1) - 1, n
}
