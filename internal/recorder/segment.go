// Package recorder journals frames to rolling segment files (data +
// sparse index), matching spec.md §4.6 and §6's on-disk format.
//
// Grounded on _examples/original_source/src/recorder/recorder.{hpp,cpp}
// for the roll/flush/filename policy.
package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	SegmentMagic  uint32 = 0x4D444649
	SegmentVer    uint16 = 1
	HeaderBytes          = 32
	IndexEntryLen        = 16
)

// SegmentHeader is the 32-byte prefix of every .mdf data file.
type SegmentHeader struct {
	Magic       uint32
	Version     uint16
	Reserved    uint16
	StartTsNs   uint64
	EndTsNs     uint64
	SymbolCount uint32
	FrameCount  uint32
}

func encodeHeader(h SegmentHeader) []byte {
	buf := make([]byte, HeaderBytes)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.StartTsNs)
	binary.LittleEndian.PutUint64(buf[16:24], h.EndTsNs)
	binary.LittleEndian.PutUint32(buf[24:28], h.SymbolCount)
	binary.LittleEndian.PutUint32(buf[28:32], h.FrameCount)
	return buf
}

// ErrBadHeader is returned by DecodeHeader when the magic or version
// doesn't match.
var ErrBadHeader = errors.New("recorder: bad segment header")

func DecodeHeader(buf []byte) (SegmentHeader, error) {
	if len(buf) < HeaderBytes {
		return SegmentHeader{}, ErrBadHeader
	}
	h := SegmentHeader{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		Version:     binary.LittleEndian.Uint16(buf[4:6]),
		Reserved:    binary.LittleEndian.Uint16(buf[6:8]),
		StartTsNs:   binary.LittleEndian.Uint64(buf[8:16]),
		EndTsNs:     binary.LittleEndian.Uint64(buf[16:24]),
		SymbolCount: binary.LittleEndian.Uint32(buf[24:28]),
		FrameCount:  binary.LittleEndian.Uint32(buf[28:32]),
	}
	if h.Magic != SegmentMagic || h.Version != SegmentVer {
		return SegmentHeader{}, ErrBadHeader
	}
	return h, nil
}

// IndexEntry is one (first_ts_ns, file_offset) pair in a .idx file.
type IndexEntry struct {
	FirstTsNs  uint64
	FileOffset uint64
}

func encodeIndexEntry(e IndexEntry) []byte {
	buf := make([]byte, IndexEntryLen)
	binary.LittleEndian.PutUint64(buf[0:8], e.FirstTsNs)
	binary.LittleEndian.PutUint64(buf[8:16], e.FileOffset)
	return buf
}

func DecodeIndexEntry(buf []byte) IndexEntry {
	return IndexEntry{
		FirstTsNs:  binary.LittleEndian.Uint64(buf[0:8]),
		FileOffset: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// FilenameFor derives the "md_YYYYMMDD_HHMMSS" base name (UTC) from a
// segment's first frame timestamp, per spec.md §4.6.
func FilenameFor(firstTsNs uint64) string {
	t := time.Unix(0, int64(firstTsNs)).UTC()
	return fmt.Sprintf("md_%s", t.Format("20060102_150405"))
}
