// Package wire implements the CRC-guarded binary framing shared by
// the live publisher path and the on-disk segment format: a fixed
// 16-byte header followed by a type-specific, fixed-size body.
//
// Grounded on _examples/original_source/src/common/frame.{hpp,cpp}.
package wire

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	Magic       uint32 = 0x4D444146
	Version     uint16 = 1
	HeaderBytes        = 16
)

// MsgType tags a frame body.
type MsgType uint16

const (
	MsgL1         MsgType = 1
	MsgL2         MsgType = 2
	MsgTrade      MsgType = 3
	MsgHeartbeat  MsgType = 4
	MsgControlAck MsgType = 5
)

// BodyLen returns the fixed wire size of a body for the given
// message type, or 0 if the type is unknown.
func BodyLen(t MsgType) uint32 {
	switch t {
	case MsgL1:
		return 56
	case MsgL2:
		return 40
	case MsgTrade:
		return 37
	case MsgHeartbeat:
		return 8
	case MsgControlAck:
		return 8
	default:
		return 0
	}
}

var (
	// ErrNeedMore signals the input is a truncated but otherwise
	// plausible frame; the caller should read more bytes and retry.
	// Distinct from ErrCorrupt per spec framing-boundary contract.
	ErrNeedMore = errors.New("wire: need more bytes")
	// ErrCorrupt signals the input can never become a valid frame:
	// bad magic/version, wrong body_len for the type, or CRC mismatch.
	ErrCorrupt = errors.New("wire: corrupt frame")
)

// Header is the 16-byte frame prefix, little-endian, packed.
type Header struct {
	Magic   uint32
	Version uint16
	MsgType MsgType
	BodyLen uint32
	CRC32   uint32
}

// L1Body is a top-of-book quote (56 bytes on the wire).
type L1Body struct {
	TsNs     uint64
	SymbolID uint32
	BidPx    int64
	BidSz    uint64
	AskPx    int64
	AskSz    uint64
	Seq      uint64
}

// L2Body is a per-level depth update (40 bytes on the wire).
type L2Body struct {
	TsNs     uint64
	SymbolID uint32
	Side     uint8
	Action   uint8
	Level    uint16
	Price    int64
	Size     uint64
	Seq      uint64
}

// TradeBody is an executed trade (37 bytes on the wire).
type TradeBody struct {
	TsNs      uint64
	SymbolID  uint32
	Price     int64
	Size      uint64
	Aggressor uint8
	Seq       uint64
}

// HeartbeatBody carries only a wall-clock timestamp (8 bytes).
type HeartbeatBody struct {
	TsNs uint64
}

// ControlAckBody replies to a control-protocol message (8 bytes).
type ControlAckBody struct {
	Code     uint32
	Reserved uint32
}

// Frame pairs a decoded header with exactly one populated body.
// Exactly one of the body pointers is non-nil.
type Frame struct {
	Header    Header
	L1        *L1Body
	L2        *L2Body
	Trade     *TradeBody
	Heartbeat *HeartbeatBody
	Ack       *ControlAckBody
}

func NewL1(b L1Body) Frame       { return Frame{Header: Header{MsgType: MsgL1}, L1: &b} }
func NewL2(b L2Body) Frame       { return Frame{Header: Header{MsgType: MsgL2}, L2: &b} }
func NewTrade(b TradeBody) Frame { return Frame{Header: Header{MsgType: MsgTrade}, Trade: &b} }
func NewHeartbeat(b HeartbeatBody) Frame {
	return Frame{Header: Header{MsgType: MsgHeartbeat}, Heartbeat: &b}
}
func NewControlAck(b ControlAckBody) Frame {
	return Frame{Header: Header{MsgType: MsgControlAck}, Ack: &b}
}

// SymbolID returns the frame's symbol id, or 0 for variants that
// have none (Heartbeat, ControlAck).
func (f Frame) SymbolID() uint32 {
	switch {
	case f.L1 != nil:
		return f.L1.SymbolID
	case f.L2 != nil:
		return f.L2.SymbolID
	case f.Trade != nil:
		return f.Trade.SymbolID
	default:
		return 0
	}
}

// TimestampNs returns the frame's timestamp, or 0 for ControlAck
// which carries none.
func (f Frame) TimestampNs() uint64 {
	switch {
	case f.L1 != nil:
		return f.L1.TsNs
	case f.L2 != nil:
		return f.L2.TsNs
	case f.Trade != nil:
		return f.Trade.TsNs
	case f.Heartbeat != nil:
		return f.Heartbeat.TsNs
	default:
		return 0
	}
}

func encodeBody(f Frame, dst []byte) {
	switch f.Header.MsgType {
	case MsgL1:
		b := f.L1
		binary.LittleEndian.PutUint64(dst[0:8], b.TsNs)
		binary.LittleEndian.PutUint32(dst[8:12], b.SymbolID)
		binary.LittleEndian.PutUint64(dst[12:20], uint64(b.BidPx))
		binary.LittleEndian.PutUint64(dst[20:28], b.BidSz)
		binary.LittleEndian.PutUint64(dst[28:36], uint64(b.AskPx))
		binary.LittleEndian.PutUint64(dst[36:44], b.AskSz)
		binary.LittleEndian.PutUint64(dst[44:52], b.Seq)
	case MsgL2:
		b := f.L2
		binary.LittleEndian.PutUint64(dst[0:8], b.TsNs)
		binary.LittleEndian.PutUint32(dst[8:12], b.SymbolID)
		dst[12] = b.Side
		dst[13] = b.Action
		binary.LittleEndian.PutUint16(dst[14:16], b.Level)
		binary.LittleEndian.PutUint64(dst[16:24], uint64(b.Price))
		binary.LittleEndian.PutUint64(dst[24:32], b.Size)
		binary.LittleEndian.PutUint64(dst[32:40], b.Seq)
	case MsgTrade:
		b := f.Trade
		binary.LittleEndian.PutUint64(dst[0:8], b.TsNs)
		binary.LittleEndian.PutUint32(dst[8:12], b.SymbolID)
		binary.LittleEndian.PutUint64(dst[12:20], uint64(b.Price))
		binary.LittleEndian.PutUint64(dst[20:28], b.Size)
		dst[28] = b.Aggressor
		binary.LittleEndian.PutUint64(dst[29:37], b.Seq)
	case MsgHeartbeat:
		binary.LittleEndian.PutUint64(dst[0:8], f.Heartbeat.TsNs)
	case MsgControlAck:
		binary.LittleEndian.PutUint32(dst[0:4], f.Ack.Code)
		binary.LittleEndian.PutUint32(dst[4:8], f.Ack.Reserved)
	}
}

// Encode appends the wire representation of f to dst and returns the
// extended slice.
func Encode(f Frame, dst []byte) []byte {
	bodyLen := BodyLen(f.Header.MsgType)
	body := make([]byte, bodyLen)
	encodeBody(f, body)
	crc := crc32.ChecksumIEEE(body)

	hdr := make([]byte, HeaderBytes)
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:6], Version)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(f.Header.MsgType))
	binary.LittleEndian.PutUint32(hdr[8:12], bodyLen)
	binary.LittleEndian.PutUint32(hdr[12:16], crc)

	dst = append(dst, hdr...)
	dst = append(dst, body...)
	return dst
}

// Decode parses one frame from the front of src. On success it
// returns the frame and the number of bytes consumed. Errors are
// ErrNeedMore (truncated input, try again with more bytes) or
// ErrCorrupt (never valid, discard and resynchronize).
func Decode(src []byte) (Frame, int, error) {
	if len(src) < HeaderBytes {
		return Frame{}, 0, ErrNeedMore
	}
	magic := binary.LittleEndian.Uint32(src[0:4])
	version := binary.LittleEndian.Uint16(src[4:6])
	msgType := MsgType(binary.LittleEndian.Uint16(src[6:8]))
	bodyLen := binary.LittleEndian.Uint32(src[8:12])
	crc := binary.LittleEndian.Uint32(src[12:16])

	if magic != Magic || version != Version {
		return Frame{}, 0, ErrCorrupt
	}
	want := BodyLen(msgType)
	if want == 0 || bodyLen != want {
		return Frame{}, 0, ErrCorrupt
	}
	total := HeaderBytes + int(bodyLen)
	if len(src) < total {
		return Frame{}, 0, ErrNeedMore
	}
	body := src[HeaderBytes:total]
	if crc32.ChecksumIEEE(body) != crc {
		return Frame{}, 0, ErrCorrupt
	}

	f := Frame{Header: Header{Magic: magic, Version: version, MsgType: msgType, BodyLen: bodyLen, CRC32: crc}}
	switch msgType {
	case MsgL1:
		f.L1 = &L1Body{
			TsNs:     binary.LittleEndian.Uint64(body[0:8]),
			SymbolID: binary.LittleEndian.Uint32(body[8:12]),
			BidPx:    int64(binary.LittleEndian.Uint64(body[12:20])),
			BidSz:    binary.LittleEndian.Uint64(body[20:28]),
			AskPx:    int64(binary.LittleEndian.Uint64(body[28:36])),
			AskSz:    binary.LittleEndian.Uint64(body[36:44]),
			Seq:      binary.LittleEndian.Uint64(body[44:52]),
		}
	case MsgL2:
		f.L2 = &L2Body{
			TsNs:     binary.LittleEndian.Uint64(body[0:8]),
			SymbolID: binary.LittleEndian.Uint32(body[8:12]),
			Side:     body[12],
			Action:   body[13],
			Level:    binary.LittleEndian.Uint16(body[14:16]),
			Price:    int64(binary.LittleEndian.Uint64(body[16:24])),
			Size:     binary.LittleEndian.Uint64(body[24:32]),
			Seq:      binary.LittleEndian.Uint64(body[32:40]),
		}
	case MsgTrade:
		f.Trade = &TradeBody{
			TsNs:      binary.LittleEndian.Uint64(body[0:8]),
			SymbolID:  binary.LittleEndian.Uint32(body[8:12]),
			Price:     int64(binary.LittleEndian.Uint64(body[12:20])),
			Size:      binary.LittleEndian.Uint64(body[20:28]),
			Aggressor: body[28],
			Seq:       binary.LittleEndian.Uint64(body[29:37]),
		}
	case MsgHeartbeat:
		f.Heartbeat = &HeartbeatBody{TsNs: binary.LittleEndian.Uint64(body[0:8])}
	case MsgControlAck:
		f.Ack = &ControlAckBody{
			Code:     binary.LittleEndian.Uint32(body[0:4]),
			Reserved: binary.LittleEndian.Uint32(body[4:8]),
		}
	}
	return f, total, nil
}

// MsgTypeName returns the short lowercase topic-prefix name for a
// message type ("l1", "l2", "trade"), or "" if not a topic-bearing
// type (Heartbeat, ControlAck never appear in topic derivation).
func MsgTypeName(t MsgType) string {
	switch t {
	case MsgL1:
		return "l1"
	case MsgL2:
		return "l2"
	case MsgTrade:
		return "trade"
	default:
		return ""
	}
}
