package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllVariants(t *testing.T) {
	frames := []Frame{
		NewL1(L1Body{TsNs: 1, SymbolID: 1, BidPx: 1_000_000_000, BidSz: 100_000_000, AskPx: 1_001_000_000, AskSz: 200_000_000, Seq: 1}),
		NewL2(L2Body{TsNs: 2, SymbolID: 2, Side: 0, Action: 1, Level: 3, Price: 42, Size: 7, Seq: 9}),
		NewTrade(TradeBody{TsNs: 3, SymbolID: 3, Price: 100, Size: 5, Aggressor: 1, Seq: 4}),
		NewHeartbeat(HeartbeatBody{TsNs: 123}),
		NewControlAck(ControlAckBody{Code: 200, Reserved: 0}),
	}
	for _, f := range frames {
		buf := Encode(f, nil)
		got, n, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, Magic, got.Header.Magic)
		assert.Equal(t, Version, got.Header.Version)
		assert.Equal(t, BodyLen(f.Header.MsgType), got.Header.BodyLen)
		assert.Equal(t, f.L1, got.L1)
		assert.Equal(t, f.L2, got.L2)
		assert.Equal(t, f.Trade, got.Trade)
		assert.Equal(t, f.Heartbeat, got.Heartbeat)
		assert.Equal(t, f.Ack, got.Ack)
	}
}

func TestDecodeBitFlipFailsCRC(t *testing.T) {
	f := NewTrade(TradeBody{TsNs: 1, SymbolID: 1, Price: 1, Size: 1, Aggressor: 0, Seq: 1})
	buf := Encode(f, nil)
	for byteIdx := HeaderBytes; byteIdx < len(buf); byteIdx++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), buf...)
			corrupted[byteIdx] ^= 1 << bit
			_, _, err := Decode(corrupted)
			assert.ErrorIs(t, err, ErrCorrupt, "byte %d bit %d should fail CRC", byteIdx, bit)
		}
	}
}

func TestDecodeNeedMoreVsCorrupt(t *testing.T) {
	f := NewTrade(TradeBody{TsNs: 1, SymbolID: 1, Price: 1, Size: 1, Aggressor: 0, Seq: 1})
	buf := Encode(f, nil)

	for l := 0; l < len(buf); l++ {
		_, _, err := Decode(buf[:l])
		assert.ErrorIs(t, err, ErrNeedMore, "truncated to %d bytes should be need-more", l)
	}

	bad := append([]byte(nil), buf...)
	// wrong body_len for the msg_type -> corrupt, not need-more
	bad[8] = 99
	_, _, err := Decode(bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	badMagic := append([]byte(nil), buf...)
	badMagic[0] ^= 0xFF
	_, _, err = Decode(badMagic)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMsgTypeName(t *testing.T) {
	assert.Equal(t, "l1", MsgTypeName(MsgL1))
	assert.Equal(t, "l2", MsgTypeName(MsgL2))
	assert.Equal(t, "trade", MsgTypeName(MsgTrade))
	assert.Equal(t, "", MsgTypeName(MsgHeartbeat))
}
