package publisher

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/symbol"
	"github.com/marketspine/marketspine/internal/wire"
)

func newTestPublisher(t *testing.T, queueCap int) (*Publisher, string) {
	t.Helper()
	reg := symbol.New()
	col := metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New("secret", queueCap, reg, col, logger)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "127.0.0.1:0"))
	t.Cleanup(p.Stop)
	return p, p.listener.Addr().String()
}

func readOneFrame(t *testing.T, r *bufio.Reader) wire.Frame {
	t.Helper()
	hdr := make([]byte, wire.HeaderBytes)
	_, err := io.ReadFull(r, hdr)
	require.NoError(t, err)
	bodyLen := int(hdr[8]) | int(hdr[9])<<8 | int(hdr[10])<<16 | int(hdr[11])<<24
	body := make([]byte, bodyLen)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	f, _, err := wire.Decode(append(hdr, body...))
	require.NoError(t, err)
	return f
}

func TestAuthFailureClosesSocketAndCounts(t *testing.T) {
	p, addr := newTestPublisher(t, 100)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)

	send(t, conn, `{"op":"subscribe"}`)
	f := readOneFrame(t, r)
	require.NotNil(t, f.Ack)
	assert.EqualValues(t, 401, f.Ack.Code)

	send(t, conn, `{"op":"auth","token":"wrong"}`)
	f = readOneFrame(t, r)
	require.NotNil(t, f.Ack)
	assert.EqualValues(t, 401, f.Ack.Code)

	// socket should now be closed by the server
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err)

	assert.EqualValues(t, 1, p.metrics.Counter("publisher_auth_failures_total"))
}

func TestSubscribeAndReceiveMatchingFrame(t *testing.T) {
	p, addr := newTestPublisher(t, 100)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	authenticate(t, conn, r)
	subscribe(t, conn, r, []string{"l1.*"}, false)

	p.Publish("l1.BTCUSDT", wire.NewL1(wire.L1Body{TsNs: 1, SymbolID: 1, BidPx: 1, BidSz: 1, AskPx: 2, AskSz: 2, Seq: 1}))

	f := readOneFrame(t, r)
	require.NotNil(t, f.L1)
	assert.EqualValues(t, 1, f.L1.SymbolID)
}

func TestUnsubscribeActuallyRemoves(t *testing.T) {
	p, addr := newTestPublisher(t, 100)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	authenticate(t, conn, r)
	subscribe(t, conn, r, []string{"trade.*"}, false)

	send(t, conn, `{"op":"unsubscribe","topics":["trade.*"]}`)
	ack := readOneFrame(t, r)
	require.NotNil(t, ack.Ack)
	assert.EqualValues(t, 200, ack.Ack.Code)

	p.Publish("trade.BTCUSDT", wire.NewTrade(wire.TradeBody{TsNs: 1, SymbolID: 1, Price: 1, Size: 1, Seq: 1}))

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, err = r.Peek(1)
	assert.Error(t, err, "expected no frame after unsubscribe")
}

func TestSlowConsumerBackpressureQueueFull(t *testing.T) {
	p, addr := newTestPublisher(t, 10000)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	authenticate(t, conn, r)
	subscribe(t, conn, r, []string{"trade.*"}, false)

	// stop draining entirely to force the client's queue to fill up
	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))

	for i := 0; i < 10001; i++ {
		p.Publish("trade.BTCUSDT", wire.NewTrade(wire.TradeBody{TsNs: uint64(i), SymbolID: 1, Price: 1, Size: 1, Seq: uint64(i)}))
	}

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	for _, c := range snap {
		assert.LessOrEqual(t, c.Sent, uint64(10000))
		assert.GreaterOrEqual(t, c.QueueFullDrops, uint64(1))
	}
}

func send(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func authenticate(t *testing.T, conn net.Conn, r *bufio.Reader) {
	t.Helper()
	send(t, conn, `{"op":"auth","token":"secret"}`)
	f := readOneFrame(t, r)
	require.NotNil(t, f.Ack)
	require.EqualValues(t, 200, f.Ack.Code)
}

func subscribe(t *testing.T, conn net.Conn, r *bufio.Reader, topics []string, lossless bool) {
	t.Helper()
	msg := controlMessage{Op: "subscribe", Topics: topics, Lossless: lossless}
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	send(t, conn, string(b))
	f := readOneFrame(t, r)
	require.NotNil(t, f.Ack)
	require.EqualValues(t, 200, f.Ack.Code)
}
