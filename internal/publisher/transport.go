package publisher

import (
	"bufio"
	"net"

	"github.com/gorilla/websocket"
)

// tcpConn adapts a raw net.Conn to the conn interface: control
// messages are newline-delimited JSON read with bufio.Scanner,
// frames are written as-is (already wire-encoded).
type tcpConn struct {
	nc     net.Conn
	reader *bufio.Scanner
}

func newTCPConn(nc net.Conn) *tcpConn {
	s := bufio.NewScanner(nc)
	s.Buffer(make([]byte, 4096), 1<<20)
	return &tcpConn{nc: nc, reader: s}
}

func (t *tcpConn) ReadLine() (string, error) {
	if t.reader.Scan() {
		return t.reader.Text(), nil
	}
	if err := t.reader.Err(); err != nil {
		return "", err
	}
	return "", errConnClosed
}

func (t *tcpConn) WriteFrame(b []byte) error {
	_, err := t.nc.Write(b)
	return err
}

func (t *tcpConn) Close() error { return t.nc.Close() }

func (t *tcpConn) RemoteAddr() string { return t.nc.RemoteAddr().String() }

// wsConn adapts a *websocket.Conn to the conn interface: control
// messages arrive as text frames, wire frames go out as binary
// frames. This is the optional WebSocket bridge described in
// SPEC_FULL.md §3 (gorilla/websocket), mirroring
// internal/marketdata/server.go's Hub/Client shape from the teacher
// but reusing this package's Client/backpressure logic instead of a
// second implementation.
type wsConn struct {
	c *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn { return &wsConn{c: c} }

func (w *wsConn) ReadLine() (string, error) {
	_, data, err := w.c.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *wsConn) WriteFrame(b []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsConn) Close() error { return w.c.Close() }

func (w *wsConn) RemoteAddr() string { return w.c.RemoteAddr().String() }
