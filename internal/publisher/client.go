package publisher

import (
	"sync"
	"sync/atomic"
)

// State is a client connection's position in the
// UNAUTH -> AUTH -> (subscribed...) -> CLOSED state machine.
type State int32

const (
	StateUnauth State = iota
	StateAuth
	StateClosed
)

const defaultQueueCapacity = 10000

// conn abstracts the transport a Client writes encoded frames to and
// reads newline-delimited control JSON from. tcpConn and wsConn
// implement it for the raw-TCP and WebSocket bridges respectively.
type conn interface {
	ReadLine() (string, error)
	WriteFrame(b []byte) error
	Close() error
	RemoteAddr() string
}

// Client is one authenticated (or authenticating) connection: a
// bounded outbound queue of pre-encoded frame bytes, a subscription
// set, and cumulative counters.
type Client struct {
	ID    string
	conn  conn
	state atomic.Int32

	subMu sync.RWMutex
	subs  []Subscription

	outQueue chan []byte
	// sendMu serializes enqueue's check-then-send against close's
	// set-state-then-close-channel, so a send can never race a close
	// of outQueue: enqueue holds the read side across its state check
	// and its send, close holds the write side across marking the
	// client closed and closing the channel.
	sendMu sync.RWMutex

	lastHeartbeatNs atomic.Int64
	sent            atomic.Uint64
	queueFullDrops  atomic.Uint64
	backpressureDrops atomic.Uint64

	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

func newClient(id string, c conn, capacity int) *Client {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	cl := &Client{ID: id, conn: c, outQueue: make(chan []byte, capacity)}
	cl.state.Store(int32(StateUnauth))
	return cl
}

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Subscribe adds patterns to the client's subscription set.
func (c *Client) Subscribe(patterns []string, lossless bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, p := range patterns {
		c.subs = append(c.subs, NewSubscription(p, lossless))
	}
}

// Unsubscribe removes any subscription whose pattern is in patterns.
// This is the REDESIGN-FLAG fix: the original acknowledges
// unsubscribe without removing anything (see
// _examples/original_source/src/publisher/pub_server.cpp,
// process_control_message's "unsubscribe" branch); here it actually
// mutates the subscription set.
func (c *Client) Unsubscribe(patterns []string) {
	remove := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		remove[p] = true
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		if !remove[s.Pattern] {
			kept = append(kept, s)
		}
	}
	c.subs = kept
}

// matchingSubscription returns the first subscription matching
// topic, and whether any matched.
func (c *Client) matchingSubscription(topic string) (Subscription, bool) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, s := range c.subs {
		if s.Match(topic) {
			return s, true
		}
	}
	return Subscription{}, false
}

// enqueue attempts to push encoded onto the client's outbound queue,
// applying spec.md §4.5 backpressure: full queue always drops (never
// blocks the producer), counted as backpressureDrop if the matched
// subscription was lossless, else queueFullDrop.
func (c *Client) enqueue(encoded []byte, lossless bool) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.State() == StateClosed {
		return
	}
	select {
	case c.outQueue <- encoded:
	default:
		if lossless {
			c.backpressureDrops.Add(1)
		} else {
			c.queueFullDrops.Add(1)
		}
	}
}

func (c *Client) touchHeartbeat(ts int64) { c.lastHeartbeatNs.Store(ts) }

// close transitions the client to CLOSED, releases its queue, and
// closes the underlying connection. Safe to call multiple times.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.setState(StateClosed)
		close(c.outQueue)
		c.sendMu.Unlock()
		_ = c.conn.Close()
	})
}

// runWriter drains the outbound queue and writes to the connection
// in FIFO order until the queue is closed or a write fails, in which
// case the client is closed (spec.md §4.5: "A socket-write failure
// transitions the client to CLOSED").
func (c *Client) runWriter() {
	defer c.writerWG.Done()
	for b := range c.outQueue {
		if err := c.conn.WriteFrame(b); err != nil {
			c.close()
			return
		}
		c.sent.Add(1)
	}
}

// Counters is a snapshot of a client's cumulative send/drop stats.
type Counters struct {
	Sent              uint64
	QueueFullDrops    uint64
	BackpressureDrops uint64
	LastHeartbeatNs   int64
}

func (c *Client) Counters() Counters {
	return Counters{
		Sent:              c.sent.Load(),
		QueueFullDrops:    c.queueFullDrops.Load(),
		BackpressureDrops: c.backpressureDrops.Load(),
		LastHeartbeatNs:   c.lastHeartbeatNs.Load(),
	}
}
