// Package publisher implements the topic-routed TCP publisher:
// accept, authenticate, subscribe, wildcard-match, per-client
// bounded queue with backpressure, and periodic heartbeats.
//
// Grounded on _examples/original_source/src/publisher/pub_server.{hpp,cpp}
// for the state machine and backpressure/heartbeat shape, and on the
// teacher's internal/marketdata/server.go for the accept-loop and
// per-client writer-goroutine idiom (net.Listener + one goroutine per
// connection + one goroutine per writer).
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/symbol"
	"github.com/marketspine/marketspine/internal/wire"
)

var errConnClosed = errors.New("publisher: connection closed")

const heartbeatInterval = 1 * time.Second

// Publisher accepts client connections, authenticates them against a
// shared token, and fans out encoded frames by topic match.
type Publisher struct {
	token         string
	queueCapacity int
	registry      *symbol.Registry
	metrics       *metrics.Collector
	logger        *slog.Logger

	listener net.Listener
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*Client

	virtualMu    sync.RWMutex
	virtualPrefixes map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Publisher. queueCapacity <= 0 uses the spec default
// (10000).
func New(token string, queueCapacity int, reg *symbol.Registry, m *metrics.Collector, logger *slog.Logger) *Publisher {
	return &Publisher{
		token:           token,
		queueCapacity:   queueCapacity,
		registry:        reg,
		metrics:         m,
		logger:          logger,
		clients:         make(map[string]*Client),
		virtualPrefixes: make(map[string]bool),
		upgrader:        websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		stopCh:          make(chan struct{}),
	}
}

// RegisterVirtualPrefix records a topic prefix (e.g. "replay.<id>.")
// used by the replayer, per spec.md §4.5: virtual topics are
// otherwise matched identically to live topics — this is bookkeeping
// for introspection (control glue's /feeds listing), not a matching
// rule change.
func (p *Publisher) RegisterVirtualPrefix(prefix string) {
	p.virtualMu.Lock()
	defer p.virtualMu.Unlock()
	p.virtualPrefixes[prefix] = true
}

// UnregisterVirtualPrefix removes a previously-registered prefix.
func (p *Publisher) UnregisterVirtualPrefix(prefix string) {
	p.virtualMu.Lock()
	defer p.virtualMu.Unlock()
	delete(p.virtualPrefixes, prefix)
}

// VirtualPrefixes returns a snapshot of the currently registered
// virtual topic prefixes (one per active replay session), consumed by
// the control glue's /feeds listing.
func (p *Publisher) VirtualPrefixes() []string {
	p.virtualMu.RLock()
	defer p.virtualMu.RUnlock()
	out := make([]string, 0, len(p.virtualPrefixes))
	for prefix := range p.virtualPrefixes {
		out = append(out, prefix)
	}
	return out
}

// Start begins accepting TCP connections on addr (host:port) and
// launches the heartbeat loop. It returns once the listener is bound.
func (p *Publisher) Start(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.listener = l

	p.wg.Add(1)
	go p.acceptLoop(ctx)

	p.wg.Add(1)
	go p.heartbeatLoop(ctx)

	p.logger.Info("publisher listening", "addr", addr)
	return nil
}

// Addr returns the address the publisher is listening on, once Start
// has succeeded.
func (p *Publisher) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Stop closes the listener, closes every client, and waits for
// background goroutines to exit.
func (p *Publisher) Stop() {
	close(p.stopCh)
	if p.listener != nil {
		_ = p.listener.Close()
	}
	p.clientsMu.Lock()
	for _, c := range p.clients {
		c.close()
	}
	p.clientsMu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) acceptLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		nc, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.stopCh:
				return
			default:
				p.logger.Warn("publisher accept error", "error", err)
				return
			}
		}
		p.handleConn(ctx, newTCPConn(nc))
	}
}

// ServeWS is an http.HandlerFunc that upgrades to a WebSocket and
// serves it through the same Client/backpressure path as the raw TCP
// listener.
func (p *Publisher) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsc, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("publisher ws upgrade failed", "error", err)
		return
	}
	p.handleConn(r.Context(), newWSConn(wsc))
}

func (p *Publisher) handleConn(ctx context.Context, c conn) {
	client := newClient(uuid.NewString(), c, p.queueCapacity)

	p.clientsMu.Lock()
	p.clients[client.ID] = client
	p.clientsMu.Unlock()

	client.writerWG.Add(1)
	go client.runWriter()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.removeClient(client)
		defer client.writerWG.Wait()
		p.readLoop(ctx, client)
	}()
}

func (p *Publisher) removeClient(c *Client) {
	c.close()
	p.clientsMu.Lock()
	delete(p.clients, c.ID)
	p.clientsMu.Unlock()
}

func (p *Publisher) readLoop(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}
		line, err := c.conn.ReadLine()
		if err != nil {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		p.handleControlMessage(c, line)
		if c.State() == StateClosed {
			return
		}
	}
}

type controlMessage struct {
	Op       string   `json:"op"`
	Token    string   `json:"token"`
	Topics   []string `json:"topics"`
	Lossless bool     `json:"lossless"`
}

func (p *Publisher) handleControlMessage(c *Client, line string) {
	var msg controlMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		p.ack(c, 400)
		return
	}

	switch c.State() {
	case StateUnauth:
		if msg.Op != "auth" {
			p.ack(c, 401)
			return
		}
		if msg.Token != p.token {
			p.metrics.IncCounter("publisher_auth_failures_total", 1)
			p.ack(c, 401)
			c.close()
			return
		}
		c.setState(StateAuth)
		p.ack(c, 200)

	case StateAuth:
		switch msg.Op {
		case "subscribe":
			c.Subscribe(msg.Topics, msg.Lossless)
			p.ack(c, 200)
		case "unsubscribe":
			c.Unsubscribe(msg.Topics)
			p.ack(c, 200)
		default:
			p.ack(c, 400)
		}

	default:
		// closed; nothing to do
	}
}

func (p *Publisher) ack(c *Client, code uint32) {
	buf := wire.Encode(wire.NewControlAck(wire.ControlAckBody{Code: code}), nil)
	c.enqueue(buf, false)
}

func (p *Publisher) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			ts := uint64(now.UnixNano())
			buf := wire.Encode(wire.NewHeartbeat(wire.HeartbeatBody{TsNs: ts}), nil)
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if c.State() == StateClosed {
					continue
				}
				c.touchHeartbeat(int64(ts))
				c.enqueue(buf, false)
			}
			p.clientsMu.RUnlock()
		}
	}
}

// Publish encodes frame once and enqueues a copy of the encoded
// bytes onto every authenticated client whose subscription set
// matches topic.
func (p *Publisher) Publish(topic string, frame wire.Frame) {
	encoded := wire.Encode(frame, nil)

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		if c.State() != StateAuth {
			continue
		}
		sub, ok := c.matchingSubscription(topic)
		if !ok {
			continue
		}
		c.enqueue(encoded, sub.Lossless)
	}
}

// ClientCount returns the number of currently tracked connections
// (any state).
func (p *Publisher) ClientCount() int {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	return len(p.clients)
}

// Snapshot returns per-client counters keyed by client id.
func (p *Publisher) Snapshot() map[string]Counters {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	out := make(map[string]Counters, len(p.clients))
	for id, c := range p.clients {
		out[id] = c.Counters()
	}
	return out
}
