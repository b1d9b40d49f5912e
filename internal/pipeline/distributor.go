// Package pipeline wires the normalizer's fan-out queue to the live
// publisher, the recorder, and any auxiliary sinks: it is the spine's
// only component that touches all three.
//
// Grounded on
// _examples/Aidin1998-finalex/internal/marketdata/distribution/distributor.go's
// Distributor (buffered update channel, drop-on-full Publish, single
// Run loop, Stop via channel close) generalized from its client-fanout
// shape to spec.md §4.4's topic-derive-then-fanout shape.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/symbol"
	"github.com/marketspine/marketspine/internal/wire"
)

// Sink receives every frame the distributor fans out, in addition to
// the live publisher and recorder. Auxiliary sinks (Kafka, Redis) may
// drop frames under backpressure; the distributor never blocks on
// them.
type Sink interface {
	Send(topic string, f wire.Frame)
}

// Publisher is the subset of *publisher.Publisher the distributor
// needs, kept as an interface so tests can substitute a fake.
type Publisher interface {
	Publish(topic string, frame wire.Frame)
}

// Distributor drains Input, derives a topic per spec.md §4.4
// ("<msgtype>.<symbol>", "UNKNOWN" for an unmapped symbol id), and
// fans the frame out to the publisher, the recorder queue, and any
// registered auxiliary sinks.
type Distributor struct {
	Input <-chan wire.Frame

	registry     *symbol.Registry
	pub          Publisher
	recorderOut  chan<- wire.Frame
	metrics      *metrics.Collector
	logger       *slog.Logger

	sinksMu sync.RWMutex
	sinks   []Sink

	wg sync.WaitGroup
}

// New builds a Distributor. recorderOut is the recorder's bounded
// input channel; frames are dropped (never block the live path) when
// it's full, per spec.md §4.4's recorder-lag isolation requirement.
func New(input <-chan wire.Frame, reg *symbol.Registry, pub Publisher, recorderOut chan<- wire.Frame, m *metrics.Collector, logger *slog.Logger) *Distributor {
	return &Distributor{
		Input:       input,
		registry:    reg,
		pub:         pub,
		recorderOut: recorderOut,
		metrics:     m,
		logger:      logger,
	}
}

// AddSink registers an auxiliary fan-out sink (Kafka, Redis, ...).
func (d *Distributor) AddSink(s Sink) {
	d.sinksMu.Lock()
	defer d.sinksMu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Start launches the single distribution loop.
func (d *Distributor) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop waits for the distribution loop to exit after ctx is
// cancelled or Input is closed.
func (d *Distributor) Stop() { d.wg.Wait() }

func (d *Distributor) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-d.Input:
			if !ok {
				return
			}
			d.dispatch(f)
		}
	}
}

func (d *Distributor) dispatch(f wire.Frame) {
	topic := Topic(f, d.registry)

	d.pub.Publish(topic, f)

	select {
	case d.recorderOut <- f:
	default:
		d.metrics.IncCounter("distributor_recorder_drop_total", 1)
	}

	d.sinksMu.RLock()
	sinks := d.sinks
	d.sinksMu.RUnlock()
	for _, s := range sinks {
		s.Send(topic, f)
	}

	d.metrics.IncCounter("distributor_frames_dispatched_total", 1)
}

// Topic derives "<msgtype>.<symbol>" for a frame, falling back to
// "UNKNOWN" for a symbol id the registry doesn't recognize, per
// spec.md §4.4.
func Topic(f wire.Frame, reg *symbol.Registry) string {
	name := reg.ByID(f.SymbolID())
	if name == "" {
		name = "UNKNOWN"
	}
	return wire.MsgTypeName(f.Header.MsgType) + "." + name
}
