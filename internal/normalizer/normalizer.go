// Package normalizer converts RawEvents into wire Frames: it
// resolves the symbol name to a dense id, rescales floating point
// prices and sizes to fixed-point integers, and packs the result
// into the matching body variant.
//
// Grounded on _examples/original_source/src/normalize/normalizer.{hpp,cpp}
// for the worker-pool shape (batch dequeue, 100us idle sleep,
// cooperative stop) and on the teacher's internal/trading/orderbook
// use of shopspring/decimal for the rounding step: spec.md requires
// "nearest-integer conversion", which a naive float64*1e8 cast would
// truncate rather than round, so scaling goes through decimal.Decimal.
package normalizer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketspine/marketspine/internal/event"
	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/symbol"
	"github.com/marketspine/marketspine/internal/wire"
)

const (
	priceScale = 100_000_000
	sizeScale  = 100_000_000
	batchSize  = 100
	idleSleep  = 100 * time.Microsecond
)

var scaleFactor = decimal.NewFromInt(priceScale)

func scale(x float64) int64 {
	return decimal.NewFromFloat(x).Mul(scaleFactor).Round(0).IntPart()
}

func scaleUnsigned(x float64) uint64 {
	v := decimal.NewFromFloat(x).Mul(scaleFactor).Round(0).IntPart()
	if v < 0 {
		v = 0
	}
	return uint64(v)
}

// Stats tracks the normalizer pool's lifetime counters, mirroring
// the original's Normalizer::Stats.
type Stats struct {
	EventsProcessed atomic.Uint64
	FramesOutput    atomic.Uint64
	Errors          atomic.Uint64
}

// Pool drains RawEvents from Input, normalizes each, and pushes the
// resulting Frame onto Output. It never blocks the pipeline on a bad
// event: unknown event kinds are counted and dropped.
type Pool struct {
	Input  <-chan event.RawEvent
	Output chan<- wire.Frame

	registry *symbol.Registry
	metrics  *metrics.Collector
	logger   *slog.Logger
	workers  int

	stats   Stats
	running atomic.Bool
	wg      sync.WaitGroup
}

// New builds a normalizer pool with the given worker count (spec
// default 4).
func New(input <-chan event.RawEvent, output chan<- wire.Frame, reg *symbol.Registry, m *metrics.Collector, logger *slog.Logger, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		Input:    input,
		Output:   output,
		registry: reg,
		metrics:  m,
		logger:   logger,
		workers:  workers,
	}
}

// Start launches the worker goroutines. Calling Start twice without
// an intervening Stop is a no-op.
func (p *Pool) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
	p.logger.Info("normalizer started", "workers", p.workers)
}

// Stop signals every worker to exit and waits for them to drain.
func (p *Pool) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.wg.Wait()
	p.logger.Info("normalizer stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	batch := make([]event.RawEvent, 0, batchSize)

	for p.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch = batch[:0]
	drain:
		for len(batch) < batchSize {
			select {
			case ev, ok := <-p.Input:
				if !ok {
					return
				}
				batch = append(batch, ev)
			default:
				break drain
			}
		}

		if len(batch) == 0 {
			time.Sleep(idleSleep)
			continue
		}

		for _, ev := range batch {
			start := time.Now()
			frame, ok := p.normalize(ev)
			p.metrics.RecordLatency("normalize_event_ns", uint64(time.Since(start).Nanoseconds()))
			if ok {
				select {
				case p.Output <- frame:
					p.stats.FramesOutput.Add(1)
				case <-ctx.Done():
					return
				}
			} else {
				p.stats.Errors.Add(1)
				p.metrics.IncCounter("normalizer_errors_total", 1)
			}
			p.stats.EventsProcessed.Add(1)
		}
		p.metrics.IncCounter("normalizer_events_total", uint64(len(batch)))
	}
}

func (p *Pool) normalize(ev event.RawEvent) (wire.Frame, bool) {
	symbolID := p.registry.GetOrAdd(ev.Symbol)

	switch ev.Kind {
	case event.KindL1:
		return wire.NewL1(wire.L1Body{
			TsNs:     ev.TimestampNs,
			SymbolID: symbolID,
			BidPx:    scale(ev.BidPrice),
			BidSz:    scaleUnsigned(ev.BidSize),
			AskPx:    scale(ev.AskPrice),
			AskSz:    scaleUnsigned(ev.AskSize),
			Seq:      ev.Sequence,
		}), true

	case event.KindL2:
		return wire.NewL2(wire.L2Body{
			TsNs:     ev.TimestampNs,
			SymbolID: symbolID,
			Side:     uint8(ev.Side),
			Action:   uint8(ev.Action),
			Level:    ev.Level,
			Price:    scale(ev.Price),
			Size:     scaleUnsigned(ev.Size),
			Seq:      ev.Sequence,
		}), true

	case event.KindTrade:
		return wire.NewTrade(wire.TradeBody{
			TsNs:      ev.TimestampNs,
			SymbolID:  symbolID,
			Price:     scale(ev.TradePrice),
			Size:      scaleUnsigned(ev.TradeSize),
			Aggressor: uint8(ev.AggressorSid),
			Seq:       ev.Sequence,
		}), true

	default:
		p.logger.Warn("unknown event kind", "kind", ev.Kind)
		return wire.Frame{}, false
	}
}

// StatsSnapshot returns a snapshot of the pool's lifetime counters.
func (p *Pool) StatsSnapshot() (processed, output, errs uint64) {
	return p.stats.EventsProcessed.Load(), p.stats.FramesOutput.Load(), p.stats.Errors.Load()
}
