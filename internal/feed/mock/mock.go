// Package mock is a synthetic feed generating realistic L1/L2/trade
// streams per symbol: a random-walk mid price, a synthetic order
// book, and a periodic burst window.
//
// Grounded on _examples/original_source/src/feed/mock_feed.{hpp,cpp},
// which spec.md's distillation reduces to one line ("Mock source");
// SPEC_FULL.md §5.8 restores the fuller behavior (per-symbol random
// walk, default per-type rates, periodic 10x bursts) as additive
// realism that does not change the RawEvent contract.
package mock

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketspine/marketspine/internal/event"
)

const (
	defaultL1Rate    = 50_000.0 // events/sec, aggregate default from the original
	defaultL2Rate    = 30_000.0
	defaultTradeRate = 5_000.0
	burstMultiplier  = 10.0
	burstEvery       = 15 * time.Second
	burstFor         = 1 * time.Second
	tickInterval     = 10 * time.Millisecond
)

// Feed is a MockFeed instance; one is normally constructed per
// process, covering every configured symbol.
type Feed struct {
	symbols []string
	logger  *slog.Logger

	l1Rate, l2Rate, tradeRate float64

	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New builds a mock feed over the given symbols using default rates.
func New(symbols []string, logger *slog.Logger) *Feed {
	return &Feed{
		symbols:   append([]string(nil), symbols...),
		logger:    logger,
		l1Rate:    defaultL1Rate,
		l2Rate:    defaultL2Rate,
		tradeRate: defaultTradeRate,
	}
}

func (f *Feed) Name() string { return "mock" }

func (f *Feed) Stop() { f.stopped.Store(true) }

// symbolState is the per-symbol random-walk generator; each symbol
// gets its own seeded rand.Rand so runs are reproducible per symbol
// regardless of goroutine scheduling order.
type symbolState struct {
	rng *rand.Rand
	mid float64
	seq uint64
}

func newSymbolState(seed int64) *symbolState {
	return &symbolState{rng: rand.New(rand.NewSource(seed)), mid: 100.0 + float64(seed%5000)/10}
}

func (s *symbolState) walk() {
	s.mid += (s.rng.Float64() - 0.5) * 0.02
	if s.mid < 0.01 {
		s.mid = 0.01
	}
}

// Run generates events onto out until ctx is done or Stop is called.
// It is safe to call once per Feed instance.
func (f *Feed) Run(ctx context.Context, out chan<- event.RawEvent) error {
	f.wg.Add(1)
	defer f.wg.Done()

	states := make(map[string]*symbolState, len(f.symbols))
	for i, s := range f.symbols {
		states[s] = newSymbolState(int64(i) + 1)
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	burstTimer := time.NewTimer(burstEvery)
	defer burstTimer.Stop()
	inBurst := false
	burstEndTimer := time.NewTimer(0)
	if !burstEndTimer.Stop() {
		<-burstEndTimer.C
	}

	// fractional-event accumulators, one triple per symbol, carried
	// across ticks so low rates still emit at the right long-run
	// frequency instead of rounding to zero every tick.
	l1Acc := make(map[string]float64, len(f.symbols))
	l2Acc := make(map[string]float64, len(f.symbols))
	tradeAcc := make(map[string]float64, len(f.symbols))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-burstTimer.C:
			inBurst = true
			burstEndTimer.Reset(burstFor)
			f.logger.Debug("mock feed entering burst window")
		case <-burstEndTimer.C:
			inBurst = false
			burstTimer.Reset(burstEvery)
		case <-ticker.C:
			if f.stopped.Load() {
				return nil
			}
			mult := 1.0
			if inBurst {
				mult = burstMultiplier
			}
			dt := tickInterval.Seconds()
			for _, sym := range f.symbols {
				st := states[sym]
				st.walk()

				l1Acc[sym] += f.l1Rate * mult * dt / float64(len(f.symbols))
				l2Acc[sym] += f.l2Rate * mult * dt / float64(len(f.symbols))
				tradeAcc[sym] += f.tradeRate * mult * dt / float64(len(f.symbols))

				for l1Acc[sym] >= 1 {
					l1Acc[sym]--
					if !f.emit(ctx, out, f.buildL1(sym, st)) {
						return ctx.Err()
					}
				}
				for l2Acc[sym] >= 1 {
					l2Acc[sym]--
					if !f.emit(ctx, out, f.buildL2(sym, st)) {
						return ctx.Err()
					}
				}
				for tradeAcc[sym] >= 1 {
					tradeAcc[sym]--
					if !f.emit(ctx, out, f.buildTrade(sym, st)) {
						return ctx.Err()
					}
				}
			}
		}
	}
}

func (f *Feed) emit(ctx context.Context, out chan<- event.RawEvent, ev event.RawEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (f *Feed) buildL1(sym string, st *symbolState) event.RawEvent {
	st.seq++
	spread := 0.01 + st.rng.Float64()*0.02
	return event.RawEvent{
		Kind:        event.KindL1,
		Symbol:      sym,
		TimestampNs: uint64(time.Now().UnixNano()),
		Sequence:    st.seq,
		BidPrice:    st.mid - spread/2,
		BidSize:     1 + st.rng.Float64()*10,
		AskPrice:    st.mid + spread/2,
		AskSize:     1 + st.rng.Float64()*10,
	}
}

func (f *Feed) buildL2(sym string, st *symbolState) event.RawEvent {
	st.seq++
	side := event.SideBid
	if st.rng.Intn(2) == 1 {
		side = event.SideAsk
	}
	actions := [...]event.Action{event.ActionInsert, event.ActionUpdate, event.ActionDelete}
	action := actions[st.rng.Intn(len(actions))]
	level := uint16(st.rng.Intn(10))
	offset := float64(level) * 0.01
	price := st.mid - offset
	if side == event.SideAsk {
		price = st.mid + offset
	}
	return event.RawEvent{
		Kind:        event.KindL2,
		Symbol:      sym,
		TimestampNs: uint64(time.Now().UnixNano()),
		Sequence:    st.seq,
		Side:        side,
		Action:      action,
		Level:       level,
		Price:       price,
		Size:        st.rng.Float64() * 20,
	}
}

func (f *Feed) buildTrade(sym string, st *symbolState) event.RawEvent {
	st.seq++
	agg := event.AggressorBuy
	switch st.rng.Intn(3) {
	case 1:
		agg = event.AggressorSell
	case 2:
		agg = event.AggressorUnknown
	}
	return event.RawEvent{
		Kind:         event.KindTrade,
		Symbol:       sym,
		TimestampNs:  uint64(time.Now().UnixNano()),
		Sequence:     st.seq,
		TradePrice:   st.mid + (st.rng.Float64()-0.5)*0.01,
		TradeSize:    st.rng.Float64() * 5,
		AggressorSid: agg,
	}
}
