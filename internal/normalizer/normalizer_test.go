package normalizer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zaptest"

	"github.com/marketspine/marketspine/internal/event"
	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/symbol"
	"github.com/marketspine/marketspine/internal/wire"
)

func testSlog(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(zapslog.NewHandler(zaptest.NewLogger(t).Core()))
}

func TestNormalizeL1ScalesAndRounds(t *testing.T) {
	reg := symbol.New()
	col := metrics.New(prometheus.NewRegistry())
	in := make(chan event.RawEvent, 8)
	out := make(chan wire.Frame, 8)

	p := New(in, out, reg, col, testSlog(t), 1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Stop() }()

	in <- event.RawEvent{
		Kind:        event.KindL1,
		Symbol:      "BTCUSDT",
		TimestampNs: 1_000_000_000,
		BidPrice:    10.00,
		BidSize:     1.0,
		AskPrice:    10.01,
		AskSize:     2.0,
		Sequence:    1,
	}

	select {
	case f := <-out:
		require.NotNil(t, f.L1)
		assert.EqualValues(t, 1, f.L1.SymbolID)
		assert.EqualValues(t, 1_000_000_000, f.L1.BidPx)
		assert.EqualValues(t, 100_000_000, f.L1.BidSz)
		assert.EqualValues(t, 1_001_000_000, f.L1.AskPx)
		assert.EqualValues(t, 200_000_000, f.L1.AskSz)
		assert.EqualValues(t, 1, f.L1.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for normalized frame")
	}
}

func TestNormalizeUnknownKindCountsError(t *testing.T) {
	reg := symbol.New()
	col := metrics.New(prometheus.NewRegistry())
	in := make(chan event.RawEvent, 1)
	out := make(chan wire.Frame, 1)
	p := New(in, out, reg, col, testSlog(t), 1)

	_, ok := p.normalize(event.RawEvent{Kind: event.Kind(99), Symbol: "X"})
	assert.False(t, ok)
}
