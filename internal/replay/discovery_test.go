package replay

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/recorder"
	"github.com/marketspine/marketspine/internal/wire"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// writeSegments drives the real Recorder to produce on-disk .mdf/.idx
// pairs so discovery/replayer tests exercise the actual wire format
// rather than hand-built fixtures.
func writeSegments(t *testing.T, dir string, frames []wire.Frame, rollBytes int64) {
	t.Helper()
	in := make(chan wire.Frame, len(frames)+1)
	col := metrics.New(prometheus.NewRegistry())
	rec := recorder.New(in, dir, rollBytes, 4, 10, col, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rec.Start(ctx))
	for _, f := range frames {
		in <- f
	}
	require.Eventually(t, func() bool {
		return countFramesOnDisk(t, dir) == len(frames)
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	rec.Stop()
}

func countFramesOnDisk(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	total := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".mdf" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if len(data) < recorder.HeaderBytes {
			continue
		}
		buf := data[recorder.HeaderBytes:]
		for len(buf) > 0 {
			_, n, err := wire.Decode(buf)
			if err != nil {
				break
			}
			total++
			buf = buf[n:]
		}
	}
	return total
}

func tradeFrame(tsNs uint64, symbolID uint32, seq uint64) wire.Frame {
	return wire.NewTrade(wire.TradeBody{TsNs: tsNs, SymbolID: symbolID, Price: 100, Size: 1, Seq: seq})
}

// writeUniformSegment writes n trade frames spaced spacingNs apart,
// starting at t=0, for tests that only care about pacing/count, not
// specific timestamps.
func writeUniformSegment(t *testing.T, dir string, n int, spacingNs uint64) {
	t.Helper()
	frames := make([]wire.Frame, n)
	for i := 0; i < n; i++ {
		frames[i] = tradeFrame(uint64(i)*spacingNs, 1, uint64(i))
	}
	writeSegments(t, dir, frames, 1<<30)
}

func TestDiscoveryFindsContainingSegment(t *testing.T) {
	dir := t.TempDir()
	frames := []wire.Frame{
		tradeFrame(1_000_000_000, 1, 0),
		tradeFrame(2_000_000_000, 1, 1),
		tradeFrame(3_000_000_000, 1, 2),
	}
	writeSegments(t, dir, frames, 1<<30)

	d := newDiscovery(dir, "")
	segs, err := d.list()
	require.NoError(t, err)
	require.Len(t, segs, 1)

	idx, ok := findContaining(segs, 2_000_000_000)
	require.True(t, ok)
	require.Equal(t, 0, idx)

	_, ok = findContaining(segs, 999)
	require.False(t, ok)
}

func TestDiscoveryHeaderRangeCachedInBadger(t *testing.T) {
	dir := t.TempDir()
	cacheDir := t.TempDir()
	frames := []wire.Frame{tradeFrame(5_000_000_000, 1, 0), tradeFrame(6_000_000_000, 1, 1)}
	writeSegments(t, dir, frames, 1<<30)

	d := newDiscovery(dir, cacheDir)
	defer d.close()
	segs1, err := d.list()
	require.NoError(t, err)
	require.Len(t, segs1, 1)

	// second call should hit the badger cache and return the same range
	segs2, err := d.list()
	require.NoError(t, err)
	require.Equal(t, segs1[0].StartTsNs, segs2[0].StartTsNs)
	require.Equal(t, segs1[0].EndTsNs, segs2[0].EndTsNs)
}
