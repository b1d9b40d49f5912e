package mock

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketspine/marketspine/internal/event"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunEmitsAllThreeKindsBeforeContextExpires(t *testing.T) {
	f := New([]string{"BTCUSD", "ETHUSD"}, discardLogger())

	out := make(chan event.RawEvent, 4096)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, out) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context expired")
	}
	close(out)

	seen := map[event.Kind]int{}
	symbols := map[string]bool{}
	for ev := range out {
		seen[ev.Kind]++
		symbols[ev.Symbol] = true
	}

	assert.Greater(t, seen[event.KindL1], 0)
	assert.Greater(t, seen[event.KindL2], 0)
	assert.Greater(t, seen[event.KindTrade], 0)
	assert.True(t, symbols["BTCUSD"])
	assert.True(t, symbols["ETHUSD"])
}

func TestStopHaltsFeedBeforeContextExpires(t *testing.T) {
	f := New([]string{"BTCUSD"}, discardLogger())
	out := make(chan event.RawEvent, 4096)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, out) }()

	time.Sleep(30 * time.Millisecond)
	f.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not cause Run to return promptly")
	}
}

func TestNameIsMock(t *testing.T) {
	f := New([]string{"BTCUSD"}, discardLogger())
	assert.Equal(t, "mock", f.Name())
}
