package kafkafeed

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewDefaultsGroupID(t *testing.T) {
	f := New(Config{Brokers: []string{"localhost:9092"}, Topic: "marketdata.raw"}, discardLogger())
	assert.Equal(t, "kafka", f.Name())
	assert.NotNil(t, f.reader)
	assert.Equal(t, "marketspine-feed", f.reader.Config().GroupID)
}

func TestStopClosesReaderWithoutDialing(t *testing.T) {
	f := New(Config{Brokers: []string{"localhost:9092"}, Topic: "marketdata.raw", GroupID: "custom-group"}, discardLogger())
	// No broker is reachable here; Stop/Close must still succeed
	// without a successful dial.
	f.Stop()
}
