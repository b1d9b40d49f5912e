// Package kafkafeed adapts an upstream Kafka topic of RawEvent JSON
// messages into the feed.Feed contract, letting an out-of-process
// exchange connector (see the teacher's
// services/marketfeeds/services/marketfeeds/clients package) source
// events without the pipeline knowing anything exchange-specific.
package kafkafeed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/marketspine/marketspine/internal/event"
)

// Feed reads newline-JSON-encoded RawEvents from a Kafka topic.
type Feed struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// Config configures the underlying kafka.Reader.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// New builds a kafkafeed.Feed. GroupID defaults to
// "marketspine-feed" if empty.
func New(cfg Config, logger *slog.Logger) *Feed {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "marketspine-feed"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: groupID,
	})
	return &Feed{reader: r, logger: logger}
}

func (f *Feed) Name() string { return "kafka" }

func (f *Feed) Stop() { _ = f.reader.Close() }

// wireEvent is the JSON-friendly representation of event.RawEvent
// sent by an upstream producer.
type wireEvent struct {
	Kind         event.Kind      `json:"kind"`
	Symbol       string          `json:"symbol"`
	TimestampNs  uint64          `json:"timestamp_ns"`
	Sequence     uint64          `json:"sequence"`
	BidPrice     float64         `json:"bid_price,omitempty"`
	BidSize      float64         `json:"bid_size,omitempty"`
	AskPrice     float64         `json:"ask_price,omitempty"`
	AskSize      float64         `json:"ask_size,omitempty"`
	Side         event.Side      `json:"side,omitempty"`
	Action       event.Action    `json:"action,omitempty"`
	Level        uint16          `json:"level,omitempty"`
	Price        float64         `json:"price,omitempty"`
	Size         float64         `json:"size,omitempty"`
	TradePrice   float64         `json:"trade_price,omitempty"`
	TradeSize    float64         `json:"trade_size,omitempty"`
	AggressorSid event.Aggressor `json:"aggressor_side,omitempty"`
}

// Run drains the Kafka topic until ctx is cancelled, decoding each
// message and forwarding it as a RawEvent. Malformed messages are
// logged and skipped rather than aborting the feed.
func (f *Feed) Run(ctx context.Context, out chan<- event.RawEvent) error {
	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("kafkafeed: read error", "error", err)
			continue
		}
		var we wireEvent
		if err := json.Unmarshal(msg.Value, &we); err != nil {
			f.logger.Warn("kafkafeed: malformed message", "error", err)
			continue
		}
		ev := event.RawEvent{
			Kind:         we.Kind,
			Symbol:       we.Symbol,
			TimestampNs:  we.TimestampNs,
			Sequence:     we.Sequence,
			BidPrice:     we.BidPrice,
			BidSize:      we.BidSize,
			AskPrice:     we.AskPrice,
			AskSize:      we.AskSize,
			Side:         we.Side,
			Action:       we.Action,
			Level:        we.Level,
			Price:        we.Price,
			Size:         we.Size,
			TradePrice:   we.TradePrice,
			TradeSize:    we.TradeSize,
			AggressorSid: we.AggressorSid,
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
