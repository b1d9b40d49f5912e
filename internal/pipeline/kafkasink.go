package pipeline

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/wire"
)

// KafkaSink republishes every dispatched frame onto a Kafka topic,
// keyed by the frame's pub/sub topic, for downstream consumers outside the spine
// (analytics, archival).
//
// Grounded on
// _examples/Aidin1998-finalex/services/marketfeeds/services/marketfeeds/publisher/publisher.go's
// KafkaPublisher: a bare kafka.Writer plus a best-effort WriteMessages
// that only logs on failure, never blocks the caller.
type KafkaSink struct {
	writer  *kafka.Writer
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewKafkaSink builds a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, m *metrics.Collector, logger *slog.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 0,
	}
	return &KafkaSink{writer: w, logger: logger, metrics: m}
}

// Send writes frame's encoded bytes to Kafka, keyed by topic. The
// writer is async, so the live path never waits on Kafka and delivery
// failures are not reported back to Send; only errors WriteMessages
// itself returns are logged and counted.
func (k *KafkaSink) Send(topic string, f wire.Frame) {
	encoded := wire.Encode(f, nil)
	err := k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(topic),
		Value: encoded,
	})
	if err != nil {
		k.metrics.IncCounter("kafka_sink_write_error_total", 1)
		k.logger.Warn("kafka sink write failed", "topic", topic, "error", err)
	}
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
