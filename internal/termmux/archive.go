package termmux

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/adred-codev/agent-broker/internal/wire"
)

// KafkaArchiveSink durably records every ingested terminal frame to a
// Redpanda/Kafka topic, independent of coalescing and of the live dashboard
// fan-out. The
// external persistence layer holds the durable record; the broker itself
// never reads it back.
type KafkaArchiveSink struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

// NewKafkaArchiveSink builds a sink producing to topic on brokers.
func NewKafkaArchiveSink(brokers []string, topic string, logger zerolog.Logger) (*KafkaArchiveSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaArchiveSink{client: client, topic: topic, logger: logger}, nil
}

// Archive implements ArchiveSink by async-producing the payload keyed by
// streamKey, so ordering is preserved per-partition for a given stream.
func (s *KafkaArchiveSink) Archive(streamKey string, payload wire.TerminalStreamPayload) {
	value, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Str("stream_key", streamKey).Err(err).Msg("failed to marshal terminal frame for archive")
		return
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(streamKey),
		Value: value,
	}
	s.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.Warn().Str("stream_key", streamKey).Err(err).Msg("terminal archive produce failed")
		}
	})
}

// Close flushes and releases the underlying Kafka client.
func (s *KafkaArchiveSink) Close() {
	s.client.Close()
}
