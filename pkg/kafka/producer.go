package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles Kafka event emission
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// ProducerConfigFrom maps the service config onto a ProducerConfig
func ProducerConfigFrom(cfg config.Config) ProducerConfig {
	return ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compressionCodec(cfg.Compression),
		AllowAutoTopicCreation: true,
	}

	return newProducer(writer, cfg.Topic, logger)
}

func newProducer(writer messageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	}
	return kafka.Snappy
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishEvent serializes payload and writes it keyed by key, so every event for one
// link or golden record lands on the same partition.
func (p *Producer) PublishEvent(ctx context.Context, key string, eventType string, payload any) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEvent")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(eventType)},
	}
	if traceParent := tracing.GetTraceParent(ctx); traceParent != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceParent, Value: []byte(traceParent)})
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": eventType,
		"key":        key,
		"topic":      p.topic,
	}).Debug("Published event")

	return nil
}
