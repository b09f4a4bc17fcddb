package kafka

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// MessageHandler processes one parsed message. Returning an error leaves the message
// uncommitted so it is redelivered after a restart or rebalance.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// maxFetchFailures consecutive fetch errors mark the consumer unhealthy.
const maxFetchFailures = 5

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads resource deletions from the input topic
type Consumer struct {
	reader     messageReader
	topic      string
	logger     ectologger.Logger
	handler    MessageHandler
	retryDelay time.Duration

	running  atomic.Bool
	failures atomic.Int32
	done     chan struct{}
	cancel   context.CancelFunc
}

type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// NewConsumer reads cfg.KafkaInputTopic as part of cfg.KafkaConsumerGroup
func NewConsumer(cfg config.Config, logger ectologger.Logger, handler MessageHandler) *Consumer {
	return NewConsumerWithConfig(ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaInputTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
	}, logger, handler)
}

func NewConsumerWithConfig(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})

	return newConsumer(reader, cfg.Topic, logger, handler)
}

func newConsumer(reader messageReader, topic string, logger ectologger.Logger, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:     reader,
		topic:      topic,
		logger:     logger,
		handler:    handler,
		retryDelay: time.Second,
	}
}

// Start runs the read loop in the background until ctx ends or Stop is called
func (c *Consumer) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("kafka consumer already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go c.run(ctx)

	c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer started")
	return nil
}

// Stop ends the read loop, waits for the in-flight message and closes the reader
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return c.reader.Close()
}

// Health reports whether the loop is running and the brokers are reachable
func (c *Consumer) Health() bool {
	return c.running.Load() && c.failures.Load() < maxFetchFailures
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	defer c.running.Store(false)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, io.EOF):
			c.logger.WithContext(ctx).Info("Kafka consumer stopped")
			return
		case err != nil:
			failures := c.failures.Add(1)
			c.logger.WithContext(ctx).WithError(err).WithField("consecutive_failures", failures).Error("Failed to fetch message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.failures.Store(0)
		c.processMessage(ctx, msg)
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	incoming := toIncoming(msg)

	ctx = tracing.WithRemoteParent(ctx, incoming.TraceParent())
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	err := incoming.Parse()
	switch {
	case errors.Is(err, ErrUnsupportedMessage):
		log.Debug("Skipping unsupported message")
	case err != nil:
		// poison message; committing keeps the partition moving
		log.WithError(err).Error("Failed to parse message")
	default:
		if err := c.handler(ctx, incoming); err != nil {
			log.WithError(err).Error("Failed to process message, leaving it uncommitted")
			return
		}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
}

func toIncoming(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}
