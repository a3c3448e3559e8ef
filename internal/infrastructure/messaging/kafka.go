// Package messaging wraps the Kafka plumbing between the API tier, the
// intake batching pipeline and the matching engine.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config contains the Kafka connection settings.
type Config struct {
	Brokers       []string      `mapstructure:"brokers" yaml:"brokers"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	RequiredAcks  int           `mapstructure:"required_acks" yaml:"required_acks"`
	ConsumerGroup string        `mapstructure:"consumer_group" yaml:"consumer_group"`
}

// DefaultConfig returns settings tuned for low-latency order flow.
func DefaultConfig() *Config {
	return &Config{
		Brokers:       []string{"localhost:9092"},
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  time.Second,
		BatchSize:     100,
		BatchTimeout:  10 * time.Millisecond,
		RequiredAcks:  1,
		ConsumerGroup: "orderdesk",
	}
}

// Producer publishes messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic Topic, key string, message interface{}) error
	Close() error
}

// MessageHandler processes one consumed message.
type MessageHandler func(ctx context.Context, key string, value []byte) error

// Consumer subscribes a handler to a topic.
type Consumer interface {
	Subscribe(ctx context.Context, topic Topic, handler MessageHandler) error
	Close() error
}

// KafkaProducer implements Producer over kafka-go writers, one per topic.
type KafkaProducer struct {
	config  *Config
	writers map[Topic]*kafka.Writer
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewKafkaProducer creates a producer.
func NewKafkaProducer(config *Config, logger *zap.Logger) *KafkaProducer {
	if config == nil {
		config = DefaultConfig()
	}
	return &KafkaProducer{
		config:  config,
		writers: make(map[Topic]*kafka.Writer),
		logger:  logger,
	}
}

func (p *KafkaProducer) getWriter(topic Topic) *kafka.Writer {
	p.mu.RLock()
	writer, exists := p.writers[topic]
	p.mu.RUnlock()
	if exists {
		return writer
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if writer, exists := p.writers[topic]; exists {
		return writer
	}

	writer = &kafka.Writer{
		Addr:         kafka.TCP(p.config.Brokers...),
		Topic:        string(topic),
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    p.config.BatchSize,
		BatchTimeout: p.config.BatchTimeout,
		ReadTimeout:  p.config.ReadTimeout,
		WriteTimeout: p.config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		Compression:  kafka.Snappy,
	}
	p.writers[topic] = writer
	return writer
}

// Publish marshals the message as JSON and writes it keyed to the topic.
func (p *KafkaProducer) Publish(ctx context.Context, topic Topic, key string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = p.getWriter(topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		p.logger.Error("Failed to publish message",
			zap.Error(err),
			zap.String("topic", string(topic)),
			zap.String("key", key))
		return err
	}
	return nil
}

// Close closes all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			lastErr = err
			p.logger.Error("Failed to close writer", zap.Error(err))
		}
	}
	return lastErr
}

// KafkaConsumer implements Consumer over kafka-go readers.
type KafkaConsumer struct {
	config  *Config
	readers []*kafka.Reader
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewKafkaConsumer creates a consumer.
func NewKafkaConsumer(config *Config, logger *zap.Logger) *KafkaConsumer {
	if config == nil {
		config = DefaultConfig()
	}
	return &KafkaConsumer{config: config, logger: logger}
}

// Subscribe starts a goroutine reading the topic within the configured
// consumer group and invoking the handler per message. Handler errors are
// logged and the message is skipped; the loop only stops with the context.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic Topic, handler MessageHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.config.Brokers,
		Topic:       string(topic),
		GroupID:     c.config.ConsumerGroup,
		StartOffset: kafka.LastOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			c.logger.Error(fmt.Sprintf(msg, args...))
		}),
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	go c.consume(ctx, reader, topic, handler)
	return nil
}

func (c *KafkaConsumer) consume(ctx context.Context, reader *kafka.Reader, topic Topic, handler MessageHandler) {
	defer reader.Close()
	c.logger.Info("Started consuming", zap.String("topic", string(topic)))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("Failed to read message",
				zap.Error(err), zap.String("topic", string(topic)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handler(ctx, string(msg.Key), msg.Value); err != nil {
			c.logger.Error("Message handler failed",
				zap.Error(err),
				zap.String("topic", string(topic)),
				zap.String("key", string(msg.Key)),
				zap.Int64("offset", msg.Offset))
		}
	}
}

// Close closes all readers.
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil {
			lastErr = err
			c.logger.Error("Failed to close reader", zap.Error(err))
		}
	}
	return lastErr
}
