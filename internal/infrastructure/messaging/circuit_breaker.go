package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// breakerState is the circuit state: closed passes traffic, open rejects it,
// half-open probes with a limited number of requests.
type breakerState int32

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the breaker rejects publishes.
var ErrCircuitOpen = fmt.Errorf("messaging circuit open")

// BreakerConfig tunes the circuit breaker wrapping a producer.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes" yaml:"half_open_probes"`
}

// DefaultBreakerConfig trips after five straight failures and probes again
// after ten seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		HalfOpenProbes:   2,
	}
}

// BreakerProducer wraps a Producer with a circuit breaker so a broker outage
// fails fast instead of stalling every publisher on write timeouts.
type BreakerProducer struct {
	inner  Producer
	config BreakerConfig
	logger *zap.Logger

	mu          sync.Mutex
	state       breakerState
	failures    int
	probes      int
	lastFailure time.Time
}

// NewBreakerProducer wraps the producer.
func NewBreakerProducer(inner Producer, config BreakerConfig, logger *zap.Logger) *BreakerProducer {
	if config.FailureThreshold <= 0 {
		config = DefaultBreakerConfig()
	}
	return &BreakerProducer{inner: inner, config: config, logger: logger}
}

// Publish forwards to the wrapped producer unless the circuit is open.
func (b *BreakerProducer) Publish(ctx context.Context, topic Topic, key string, message interface{}) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := b.inner.Publish(ctx, topic, key, message)
	b.record(err)
	return err
}

// Close closes the wrapped producer.
func (b *BreakerProducer) Close() error { return b.inner.Close() }

func (b *BreakerProducer) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if time.Since(b.lastFailure) < b.config.ResetTimeout {
			return ErrCircuitOpen
		}
		b.state = breakerHalfOpen
		b.probes = 0
		b.logger.Info("Messaging circuit half-open, probing broker")
		fallthrough
	default:
		if b.probes >= b.config.HalfOpenProbes {
			return ErrCircuitOpen
		}
		b.probes++
		return nil
	}
}

func (b *BreakerProducer) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != breakerClosed {
			b.logger.Info("Messaging circuit closed")
		}
		b.state = breakerClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	if b.state == breakerHalfOpen || b.failures >= b.config.FailureThreshold {
		if b.state != breakerOpen {
			b.logger.Warn("Messaging circuit opened",
				zap.Int("failures", b.failures),
				zap.Duration("reset_timeout", b.config.ResetTimeout))
		}
		b.state = breakerOpen
	}
}

var _ Producer = (*BreakerProducer)(nil)
