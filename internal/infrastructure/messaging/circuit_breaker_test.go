package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type flakyProducer struct {
	err   error
	calls int
}

func (p *flakyProducer) Publish(context.Context, Topic, string, interface{}) error {
	p.calls++
	return p.err
}

func (p *flakyProducer) Close() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	inner := &flakyProducer{err: errors.New("broker down")}
	b := NewBreakerProducer(inner, BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Hour,
		HalfOpenProbes:   1,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, b.Publish(ctx, TopicEngineCommands, "k", "v"))
	}
	assert.Equal(t, 3, inner.calls)

	// Open: rejected without touching the broker.
	err := b.Publish(ctx, TopicEngineCommands, "k", "v")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	inner := &flakyProducer{err: errors.New("broker down")}
	b := NewBreakerProducer(inner, BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
		HalfOpenProbes:   1,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.Error(t, b.Publish(ctx, TopicEngineCommands, "k", "v"))
	assert.ErrorIs(t, b.Publish(ctx, TopicEngineCommands, "k", "v"), ErrCircuitOpen)

	time.Sleep(60 * time.Millisecond)
	inner.err = nil

	// The probe goes through and closes the circuit.
	require.NoError(t, b.Publish(ctx, TopicEngineCommands, "k", "v"))
	require.NoError(t, b.Publish(ctx, TopicEngineCommands, "k", "v"))
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	inner := &flakyProducer{err: errors.New("broker down")}
	b := NewBreakerProducer(inner, BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
		HalfOpenProbes:   1,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.Error(t, b.Publish(ctx, TopicEngineCommands, "k", "v"))
	time.Sleep(60 * time.Millisecond)

	// Probe fails: straight back to open.
	require.Error(t, b.Publish(ctx, TopicEngineCommands, "k", "v"))
	assert.ErrorIs(t, b.Publish(ctx, TopicEngineCommands, "k", "v"), ErrCircuitOpen)
}
