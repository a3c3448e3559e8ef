// Package cancel implements the cancellation coordinator: it resolves an
// order reference (durable id or temporary client id) to a live row and emits
// exactly one cancel command toward the matching engine.
package cancel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/helioex/orderdesk/internal/infrastructure/messaging"
	"github.com/helioex/orderdesk/internal/orders/model"
	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

// Config bounds the temporary-id resolution retry and selects the cancel
// command wire shape.
type Config struct {
	MaxAttempts           int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval       time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	Multiplier            float64       `mapstructure:"multiplier" yaml:"multiplier"`
	UseLegacyCancelFormat bool          `mapstructure:"use_legacy_cancel_format" yaml:"use_legacy_cancel_format"`
}

// DefaultConfig covers the intake pipeline's worst-case persistence lag:
// three lookups spread over 4s + 8s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 4 * time.Second,
		Multiplier:      2.0,
	}
}

// Request identifies the order to cancel. Bot marks cancellations issued on
// behalf of a trading bot, which the global halt flag can refuse.
type Request struct {
	UserID   uuid.UUID `json:"user_id"`
	OrderRef string    `json:"order_ref"`
	Bot      bool      `json:"bot"`
}

// Coordinator resolves cancel requests against the record store and publishes
// cancel commands.
type Coordinator struct {
	config   Config
	repo     model.Repository
	producer messaging.Producer
	logger   *zap.Logger

	botHalted atomic.Bool

	// newBackOff is replaced in tests to avoid multi-second waits.
	newBackOff func() backoff.BackOff
}

// New creates a coordinator.
func New(config Config, repo model.Repository, producer messaging.Producer, logger *zap.Logger) *Coordinator {
	if config.MaxAttempts <= 0 {
		legacy := config.UseLegacyCancelFormat
		config = DefaultConfig()
		config.UseLegacyCancelFormat = legacy
	}
	c := &Coordinator{
		config:   config,
		repo:     repo,
		producer: producer,
		logger:   logger,
	}
	c.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = config.InitialInterval
		bo.Multiplier = config.Multiplier
		bo.RandomizationFactor = 0
		bo.MaxInterval = config.InitialInterval * 8
		return bo
	}
	return c
}

// SetBotTradingHalted flips the global bot-cancellation halt.
func (c *Coordinator) SetBotTradingHalted(halted bool) {
	c.botHalted.Store(halted)
}

// BotTradingHalted reports the halt flag.
func (c *Coordinator) BotTradingHalted() bool {
	return c.botHalted.Load()
}

// HandleMessage is the cancel-requests topic handler. Failed cancellations
// are logged; the request is not retried beyond the lookup backoff.
func (c *Coordinator) HandleMessage(ctx context.Context, key string, value []byte) error {
	var req Request
	if err := json.Unmarshal(value, &req); err != nil {
		return fmt.Errorf("failed to decode cancel request %s: %w", key, err)
	}
	if _, err := c.Cancel(ctx, req); err != nil {
		c.logger.Warn("Cancel request failed",
			zap.Error(err),
			zap.String("order_ref", req.OrderRef),
			zap.String("user_id", req.UserID.String()))
	}
	return nil
}

// Cancel resolves the reference to a live order and emits one cancel command.
// Orders already filled or canceled resolve as not found. Bot requests are
// refused outright while the halt flag is set.
func (c *Coordinator) Cancel(ctx context.Context, req Request) (*model.Order, error) {
	if req.Bot && c.botHalted.Load() {
		return nil, pkgerrors.ErrBotTradingHalted
	}

	order, err := c.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	cmd := model.CancelCommand(order, c.config.UseLegacyCancelFormat)
	if err := c.producer.Publish(ctx, messaging.TopicEngineCommands, order.UserID.String(), cmd); err != nil {
		return nil, fmt.Errorf("failed to publish cancel command for order %d: %w", order.ID, err)
	}

	c.logger.Info("Cancel command published",
		zap.Int64("order_id", order.ID),
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("user_id", order.UserID.String()))
	return order, nil
}

// resolve picks the lookup path from the reference shape. Durable ids get a
// single lookup; temporary client ids retry while the intake pipeline may
// still be flushing the row.
func (c *Coordinator) resolve(ctx context.Context, req Request) (*model.Order, error) {
	if model.IsClientOrderID(req.OrderRef) {
		return c.resolveByClientID(ctx, req.UserID, req.OrderRef)
	}

	id, err := strconv.ParseInt(req.OrderRef, 10, 64)
	if err != nil {
		return nil, pkgerrors.ErrOrderNotFound
	}
	return c.repo.GetOrderByID(ctx, req.UserID, id, model.OpenStatuses...)
}

func (c *Coordinator) resolveByClientID(ctx context.Context, userID uuid.UUID, clientOrderID string) (*model.Order, error) {
	bo := c.newBackOff()

	for attempt := 1; ; attempt++ {
		order, err := c.repo.GetOrderByClientID(ctx, userID, clientOrderID, model.OpenStatuses...)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, pkgerrors.ErrOrderNotFound) {
			return nil, err
		}
		if attempt >= c.config.MaxAttempts {
			return nil, pkgerrors.ErrOrderNotFound
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, pkgerrors.ErrOrderNotFound
		}
		c.logger.Debug("Order not yet visible, retrying lookup",
			zap.String("client_order_id", clientOrderID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
