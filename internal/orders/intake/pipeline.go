// Package intake implements the order intake batching pipeline: validated
// drafts arrive from the intake topic, are buffered in a bounded FIFO under
// backpressure, and are flushed to the record store in fixed-size batches on
// a timer. Each persisted row produces exactly one place command for the
// matching engine.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helioex/orderdesk/internal/infrastructure/messaging"
	"github.com/helioex/orderdesk/internal/orders/model"
)

// Config bounds the pipeline.
type Config struct {
	QueueCapacity     int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	BatchSize         int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval     time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	BackpressureDelay time.Duration `mapstructure:"backpressure_delay" yaml:"backpressure_delay"`
}

// DefaultConfig returns the production pipeline bounds.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     100_000,
		BatchSize:         10,
		FlushInterval:     50 * time.Millisecond,
		BackpressureDelay: 100 * time.Millisecond,
	}
}

// Pipeline owns the bounded queue, the flush timer and the drain logic. The
// queue is the only structure shared between the consumer task and the flush
// task; every access holds the mutex so the size never exceeds capacity.
type Pipeline struct {
	config   Config
	repo     model.Repository
	producer messaging.Producer
	cache    OrderCache
	logger   *zap.Logger

	mu    sync.Mutex
	queue []*model.OrderDraft

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OrderCache receives write-through notifications for persisted orders.
// Cache failures never fail the flush.
type OrderCache interface {
	Put(ctx context.Context, order *model.Order) error
}

// New creates a pipeline. cache may be nil.
func New(config Config, repo model.Repository, producer messaging.Producer, cache OrderCache, logger *zap.Logger) *Pipeline {
	if config.QueueCapacity <= 0 {
		config = DefaultConfig()
	}
	return &Pipeline{
		config:   config,
		repo:     repo,
		producer: producer,
		cache:    cache,
		logger:   logger,
		queue:    make([]*model.OrderDraft, 0, config.BatchSize*4),
	}
}

// Start launches the flush loop and subscribes the consumer to the intake
// topic. Stop cancels both.
func (p *Pipeline) Start(ctx context.Context, consumer messaging.Consumer) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.flushLoop(ctx)

	if consumer != nil {
		if err := consumer.Subscribe(ctx, messaging.TopicOrderIntake, p.HandleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to intake topic: %w", err)
		}
	}
	p.logger.Info("Intake pipeline started",
		zap.Int("queue_capacity", p.config.QueueCapacity),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("flush_interval", p.config.FlushInterval))
	return nil
}

// Stop drains nothing extra: dequeued drafts run to completion, queued ones
// stay queued for the next start in-process. Pending queue contents are lost
// only on process exit, which callers re-observe via polling.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// HandleMessage is the intake topic handler: it decodes a draft and enqueues
// it under backpressure.
func (p *Pipeline) HandleMessage(ctx context.Context, key string, value []byte) error {
	var draft model.OrderDraft
	if err := json.Unmarshal(value, &draft); err != nil {
		return fmt.Errorf("failed to decode order draft: %w", err)
	}
	if draft.Order == nil {
		return fmt.Errorf("order draft %s has no order", key)
	}
	return p.Enqueue(ctx, &draft)
}

// Enqueue adds a draft to the FIFO. A full queue delays acceptance by the
// configured backoff per attempt; it never drops the draft and never lets
// the queue exceed capacity.
func (p *Pipeline) Enqueue(ctx context.Context, draft *model.OrderDraft) error {
	for {
		p.mu.Lock()
		if len(p.queue) < p.config.QueueCapacity {
			p.queue = append(p.queue, draft)
			depth := len(p.queue)
			p.mu.Unlock()
			draftsAccepted.Inc()
			queueDepth.Set(float64(depth))
			return nil
		}
		p.mu.Unlock()

		backpressureWaits.Inc()
		p.logger.Warn("Intake queue full, delaying acceptance",
			zap.String("client_order_id", draft.Order.ClientOrderID),
			zap.Duration("delay", p.config.BackpressureDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.config.BackpressureDelay):
		}
	}
}

// QueueDepth reports the current queue size.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipeline) flushLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.FlushOnce(ctx)
		}
	}
}

// FlushOnce dequeues up to one batch and fully drains it. A failing draft is
// logged and dropped; it never blocks the rest of the batch.
func (p *Pipeline) FlushOnce(ctx context.Context) {
	batch := p.dequeueBatch()
	if len(batch) == 0 {
		return
	}

	for _, draft := range batch {
		if err := p.processDraft(ctx, draft); err != nil {
			draftsDropped.Inc()
			p.logger.Error("Dropping draft after persistence failure",
				zap.Error(err),
				zap.String("client_order_id", draft.Order.ClientOrderID),
				zap.String("user_id", draft.Order.UserID.String()))
			continue
		}
		draftsFlushed.Inc()
	}
	queueDepth.Set(float64(p.QueueDepth()))
}

func (p *Pipeline) dequeueBatch() []*model.OrderDraft {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.config.BatchSize
	if n > len(p.queue) {
		n = len(p.queue)
	}
	if n == 0 {
		return nil
	}
	batch := make([]*model.OrderDraft, n)
	copy(batch, p.queue[:n])
	remaining := len(p.queue) - n
	copy(p.queue, p.queue[n:])
	p.queue = p.queue[:remaining]
	return batch
}

// processDraft persists the TP/SL sibling legs first, then the parent, links
// the rows, and emits one place command per persisted row. Sibling commands
// go out before the parent's command references their ids.
func (p *Pipeline) processDraft(ctx context.Context, draft *model.OrderDraft) error {
	parent := draft.Order

	var tpLeg, slLeg *model.Order
	if draft.TakeProfit.Sign() > 0 {
		tpLeg = buildLeg(parent, model.TriggerTakeProfitMarket, draft.TakeProfit)
		if err := p.repo.CreateOrder(ctx, tpLeg); err != nil {
			return fmt.Errorf("take-profit leg: %w", err)
		}
	}
	if draft.StopLoss.Sign() > 0 {
		slLeg = buildLeg(parent, model.TriggerStopMarket, draft.StopLoss)
		if err := p.repo.CreateOrder(ctx, slLeg); err != nil {
			return fmt.Errorf("stop-loss leg: %w", err)
		}
	}

	if err := p.repo.CreateOrder(ctx, parent); err != nil {
		return fmt.Errorf("parent order: %w", err)
	}

	var tpID, slID *int64
	if tpLeg != nil {
		tpID = &tpLeg.ID
	}
	if slLeg != nil {
		slID = &slLeg.ID
	}
	if tpID != nil || slID != nil {
		if err := p.repo.LinkLegs(ctx, parent.ID, tpID, slID); err != nil {
			return fmt.Errorf("link legs: %w", err)
		}
		if tpLeg != nil {
			tpLeg.ParentOrderID = &parent.ID
			tpLeg.LinkedOrderID = slID
		}
		if slLeg != nil {
			slLeg.ParentOrderID = &parent.ID
			slLeg.LinkedOrderID = tpID
		}
	}

	p.warmCache(ctx, parent)

	for _, row := range []*model.Order{tpLeg, slLeg, parent} {
		if row == nil {
			continue
		}
		if err := p.producer.Publish(ctx, messaging.TopicEngineCommands, row.UserID.String(), model.PlaceCommand(row)); err != nil {
			p.logger.Error("Failed to publish place command",
				zap.Error(err), zap.Int64("order_id", row.ID))
		} else {
			commandsPublished.Inc()
		}
	}
	return nil
}

// warmCache writes the freshly persisted parent through to the open-order
// cache. Hidden legs are not listed, so only the parent is cached.
func (p *Pipeline) warmCache(ctx context.Context, order *model.Order) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Put(ctx, order); err != nil {
		p.logger.Warn("Failed to warm open-order cache",
			zap.Error(err), zap.Int64("order_id", order.ID))
	}
}

// buildLeg derives a hidden reduce-only TP/SL leg from its parent draft. The
// leg starts on the opposite side, linked to the parent by its temporary id
// until the durable ids exist.
func buildLeg(parent *model.Order, triggerType string, triggerPrice decimal.Decimal) *model.Order {
	now := time.Now().UTC()
	return &model.Order{
		ClientOrderID:       model.NewClientOrderID(),
		UserID:              parent.UserID,
		AccountID:           parent.AccountID,
		Symbol:              parent.Symbol,
		Side:                model.OppositeSide(parent.Side),
		Type:                model.OrderTypeMarket,
		TriggerType:         triggerType,
		ContractType:        parent.ContractType,
		TimeInForce:         model.TimeInForceIOC,
		MarginMode:          parent.MarginMode,
		Quantity:            parent.Quantity,
		Remaining:           parent.Quantity,
		TriggerPrice:        triggerPrice,
		Leverage:            parent.Leverage,
		ParentClientOrderID: parent.ClientOrderID,
		ReduceOnly:          true,
		Hidden:              true,
		IsBot:               parent.IsBot,
		Status:              model.OrderStatusUntriggered,
		CreatedAt:           now,
	}
}
