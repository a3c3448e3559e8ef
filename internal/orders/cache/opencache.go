// Package cache keeps a per-user open-order working set in Redis so list
// reads stay off the record store. Entries are JSON order snapshots with a
// TTL; a per-user sorted set scored by creation time serves as the recency
// index. A best-effort reconciler repairs drift against the record store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helioex/orderdesk/internal/orders/model"
	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

const (
	entryKeyPattern = "orders:open:%s:%s"
	indexKeyPattern = "orders:open:idx:%s"
)

// Config bounds the cache.
type Config struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// DefaultConfig returns the production cache settings.
func DefaultConfig() Config {
	return Config{TTL: time.Hour}
}

// OpenCache is the Redis-backed open-order cache. Writes and evictions are
// idempotent; a repeated Put or Evict for the same order is a no-op beyond
// refreshing the TTL.
type OpenCache struct {
	client     *redis.Client
	ttl        time.Duration
	reconciler *Reconciler
	logger     *zap.Logger
}

// New creates the cache. Attach a reconciler with SetReconciler before
// serving list reads.
func New(client *redis.Client, config Config, logger *zap.Logger) *OpenCache {
	if config.TTL <= 0 {
		config = DefaultConfig()
	}
	return &OpenCache{client: client, ttl: config.TTL, logger: logger}
}

// SetReconciler wires the reconciler that list reads detach.
func (c *OpenCache) SetReconciler(r *Reconciler) { c.reconciler = r }

func (c *OpenCache) entryKey(userID uuid.UUID, ref string) string {
	return fmt.Sprintf(entryKeyPattern, userID, ref)
}

func (c *OpenCache) indexKey(userID uuid.UUID) string {
	return fmt.Sprintf(indexKeyPattern, userID)
}

// primaryRef prefers the durable id; rows not yet persisted fall back to the
// temporary client id.
func primaryRef(order *model.Order) string {
	if order.ID > 0 {
		return strconv.FormatInt(order.ID, 10)
	}
	return order.ClientOrderID
}

// Put writes the order snapshot under its durable id, an alias under its
// client id, and indexes it by creation time.
func (c *OpenCache) Put(ctx context.Context, order *model.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", order.ID, err)
	}

	ref := primaryRef(order)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.entryKey(order.UserID, ref), data, c.ttl)
	if order.ClientOrderID != "" && order.ClientOrderID != ref {
		pipe.Set(ctx, c.entryKey(order.UserID, order.ClientOrderID), data, c.ttl)
	}
	pipe.ZAdd(ctx, c.indexKey(order.UserID), redis.Z{
		Score:  float64(order.CreatedAt.UnixNano()),
		Member: ref,
	})
	pipe.Expire(ctx, c.indexKey(order.UserID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache order %s: %w", ref, err)
	}
	return nil
}

// Evict removes the order snapshot, its client-id alias and its index entry.
func (c *OpenCache) Evict(ctx context.Context, order *model.Order) error {
	ref := primaryRef(order)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.entryKey(order.UserID, ref))
	if order.ClientOrderID != "" && order.ClientOrderID != ref {
		pipe.Del(ctx, c.entryKey(order.UserID, order.ClientOrderID))
		pipe.ZRem(ctx, c.indexKey(order.UserID), order.ClientOrderID)
	}
	pipe.ZRem(ctx, c.indexKey(order.UserID), ref)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to evict order %s: %w", ref, err)
	}
	return nil
}

// Get resolves one cached order by durable id or temporary client id.
func (c *OpenCache) Get(ctx context.Context, userID uuid.UUID, ref string) (*model.Order, error) {
	data, err := c.client.Get(ctx, c.entryKey(userID, ref)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, pkgerrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to read cached order %s: %w", ref, err)
	}
	var order model.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to decode cached order %s: %w", ref, err)
	}
	return &order, nil
}

// List reads the user's open orders newest first, applies the filter and the
// page bounds in memory, and detaches a reconcile pass against the record
// store. The reconcile never delays or fails the read. The returned total is
// the filtered count before pagination.
func (c *OpenCache) List(ctx context.Context, userID uuid.UUID, filter model.OrderFilter, page Page) ([]*model.Order, int, error) {
	refs, err := c.client.ZRevRange(ctx, c.indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read order index: %w", err)
	}

	var orders []*model.Order
	if len(refs) > 0 {
		keys := make([]string, len(refs))
		for i, ref := range refs {
			keys[i] = c.entryKey(userID, ref)
		}
		values, err := c.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read cached orders: %w", err)
		}
		for i, value := range values {
			raw, ok := value.(string)
			if !ok {
				// Entry expired ahead of its index member.
				continue
			}
			var order model.Order
			if err := json.Unmarshal([]byte(raw), &order); err != nil {
				c.logger.Warn("Dropping undecodable cache entry",
					zap.Error(err), zap.String("ref", refs[i]))
				continue
			}
			if order.Hidden || order.IsTerminal() {
				continue
			}
			orders = append(orders, &order)
		}
	}

	if c.reconciler != nil {
		cached := make([]*model.Order, len(orders))
		copy(cached, orders)
		go c.reconciler.Reconcile(context.WithoutCancel(ctx), userID, cached)
	}

	orders = FilterOrders(orders, filter)
	SortOrders(orders)
	return Paginate(orders, page), len(orders), nil
}

var _ entryStore = (*OpenCache)(nil)
