// Package repository implements the order record store on GORM/Postgres.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/helioex/orderdesk/internal/orders/model"
	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

// GormRepository implements model.Repository.
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a GORM-backed repository.
func New(db *gorm.DB, logger *zap.Logger) *GormRepository {
	return &GormRepository{db: db, logger: logger}
}

// AutoMigrate creates or updates the orders table.
func (r *GormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&model.Order{})
}

// CreateOrder persists a new order row; the database assigns the durable id.
func (r *GormRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		r.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("client_order_id", order.ClientOrderID))
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// LinkLegs attaches persisted TP/SL legs to their parent row ids.
func (r *GormRepository) LinkLegs(ctx context.Context, parentID int64, tpID, slID *int64) error {
	link := func(legID int64, sibling *int64) error {
		updates := map[string]interface{}{
			"parent_order_id": parentID,
			"updated_at":      time.Now(),
		}
		if sibling != nil {
			updates["linked_order_id"] = *sibling
		}
		result := r.db.WithContext(ctx).Model(&model.Order{}).
			Where("id = ?", legID).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to link leg %d: %w", legID, result.Error)
		}
		if result.RowsAffected == 0 {
			return pkgerrors.ErrOrderNotFound
		}
		return nil
	}

	if tpID != nil {
		if err := link(*tpID, slID); err != nil {
			return err
		}
	}
	if slID != nil {
		if err := link(*slID, tpID); err != nil {
			return err
		}
	}
	return nil
}

// GetOrderByID fetches one order by durable id scoped to the owning user.
func (r *GormRepository) GetOrderByID(ctx context.Context, userID uuid.UUID, id int64, statuses ...string) (*model.Order, error) {
	query := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var order model.Order
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return &order, nil
}

// GetOrderByClientID resolves a temporary client id to its durable row.
func (r *GormRepository) GetOrderByClientID(ctx context.Context, userID uuid.UUID, clientOrderID string, statuses ...string) (*model.Order, error) {
	query := r.db.WithContext(ctx).Where("client_order_id = ? AND user_id = ?", clientOrderID, userID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var order model.Order
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order by client id %s: %w", clientOrderID, err)
	}
	return &order, nil
}

// ListActiveOrders returns the user's ACTIVE and UNTRIGGERED orders.
func (r *GormRepository) ListActiveOrders(ctx context.Context, userID uuid.UUID) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID,
			[]string{model.OrderStatusActive, model.OrderStatusUntriggered}).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	return orders, nil
}

// ListOpenOrders is the durable query path with the cache's filter
// predicates; hidden TP/SL legs are excluded from listings.
func (r *GormRepository) ListOpenOrders(ctx context.Context, userID uuid.UUID, filter model.OrderFilter) ([]*model.Order, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND hidden = ? AND status IN ?", userID, false, model.OpenStatuses)
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Side != "" {
		query = query.Where("side = ?", filter.Side)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.TriggerType != "" {
		query = query.Where("trigger_type = ?", filter.TriggerType)
	}

	var orders []*model.Order
	if err := query.Order("created_at DESC, id DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus conditionally moves an order into the target status.
func (r *GormRepository) UpdateOrderStatus(ctx context.Context, id int64, to string, from ...string) error {
	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}

	result := query.Updates(map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOrderNotFound
	}
	return nil
}

var _ model.Repository = (*GormRepository)(nil)
