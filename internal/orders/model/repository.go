package model

import (
	"context"

	"github.com/google/uuid"
)

// OrderFilter narrows open-order queries. Zero-valued fields match
// everything. The cache read path applies the same predicates in memory.
type OrderFilter struct {
	Symbol      string
	Side        string
	Type        string
	TriggerType string
}

// Matches reports whether an order satisfies every set predicate.
func (f OrderFilter) Matches(o *Order) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.Type != "" && o.Type != f.Type {
		return false
	}
	if f.TriggerType != "" && o.TriggerType != f.TriggerType {
		return false
	}
	return true
}

// Repository is the order record store, the system of record for orders.
// The store enforces durable id uniqueness and arbitrates concurrent writes.
type Repository interface {
	// CreateOrder persists a new row and assigns the durable id.
	CreateOrder(ctx context.Context, order *Order) error

	// LinkLegs attaches persisted TP/SL legs to their parent: both legs get
	// the parent's durable id and each other's id as the linked sibling.
	LinkLegs(ctx context.Context, parentID int64, tpID, slID *int64) error

	// GetOrderByID fetches one order by durable id scoped to the owning
	// user. When statuses are given, only rows in those statuses match.
	GetOrderByID(ctx context.Context, userID uuid.UUID, id int64, statuses ...string) (*Order, error)

	// GetOrderByClientID resolves a temporary client id to its durable row.
	GetOrderByClientID(ctx context.Context, userID uuid.UUID, clientOrderID string, statuses ...string) (*Order, error)

	// ListActiveOrders returns the user's ACTIVE and UNTRIGGERED orders.
	// This is the reconciliation source of truth for the open-order cache.
	ListActiveOrders(ctx context.Context, userID uuid.UUID) ([]*Order, error)

	// ListOpenOrders is the durable query path behind cancel-all and the
	// cache-miss fallback, applying the same filter predicates as the cache.
	ListOpenOrders(ctx context.Context, userID uuid.UUID, filter OrderFilter) ([]*Order, error)

	// UpdateOrderStatus conditionally moves an order from any of the given
	// statuses to the target status.
	UpdateOrderStatus(ctx context.Context, id int64, to string, from ...string) error
}
