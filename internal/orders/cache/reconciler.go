package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helioex/orderdesk/internal/orders/model"
	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

// entryStore is the cache surface the reconciler writes through.
type entryStore interface {
	Put(ctx context.Context, order *model.Order) error
	Evict(ctx context.Context, order *model.Order) error
}

// Reconciler repairs cache drift against the record store: active rows
// missing from the cache are written through, cached rows the store reports
// terminal or gone are evicted. It runs detached from list reads and never
// surfaces errors to callers.
type Reconciler struct {
	repo   model.Repository
	store  entryStore
	logger *zap.Logger
}

// NewReconciler creates a reconciler over the record store and cache.
func NewReconciler(repo model.Repository, store entryStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{repo: repo, store: store, logger: logger}
}

// Reconcile diffs the cached snapshot against the store's active set and
// applies repairs. Rows still pending in the store are kept cached.
func (r *Reconciler) Reconcile(ctx context.Context, userID uuid.UUID, cached []*model.Order) {
	active, err := r.repo.ListActiveOrders(ctx, userID)
	if err != nil {
		reconcileFailures.Inc()
		r.logger.Warn("Cache reconcile skipped, active listing failed",
			zap.Error(err), zap.String("user_id", userID.String()))
		return
	}

	missing, candidates := Diff(cached, active)
	for _, order := range missing {
		if order.Hidden {
			continue
		}
		if err := r.store.Put(ctx, order); err != nil {
			reconcileFailures.Inc()
			r.logger.Warn("Cache repair failed",
				zap.Error(err), zap.Int64("order_id", order.ID))
			continue
		}
		reconcileRepairs.Inc()
	}

	for _, order := range candidates {
		if !r.shouldEvict(ctx, userID, order) {
			continue
		}
		if err := r.store.Evict(ctx, order); err != nil {
			reconcileFailures.Inc()
			r.logger.Warn("Cache eviction failed",
				zap.Error(err), zap.Int64("order_id", order.ID))
			continue
		}
		reconcileEvictions.Inc()
	}
}

// shouldEvict re-checks a candidate against the store. Rows still pending
// stay cached; terminal or vanished rows go.
func (r *Reconciler) shouldEvict(ctx context.Context, userID uuid.UUID, order *model.Order) bool {
	stored, err := r.repo.GetOrderByID(ctx, userID, order.ID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrOrderNotFound) {
			return true
		}
		reconcileFailures.Inc()
		r.logger.Warn("Cache candidate lookup failed",
			zap.Error(err), zap.Int64("order_id", order.ID))
		return false
	}
	return stored.IsTerminal()
}
