package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/helioex/orderdesk/internal/orders/model"
	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

// stubRepo serves a fixed store view to the reconciler.
type stubRepo struct {
	active    []*model.Order
	byID      map[int64]*model.Order
	activeErr error
}

func (r *stubRepo) CreateOrder(context.Context, *model.Order) error { return nil }

func (r *stubRepo) LinkLegs(context.Context, int64, *int64, *int64) error { return nil }

func (r *stubRepo) GetOrderByID(_ context.Context, _ uuid.UUID, id int64, _ ...string) (*model.Order, error) {
	o, ok := r.byID[id]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	return o, nil
}

func (r *stubRepo) GetOrderByClientID(context.Context, uuid.UUID, string, ...string) (*model.Order, error) {
	return nil, pkgerrors.ErrOrderNotFound
}

func (r *stubRepo) ListActiveOrders(context.Context, uuid.UUID) ([]*model.Order, error) {
	return r.active, r.activeErr
}

func (r *stubRepo) ListOpenOrders(context.Context, uuid.UUID, model.OrderFilter) ([]*model.Order, error) {
	return nil, nil
}

func (r *stubRepo) UpdateOrderStatus(context.Context, int64, string, ...string) error { return nil }

var _ model.Repository = (*stubRepo)(nil)

// memStore records reconciler writes and evictions.
type memStore struct {
	mu      sync.Mutex
	entries map[int64]*model.Order
}

func newMemStore(seed ...*model.Order) *memStore {
	s := &memStore{entries: make(map[int64]*model.Order)}
	for _, o := range seed {
		s.entries[o.ID] = o
	}
	return s
}

func (s *memStore) Put(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[order.ID] = order
	return nil
}

func (s *memStore) Evict(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, order.ID)
	return nil
}

func TestReconcileWritesMissingAndEvictsTerminal(t *testing.T) {
	now := time.Now()
	stillActive := order(1, "BTCUSDT", model.OrderSideBuy, now)
	missing := order(2, "BTCUSDT", model.OrderSideBuy, now)
	filled := order(3, "BTCUSDT", model.OrderSideSell, now)
	filled.Status = model.OrderStatusFilled

	repo := &stubRepo{
		active: []*model.Order{stillActive, missing},
		byID:   map[int64]*model.Order{1: stillActive, 2: missing, 3: filled},
	}
	store := newMemStore(stillActive, filled)
	r := NewReconciler(repo, store, zaptest.NewLogger(t))

	r.Reconcile(context.Background(), uuid.New(), []*model.Order{stillActive, filled})

	assert.Contains(t, store.entries, int64(1))
	assert.Contains(t, store.entries, int64(2), "missing active order written through")
	assert.NotContains(t, store.entries, int64(3), "filled order evicted")
}

func TestReconcileEvictsVanishedRows(t *testing.T) {
	now := time.Now()
	gone := order(9, "BTCUSDT", model.OrderSideBuy, now)

	repo := &stubRepo{byID: map[int64]*model.Order{}}
	store := newMemStore(gone)
	r := NewReconciler(repo, store, zaptest.NewLogger(t))

	r.Reconcile(context.Background(), uuid.New(), []*model.Order{gone})

	assert.Empty(t, store.entries)
}

func TestReconcileKeepsPendingRows(t *testing.T) {
	now := time.Now()
	pending := order(7, "BTCUSDT", model.OrderSideBuy, now)
	pending.Status = model.OrderStatusPending

	// Pending rows are not in the active set but still live in the store.
	repo := &stubRepo{byID: map[int64]*model.Order{7: pending}}
	store := newMemStore(pending)
	r := NewReconciler(repo, store, zaptest.NewLogger(t))

	r.Reconcile(context.Background(), uuid.New(), []*model.Order{pending})

	assert.Contains(t, store.entries, int64(7))
}

func TestReconcileSkipsOnListFailure(t *testing.T) {
	now := time.Now()
	cached := order(1, "BTCUSDT", model.OrderSideBuy, now)

	repo := &stubRepo{activeErr: errors.New("store down")}
	store := newMemStore(cached)
	r := NewReconciler(repo, store, zaptest.NewLogger(t))

	r.Reconcile(context.Background(), uuid.New(), []*model.Order{cached})

	// Nothing changed; the failure was swallowed.
	require.Contains(t, store.entries, int64(1))
}

func TestReconcileSkipsHiddenActiveRows(t *testing.T) {
	now := time.Now()
	leg := order(5, "BTCUSDT", model.OrderSideSell, now)
	leg.Hidden = true
	leg.Status = model.OrderStatusUntriggered

	repo := &stubRepo{active: []*model.Order{leg}, byID: map[int64]*model.Order{5: leg}}
	store := newMemStore()
	r := NewReconciler(repo, store, zaptest.NewLogger(t))

	r.Reconcile(context.Background(), uuid.New(), nil)

	assert.Empty(t, store.entries, "hidden legs never enter the listing cache")
}
