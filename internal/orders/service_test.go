package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/helioex/orderdesk/internal/infrastructure/messaging"
	"github.com/helioex/orderdesk/internal/orders/cache"
	"github.com/helioex/orderdesk/internal/orders/cancel"
	"github.com/helioex/orderdesk/internal/orders/margin"
	"github.com/helioex/orderdesk/internal/orders/model"
	"github.com/helioex/orderdesk/internal/orders/validation"
	"github.com/helioex/orderdesk/internal/refdata"
	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// svcRepo backs the service and coordinator in tests.
type svcRepo struct {
	mu   sync.Mutex
	byID map[int64]*model.Order
	open []*model.Order
}

func newSvcRepo(orders ...*model.Order) *svcRepo {
	r := &svcRepo{byID: make(map[int64]*model.Order)}
	for _, o := range orders {
		r.byID[o.ID] = o
		r.open = append(r.open, o)
	}
	return r
}

func (r *svcRepo) CreateOrder(context.Context, *model.Order) error { return nil }

func (r *svcRepo) LinkLegs(context.Context, int64, *int64, *int64) error { return nil }

func (r *svcRepo) GetOrderByID(_ context.Context, userID uuid.UUID, id int64, statuses ...string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok || o.UserID != userID {
		return nil, pkgerrors.ErrOrderNotFound
	}
	for _, s := range statuses {
		if o.Status == s {
			return o, nil
		}
	}
	if len(statuses) == 0 {
		return o, nil
	}
	return nil, pkgerrors.ErrOrderNotFound
}

func (r *svcRepo) GetOrderByClientID(_ context.Context, userID uuid.UUID, clientOrderID string, _ ...string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.byID {
		if o.ClientOrderID == clientOrderID && o.UserID == userID {
			return o, nil
		}
	}
	return nil, pkgerrors.ErrOrderNotFound
}

func (r *svcRepo) ListActiveOrders(context.Context, uuid.UUID) ([]*model.Order, error) {
	return nil, nil
}

func (r *svcRepo) ListOpenOrders(_ context.Context, userID uuid.UUID, filter model.OrderFilter) ([]*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Order
	for _, o := range r.open {
		if o.UserID == userID && !o.Hidden && filter.Matches(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *svcRepo) UpdateOrderStatus(context.Context, int64, string, ...string) error { return nil }

var _ model.Repository = (*svcRepo)(nil)

// topicProducer records messages per topic.
type topicProducer struct {
	mu       sync.Mutex
	messages map[messaging.Topic][]interface{}
}

func newTopicProducer() *topicProducer {
	return &topicProducer{messages: make(map[messaging.Topic][]interface{})}
}

func (p *topicProducer) Publish(_ context.Context, topic messaging.Topic, _ string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = append(p.messages[topic], message)
	return nil
}

func (p *topicProducer) Close() error { return nil }

func (p *topicProducer) on(topic messaging.Topic) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[topic]
}

type fixedPositions struct {
	pos *margin.Position
}

func (f *fixedPositions) Position(context.Context, uuid.UUID, string) (*margin.Position, error) {
	return f.pos, nil
}

func newTestProvider(userID uuid.UUID) *refdata.StaticProvider {
	provider := refdata.NewStaticProvider(
		[]refdata.Instrument{{
			Symbol:        "BTCUSDT",
			ContractType:  model.ContractLinear,
			Multiplier:    dec("1"),
			TakerFeeRate:  dec("0.0005"),
			PriceDecimals: 2,
			QtyDecimals:   3,
		}},
		map[string]refdata.TradingRule{"BTCUSDT": {
			MinQuantity: dec("0.001"),
			MaxQuantity: dec("1000"),
			MinPrice:    dec("0.01"),
			MaxPrice:    dec("1000000"),
		}},
	)
	provider.SetMarkPrice("BTCUSDT", dec("100"))
	provider.SetMarginSetting(userID, "BTCUSDT", refdata.MarginSetting{
		Leverage:   dec("10"),
		MarginMode: model.MarginModeCross,
	})
	return provider
}

func newTestService(t *testing.T, repo model.Repository, producer messaging.Producer, userID uuid.UUID, positions PositionSource) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	provider := newTestProvider(userID)
	validator := validation.New(provider, logger)
	coordinator := cancel.New(cancel.DefaultConfig(), repo, producer, logger)
	return NewService(validator, provider, positions, repo, nil, coordinator, producer, logger)
}

func limitBuyRequest(userID uuid.UUID) *validation.Request {
	return &validation.Request{
		UserID:           userID,
		AccountID:        uuid.New(),
		Symbol:           "BTCUSDT",
		Side:             model.OrderSideBuy,
		Type:             model.OrderTypeLimit,
		Quantity:         dec("1"),
		Price:            dec("100"),
		AvailableBalance: dec("1000"),
	}
}

func TestPlaceOrderPublishesDraft(t *testing.T) {
	userID := uuid.New()
	producer := newTopicProducer()
	svc := newTestService(t, newSvcRepo(), producer, userID, nil)

	order, err := svc.PlaceOrder(context.Background(), limitBuyRequest(userID))

	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.True(t, model.IsClientOrderID(order.ClientOrderID))
	// 1/10 leverage + 2 * 0.0005 fee = 0.101 per unit notional at price 100.
	assert.True(t, order.Margin.Equal(dec("10.1")), "margin %s", order.Margin)
	assert.True(t, order.OrderValue.Equal(dec("100")))

	drafts := producer.on(messaging.TopicOrderIntake)
	require.Len(t, drafts, 1)
	draft := drafts[0].(*model.OrderDraft)
	assert.Equal(t, order.ClientOrderID, draft.Order.ClientOrderID)
	assert.True(t, draft.Account.AvailableBalance.Equal(dec("1000")))
	assert.Empty(t, producer.on(messaging.TopicEngineCommands), "placement goes through intake, not straight to the engine")
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	userID := uuid.New()
	producer := newTopicProducer()
	svc := newTestService(t, newSvcRepo(), producer, userID, nil)

	req := limitBuyRequest(userID)
	req.AvailableBalance = dec("5")
	_, err := svc.PlaceOrder(context.Background(), req)

	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)
	assert.Empty(t, producer.on(messaging.TopicOrderIntake))
}

func TestPlaceOrderValidationFailureNotPublished(t *testing.T) {
	userID := uuid.New()
	producer := newTopicProducer()
	svc := newTestService(t, newSvcRepo(), producer, userID, nil)

	req := limitBuyRequest(userID)
	req.Price = decimal.Zero
	_, err := svc.PlaceOrder(context.Background(), req)

	_, ok := pkgerrors.IsValidation(err)
	assert.True(t, ok)
	assert.Empty(t, producer.on(messaging.TopicOrderIntake))
}

func TestPlaceOrderReducingPositionCredit(t *testing.T) {
	userID := uuid.New()
	producer := newTopicProducer()
	positions := &fixedPositions{pos: &margin.Position{
		Side:   model.OrderSideSell,
		Size:   dec("1"),
		Margin: dec("20"),
	}}
	svc := newTestService(t, newSvcRepo(), producer, userID, positions)

	req := limitBuyRequest(userID)
	req.AvailableBalance = decimal.Zero
	order, err := svc.PlaceOrder(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, order.Margin.IsZero(), "fully offset by the short position, got %s", order.Margin)
}

func TestPlaceOrderReduceOnlySkipsBalanceCheck(t *testing.T) {
	userID := uuid.New()
	producer := newTopicProducer()
	svc := newTestService(t, newSvcRepo(), producer, userID, nil)

	req := limitBuyRequest(userID)
	req.ReduceOnly = true
	req.AvailableBalance = decimal.Zero
	_, err := svc.PlaceOrder(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, producer.on(messaging.TopicOrderIntake), 1)
}

func TestGetOrderByEitherReference(t *testing.T) {
	userID := uuid.New()
	order := &model.Order{
		ID:            42,
		ClientOrderID: model.NewClientOrderID(),
		UserID:        userID,
		Symbol:        "BTCUSDT",
		Status:        model.OrderStatusActive,
		CreatedAt:     time.Now(),
	}
	svc := newTestService(t, newSvcRepo(order), newTopicProducer(), userID, nil)
	ctx := context.Background()

	got, err := svc.GetOrder(ctx, userID, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)

	got, err = svc.GetOrder(ctx, userID, order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)

	_, err = svc.GetOrder(ctx, userID, "nonsense")
	assert.ErrorIs(t, err, pkgerrors.ErrOrderNotFound)

	_, err = svc.GetOrder(ctx, uuid.New(), "42")
	assert.ErrorIs(t, err, pkgerrors.ErrOrderNotFound, "orders are scoped to their owner")
}

func TestListOpenOrdersReturnsPageAndTotal(t *testing.T) {
	userID := uuid.New()
	var rows []*model.Order
	for i := int64(1); i <= 5; i++ {
		rows = append(rows, cancelTarget(userID, i, model.TriggerNone, model.ContractLinear))
	}
	rows[4].Side = model.OrderSideSell
	svc := newTestService(t, newSvcRepo(rows...), newTopicProducer(), userID, nil)
	ctx := context.Background()

	page, total, err := svc.ListOpenOrders(ctx, userID, model.OrderFilter{}, cache.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 5, total, "total counts the filtered set, not the page")

	page, total, err = svc.ListOpenOrders(ctx, userID, model.OrderFilter{}, cache.Page{Number: 3, Size: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Equal(t, 5, total)

	// Filters shrink the total before pagination.
	page, total, err = svc.ListOpenOrders(ctx, userID, model.OrderFilter{Side: model.OrderSideBuy}, cache.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Len(t, page, 4)
	assert.Equal(t, 4, total)
}

func cancelTarget(userID uuid.UUID, id int64, triggerType, contractType string) *model.Order {
	return &model.Order{
		ID:            id,
		ClientOrderID: model.NewClientOrderID(),
		UserID:        userID,
		Symbol:        "BTCUSDT",
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeLimit,
		TriggerType:   triggerType,
		ContractType:  contractType,
		Status:        model.OrderStatusActive,
		CreatedAt:     time.Now(),
	}
}

func TestCancelAllScopes(t *testing.T) {
	userID := uuid.New()
	limit := cancelTarget(userID, 1, model.TriggerNone, model.ContractLinear)
	stop := cancelTarget(userID, 2, model.TriggerStopMarket, model.ContractLinear)
	inverse := cancelTarget(userID, 3, model.TriggerNone, model.ContractInverse)
	producer := newTopicProducer()
	svc := newTestService(t, newSvcRepo(limit, stop, inverse), producer, userID, nil)

	canceled, err := svc.CancelAll(context.Background(), CancelAllRequest{
		UserID:         userID,
		CancelType:     CancelAllTypeLimit,
		ContractFamily: model.ContractLinear,
	})

	require.NoError(t, err)
	require.Len(t, canceled, 1)
	assert.Equal(t, int64(1), canceled[0].ID)
	require.Len(t, producer.on(messaging.TopicEngineCommands), 1)
}

func TestCancelAllTriggerScope(t *testing.T) {
	userID := uuid.New()
	limit := cancelTarget(userID, 1, model.TriggerNone, model.ContractLinear)
	stop := cancelTarget(userID, 2, model.TriggerStopMarket, model.ContractLinear)
	trailing := cancelTarget(userID, 3, model.TriggerTrailingStop, model.ContractLinear)
	producer := newTopicProducer()
	svc := newTestService(t, newSvcRepo(limit, stop, trailing), producer, userID, nil)

	canceled, err := svc.CancelAll(context.Background(), CancelAllRequest{
		UserID:     userID,
		CancelType: CancelAllTypeTrigger,
	})

	require.NoError(t, err)
	assert.Len(t, canceled, 2)
	assert.Len(t, producer.on(messaging.TopicEngineCommands), 2)
}

func TestCancelAllSkipsFailingRows(t *testing.T) {
	userID := uuid.New()
	ok := cancelTarget(userID, 1, model.TriggerNone, model.ContractLinear)
	ghost := cancelTarget(userID, 2, model.TriggerNone, model.ContractLinear)
	repo := newSvcRepo(ok, ghost)
	// The ghost row vanishes between the listing and the cancel lookup.
	delete(repo.byID, ghost.ID)
	producer := newTopicProducer()
	svc := newTestService(t, repo, producer, userID, nil)

	canceled, err := svc.CancelAll(context.Background(), CancelAllRequest{
		UserID:     userID,
		CancelType: CancelAllTypeAll,
	})

	require.NoError(t, err)
	require.Len(t, canceled, 1)
	assert.Equal(t, int64(1), canceled[0].ID)
}
