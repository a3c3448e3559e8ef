// Package orders exposes the order lifecycle API: placement through
// validation and margin checks, open-order reads off the cache, and
// cancellation through the coordinator.
package orders

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helioex/orderdesk/internal/infrastructure/messaging"
	"github.com/helioex/orderdesk/internal/orders/cache"
	"github.com/helioex/orderdesk/internal/orders/cancel"
	"github.com/helioex/orderdesk/internal/orders/margin"
	"github.com/helioex/orderdesk/internal/orders/model"
	"github.com/helioex/orderdesk/internal/orders/validation"
	"github.com/helioex/orderdesk/internal/refdata"
	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

// PositionSource reports the caller's current position on a symbol so the
// margin engine can offset reducing orders. A nil position means flat.
type PositionSource interface {
	Position(ctx context.Context, userID uuid.UUID, symbol string) (*margin.Position, error)
}

// Cancel-all scopes.
const (
	CancelAllTypeAll     = "ALL"
	CancelAllTypeLimit   = "LIMIT"
	CancelAllTypeTrigger = "TRIGGER"
)

// CancelAllRequest scopes a bulk cancellation.
type CancelAllRequest struct {
	UserID         uuid.UUID
	CancelType     string // ALL, LIMIT or TRIGGER
	ContractFamily string // empty, LINEAR or INVERSE
	Bot            bool
}

// Service is the order lifecycle facade.
type Service struct {
	validator   *validation.Validator
	refdata     refdata.Provider
	positions   PositionSource
	repo        model.Repository
	cache       *cache.OpenCache
	coordinator *cancel.Coordinator
	producer    messaging.Producer
	logger      *zap.Logger
}

// NewService wires the lifecycle components. positions and cache may be nil;
// a nil position source treats every account as flat, a nil cache sends list
// reads to the record store.
func NewService(
	validator *validation.Validator,
	provider refdata.Provider,
	positions PositionSource,
	repo model.Repository,
	openCache *cache.OpenCache,
	coordinator *cancel.Coordinator,
	producer messaging.Producer,
	logger *zap.Logger,
) *Service {
	return &Service{
		validator:   validator,
		refdata:     provider,
		positions:   positions,
		repo:        repo,
		cache:       openCache,
		coordinator: coordinator,
		producer:    producer,
		logger:      logger,
	}
}

// PlaceOrder validates the request, prices its margin cost against the
// available balance, and hands the draft to the intake pipeline via the
// intake topic. The returned order is PENDING under its temporary client id;
// the durable id exists only after the pipeline flushes the row.
func (s *Service) PlaceOrder(ctx context.Context, req *validation.Request) (*model.Order, error) {
	draft, err := s.validator.Validate(ctx, req)
	if err != nil {
		return nil, err
	}

	cost, value, err := s.priceMargin(ctx, draft)
	if err != nil {
		return nil, err
	}
	if !draft.Order.ReduceOnly && cost.GreaterThan(draft.Account.AvailableBalance) {
		return nil, fmt.Errorf("margin cost %s exceeds balance %s: %w",
			cost, draft.Account.AvailableBalance, pkgerrors.ErrInsufficientBalance)
	}
	draft.Order.Margin = cost
	draft.Order.OrderValue = value

	if err := s.producer.Publish(ctx, messaging.TopicOrderIntake, draft.Order.UserID.String(), draft); err != nil {
		return nil, fmt.Errorf("failed to submit order draft: %w", err)
	}

	s.logger.Info("Order draft accepted",
		zap.String("client_order_id", draft.Order.ClientOrderID),
		zap.String("user_id", draft.Order.UserID.String()),
		zap.String("symbol", draft.Order.Symbol),
		zap.String("side", draft.Order.Side),
		zap.String("type", draft.Order.Type),
		zap.String("margin", cost.String()))
	return draft.Order, nil
}

// priceMargin computes the order's margin cost and notional value from the
// instrument reference data and the caller's current position.
func (s *Service) priceMargin(ctx context.Context, draft *model.OrderDraft) (cost, value decimal.Decimal, err error) {
	order := draft.Order
	inst, err := s.refdata.Instrument(ctx, order.Symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	mark, err := s.refdata.MarkPrice(ctx, order.Symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	var pos *margin.Position
	if s.positions != nil {
		pos, err = s.positions.Position(ctx, order.UserID, order.Symbol)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("failed to load position: %w", err)
		}
	}

	price := order.Price
	if price.IsZero() {
		// Market and trigger-market orders price at the mark.
		price = mark
	}
	in := margin.Inputs{
		Side:         order.Side,
		Quantity:     order.Quantity,
		Price:        price,
		Leverage:     order.Leverage,
		MarkPrice:    mark,
		Multiplier:   inst.Multiplier,
		TakerFeeRate: inst.TakerFeeRate,
		Inverse:      inst.ContractType == model.ContractInverse,
	}
	return margin.ComputeCost(in, pos), margin.OrderValue(in), nil
}

// ListOpenOrders returns one page of the user's visible open orders newest
// first, plus the total filtered count. The cache serves the read and
// detaches its reconcile pass; without a cache the record store answers
// directly.
func (s *Service) ListOpenOrders(ctx context.Context, userID uuid.UUID, filter model.OrderFilter, page cache.Page) ([]*model.Order, int, error) {
	if s.cache != nil {
		return s.cache.List(ctx, userID, filter, page)
	}
	orders, err := s.repo.ListOpenOrders(ctx, userID, filter)
	if err != nil {
		return nil, 0, err
	}
	return cache.Paginate(orders, page), len(orders), nil
}

// GetOrder resolves one order by durable id or temporary client id, cache
// first, falling back to the record store.
func (s *Service) GetOrder(ctx context.Context, userID uuid.UUID, orderRef string) (*model.Order, error) {
	if s.cache != nil {
		if order, err := s.cache.Get(ctx, userID, orderRef); err == nil {
			return order, nil
		}
	}
	if model.IsClientOrderID(orderRef) {
		return s.repo.GetOrderByClientID(ctx, userID, orderRef)
	}
	id, err := strconv.ParseInt(orderRef, 10, 64)
	if err != nil {
		return nil, pkgerrors.ErrOrderNotFound
	}
	return s.repo.GetOrderByID(ctx, userID, id)
}

// Cancel requests cancellation of a single order.
func (s *Service) Cancel(ctx context.Context, req cancel.Request) (*model.Order, error) {
	return s.coordinator.Cancel(ctx, req)
}

// CancelAll requests cancellation of every open order in scope and returns
// the orders a command went out for. Per-order failures are logged and
// skipped so one bad row never blocks the sweep.
func (s *Service) CancelAll(ctx context.Context, req CancelAllRequest) ([]*model.Order, error) {
	open, err := s.repo.ListOpenOrders(ctx, req.UserID, model.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	var canceled []*model.Order
	for _, order := range open {
		if !inCancelScope(order, req) {
			continue
		}
		_, err := s.coordinator.Cancel(ctx, cancel.Request{
			UserID:   req.UserID,
			OrderRef: strconv.FormatInt(order.ID, 10),
			Bot:      req.Bot,
		})
		if err != nil {
			s.logger.Warn("Skipping order in cancel-all",
				zap.Error(err), zap.Int64("order_id", order.ID))
			continue
		}
		canceled = append(canceled, order)
	}
	return canceled, nil
}

func inCancelScope(order *model.Order, req CancelAllRequest) bool {
	if req.ContractFamily != "" && order.ContractType != req.ContractFamily {
		return false
	}
	switch req.CancelType {
	case CancelAllTypeLimit:
		return order.TriggerType == model.TriggerNone
	case CancelAllTypeTrigger:
		return order.TriggerType != model.TriggerNone
	default:
		return true
	}
}
