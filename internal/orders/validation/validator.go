// Package validation normalizes an inbound order request into a canonical
// order draft. Each order shape gets its own branch: fields that are not
// meaningful for the shape are stripped, required companion fields are
// enforced, and prices and quantities are checked against instrument
// reference data before anything reaches the batching pipeline.
package validation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helioex/orderdesk/internal/orders/model"
	"github.com/helioex/orderdesk/internal/refdata"
	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

// Trigger kinds accepted on the wire. TAKE_PROFIT and STOP_LOSS describe the
// order itself being a conditional TP/SL order; the TakeProfit/StopLoss
// request fields instead attach child legs to a plain order.
const (
	TriggerKindNone       = ""
	TriggerKindStop       = "STOP"
	TriggerKindTakeProfit = "TAKE_PROFIT"
	TriggerKindStopLoss   = "STOP_LOSS"
	TriggerKindTrailing   = "TRAILING"
)

// maxPercent caps percentage-sized market orders: 100% is clamped to 99.5%
// to leave rounding headroom.
var maxPercent = decimal.RequireFromString("0.995")

// Request is the raw inbound order request plus resolved account context.
type Request struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	Email     string
	Symbol    string

	Side        string
	Type        string
	TriggerKind string
	TimeInForce string

	Quantity        decimal.Decimal
	QuantityPercent decimal.Decimal // market orders sized as a balance fraction
	Price           decimal.Decimal
	TriggerPrice    decimal.Decimal
	ActivationPrice decimal.Decimal
	CallbackRate    decimal.Decimal

	TakeProfit decimal.Decimal // attached TP leg trigger price
	StopLoss   decimal.Decimal // attached SL leg trigger price

	PostOnly   bool
	ReduceOnly bool
	IsBot      bool

	AvailableBalance decimal.Decimal
	ClientOrderID    string
}

// Validator builds canonical order drafts from raw requests.
type Validator struct {
	refdata refdata.Provider
	logger  *zap.Logger
}

// New creates a Validator over the given reference data provider.
func New(provider refdata.Provider, logger *zap.Logger) *Validator {
	return &Validator{refdata: provider, logger: logger}
}

// Validate normalizes and validates the request, returning a draft ready for
// the intake pipeline. All failures are synchronous and never retried.
func (v *Validator) Validate(ctx context.Context, req *Request) (*model.OrderDraft, error) {
	inst, err := v.refdata.Instrument(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	rule, err := v.refdata.TradingRule(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	mark, err := v.refdata.MarkPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if mark.Sign() <= 0 {
		return nil, pkgerrors.NewValidation(pkgerrors.KindPriceOutOfBounds,
			"mark price unavailable for %s", req.Symbol)
	}
	setting, err := v.refdata.MarginSetting(ctx, req.UserID, req.Symbol)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		ClientOrderID: req.ClientOrderID,
		UserID:        req.UserID,
		AccountID:     req.AccountID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		ContractType:  inst.ContractType,
		TimeInForce:   req.TimeInForce,
		MarginMode:    setting.MarginMode,
		Leverage:      setting.Leverage,
		ReduceOnly:    req.ReduceOnly,
		IsBot:         req.IsBot,
		Status:        model.OrderStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = model.NewClientOrderID()
	}
	if order.TimeInForce == "" {
		order.TimeInForce = model.TimeInForceGTC
	}
	if req.Side != model.OrderSideBuy && req.Side != model.OrderSideSell {
		return nil, pkgerrors.NewValidation(pkgerrors.KindUnknownOrderShape, "side %q", req.Side)
	}

	// Branch precedence over the order shape.
	switch {
	case req.TriggerKind == TriggerKindTrailing:
		err = v.applyTrailingStop(order, req, mark)
	case req.PostOnly && req.Type == model.OrderTypeLimit && req.TriggerKind == TriggerKindNone:
		err = v.applyPostOnlyLimit(order, req)
	case req.TriggerKind == TriggerKindStop && req.Type == model.OrderTypeLimit:
		err = v.applyStopLimit(order, req)
	case req.TriggerKind == TriggerKindStop && req.Type == model.OrderTypeMarket:
		err = v.applyStopMarket(order, req)
	case req.TriggerKind == TriggerKindTakeProfit && req.Type == model.OrderTypeLimit:
		err = v.applyTakeProfitLimit(order, req, mark)
	case req.TriggerKind == TriggerKindStopLoss && req.Type == model.OrderTypeLimit:
		err = v.applyStopLossLimit(order, req, mark)
	case req.TriggerKind == TriggerKindTakeProfit && req.Type == model.OrderTypeMarket:
		err = v.applyTakeProfitMarket(order, req, mark)
	case req.TriggerKind == TriggerKindStopLoss && req.Type == model.OrderTypeMarket:
		err = v.applyStopLossMarket(order, req, mark)
	case req.Type == model.OrderTypeLimit:
		err = v.applyLimit(order, req)
	case req.Type == model.OrderTypeMarket:
		err = v.applyMarket(order, req)
	default:
		err = pkgerrors.NewValidation(pkgerrors.KindUnknownOrderShape,
			"type %q trigger %q", req.Type, req.TriggerKind)
	}
	if err != nil {
		return nil, err
	}

	if err := v.resolveQuantity(order, req, inst, setting.Leverage, mark); err != nil {
		return nil, err
	}
	if err := v.checkBounds(order, inst, rule); err != nil {
		return nil, err
	}
	if err := v.checkAttachedLegs(req, mark); err != nil {
		return nil, err
	}
	order.Remaining = order.Quantity

	return &model.OrderDraft{
		Order:      order,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		Account: model.AccountContext{
			AccountID:        req.AccountID,
			UserID:           req.UserID,
			Email:            req.Email,
			AvailableBalance: req.AvailableBalance,
		},
	}, nil
}

func (v *Validator) applyLimit(o *model.Order, req *Request) error {
	if req.Price.Sign() <= 0 {
		return pkgerrors.NewValidation(pkgerrors.KindMissingPrice, "limit order requires a price")
	}
	o.Type = model.OrderTypeLimit
	o.TriggerType = model.TriggerNone
	o.Price = req.Price
	return nil
}

func (v *Validator) applyPostOnlyLimit(o *model.Order, req *Request) error {
	if err := v.applyLimit(o, req); err != nil {
		return err
	}
	o.PostOnly = true
	return nil
}

// applyMarket strips the limit price and forces IOC.
func (v *Validator) applyMarket(o *model.Order, req *Request) error {
	o.Type = model.OrderTypeMarket
	o.TriggerType = model.TriggerNone
	o.Price = decimal.Zero
	o.TimeInForce = model.TimeInForceIOC
	o.PostOnly = false
	return nil
}

func (v *Validator) applyStopLimit(o *model.Order, req *Request) error {
	if req.TriggerPrice.Sign() <= 0 {
		return pkgerrors.NewValidation(pkgerrors.KindMissingTriggerPrice, "stop-limit order requires a trigger price")
	}
	if req.Price.Sign() <= 0 {
		return pkgerrors.NewValidation(pkgerrors.KindMissingPrice, "stop-limit order requires a limit price")
	}
	o.Type = model.OrderTypeLimit
	o.TriggerType = model.TriggerStopLimit
	o.Price = req.Price
	o.TriggerPrice = req.TriggerPrice
	o.Status = model.OrderStatusUntriggered
	return nil
}

func (v *Validator) applyStopMarket(o *model.Order, req *Request) error {
	if req.TriggerPrice.Sign() <= 0 {
		return pkgerrors.NewValidation(pkgerrors.KindMissingTriggerPrice, "stop-market order requires a trigger price")
	}
	o.Type = model.OrderTypeMarket
	o.TriggerType = model.TriggerStopMarket
	o.Price = decimal.Zero
	o.TriggerPrice = req.TriggerPrice
	o.TimeInForce = model.TimeInForceIOC
	o.Status = model.OrderStatusUntriggered
	return nil
}

// requireStopCondition guards the TP/SL order shapes: unlike a plain stop,
// their trigger price is the stop condition itself.
func requireStopCondition(req *Request) error {
	if req.TriggerPrice.Sign() <= 0 {
		return pkgerrors.NewValidation(pkgerrors.KindMissingStopCondition,
			"%s order requires a stop condition", req.TriggerKind)
	}
	return nil
}

func (v *Validator) applyTakeProfitLimit(o *model.Order, req *Request, mark decimal.Decimal) error {
	if err := requireStopCondition(req); err != nil {
		return err
	}
	if err := v.applyStopLimit(o, req); err != nil {
		return err
	}
	if err := checkTakeProfitDirection(req.Side, req.TriggerPrice, mark); err != nil {
		return err
	}
	o.TriggerType = model.TriggerTakeProfitMarket
	return nil
}

func (v *Validator) applyStopLossLimit(o *model.Order, req *Request, mark decimal.Decimal) error {
	if err := requireStopCondition(req); err != nil {
		return err
	}
	if err := v.applyStopLimit(o, req); err != nil {
		return err
	}
	return checkStopLossDirection(req.Side, req.TriggerPrice, mark)
}

func (v *Validator) applyTakeProfitMarket(o *model.Order, req *Request, mark decimal.Decimal) error {
	if err := requireStopCondition(req); err != nil {
		return err
	}
	if err := v.applyStopMarket(o, req); err != nil {
		return err
	}
	if err := checkTakeProfitDirection(req.Side, req.TriggerPrice, mark); err != nil {
		return err
	}
	o.TriggerType = model.TriggerTakeProfitMarket
	return nil
}

func (v *Validator) applyStopLossMarket(o *model.Order, req *Request, mark decimal.Decimal) error {
	if err := requireStopCondition(req); err != nil {
		return err
	}
	if err := v.applyStopMarket(o, req); err != nil {
		return err
	}
	return checkStopLossDirection(req.Side, req.TriggerPrice, mark)
}

func (v *Validator) applyTrailingStop(o *model.Order, req *Request, mark decimal.Decimal) error {
	if req.CallbackRate.Sign() <= 0 || req.CallbackRate.GreaterThan(decimal.NewFromInt(1)) {
		return pkgerrors.NewValidation(pkgerrors.KindInvalidCallbackRate,
			"callback rate must be in (0, 1], got %s", req.CallbackRate)
	}
	o.Type = model.OrderTypeMarket
	o.TriggerType = model.TriggerTrailingStop
	o.Price = decimal.Zero
	o.TriggerPrice = decimal.Zero
	o.CallbackRate = req.CallbackRate
	o.ActivationPrice = req.ActivationPrice
	if o.ActivationPrice.IsZero() {
		o.ActivationPrice = mark
	}
	o.TimeInForce = model.TimeInForceIOC
	o.Status = model.OrderStatusUntriggered
	return nil
}

// resolveQuantity fixes the order quantity, converting percentage-sized
// market orders into an absolute quantity from available balance, leverage
// and mark price, floored to the instrument's quantity precision.
func (v *Validator) resolveQuantity(o *model.Order, req *Request, inst *refdata.Instrument, leverage, mark decimal.Decimal) error {
	if o.Type == model.OrderTypeMarket && req.QuantityPercent.Sign() > 0 {
		pct := req.QuantityPercent
		if pct.GreaterThan(decimal.NewFromInt(1)) {
			return pkgerrors.NewValidation(pkgerrors.KindInvalidPercent, "percent %s exceeds 100%%", pct)
		}
		if pct.Equal(decimal.NewFromInt(1)) {
			pct = maxPercent
		}
		qty := req.AvailableBalance.Mul(pct).Mul(leverage).Div(mark)
		o.Quantity = qty.RoundFloor(inst.QtyDecimals)
		return nil
	}
	o.Quantity = req.Quantity
	return nil
}

// checkBounds enforces precision limits and min/max quantity and price
// against the instrument and trading rule.
func (v *Validator) checkBounds(o *model.Order, inst *refdata.Instrument, rule *refdata.TradingRule) error {
	if o.Quantity.Sign() <= 0 || o.Quantity.LessThan(rule.MinQuantity) {
		return pkgerrors.NewValidation(pkgerrors.KindQuantityTooSmall,
			"quantity %s below minimum %s", o.Quantity, rule.MinQuantity)
	}
	if rule.MaxQuantity.Sign() > 0 && o.Quantity.GreaterThan(rule.MaxQuantity) {
		return pkgerrors.NewValidation(pkgerrors.KindQuantityTooLarge,
			"quantity %s above maximum %s", o.Quantity, rule.MaxQuantity)
	}
	// Compare against the truncated value so trailing zeros never count as
	// extra precision.
	if !o.Quantity.Equal(o.Quantity.Truncate(inst.QtyDecimals)) {
		return pkgerrors.NewValidation(pkgerrors.KindQuantityPrecision,
			"quantity %s exceeds %d decimals", o.Quantity, inst.QtyDecimals)
	}
	for _, px := range []decimal.Decimal{o.Price, o.TriggerPrice, o.ActivationPrice} {
		if px.IsZero() {
			continue
		}
		if !px.Equal(px.Truncate(inst.PriceDecimals)) {
			return pkgerrors.NewValidation(pkgerrors.KindPricePrecision,
				"price %s exceeds %d decimals", px, inst.PriceDecimals)
		}
		if px.LessThan(rule.MinPrice) || (rule.MaxPrice.Sign() > 0 && px.GreaterThan(rule.MaxPrice)) {
			return pkgerrors.NewValidation(pkgerrors.KindPriceOutOfBounds,
				"price %s outside [%s, %s]", px, rule.MinPrice, rule.MaxPrice)
		}
	}
	return nil
}

// checkAttachedLegs applies the directional sanity checks to attached TP/SL
// leg prices relative to the current reference price.
func (v *Validator) checkAttachedLegs(req *Request, mark decimal.Decimal) error {
	if req.TakeProfit.Sign() > 0 {
		if err := checkTakeProfitDirection(req.Side, req.TakeProfit, mark); err != nil {
			return err
		}
	}
	if req.StopLoss.Sign() > 0 {
		if err := checkStopLossDirection(req.Side, req.StopLoss, mark); err != nil {
			return err
		}
	}
	return nil
}

// The four directional sign checks: a buy take-profit must trigger above the
// reference price and a buy stop-loss below it; sells mirror both.
func checkTakeProfitDirection(side string, trigger, mark decimal.Decimal) error {
	if side == model.OrderSideBuy && trigger.LessThanOrEqual(mark) {
		return pkgerrors.NewValidation(pkgerrors.KindInvalidTriggerPrice,
			"buy take-profit %s must be above reference price %s", trigger, mark)
	}
	if side == model.OrderSideSell && trigger.GreaterThanOrEqual(mark) {
		return pkgerrors.NewValidation(pkgerrors.KindInvalidTriggerPrice,
			"sell take-profit %s must be below reference price %s", trigger, mark)
	}
	return nil
}

func checkStopLossDirection(side string, trigger, mark decimal.Decimal) error {
	if side == model.OrderSideBuy && trigger.GreaterThanOrEqual(mark) {
		return pkgerrors.NewValidation(pkgerrors.KindInvalidTriggerPrice,
			"buy stop-loss %s must be below reference price %s", trigger, mark)
	}
	if side == model.OrderSideSell && trigger.LessThanOrEqual(mark) {
		return pkgerrors.NewValidation(pkgerrors.KindInvalidTriggerPrice,
			"sell stop-loss %s must be above reference price %s", trigger, mark)
	}
	return nil
}
