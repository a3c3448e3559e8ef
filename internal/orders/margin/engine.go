// Package margin computes the margin an order must reserve against its
// account before the matching engine will accept it. All arithmetic is
// arbitrary-precision decimal; the engine itself never returns business
// errors — callers compare the returned cost against available balance.
package margin

import (
	"github.com/shopspring/decimal"

	"github.com/helioex/orderdesk/internal/orders/model"
)

var two = decimal.NewFromInt(2)

// Inputs carries everything the cost computation needs. Price is the order's
// limit price; market and stop-market orders pass zero and are valued at the
// mark price. Validation guarantees MarkPrice and Leverage are positive.
type Inputs struct {
	Side         string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Leverage     decimal.Decimal
	MarkPrice    decimal.Decimal
	Multiplier   decimal.Decimal
	TakerFeeRate decimal.Decimal
	Inverse      bool
}

// Position is the account's current exposure in the instrument.
// BuyOrderMargin and SellOrderMargin are the running cross-margin offsets
// accrued from resting unfilled orders on each side.
type Position struct {
	Side            string
	Size            decimal.Decimal
	Margin          decimal.Decimal
	BuyOrderMargin  decimal.Decimal
	SellOrderMargin decimal.Decimal
}

// IsFlat reports whether the position holds no exposure.
func (p *Position) IsFlat() bool {
	return p == nil || p.Size.IsZero()
}

// OrderValue returns the notional value of the order: qty * multiplier *
// price for linear contracts, qty * multiplier / price for inverse ones.
func OrderValue(in Inputs) decimal.Decimal {
	px := in.Price
	if px.IsZero() {
		px = in.MarkPrice
	}
	notional := in.Quantity.Mul(in.Multiplier)
	if in.Inverse {
		return notional.Div(px)
	}
	return notional.Mul(px)
}

// ComputeCost returns the margin the order reserves. With no (or a flat)
// position the cost is the full opening cost. Against a position, orders on
// the same side add their full opening cost while opposite-side orders are
// credited with the margin they would free, floored at zero.
func ComputeCost(in Inputs, pos *Position) decimal.Decimal {
	raw := openCost(in)
	if pos.IsFlat() {
		return raw
	}
	if in.Side == pos.Side {
		return raw
	}
	credit := reducingCredit(in.Side, pos)
	cost := raw.Sub(credit)
	if cost.Sign() < 0 {
		return decimal.Zero
	}
	return cost
}

// openCost is the no-position cost: initial margin at the order's leverage
// plus fee headroom, plus the immediate mark-divergence loss on the adverse
// side. The buy and sell multipliers are precomputed per unit of quantity;
// inverse contracts divide by the price product where linear ones multiply
// by the price difference.
func openCost(in Inputs) decimal.Decimal {
	px := in.Price
	if px.IsZero() {
		px = in.MarkPrice
	}
	imRate := decimal.NewFromInt(1).Div(in.Leverage).Add(in.TakerFeeRate.Mul(two))

	var buyMultiplier, sellMultiplier decimal.Decimal
	if in.Inverse {
		base := imRate.Div(px)
		priceProduct := px.Mul(in.MarkPrice)
		buyMultiplier = base.Add(positivePart(px.Sub(in.MarkPrice)).Div(priceProduct))
		sellMultiplier = base.Add(positivePart(in.MarkPrice.Sub(px)).Div(priceProduct))
	} else {
		base := px.Mul(imRate)
		buyMultiplier = base.Add(positivePart(px.Sub(in.MarkPrice)))
		sellMultiplier = base.Add(positivePart(in.MarkPrice.Sub(px)))
	}

	notional := in.Quantity.Mul(in.Multiplier)
	if in.Side == model.OrderSideBuy {
		return notional.Mul(buyMultiplier)
	}
	return notional.Mul(sellMultiplier)
}

// reducingCredit is the margin an opposite-side order may consume before it
// starts reserving new margin: the position's own margin adjusted by the net
// cross-margin offset of resting orders. The adjustment branches on the sign
// of the buy/sell offset difference, mirroring the no-position side split.
func reducingCredit(side string, pos *Position) decimal.Decimal {
	credit := pos.Margin
	diff := pos.BuyOrderMargin.Sub(pos.SellOrderMargin)
	switch diff.Sign() {
	case 1:
		// Resting buys dominate: they extend a long (more credit for sells)
		// and consume a short's freed margin (less credit for buys).
		if side == model.OrderSideSell {
			credit = credit.Add(diff)
		} else {
			credit = credit.Sub(diff)
		}
	case -1:
		// Resting sells dominate: the mirror image.
		if side == model.OrderSideBuy {
			credit = credit.Sub(diff)
		} else {
			credit = credit.Add(diff)
		}
	case 0:
		// Offsets balance out; the position margin alone is the credit.
	}
	return positivePart(credit)
}

func positivePart(d decimal.Decimal) decimal.Decimal {
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}
