package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountContext is the resolved account state that travels with a draft so
// the batching pipeline never re-reads the account mid-flight.
type AccountContext struct {
	AccountID        uuid.UUID       `json:"account_id"`
	UserID           uuid.UUID       `json:"user_id"`
	Email            string          `json:"email"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

// OrderDraft is a validated order-creation request consumed by the intake
// batching pipeline. The embedded order carries the temporary client id;
// TakeProfit and StopLoss, when non-zero, request sibling legs persisted
// alongside the parent.
type OrderDraft struct {
	Order      *Order          `json:"order"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	Account    AccountContext  `json:"account"`
}

// Engine command kinds.
const (
	CommandPlace  = "PLACE"
	CommandCancel = "CANCEL"
)

// EngineCommand is the message shape sent to the matching engine. PLACE
// always carries the full persisted row. CANCEL carries either the full
// order (legacy format) or the durable id alone (current format).
type EngineCommand struct {
	Kind          string    `json:"kind"`
	OrderID       int64     `json:"order_id"`
	UserID        uuid.UUID `json:"user_id"`
	Order         *Order    `json:"order,omitempty"`
	ParentOrderID *int64    `json:"parent_order_id,omitempty"`
	LinkedOrderID *int64    `json:"linked_order_id,omitempty"`
}

// PlaceCommand builds the PLACE command for a persisted row.
func PlaceCommand(o *Order) *EngineCommand {
	return &EngineCommand{
		Kind:          CommandPlace,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Order:         o,
		ParentOrderID: o.ParentOrderID,
		LinkedOrderID: o.LinkedOrderID,
	}
}

// CancelCommand builds the CANCEL command. When legacy is set the full order
// row is attached; both formats carry equivalent semantic content.
func CancelCommand(o *Order, legacy bool) *EngineCommand {
	cmd := &EngineCommand{
		Kind:    CommandCancel,
		OrderID: o.ID,
		UserID:  o.UserID,
	}
	if legacy {
		cmd.Order = o
	}
	return cmd
}
