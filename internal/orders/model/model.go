package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides, types, trigger sub-types, statuses, contract
// families, margin modes and time in force options.
const (
	// Order sides
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	// Order types
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	// Trigger sub-types for conditional and TP/SL orders
	TriggerNone             = "NONE"
	TriggerStopLimit        = "STOP_LIMIT"
	TriggerStopMarket       = "STOP_MARKET"
	TriggerTakeProfitMarket = "TAKE_PROFIT_MARKET"
	TriggerTrailingStop     = "TRAILING_STOP"

	// Contract families
	ContractLinear  = "LINEAR"
	ContractInverse = "INVERSE"

	// Margin modes
	MarginModeCross    = "CROSS"
	MarginModeIsolated = "ISOLATED"

	// Order statuses
	OrderStatusPending     = "PENDING"
	OrderStatusUntriggered = "UNTRIGGERED"
	OrderStatusActive      = "ACTIVE"
	OrderStatusFilled      = "FILLED"
	OrderStatusCanceled    = "CANCELED"

	// Time in force
	TimeInForceGTC = "GTC"
	TimeInForceIOC = "IOC"
)

// ClientOrderIDPrefix marks caller-generated temporary identifiers. Durable
// ids are numeric, so the prefix makes the two reference kinds unambiguous.
const ClientOrderIDPrefix = "co_"

// NewClientOrderID generates a fresh temporary identifier. Ids are never
// reused; the durable id assigned at persistence time stays resolvable
// through the temporary id.
func NewClientOrderID() string {
	return ClientOrderIDPrefix + uuid.NewString()
}

// IsClientOrderID reports whether ref is a temporary client identifier as
// opposed to a durable numeric id.
func IsClientOrderID(ref string) bool {
	return strings.HasPrefix(ref, ClientOrderIDPrefix)
}

// OpenStatuses are the non-terminal statuses a resting or not-yet-placed
// order can be in.
var OpenStatuses = []string{OrderStatusPending, OrderStatusUntriggered, OrderStatusActive}

// Order is the central entity: one row per order in the record store,
// including hidden TP/SL legs.
type Order struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ClientOrderID string    `json:"client_order_id" gorm:"uniqueIndex;size:64"`
	UserID        uuid.UUID `json:"user_id" gorm:"type:uuid;index:idx_orders_user_status"`
	AccountID     uuid.UUID `json:"account_id" gorm:"type:uuid"`
	Symbol        string    `json:"symbol" gorm:"size:32;index"`

	Side         string `json:"side" gorm:"size:8"`
	Type         string `json:"type" gorm:"size:16"`
	TriggerType  string `json:"trigger_type" gorm:"size:24"`
	ContractType string `json:"contract_type" gorm:"size:16"`
	TimeInForce  string `json:"time_in_force" gorm:"size:8"`
	MarginMode   string `json:"margin_mode" gorm:"size:16"`

	Quantity        decimal.Decimal `json:"quantity" gorm:"type:numeric(36,18)"`
	Remaining       decimal.Decimal `json:"remaining" gorm:"type:numeric(36,18)"`
	Price           decimal.Decimal `json:"price" gorm:"type:numeric(36,18)"`
	TriggerPrice    decimal.Decimal `json:"trigger_price" gorm:"type:numeric(36,18)"`
	ActivationPrice decimal.Decimal `json:"activation_price" gorm:"type:numeric(36,18)"`
	CallbackRate    decimal.Decimal `json:"callback_rate" gorm:"type:numeric(12,8)"`
	Leverage        decimal.Decimal `json:"leverage" gorm:"type:numeric(12,4)"`
	Margin          decimal.Decimal `json:"margin" gorm:"type:numeric(36,18)"`
	OrderValue      decimal.Decimal `json:"order_value" gorm:"type:numeric(36,18)"`

	ParentOrderID       *int64 `json:"parent_order_id,omitempty" gorm:"index"`
	LinkedOrderID       *int64 `json:"linked_order_id,omitempty"`
	ParentClientOrderID string `json:"parent_client_order_id,omitempty" gorm:"size:64"`
	ReduceOnly          bool   `json:"reduce_only"`
	Hidden              bool   `json:"hidden"`
	PostOnly            bool   `json:"post_only"`
	IsBot               bool   `json:"is_bot"`

	Status    string    `json:"status" gorm:"size:16;index:idx_orders_user_status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the GORM table name.
func (Order) TableName() string { return "orders" }

// IsTerminal reports whether the order has reached a final status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCanceled
}

// IsLeg reports whether the order is a hidden TP/SL child leg.
func (o *Order) IsLeg() bool {
	return o.Hidden && o.ParentOrderID != nil
}

// OppositeSide returns the inverse of a side string.
func OppositeSide(side string) string {
	if side == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}
