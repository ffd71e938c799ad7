package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle of an order. Every state but PENDING is final.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// IsTerminal returns true for FILLED, REJECTED and CANCELLED.
func (s OrderStatus) IsTerminal() bool {
	return s != OrderPending
}

// Order is one venue action created for an accepted signal. It is written as
// PENDING before dispatch and moved forward exactly once.
type Order struct {
	ID         uuid.UUID        `json:"id"          db:"id"`
	SignalID   string           `json:"signal_id"   db:"signal_id"`
	Symbol     string           `json:"symbol"      db:"symbol"`
	Side       Side             `json:"side"        db:"side"`
	Intent     SignalKind       `json:"intent"      db:"intent"`
	Size       decimal.Decimal  `json:"size"        db:"size"`
	Price      *decimal.Decimal `json:"price"       db:"price"`
	Status     OrderStatus      `json:"status"      db:"status"`
	FillPrice  *decimal.Decimal `json:"fill_price"  db:"fill_price"`
	OrderRef   *string          `json:"order_ref"   db:"order_ref"`
	PositionID *uuid.UUID       `json:"position_id" db:"position_id"`
	Reason     string           `json:"reason"      db:"reason"`
	CreatedAt  time.Time        `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"  db:"updated_at"`
}

// NewOrder builds the PENDING order for an accepted signal.
func NewOrder(sig Signal, now time.Time) *Order {
	return &Order{
		ID:        uuid.New(),
		SignalID:  sig.ID,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Intent:    sig.Kind,
		Size:      sig.Size,
		Price:     sig.Price,
		Status:    OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Action returns the buy/sell verb sent to the venue.
func (o *Order) Action() Action {
	return ActionFor(o.Side, o.Intent)
}

// IsMarket returns true when the order carries no limit price.
func (o *Order) IsMarket() bool {
	return o.Price == nil
}

// Ref returns the venue reference or "".
func (o *Order) Ref() string {
	if o.OrderRef == nil {
		return ""
	}
	return *o.OrderRef
}

// MarkFilled moves a pending order to FILLED.
func (o *Order) MarkFilled(price decimal.Decimal, ref string, at time.Time) error {
	if o.Status.IsTerminal() {
		return ErrOrderNotPending
	}
	o.Status = OrderFilled
	o.FillPrice = &price
	if ref != "" {
		o.OrderRef = &ref
	}
	o.UpdatedAt = at
	return nil
}

// MarkRejected moves a pending order to REJECTED with a reason.
func (o *Order) MarkRejected(reason string, at time.Time) error {
	if o.Status.IsTerminal() {
		return ErrOrderNotPending
	}
	o.Status = OrderRejected
	o.Reason = reason
	o.UpdatedAt = at
	return nil
}

// MarkCancelled moves a pending order to CANCELLED with a reason.
func (o *Order) MarkCancelled(reason string, at time.Time) error {
	if o.Status.IsTerminal() {
		return ErrOrderNotPending
	}
	o.Status = OrderCancelled
	o.Reason = reason
	o.UpdatedAt = at
	return nil
}
