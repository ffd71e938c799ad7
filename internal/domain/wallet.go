package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletAccount is the virtual wallet's cash balance (singleton row).
type WalletAccount struct {
	ID        int             `json:"-"          db:"id"`
	Balance   decimal.Decimal `json:"balance"    db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// WalletHolding is the virtual wallet's view of one symbol's exposure.
type WalletHolding struct {
	Symbol    string          `json:"symbol"     db:"symbol"`
	Side      Side            `json:"side"       db:"side"`
	Size      decimal.Decimal `json:"size"       db:"size"`
	AvgPrice  decimal.Decimal `json:"avg_price"  db:"avg_price"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// RestingOrder is a limit order the virtual wallet has not filled yet.
type RestingOrder struct {
	OrderRef   string          `json:"order_ref"   db:"order_ref"`
	ClientID   string          `json:"client_id"   db:"client_id"`
	Symbol     string          `json:"symbol"      db:"symbol"`
	Side       Side            `json:"side"        db:"side"`
	Intent     SignalKind      `json:"intent"      db:"intent"`
	Size       decimal.Decimal `json:"size"        db:"size"`
	LimitPrice decimal.Decimal `json:"limit_price" db:"limit_price"`
	CreatedAt  time.Time       `json:"created_at"  db:"created_at"`
}

// Action returns the buy/sell verb of the resting order.
func (o *RestingOrder) Action() Action {
	return ActionFor(o.Side, o.Intent)
}

// Crosses reports whether ref reaches the limit: buys fill at or below the
// limit, sells at or above it.
func (o *RestingOrder) Crosses(ref decimal.Decimal) bool {
	return LimitCrossed(o.Action(), o.LimitPrice, ref)
}

// LimitCrossed is the fill rule shared by immediate and resting limit orders.
func LimitCrossed(action Action, limit, ref decimal.Decimal) bool {
	if action == ActionBuy {
		return ref.LessThanOrEqual(limit)
	}
	return ref.GreaterThanOrEqual(limit)
}
