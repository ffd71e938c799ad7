package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionStatus is OPEN until a closing order fills.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is an exposure created by an opening fill and closed by a closing
// fill. At most one OPEN position exists per symbol.
type Position struct {
	ID           uuid.UUID        `json:"id"             db:"id"`
	Symbol       string           `json:"symbol"         db:"symbol"`
	Side         Side             `json:"side"           db:"side"`
	Size         decimal.Decimal  `json:"size"           db:"size"`
	EntryPrice   decimal.Decimal  `json:"entry_price"    db:"entry_price"`
	Status       PositionStatus   `json:"status"         db:"status"`
	OpenedAt     time.Time        `json:"opened_at"      db:"opened_at"`
	ClosedAt     *time.Time       `json:"closed_at"      db:"closed_at"`
	ClosePrice   *decimal.Decimal `json:"close_price"    db:"close_price"`
	PnL          *decimal.Decimal `json:"pnl"            db:"pnl"`
	OpenOrderID  uuid.UUID        `json:"open_order_id"  db:"open_order_id"`
	CloseOrderID *uuid.UUID       `json:"close_order_id" db:"close_order_id"`
}

// NewPosition opens a position from a filled opening order.
func NewPosition(o *Order, entry decimal.Decimal, at time.Time) *Position {
	return &Position{
		ID:          uuid.New(),
		Symbol:      o.Symbol,
		Side:        o.Side,
		Size:        o.Size,
		EntryPrice:  entry,
		Status:      PositionOpen,
		OpenedAt:    at,
		OpenOrderID: o.ID,
	}
}

// ComputePnL returns the realized profit of moving size from entry to exit.
func ComputePnL(side Side, entry, exit, size decimal.Decimal) decimal.Decimal {
	if side == SideShort {
		return entry.Sub(exit).Mul(size)
	}
	return exit.Sub(entry).Mul(size)
}

// UnrealizedPnL marks the open position to mark.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return ComputePnL(p.Side, p.EntryPrice, mark, p.Size)
}

// Close sets the close fields and returns the realized P&L.
func (p *Position) Close(price decimal.Decimal, orderID uuid.UUID, at time.Time) (decimal.Decimal, error) {
	if p.Status != PositionOpen {
		return decimal.Zero, fmt.Errorf("position %s is already %s", p.ID, p.Status)
	}
	pnl := ComputePnL(p.Side, p.EntryPrice, price, p.Size)
	p.Status = PositionClosed
	p.ClosedAt = &at
	p.ClosePrice = &price
	p.PnL = &pnl
	p.CloseOrderID = &orderID
	return pnl, nil
}

// IntegrityError returns a non-empty description when the persisted row is
// not internally consistent.
func (p *Position) IntegrityError() string {
	switch {
	case p.Symbol == "":
		return "empty symbol"
	case !p.Side.IsValid():
		return fmt.Sprintf("invalid side %q", p.Side)
	case !p.Size.IsPositive():
		return fmt.Sprintf("non-positive size %s", p.Size)
	case !p.EntryPrice.IsPositive():
		return fmt.Sprintf("non-positive entry price %s", p.EntryPrice)
	}
	switch p.Status {
	case PositionOpen:
		if p.ClosedAt != nil || p.PnL != nil {
			return "open position carries close data"
		}
	case PositionClosed:
		if p.ClosedAt == nil || p.PnL == nil {
			return "closed position is missing closed_at or pnl"
		}
	default:
		return fmt.Sprintf("invalid status %q", p.Status)
	}
	return ""
}
