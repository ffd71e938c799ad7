package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Side / kind / action
// ──────────────────────────────────────────────────────────────────────────────

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// IsValid returns true for LONG and SHORT.
func (s Side) IsValid() bool {
	return s == SideLong || s == SideShort
}

// SignalKind says whether a signal opens a new position or closes one.
type SignalKind string

const (
	KindOpen  SignalKind = "OPEN"
	KindClose SignalKind = "CLOSE"
)

// IsValid returns true for OPEN and CLOSE.
func (k SignalKind) IsValid() bool {
	return k == KindOpen || k == KindClose
}

// Action is the venue-side verb for an order.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ActionFor maps a position side and intent to a buy or sell.
func ActionFor(side Side, kind SignalKind) Action {
	opening := kind == KindOpen
	if (side == SideLong) == opening {
		return ActionBuy
	}
	return ActionSell
}

// ──────────────────────────────────────────────────────────────────────────────
// Signal
// ──────────────────────────────────────────────────────────────────────────────

// Signal is a certified trade instruction. Price is nil for market orders.
type Signal struct {
	ID     string           `json:"id"`
	Symbol string           `json:"symbol"`
	Side   Side             `json:"side"`
	Size   decimal.Decimal  `json:"size"`
	Price  *decimal.Decimal `json:"price,omitempty"`
	Kind   SignalKind       `json:"kind"`
}

// IsMarket returns true when the signal carries no limit price.
func (s Signal) IsMarket() bool {
	return s.Price == nil
}

// StructuralError returns a non-empty description when the signal cannot be
// executed regardless of risk state. Symbol allow-listing is checked by the
// guard since it depends on configuration.
func (s Signal) StructuralError() string {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return "signal id is empty"
	case strings.TrimSpace(s.Symbol) == "":
		return "symbol is empty"
	case !s.Side.IsValid():
		return fmt.Sprintf("unknown side %q", s.Side)
	case !s.Kind.IsValid():
		return fmt.Sprintf("unknown signal kind %q", s.Kind)
	case !s.Size.IsPositive():
		return fmt.Sprintf("size must be positive, got %s", s.Size)
	case s.Price != nil && !s.Price.IsPositive():
		return fmt.Sprintf("limit price must be positive, got %s", s.Price)
	}
	return ""
}

// String renders the signal for logs and audit messages.
func (s Signal) String() string {
	price := "market"
	if s.Price != nil {
		price = s.Price.String()
	}
	return fmt.Sprintf("%s %s %s %s %s @ %s", s.ID, s.Kind, s.Side, s.Size, s.Symbol, price)
}

// ──────────────────────────────────────────────────────────────────────────────
// OutboxRecord: one row of SIGNAL_OUTBOX
// ──────────────────────────────────────────────────────────────────────────────

// OutboxRecord is a queued certified signal. Payload holds the JSON-encoded
// Signal exactly as enqueued upstream.
type OutboxRecord struct {
	ID         string     `json:"id"          db:"id"`
	Payload    string     `json:"payload"     db:"payload"`
	Attempts   int        `json:"attempts"    db:"attempts"`
	EnqueuedAt time.Time  `json:"enqueued_at" db:"enqueued_at"`
	ConsumedAt *time.Time `json:"consumed_at" db:"consumed_at"`
}

// NewOutboxRecord encodes sig for the outbox.
func NewOutboxRecord(sig Signal, at time.Time) (*OutboxRecord, error) {
	data, err := json.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("encode signal %s: %w", sig.ID, err)
	}
	return &OutboxRecord{ID: sig.ID, Payload: string(data), EnqueuedAt: at}, nil
}

// Decode parses the payload. The record id wins over any id in the payload.
func (r *OutboxRecord) Decode() (Signal, error) {
	var sig Signal
	if err := json.Unmarshal([]byte(r.Payload), &sig); err != nil {
		return Signal{ID: r.ID}, fmt.Errorf("%w: decode payload: %v", ErrMalformedSignal, err)
	}
	sig.ID = r.ID
	return sig, nil
}
