// Package exchange defines the Venue abstraction the engine dispatches orders
// to, its typed failure taxonomy and the Binance spot adapter used in LIVE
// mode. The DEMO virtual wallet lives in the service package and satisfies
// the same interface.
package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Requests & results
// ──────────────────────────────────────────────────────────────────────────────

// OrderRequest is what the engine sends to a venue. ClientID is the engine
// order id and doubles as the venue idempotency key, so a retried request
// cannot execute twice.
type OrderRequest struct {
	ClientID string
	Symbol   string
	Action   domain.Action
	Side     domain.Side
	Intent   domain.SignalKind
	Size     decimal.Decimal
	Price    *decimal.Decimal // nil = market
}

// NewOrderRequest builds the request for a persisted order.
func NewOrderRequest(o *domain.Order) OrderRequest {
	return OrderRequest{
		ClientID: o.ID.String(),
		Symbol:   o.Symbol,
		Action:   o.Action(),
		Side:     o.Side,
		Intent:   o.Intent,
		Size:     o.Size,
		Price:    o.Price,
	}
}

// FillStatus is the venue's answer to a placed order.
type FillStatus string

const (
	FillFilled   FillStatus = "FILLED"
	FillPending  FillStatus = "PENDING"  // resting, a fill arrives later
	FillRejected FillStatus = "REJECTED" // venue refused the order
)

// Fill is the result of PlaceOrder or a later fill notification. ClientID
// echoes OrderRequest.ClientID when the venue reports it.
type Fill struct {
	Status    FillStatus
	FillPrice decimal.Decimal
	OrderRef  string
	ClientID  string
	Reason    string
}

// String renders the fill for logs and audit messages.
func (f *Fill) String() string {
	switch f.Status {
	case FillFilled:
		return fmt.Sprintf("FILLED @ %s ref=%s", f.FillPrice, f.OrderRef)
	case FillPending:
		return fmt.Sprintf("PENDING ref=%s", f.OrderRef)
	default:
		return fmt.Sprintf("REJECTED: %s", f.Reason)
	}
}

// VenuePosition is an exposure as the venue sees it.
type VenuePosition struct {
	Symbol string
	Side   domain.Side
	Size   decimal.Decimal
}

// VenueOrder is an order the venue still has open.
type VenueOrder struct {
	Ref      string
	ClientID string
	Symbol   string
}

// ──────────────────────────────────────────────────────────────────────────────
// Venue
// ──────────────────────────────────────────────────────────────────────────────

// Venue executes orders. A nil error with a REJECTED fill means the venue
// answered and refused; a non-nil error is an *Error classified as transient,
// fatal or systemic.
type Venue interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error)
	CancelOrder(ctx context.Context, symbol, ref string) error
	ListOpenPositions(ctx context.Context) ([]VenuePosition, error)
	ListOpenOrders(ctx context.Context) ([]VenueOrder, error)
}

// Pinger is implemented by venues that can test connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusQuerier is implemented by venues whose resting orders must be polled
// for fills.
type StatusQuerier interface {
	OrderStatus(ctx context.Context, symbol, ref string) (*Fill, error)
}

// ClientOrderLookup is implemented by venues that can find an order by the
// client id it was placed under. A nil Fill with a nil error means the venue
// never saw the order.
type ClientOrderLookup interface {
	LookupClientOrder(ctx context.Context, symbol, clientID string) (*Fill, error)
}

// Venues pairs the DEMO and LIVE venues. Live may be nil when no exchange
// credentials are configured.
type Venues struct {
	Demo Venue
	Live Venue
}

// For returns the venue serving mode.
func (v Venues) For(mode domain.Mode) (Venue, error) {
	switch mode {
	case domain.ModeDemo:
		if v.Demo == nil {
			return nil, fmt.Errorf("%w: no DEMO venue configured", domain.ErrAdapterSystemic)
		}
		return v.Demo, nil
	case domain.ModeLive:
		if v.Live == nil {
			return nil, fmt.Errorf("%w: no LIVE venue configured", domain.ErrAdapterSystemic)
		}
		return v.Live, nil
	default:
		return nil, domain.ErrInvalidMode
	}
}
