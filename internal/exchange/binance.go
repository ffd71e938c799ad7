package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
)

// codeNoSuchOrder is Binance's "Order does not exist." error code.
const codeNoSuchOrder = -2013

// BinanceClient is the LIVE venue: Binance spot REST API v3. Spot cannot
// short, so SHORT opens are rejected before reaching the exchange and every
// non-quote balance is reported as a LONG position.
type BinanceClient struct {
	baseURL    string
	quote      string
	recvWindow time.Duration
	signer     *Signer
	httpClient *http.Client

	toVenue  map[string]string // "BTC/USD" → "BTCUSDT"
	toEngine map[string]string // "BTCUSDT" → "BTC/USD"
}

// NewBinanceClient creates a client for the configured symbols.
func NewBinanceClient(cfg config.ExchangeConfig, symbols []config.SymbolConfig) *BinanceClient {
	c := &BinanceClient{
		baseURL:    strings.TrimRight(cfg.EffectiveURL(), "/"),
		quote:      cfg.QuoteAsset,
		recvWindow: cfg.RecvWindow,
		signer:     NewSigner(cfg.APIKey, cfg.APISecret),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		toVenue:    make(map[string]string, len(symbols)),
		toEngine:   make(map[string]string, len(symbols)),
	}
	for _, s := range symbols {
		c.toVenue[s.Name] = s.Binance
		c.toEngine[s.Binance] = s.Name
	}
	return c
}

// Name implements Venue.
func (c *BinanceClient) Name() string { return "binance" }

// Close wipes the API keys.
func (c *BinanceClient) Close() { c.signer.Wipe() }

// ── Wire types ────────────────────────────────────────────────────────────────

type binanceOrder struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	Price               string `json:"price"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

type binanceAccount struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ── Venue ─────────────────────────────────────────────────────────────────────

// Ping checks connectivity and credentials with an unsigned ping followed by
// a signed account read.
func (c *BinanceClient) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/api/v3/ping", nil, false, nil); err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true, &binanceAccount{})
}

// PlaceOrder implements Venue.
func (c *BinanceClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if req.Side == domain.SideShort {
		return nil, Rejected("binance spot does not support SHORT positions")
	}
	symbol, ok := c.toVenue[req.Symbol]
	if !ok {
		return nil, Rejected("symbol %s has no binance mapping", req.Symbol)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(req.Action))
	params.Set("quantity", req.Size.String())
	params.Set("newClientOrderId", req.ClientID)
	params.Set("newOrderRespType", "FULL")
	if req.Price == nil {
		params.Set("type", "MARKET")
	} else {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price.String())
	}

	var out binanceOrder
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &out); err != nil {
		return nil, err
	}
	fill := c.toFill(&out)
	slog.Info("binance: order placed", "symbol", symbol, "client_id", req.ClientID, "result", fill.String())
	return fill, nil
}

// OrderStatus implements StatusQuerier.
func (c *BinanceClient) OrderStatus(ctx context.Context, symbol, ref string) (*Fill, error) {
	venueSymbol, orderID, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("orderId", orderID)

	var out binanceOrder
	if err = c.do(ctx, http.MethodGet, "/api/v3/order", params, true, &out); err != nil {
		return nil, err
	}
	return c.toFill(&out), nil
}

// LookupClientOrder implements ClientOrderLookup. Binance answers -2013 for
// an unknown client id.
func (c *BinanceClient) LookupClientOrder(ctx context.Context, symbol, clientID string) (*Fill, error) {
	venueSymbol, ok := c.toVenue[symbol]
	if !ok {
		return nil, Rejected("symbol %s has no binance mapping", symbol)
	}
	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("origClientOrderId", clientID)

	var out binanceOrder
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true, &out); err != nil {
		var ve *Error
		if errors.As(err, &ve) && ve.Code == codeNoSuchOrder {
			return nil, nil
		}
		return nil, err
	}
	return c.toFill(&out), nil
}

// CancelOrder implements Venue.
func (c *BinanceClient) CancelOrder(ctx context.Context, _ string, ref string) error {
	venueSymbol, orderID, err := parseRef(ref)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("orderId", orderID)
	return c.do(ctx, http.MethodDelete, "/api/v3/order", params, true, nil)
}

// ListOpenOrders implements Venue. Orders on unmapped symbols are ignored.
func (c *BinanceClient) ListOpenOrders(ctx context.Context) ([]VenueOrder, error) {
	var out []binanceOrder
	if err := c.do(ctx, http.MethodGet, "/api/v3/openOrders", url.Values{}, true, &out); err != nil {
		return nil, err
	}
	orders := make([]VenueOrder, 0, len(out))
	for _, o := range out {
		symbol, ok := c.toEngine[o.Symbol]
		if !ok {
			continue
		}
		orders = append(orders, VenueOrder{
			Ref:      formatRef(o.Symbol, o.OrderID),
			ClientID: o.ClientOrderID,
			Symbol:   symbol,
		})
	}
	return orders, nil
}

// ListOpenPositions implements Venue: each configured base asset with a
// non-zero balance is one LONG position.
func (c *BinanceClient) ListOpenPositions(ctx context.Context) ([]VenuePosition, error) {
	var acct binanceAccount
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true, &acct); err != nil {
		return nil, err
	}
	held := make(map[string]decimal.Decimal, len(acct.Balances))
	for _, b := range acct.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		held[b.Asset] = free.Add(locked)
	}

	var positions []VenuePosition
	for venueSymbol, symbol := range c.toEngine {
		base := strings.TrimSuffix(venueSymbol, c.quote)
		if size := held[base]; size.IsPositive() {
			positions = append(positions, VenuePosition{Symbol: symbol, Side: domain.SideLong, Size: size})
		}
	}
	return positions, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (c *BinanceClient) toFill(o *binanceOrder) *Fill {
	ref := formatRef(o.Symbol, o.OrderID)
	switch o.Status {
	case "FILLED":
		qty, _ := decimal.NewFromString(o.ExecutedQty)
		quote, _ := decimal.NewFromString(o.CummulativeQuoteQty)
		price, _ := decimal.NewFromString(o.Price)
		if qty.IsPositive() {
			price = quote.Div(qty)
		}
		return &Fill{Status: FillFilled, FillPrice: price, OrderRef: ref, ClientID: o.ClientOrderID}
	case "NEW", "PARTIALLY_FILLED", "PENDING_NEW":
		return &Fill{Status: FillPending, OrderRef: ref, ClientID: o.ClientOrderID}
	default:
		return &Fill{Status: FillRejected, OrderRef: ref, ClientID: o.ClientOrderID, Reason: "binance order status " + o.Status}
	}
}

func formatRef(symbol string, orderID int64) string {
	return symbol + ":" + strconv.FormatInt(orderID, 10)
}

func parseRef(ref string) (symbol, orderID string, err error) {
	symbol, orderID, ok := strings.Cut(ref, ":")
	if !ok || symbol == "" || orderID == "" {
		return "", "", Rejected("malformed binance order ref %q", ref)
	}
	return symbol, orderID, nil
}

// do performs one request. Signed requests carry timestamp, recvWindow and
// signature in the query string plus the API key header.
func (c *BinanceClient) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	query := ""
	if params != nil {
		if signed {
			params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
			payload := params.Encode()
			query = payload + "&signature=" + c.signer.Sign(payload)
		} else {
			query = params.Encode()
		}
	}

	target := c.baseURL + path
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return Rejected("build request: %v", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		var be binanceError
		_ = json.Unmarshal(body, &be)
		if be.Msg == "" {
			be.Msg = strings.TrimSpace(string(body))
		}
		return classifyStatus(resp.StatusCode, be.Code, be.Msg)
	}

	if out == nil {
		return nil
	}
	if err = json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindUnknown, Status: resp.StatusCode, Msg: fmt.Sprintf("decode %s: %v", path, err)}
	}
	return nil
}
