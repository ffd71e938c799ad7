package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Exchange weight constants
// ──────────────────────────────────────────────────────────────────────────────

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
	exchangeOKX     = "okx"
)

// exchangeDef describes a single price-feed source.
type exchangeDef struct {
	name   string
	weight decimal.Decimal // 0–100
	fetch  func(ctx context.Context, sym config.SymbolConfig) (decimal.Decimal, error)
}

// symbolQuote is the cached weighted price of one symbol.
type symbolQuote struct {
	price   decimal.Decimal
	at      time.Time
	sources []domain.PriceSource
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceService
// ──────────────────────────────────────────────────────────────────────────────

// PriceService fetches spot prices for the configured symbols from several
// exchanges in parallel and caches a weighted average per symbol. The cached
// value is the reference price used for market fills, risk sizing and
// mark-to-market.
type PriceService struct {
	client  *http.Client
	cfg     *config.PriceConfig
	symbols map[string]config.SymbolConfig

	mu     sync.RWMutex
	quotes map[string]symbolQuote

	// per-exchange last-success timestamp (for ExchangeStatus)
	statusMu    sync.RWMutex
	lastSuccess map[string]time.Time
	exchanges   []exchangeDef
}

// NewPriceService constructs a PriceService from the given config.
func NewPriceService(cfg *config.Config) *PriceService {
	ps := &PriceService{
		client:  &http.Client{Timeout: cfg.Price.FetchTimeout},
		cfg:     &cfg.Price,
		symbols: make(map[string]config.SymbolConfig, len(cfg.Symbols)),
		quotes:  make(map[string]symbolQuote, len(cfg.Symbols)),
		lastSuccess: map[string]time.Time{
			exchangeBinance: {},
			exchangeBybit:   {},
			exchangeOKX:     {},
		},
	}
	for _, s := range cfg.Symbols {
		ps.symbols[s.Name] = s
	}

	ps.exchanges = []exchangeDef{
		{
			name:   exchangeBinance,
			weight: decimal.NewFromInt(int64(cfg.Price.BinanceWeight)),
			fetch:  ps.fetchBinance,
		},
		{
			name:   exchangeBybit,
			weight: decimal.NewFromInt(int64(cfg.Price.BybitWeight)),
			fetch:  ps.fetchBybit,
		},
		{
			name:   exchangeOKX,
			weight: decimal.NewFromInt(int64(cfg.Price.OKXWeight)),
			fetch:  ps.fetchOKX,
		},
	}

	return ps
}

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// Symbols returns the configured engine symbols.
func (ps *PriceService) Symbols() []string {
	out := make([]string, 0, len(ps.symbols))
	for name := range ps.symbols {
		out = append(out, name)
	}
	return out
}

// GetWeightedPrice returns symbol's price as a weighted average of all
// configured exchanges. A cached value younger than CacheTTL is returned
// without fetching.
//
// Partial failures are handled by re-normalising the weights over the
// sources that answered. If every source fails an error is returned.
func (ps *PriceService) GetWeightedPrice(ctx context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error) {
	sym, ok := ps.symbols[symbol]
	if !ok {
		return decimal.Zero, nil, fmt.Errorf("price_service: unknown symbol %q", symbol)
	}

	// ── Cache check ──────────────────────────────────────────────────────────
	ps.mu.RLock()
	if q, ok := ps.quotes[symbol]; ok && time.Since(q.at) < ps.cfg.CacheTTL {
		ps.mu.RUnlock()
		return q.price, q.sources, nil
	}
	ps.mu.RUnlock()

	// ── Parallel fetch with per-exchange timeout ──────────────────────────────
	type result struct {
		name  string
		price decimal.Decimal
		err   error
	}

	fetchCtx, cancel := context.WithTimeout(ctx, ps.client.Timeout)
	defer cancel()

	resultCh := make(chan result, len(ps.exchanges))
	for _, ex := range ps.exchanges {
		ex := ex
		go func() {
			p, err := ex.fetch(fetchCtx, sym)
			resultCh <- result{name: ex.name, price: p, err: err}
		}()
	}

	rawResults := make(map[string]result, len(ps.exchanges))
	for range ps.exchanges {
		r := <-resultCh
		rawResults[r.name] = r
	}

	// ── Build sources list & compute weighted average ─────────────────────────
	var sources []domain.PriceSource
	var sumWeighted, sumWeights decimal.Decimal
	now := time.Now()

	for _, ex := range ps.exchanges {
		r := rawResults[ex.name]
		if r.err != nil || !r.price.IsPositive() || ex.weight.IsZero() {
			continue
		}
		sources = append(sources, domain.PriceSource{
			Exchange:  ex.name,
			Symbol:    symbol,
			Price:     r.price,
			Weight:    ex.weight,
			FetchedAt: now,
		})
		sumWeighted = sumWeighted.Add(r.price.Mul(ex.weight))
		sumWeights = sumWeights.Add(ex.weight)

		ps.statusMu.Lock()
		ps.lastSuccess[ex.name] = now
		ps.statusMu.Unlock()
	}

	if len(sources) == 0 {
		return decimal.Zero, nil, fmt.Errorf("price_service: all exchange fetches failed for %s", symbol)
	}

	weightedAvg := sumWeighted.Div(sumWeights)

	// ── Update cache ─────────────────────────────────────────────────────────
	ps.mu.Lock()
	ps.quotes[symbol] = symbolQuote{price: weightedAvg, at: now, sources: sources}
	ps.mu.Unlock()

	return weightedAvg, sources, nil
}

// CachedPrice returns the cached price of symbol while it is within CacheTTL.
func (ps *PriceService) CachedPrice(symbol string) (decimal.Decimal, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	q, ok := ps.quotes[symbol]
	if !ok || time.Since(q.at) >= ps.cfg.CacheTTL {
		return decimal.Zero, false
	}
	return q.price, true
}

// ReferencePrice returns the last known price of symbol while it is younger
// than MaxStaleness. Older prices are never used for fills or risk.
func (ps *PriceService) ReferencePrice(symbol string) (decimal.Decimal, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	q, ok := ps.quotes[symbol]
	if !ok || time.Since(q.at) >= ps.cfg.MaxStaleness {
		return decimal.Zero, false
	}
	return q.price, true
}

// Snapshot returns every non-stale reference price keyed by symbol.
func (ps *PriceService) Snapshot() map[string]decimal.Decimal {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(ps.quotes))
	for name, q := range ps.quotes {
		if time.Since(q.at) < ps.cfg.MaxStaleness {
			out[name] = q.price
		}
	}
	return out
}

// ExchangeStatus returns a map of exchange name → whether it answered within
// the last refresh window. Used by the back-office health dashboard.
func (ps *PriceService) ExchangeStatus() map[string]bool {
	threshold := 2 * ps.cfg.RefreshInterval
	if threshold <= 0 {
		threshold = 10 * time.Second
	}
	ps.statusMu.RLock()
	defer ps.statusMu.RUnlock()

	status := make(map[string]bool, len(ps.lastSuccess))
	for name, t := range ps.lastSuccess {
		status[name] = !t.IsZero() && time.Since(t) < threshold
	}
	return status
}

// ──────────────────────────────────────────────────────────────────────────────
// Exchange fetchers
// ──────────────────────────────────────────────────────────────────────────────

// fetchBinance fetches the spot price from Binance REST API.
//
//	GET /api/v3/ticker/price?symbol=BTCUSDT
//	{"symbol":"BTCUSDT","price":"87350.00"}
func (ps *PriceService) fetchBinance(ctx context.Context, sym config.SymbolConfig) (decimal.Decimal, error) {
	if sym.Binance == "" {
		return decimal.Zero, fmt.Errorf("binance: no instrument for %s", sym.Name)
	}
	body, err := ps.doGet(ctx, ps.cfg.BinanceURL+"/api/v3/ticker/price?symbol="+url.QueryEscape(sym.Binance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance decimal: %w", err)
	}
	return price, nil
}

// fetchBybit fetches the spot price from Bybit REST API.
//
//	GET /v5/market/tickers?category=spot&symbol=BTCUSDT
//	{"result":{"list":[{"lastPrice":"87350.00",...}]}}
func (ps *PriceService) fetchBybit(ctx context.Context, sym config.SymbolConfig) (decimal.Decimal, error) {
	if sym.Bybit == "" {
		return decimal.Zero, fmt.Errorf("bybit: no instrument for %s", sym.Name)
	}
	body, err := ps.doGet(ctx, ps.cfg.BybitURL+"/v5/market/tickers?category=spot&symbol="+url.QueryEscape(sym.Bybit))
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}

	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit parse: %w", err)
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	price, err := decimal.NewFromString(resp.Result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit decimal: %w", err)
	}
	return price, nil
}

// fetchOKX fetches the spot price from OKX REST API.
//
//	GET /api/v5/market/ticker?instId=BTC-USDT
//	{"data":[{"last":"87350.00",...}]}
func (ps *PriceService) fetchOKX(ctx context.Context, sym config.SymbolConfig) (decimal.Decimal, error) {
	if sym.OKX == "" {
		return decimal.Zero, fmt.Errorf("okx: no instrument for %s", sym.Name)
	}
	body, err := ps.doGet(ctx, ps.cfg.OKXURL+"/api/v5/market/ticker?instId="+url.QueryEscape(sym.OKX))
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx: %w", err)
	}

	var resp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("okx parse: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Last == "" {
		return decimal.Zero, fmt.Errorf("okx: empty data field")
	}
	price, err := decimal.NewFromString(resp.Data[0].Last)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx decimal: %w", err)
	}
	return price, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP helper
// ──────────────────────────────────────────────────────────────────────────────

// doGet performs an HTTP GET with the service's client and returns the body
// bytes, or an error for any non-200 status code.
func (ps *PriceService) doGet(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "geniusbot-executor/1.0")

	resp, err := ps.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
