// Package config provides application configuration loaded from environment
// variables, optionally seeded from a YAML file named by ENGINE_CONFIG_FILE.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // engine status/ws port, e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	WSAllowedOrigins     []string      // empty = allow all
}

// DBConfig holds database connection settings.
type DBConfig struct {
	Driver          string        // "postgres" | "sqlite"
	DSN             string        // driver-specific DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds JWT signing settings for operator tokens.
type JWTConfig struct {
	AccessSecret  string        // must be set
	RefreshSecret string        // must be set
	AccessTTL     time.Duration // default 15m
	RefreshTTL    time.Duration // default 24h
}

// EngineConfig holds execution loop settings.
type EngineConfig struct {
	PollInterval        time.Duration // outbox poll, default 10s
	BatchSize           int           // signals per poll, default 50
	MaxRetries          int           // transient venue retries, default 3
	RetryBaseDelay      time.Duration // default 500ms
	RetryMaxDelay       time.Duration // default 10s
	MaintenanceInterval time.Duration // daily reset / mode watch, default 30s
	ForceKillSwitch     bool          // KILL_SWITCH env override
	LiveConfirmation    bool          // LIVE_CONFIRMATION; required for LIVE sync
	PausedAllowClose    bool          // PAUSED admits CLOSE signals, default true
}

// RiskConfig holds the hard limits enforced by the risk guard.
type RiskConfig struct {
	MaxDailyLoss  float64 // absolute quote-currency ceiling
	MaxDrawdown   float64 // absolute quote-currency ceiling
	WorstCaseMove float64 // assumed adverse move for new exposure, e.g. 0.10
	DailyReset    string  // "calendar" | "rolling"
	DailyResetTZ  string  // IANA zone for calendar resets, default "UTC"
}

// WalletConfig holds the DEMO virtual wallet settings.
type WalletConfig struct {
	StartBalance float64 // VIRTUAL_START_BALANCE, default 100000
}

// ExchangeConfig holds the LIVE Binance spot adapter settings.
type ExchangeConfig struct {
	BaseURL           string        // default "https://api.binance.com"
	TestnetURL        string        // default "https://testnet.binance.vision"
	Testnet           bool          // use TestnetURL
	APIKey            string        // BINANCE_API_KEY
	APISecret         string        // BINANCE_API_SECRET
	QuoteAsset        string        // default "USDT"
	RecvWindow        time.Duration // default 5s
	Timeout           time.Duration // default 10s
	SyncSizeTolerance float64       // fraction of a persisted size the exchange may lack, default 0.01
}

// HasCredentials reports whether both API key and secret are set.
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.APISecret != ""
}

// EffectiveURL returns the testnet URL when Testnet is set.
func (e ExchangeConfig) EffectiveURL() string {
	if e.Testnet {
		return e.TestnetURL
	}
	return e.BaseURL
}

// PriceConfig holds reference price feed settings.
type PriceConfig struct {
	BinanceURL      string        // default "https://api.binance.com"
	BybitURL        string        // default "https://api.bybit.com"
	OKXURL          string        // default "https://www.okx.com"
	FetchTimeout    time.Duration // default 2s
	CacheTTL        time.Duration // default 1s
	RefreshInterval time.Duration // scheduler refresh, default 5s
	MaxStaleness    time.Duration // oldest price the engine will use, default 1m
	// Weight percentages (must sum to 100)
	BinanceWeight int // default 50
	BybitWeight   int // default 30
	OKXWeight     int // default 20
}

// SymbolConfig maps an engine symbol to each venue's instrument name.
type SymbolConfig struct {
	Name    string `yaml:"name"`    // e.g. "BTC/USD"
	Binance string `yaml:"binance"` // e.g. "BTCUSDT"
	Bybit   string `yaml:"bybit"`   // e.g. "BTCUSDT"
	OKX     string `yaml:"okx"`     // e.g. "BTC-USDT"
}

// BackofficeConfig holds the bootstrap operator account.
type BackofficeConfig struct {
	AdminUsername string // created on first start if missing
	AdminPassword string
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	JWT        JWTConfig
	Engine     EngineConfig
	Risk       RiskConfig
	Wallet     WalletConfig
	Exchange   ExchangeConfig
	Price      PriceConfig
	Symbols    []SymbolConfig
	Backoffice BackofficeConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// AllowedSymbols returns the configured engine symbols in file order.
func (c *Config) AllowedSymbols() []string {
	out := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		out = append(out, s.Name)
	}
	return out
}

// Symbol looks up the venue mapping for an engine symbol.
func (c *Config) Symbol(name string) (SymbolConfig, bool) {
	for _, s := range c.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return SymbolConfig{}, false
}

// ResetLocation resolves Risk.DailyResetTZ, falling back to UTC.
func (c *Config) ResetLocation() *time.Location {
	if c.Risk.DailyResetTZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Risk.DailyResetTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET must be set"))
	}

	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver))
	}
	if c.IsProd() && os.Getenv("DATABASE_DSN") == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, fmt.Errorf("RISK_MAX_DAILY_LOSS must be positive, got %.2f", c.Risk.MaxDailyLoss))
	}
	if c.Risk.MaxDrawdown <= 0 {
		errs = append(errs, fmt.Errorf("RISK_MAX_DRAWDOWN must be positive, got %.2f", c.Risk.MaxDrawdown))
	}
	if c.Risk.WorstCaseMove <= 0 || c.Risk.WorstCaseMove > 1 {
		errs = append(errs, fmt.Errorf("RISK_WORST_CASE_MOVE must be in (0, 1], got %.4f", c.Risk.WorstCaseMove))
	}
	if c.Risk.DailyReset != "calendar" && c.Risk.DailyReset != "rolling" {
		errs = append(errs, fmt.Errorf("RISK_DAILY_RESET must be calendar or rolling, got %q", c.Risk.DailyReset))
	}
	if c.Risk.DailyResetTZ != "" {
		if _, err := time.LoadLocation(c.Risk.DailyResetTZ); err != nil {
			errs = append(errs, fmt.Errorf("RISK_DAILY_RESET_TZ: %w", err))
		}
	}

	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("at least one symbol must be configured"))
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s.Name == "" || s.Binance == "" {
			errs = append(errs, fmt.Errorf("symbol %q needs a name and a binance instrument", s.Name))
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("symbol %q configured twice", s.Name))
		}
		seen[s.Name] = true
	}

	if c.Wallet.StartBalance <= 0 {
		errs = append(errs, fmt.Errorf("VIRTUAL_START_BALANCE must be positive, got %.2f", c.Wallet.StartBalance))
	}
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ENGINE_MAX_RETRIES must not be negative, got %d", c.Engine.MaxRetries))
	}

	total := c.Price.BinanceWeight + c.Price.BybitWeight + c.Price.OKXWeight
	if total != 100 {
		errs = append(errs, fmt.Errorf(
			"price weights must sum to 100, got %d (Binance=%d Bybit=%d OKX=%d)",
			total, c.Price.BinanceWeight, c.Price.BybitWeight, c.Price.OKXWeight,
		))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from the environment.
// Panics if loading fails so misconfiguration surfaces at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads the optional YAML file and then the environment. Environment
// variables always win over file values.
func Load() (*Config, error) {
	file, err := readFile(os.Getenv("ENGINE_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		WSAllowedOrigins:     getList("WS_ALLOWED_ORIGINS", nil),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	driver := getEnv("DB_DRIVER", "postgres")
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		if driver == "sqlite" {
			dsn = "file:executor.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		} else {
			dsn = fmt.Sprintf(
				"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
				getEnv("DB_HOST", "localhost"),
				getEnv("DB_PORT", "5432"),
				getEnv("DB_USER", "postgres"),
				getEnv("DB_PASSWORD", ""),
				getEnv("DB_NAME", "executor"),
				getEnv("DB_SSLMODE", "disable"),
			)
		}
	}
	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}
	cfg.DB = DBConfig{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		AccessTTL:     getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    getDuration("JWT_REFRESH_TTL", 24*time.Hour),
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	batch, err := getInt("ENGINE_BATCH_SIZE", 50)
	if err != nil {
		return nil, fmt.Errorf("ENGINE_BATCH_SIZE: %w", err)
	}
	retries, err := getInt("ENGINE_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("ENGINE_MAX_RETRIES: %w", err)
	}
	forceKill, err := getBool("KILL_SWITCH", false)
	if err != nil {
		return nil, fmt.Errorf("KILL_SWITCH: %w", err)
	}
	liveConfirm, err := getBool("LIVE_CONFIRMATION", false)
	if err != nil {
		return nil, fmt.Errorf("LIVE_CONFIRMATION: %w", err)
	}
	allowClose, err := getBool("PAUSED_ALLOW_CLOSE", true)
	if err != nil {
		return nil, fmt.Errorf("PAUSED_ALLOW_CLOSE: %w", err)
	}
	cfg.Engine = EngineConfig{
		PollInterval:        getDuration("ENGINE_POLL_INTERVAL", 10*time.Second),
		BatchSize:           batch,
		MaxRetries:          retries,
		RetryBaseDelay:      getDuration("ENGINE_RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:       getDuration("ENGINE_RETRY_MAX_DELAY", 10*time.Second),
		MaintenanceInterval: getDuration("ENGINE_MAINTENANCE_INTERVAL", 30*time.Second),
		ForceKillSwitch:     forceKill,
		LiveConfirmation:    liveConfirm,
		PausedAllowClose:    allowClose,
	}

	// ── Risk ──────────────────────────────────────────────────────────────────
	maxDaily, err := getFloat("RISK_MAX_DAILY_LOSS", orFloat(file.Risk.MaxDailyLoss, 10000))
	if err != nil {
		return nil, fmt.Errorf("RISK_MAX_DAILY_LOSS: %w", err)
	}
	maxDD, err := getFloat("RISK_MAX_DRAWDOWN", orFloat(file.Risk.MaxDrawdown, 20000))
	if err != nil {
		return nil, fmt.Errorf("RISK_MAX_DRAWDOWN: %w", err)
	}
	worst, err := getFloat("RISK_WORST_CASE_MOVE", orFloat(file.Risk.WorstCaseMove, 0.10))
	if err != nil {
		return nil, fmt.Errorf("RISK_WORST_CASE_MOVE: %w", err)
	}
	cfg.Risk = RiskConfig{
		MaxDailyLoss:  maxDaily,
		MaxDrawdown:   maxDD,
		WorstCaseMove: worst,
		DailyReset:    getEnv("RISK_DAILY_RESET", orString(file.Risk.DailyReset, "calendar")),
		DailyResetTZ:  getEnv("RISK_DAILY_RESET_TZ", orString(file.Risk.DailyResetTZ, "UTC")),
	}

	// ── Wallet ────────────────────────────────────────────────────────────────
	start, err := getFloat("VIRTUAL_START_BALANCE", 100000)
	if err != nil {
		return nil, fmt.Errorf("VIRTUAL_START_BALANCE: %w", err)
	}
	cfg.Wallet = WalletConfig{StartBalance: start}

	// ── Exchange ──────────────────────────────────────────────────────────────
	testnet, err := getBool("BINANCE_TESTNET", false)
	if err != nil {
		return nil, fmt.Errorf("BINANCE_TESTNET: %w", err)
	}
	tolerance, err := getFloat("EXCHANGE_SYNC_SIZE_TOLERANCE", 0.01)
	if err != nil {
		return nil, fmt.Errorf("EXCHANGE_SYNC_SIZE_TOLERANCE: %w", err)
	}
	cfg.Exchange = ExchangeConfig{
		BaseURL:           getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		TestnetURL:        getEnv("BINANCE_TESTNET_URL", "https://testnet.binance.vision"),
		Testnet:           testnet,
		APIKey:            getEnv("BINANCE_API_KEY", ""),
		APISecret:         getEnv("BINANCE_API_SECRET", ""),
		QuoteAsset:        getEnv("BINANCE_QUOTE_ASSET", "USDT"),
		RecvWindow:        getDuration("BINANCE_RECV_WINDOW", 5*time.Second),
		Timeout:           getDuration("BINANCE_TIMEOUT", 10*time.Second),
		SyncSizeTolerance: tolerance,
	}

	// ── Price ─────────────────────────────────────────────────────────────────
	binW, err := getInt("PRICE_BINANCE_WEIGHT", 50)
	if err != nil {
		return nil, fmt.Errorf("PRICE_BINANCE_WEIGHT: %w", err)
	}
	byW, err := getInt("PRICE_BYBIT_WEIGHT", 30)
	if err != nil {
		return nil, fmt.Errorf("PRICE_BYBIT_WEIGHT: %w", err)
	}
	okxW, err := getInt("PRICE_OKX_WEIGHT", 20)
	if err != nil {
		return nil, fmt.Errorf("PRICE_OKX_WEIGHT: %w", err)
	}
	cfg.Price = PriceConfig{
		BinanceURL:      getEnv("PRICE_BINANCE_URL", "https://api.binance.com"),
		BybitURL:        getEnv("PRICE_BYBIT_URL", "https://api.bybit.com"),
		OKXURL:          getEnv("PRICE_OKX_URL", "https://www.okx.com"),
		FetchTimeout:    getDuration("PRICE_FETCH_TIMEOUT", 2*time.Second),
		CacheTTL:        getDuration("PRICE_CACHE_TTL", 1*time.Second),
		RefreshInterval: getDuration("PRICE_REFRESH_INTERVAL", 5*time.Second),
		MaxStaleness:    getDuration("PRICE_MAX_STALENESS", time.Minute),
		BinanceWeight:   binW,
		BybitWeight:     byW,
		OKXWeight:       okxW,
	}

	// ── Symbols ───────────────────────────────────────────────────────────────
	cfg.Symbols = file.Symbols
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = defaultSymbols()
	}
	if allowed := getList("RISK_ALLOWED_SYMBOLS", nil); len(allowed) > 0 {
		cfg.Symbols = filterSymbols(cfg.Symbols, allowed)
	}

	// ── Backoffice ────────────────────────────────────────────────────────────
	cfg.Backoffice = BackofficeConfig{
		AdminUsername: getEnv("BACKOFFICE_ADMIN_USERNAME", ""),
		AdminPassword: getEnv("BACKOFFICE_ADMIN_PASSWORD", ""),
	}

	return cfg, nil
}

func defaultSymbols() []SymbolConfig {
	return []SymbolConfig{
		{Name: "BTC/USD", Binance: "BTCUSDT", Bybit: "BTCUSDT", OKX: "BTC-USDT"},
		{Name: "ETH/USD", Binance: "ETHUSDT", Bybit: "ETHUSDT", OKX: "ETH-USDT"},
	}
}

// filterSymbols keeps the configured symbols named in allowed. Names without
// a mapping fall back to the Binance convention BASE/QUOTE → BASEUSDT.
func filterSymbols(all []SymbolConfig, allowed []string) []SymbolConfig {
	out := make([]SymbolConfig, 0, len(allowed))
	for _, name := range allowed {
		found := false
		for _, s := range all {
			if s.Name == name {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			base, _, _ := strings.Cut(name, "/")
			out = append(out, SymbolConfig{
				Name:    name,
				Binance: base + "USDT",
				Bybit:   base + "USDT",
				OKX:     base + "-USDT",
			})
		}
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

// getList splits a comma-separated variable, dropping empty items.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or unparsable.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func orFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
