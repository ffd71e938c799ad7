package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML document named by ENGINE_CONFIG_FILE. It
// carries settings that are awkward as env vars: the symbol table and the
// risk limits an operator reviews together.
//
//	risk:
//	  max_daily_loss: 1000
//	  max_drawdown: 5000
//	  worst_case_move: 0.10
//	  daily_reset: calendar
//	  daily_reset_tz: Europe/Istanbul
//	symbols:
//	  - {name: BTC/USD, binance: BTCUSDT, bybit: BTCUSDT, okx: BTC-USDT}
type fileConfig struct {
	Risk struct {
		MaxDailyLoss  float64 `yaml:"max_daily_loss"`
		MaxDrawdown   float64 `yaml:"max_drawdown"`
		WorstCaseMove float64 `yaml:"worst_case_move"`
		DailyReset    string  `yaml:"daily_reset"`
		DailyResetTZ  string  `yaml:"daily_reset_tz"`
	} `yaml:"risk"`
	Symbols []SymbolConfig `yaml:"symbols"`
}

// readFile parses path. An empty path yields an empty document.
func readFile(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err = yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return fc, nil
}
