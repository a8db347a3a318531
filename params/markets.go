package params

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/clobdex/pkg/market"
)

type MarketConfig struct {
	Symbol     string `yaml:"symbol"`
	BaseAsset  string `yaml:"base_asset"`
	QuoteAsset string `yaml:"quote_asset"`
	TickSize   int64  `yaml:"tick_size"`
	LotSize    int64  `yaml:"lot_size"`
	Status     string `yaml:"status"` // active (default), paused, closed
}

type marketsFile struct {
	Markets []MarketConfig `yaml:"markets"`
}

// DefaultMarkets is used when no markets file is configured
func DefaultMarkets() []MarketConfig {
	return []MarketConfig{{
		Symbol:     "SOL-USDC",
		BaseAsset:  "SOL",
		QuoteAsset: "USDC",
		TickSize:   market.DefaultParams.TickSize,
		LotSize:    market.DefaultParams.LotSize,
	}}
}

// LoadMarkets reads market definitions from a YAML file. ${VAR} references
// are expanded from the environment before parsing. An empty path returns
// DefaultMarkets.
func LoadMarkets(path string) ([]MarketConfig, error) {
	if path == "" {
		return DefaultMarkets(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	raw = []byte(os.ExpandEnv(string(raw)))

	var f marketsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse markets file %s: %w", path, err)
	}
	if len(f.Markets) == 0 {
		return nil, fmt.Errorf("markets file %s defines no markets", path)
	}

	seen := make(map[string]bool, len(f.Markets))
	for _, m := range f.Markets {
		if seen[m.Symbol] {
			return nil, fmt.Errorf("markets file %s: duplicate symbol %q", path, m.Symbol)
		}
		seen[m.Symbol] = true
	}
	return f.Markets, nil
}

// Build validates the config and returns the runtime market
func (c MarketConfig) Build() (*market.Market, error) {
	m, err := market.NewMarket(c.Symbol, c.BaseAsset, c.QuoteAsset, market.Params{
		TickSize: c.TickSize,
		LotSize:  c.LotSize,
	})
	if err != nil {
		return nil, fmt.Errorf("market %q: %w", c.Symbol, err)
	}
	if c.Status != "" {
		status, err := market.ParseStatus(c.Status)
		if err != nil {
			return nil, fmt.Errorf("market %q: %w", c.Symbol, err)
		}
		m.Status = status
	}
	return m, nil
}
